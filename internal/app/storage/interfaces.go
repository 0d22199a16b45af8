package storage

import (
	"context"

	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
)

// ErrNotFound is returned when a record, tag or user does not exist.
var ErrNotFound = apperrors.ErrNotFound

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool { return apperrors.Is(err, ErrNotFound) }

// RecordStore persists model records.
type RecordStore interface {
	// Insert saves a new record and assigns its PK.
	Insert(ctx context.Context, rec *model.Record) error
	Update(ctx context.Context, rec *model.Record) error
	Get(ctx context.Context, m *model.Model, pk int64) (*model.Record, error)
	Delete(ctx context.Context, m *model.Model, pk int64) error
	Count(ctx context.Context, q Query) (int, error)
	// List returns matching records ordered by pk.
	List(ctx context.Context, q Query) ([]*model.Record, error)
}

// Tag is a label attached to records of taggable models.
type Tag struct {
	ID   int64  `json:"-"`
	Name string `json:"name"`
	Slug string `json:"slug"`
}

// TagStore manages tags on records.
type TagStore interface {
	Tags(ctx context.Context, m *model.Model, pk int64) ([]Tag, error)
	SetTags(ctx context.Context, m *model.Model, pk int64, names []string) error
	AddTags(ctx context.Context, m *model.Model, pk int64, names []string) error
	RemoveTags(ctx context.Context, m *model.Model, pk int64, names []string) error
	ClearTags(ctx context.Context, m *model.Model, pk int64) error
	// SimilarObjects returns other records of the same model sharing at least
	// one tag, most shared tags first.
	SimilarObjects(ctx context.Context, m *model.Model, pk int64) ([]*model.Record, error)
}

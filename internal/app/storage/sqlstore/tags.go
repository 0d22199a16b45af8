package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/app/tags"
)

// --- TagStore ---------------------------------------------------------------

func (s *Store) Tags(ctx context.Context, m *model.Model, pk int64) ([]storage.Tag, error) {
	var out []storage.Tag
	err := s.db.SelectContext(ctx, &out, s.db.Rebind(`
		SELECT t.id, t.name, t.slug
		FROM ajax_tags t
		JOIN ajax_tagged_items i ON i.tag_id = t.id
		WHERE i.content_type = ? AND i.object_id = ?
		ORDER BY t.name
	`), m.Table, pk)
	if err != nil {
		return nil, fmt.Errorf("tags of %s %d: %w", m.Name, pk, err)
	}
	return out, nil
}

func (s *Store) SetTags(ctx context.Context, m *model.Model, pk int64, names []string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		if err := clearTags(ctx, tx, m, pk); err != nil {
			return err
		}
		return addTags(ctx, tx, m, pk, names)
	})
}

func (s *Store) AddTags(ctx context.Context, m *model.Model, pk int64, names []string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return addTags(ctx, tx, m, pk, names)
	})
}

func (s *Store) RemoveTags(ctx context.Context, m *model.Model, pk int64, names []string) error {
	if len(names) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`
		DELETE FROM ajax_tagged_items
		WHERE content_type = ? AND object_id = ?
		AND tag_id IN (SELECT id FROM ajax_tags WHERE name IN (?))
	`, m.Table, pk, names)
	if err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(query), args...); err != nil {
		return fmt.Errorf("remove tags of %s %d: %w", m.Name, pk, err)
	}
	return nil
}

func (s *Store) ClearTags(ctx context.Context, m *model.Model, pk int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		return clearTags(ctx, tx, m, pk)
	})
}

func (s *Store) SimilarObjects(ctx context.Context, m *model.Model, pk int64) ([]*model.Record, error) {
	var matches []struct {
		ObjectID int64 `db:"object_id"`
		Shared   int   `db:"shared"`
	}
	err := s.db.SelectContext(ctx, &matches, s.db.Rebind(`
		SELECT other.object_id AS object_id, COUNT(*) AS shared
		FROM ajax_tagged_items other
		JOIN ajax_tagged_items mine
			ON mine.tag_id = other.tag_id AND mine.content_type = other.content_type
		WHERE mine.content_type = ? AND mine.object_id = ? AND other.object_id <> ?
		GROUP BY other.object_id
		ORDER BY shared DESC, other.object_id
	`), m.Table, pk, pk)
	if err != nil {
		return nil, fmt.Errorf("similar %s %d: %w", m.Name, pk, err)
	}

	out := make([]*model.Record, 0, len(matches))
	for _, match := range matches {
		rec, err := s.Get(ctx, m, match.ObjectID)
		if err != nil {
			if storage.IsNotFound(err) {
				continue
			}
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}

func clearTags(ctx context.Context, tx *sqlx.Tx, m *model.Model, pk int64) error {
	_, err := tx.ExecContext(ctx, tx.Rebind(`DELETE FROM ajax_tagged_items WHERE content_type = ? AND object_id = ?`), m.Table, pk)
	if err != nil {
		return fmt.Errorf("clear tags of %s %d: %w", m.Name, pk, err)
	}
	return nil
}

func addTags(ctx context.Context, tx *sqlx.Tx, m *model.Model, pk int64, names []string) error {
	for _, name := range names {
		if name = strings.TrimSpace(name); name == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ajax_tags (name, slug) VALUES (?, ?)
			ON CONFLICT (name) DO NOTHING
		`), name, tags.Slugify(name)); err != nil {
			return fmt.Errorf("create tag %q: %w", name, err)
		}
		var tagID int64
		if err := tx.GetContext(ctx, &tagID, tx.Rebind(`SELECT id FROM ajax_tags WHERE name = ?`), name); err != nil {
			return fmt.Errorf("lookup tag %q: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, tx.Rebind(`
			INSERT INTO ajax_tagged_items (tag_id, content_type, object_id) VALUES (?, ?, ?)
			ON CONFLICT (tag_id, content_type, object_id) DO NOTHING
		`), tagID, m.Table, pk); err != nil {
			return fmt.Errorf("tag %s %d with %q: %w", m.Name, pk, name, err)
		}
	}
	return nil
}

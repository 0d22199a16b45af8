package endpoint

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// literals maps posted "true", "false" and "null" (any case) to Go values.
var literals = map[string]any{"true": true, "false": false, "null": nil}

// extractData picks the posted values that name writable model fields and
// converts them to field types. Foreign keys must reference an existing
// record unless the field is nullable and the value is empty or false.
func (e *ModelEndpoint) extractData(r *Request) (map[string]any, error) {
	m := e.Def.Model
	immutable := make(map[string]bool, len(e.Def.ImmutableFields)+1)
	immutable[model.PKName] = true
	for _, name := range e.Def.ImmutableFields {
		immutable[name] = true
	}

	data := make(map[string]any)
	invalid := make(map[string][]string)
	for name := range r.Data {
		if immutable[name] {
			continue
		}
		f, ok := m.Field(name)
		if !ok {
			continue
		}

		var raw any = r.Value(name)
		if v, ok := literals[strings.ToLower(raw.(string))]; ok {
			raw = v
		}

		if f.Kind == model.ForeignKey {
			v, err := e.foreignKey(r.Context(), f, raw)
			if err != nil {
				return nil, err
			}
			data[name] = v
			continue
		}

		v, err := f.Convert(raw)
		if err != nil {
			invalid[name] = append(invalid[name], err.Error())
			continue
		}
		data[name] = v
	}

	if len(invalid) > 0 {
		return nil, apperrors.BadRequest("Could not save model.").WithExtra("errors", invalid)
	}
	return data, nil
}

func (e *ModelEndpoint) foreignKey(ctx context.Context, f model.Field, raw any) (any, error) {
	if f.Null && falsy(raw) {
		return nil, nil
	}
	target, ok := e.Env.Models.Get(f.To)
	if !ok {
		return nil, fmt.Errorf("foreign key %s: unknown model %s", f.Name, f.To)
	}
	notFound := apperrors.BadRequest(fmt.Sprintf("%s with id of \"%v\" not found.", target.Name, raw))
	pk, err := f.Convert(raw)
	if err != nil || pk == nil {
		return nil, notFound
	}
	if _, err := e.Env.Records.Get(ctx, target, pk.(int64)); err != nil {
		if storage.IsNotFound(err) {
			return nil, notFound
		}
		return nil, err
	}
	return pk, nil
}

func falsy(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case bool:
		return !t
	case string:
		return t == ""
	}
	return false
}

func sameValue(a, b any) bool {
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}

// noTags ignores tag writes for models without tag support.
type noTags struct{}

func (noTags) Tags(context.Context, *model.Model, int64) ([]storage.Tag, error) { return nil, nil }
func (noTags) SetTags(context.Context, *model.Model, int64, []string) error  { return nil }
func (noTags) AddTags(context.Context, *model.Model, int64, []string) error  { return nil }
func (noTags) RemoveTags(context.Context, *model.Model, int64, []string) error {
	return nil
}
func (noTags) ClearTags(context.Context, *model.Model, int64) error { return nil }
func (noTags) SimilarObjects(context.Context, *model.Model, int64) ([]*model.Record, error) {
	return nil, nil
}

// Package storage defines the persistence contracts used by endpoints.
package storage

import "github.com/R3E-Network/ajax_layer/internal/app/model"

// Filter is an equality condition on one field.
type Filter struct {
	Field string
	Value any
}

// Query selects records of one model. The zero Limit means no limit.
type Query struct {
	Model   *model.Model
	Filters []Filter
	// None marks the empty queryset: nothing matches.
	None   bool
	Limit  int
	Offset int
}

// All selects every record of m.
func All(m *model.Model) Query { return Query{Model: m} }

// None selects nothing.
func None(m *model.Model) Query { return Query{Model: m, None: true} }

// Where narrows q to records whose field equals value. The value is
// normalised through the field type so stores can compare directly.
func (q Query) Where(field string, value any) Query {
	if f, ok := q.Model.Field(field); ok {
		if converted, err := f.Convert(value); err == nil {
			value = converted
		}
	}
	filters := make([]Filter, len(q.Filters), len(q.Filters)+1)
	copy(filters, q.Filters)
	q.Filters = append(filters, Filter{Field: field, Value: value})
	return q
}

// Slice returns q restricted to limit records starting at offset.
func (q Query) Slice(offset, limit int) Query {
	q.Offset = offset
	q.Limit = limit
	return q
}

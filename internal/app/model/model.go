// Package model describes the models exposed over HTTP. A Model is a
// declarative schema (table, fields, relations) and a Record is one row of it.
// Stores and encoders work purely from these descriptors.
package model

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// PKName is the column holding every model's primary key.
const PKName = "id"

// Kind is the storage type of a field.
type Kind int

const (
	Auto Kind = iota
	Integer
	PositiveInteger
	Float
	Boolean
	Char
	Text
	DateTime
	ForeignKey
)

var kindNames = map[Kind]string{
	Auto:            "AutoField",
	Integer:         "IntegerField",
	PositiveInteger: "PositiveIntegerField",
	Float:           "FloatField",
	Boolean:         "BooleanField",
	Char:            "CharField",
	Text:            "TextField",
	DateTime:        "DateTimeField",
	ForeignKey:      "ForeignKey",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// Field describes one column.
type Field struct {
	Name      string
	Kind      Kind
	Null      bool
	Blank     bool
	MaxLength int
	Default   any
	// To names the target model of a ForeignKey.
	To      string
	Choices []string
}

// Model is a declared schema.
type Model struct {
	Name     string
	Table    string
	Fields   []Field
	Taggable bool
	// Exclude lists fields never serialized for this model.
	Exclude []string

	index map[string]int
}

// New validates fields and returns a ready model. An Auto "id" field is
// prepended when the declaration does not carry one.
func New(name, table string, fields ...Field) (*Model, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("model name is required")
	}
	if table == "" {
		table = strings.ToLower(name)
	}

	m := &Model{Name: name, Table: table}
	if len(fields) == 0 || fields[0].Name != PKName {
		m.Fields = append(m.Fields, Field{Name: PKName, Kind: Auto})
	}
	m.Fields = append(m.Fields, fields...)

	m.index = make(map[string]int, len(m.Fields))
	for i, f := range m.Fields {
		if f.Name == "" {
			return nil, fmt.Errorf("model %s: field %d has no name", name, i)
		}
		if _, dup := m.index[f.Name]; dup {
			return nil, fmt.Errorf("model %s: duplicate field %s", name, f.Name)
		}
		if f.Kind == ForeignKey && f.To == "" {
			return nil, fmt.Errorf("model %s: foreign key %s has no target", name, f.Name)
		}
		if f.Kind == Auto && f.Name != PKName {
			return nil, fmt.Errorf("model %s: only %s may be an auto field", name, PKName)
		}
		m.index[f.Name] = i
	}
	return m, nil
}

// MustNew is New for package-level declarations.
func MustNew(name, table string, fields ...Field) *Model {
	m, err := New(name, table, fields...)
	if err != nil {
		panic(err)
	}
	return m
}

// Field returns the named field.
func (m *Model) Field(name string) (Field, bool) {
	i, ok := m.index[name]
	if !ok {
		return Field{}, false
	}
	return m.Fields[i], true
}

// PKField returns the auto primary key field.
func (m *Model) PKField() Field { return m.Fields[m.index[PKName]] }

// FieldNames lists every field including the pk, in declaration order.
func (m *Model) FieldNames() []string {
	names := make([]string, len(m.Fields))
	for i, f := range m.Fields {
		names[i] = f.Name
	}
	return names
}

// Concrete lists the non-pk fields.
func (m *Model) Concrete() []Field {
	out := make([]Field, 0, len(m.Fields)-1)
	for _, f := range m.Fields {
		if f.Name != PKName {
			out = append(out, f)
		}
	}
	return out
}

// NewRecord builds an unsaved record with defaults applied, then values.
func (m *Model) NewRecord(values map[string]any) *Record {
	rec := &Record{Model: m, Values: make(map[string]any, len(m.Fields))}
	for _, f := range m.Concrete() {
		rec.Values[f.Name] = f.Default
	}
	for k, v := range values {
		if k == PKName {
			if pk, ok := v.(int64); ok {
				rec.PK = pk
			}
			continue
		}
		if _, ok := m.index[k]; ok {
			rec.Values[k] = v
		}
	}
	return rec
}

// Clean validates rec the way a save would: required values, lengths,
// choices and sign.
func (m *Model) Clean(rec *Record) error {
	verr := &ValidationError{}
	for _, f := range m.Concrete() {
		v := rec.Values[f.Name]
		if isEmpty(v) {
			if v == nil && !f.Null {
				verr.Add(f.Name, "This field cannot be null.")
			} else if !f.Blank && f.Kind != Boolean {
				verr.Add(f.Name, "This field cannot be blank.")
			}
			continue
		}
		switch f.Kind {
		case Char, Text:
			s, _ := v.(string)
			if f.MaxLength > 0 && len([]rune(s)) > f.MaxLength {
				verr.Add(f.Name, fmt.Sprintf("Ensure this value has at most %d characters (it has %d).", f.MaxLength, len([]rune(s))))
			}
			if len(f.Choices) > 0 && !contains(f.Choices, s) {
				verr.Add(f.Name, fmt.Sprintf("Value %q is not a valid choice.", s))
			}
		case PositiveInteger:
			if n, ok := v.(int64); ok && n < 0 {
				verr.Add(f.Name, "Ensure this value is greater than or equal to 0.")
			}
		}
	}
	if verr.Empty() {
		return nil
	}
	return verr
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	}
	return false
}

func contains(list []string, s string) bool {
	for _, item := range list {
		if item == s {
			return true
		}
	}
	return false
}

// ValidationError collects per-field messages.
type ValidationError struct {
	Errors map[string][]string
}

func (e *ValidationError) Add(field, msg string) {
	if e.Errors == nil {
		e.Errors = make(map[string][]string)
	}
	e.Errors[field] = append(e.Errors[field], msg)
}

func (e *ValidationError) Empty() bool { return len(e.Errors) == 0 }

func (e *ValidationError) Error() string {
	fields := make([]string, 0, len(e.Errors))
	for f := range e.Errors {
		fields = append(fields, f)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, f := range fields {
		parts = append(parts, f+": "+strings.Join(e.Errors[f], " "))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// Registry resolves models by name, case-insensitively.
type Registry struct {
	mu     sync.RWMutex
	models map[string]*Model
}

func NewRegistry() *Registry {
	return &Registry{models: make(map[string]*Model)}
}

// Register adds m. Registering the same name twice fails.
func (r *Registry) Register(m *Model) error {
	key := strings.ToLower(m.Name)
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.models[key]; ok {
		return fmt.Errorf("model %s: %w", m.Name, apperrors.ErrAlreadyRegistered)
	}
	r.models[key] = m
	return nil
}

// Get looks a model up by name.
func (r *Registry) Get(name string) (*Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[strings.ToLower(name)]
	return m, ok
}

// All returns registered models sorted by name.
func (r *Registry) All() []*Model {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Model, 0, len(r.models))
	for _, m := range r.models {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

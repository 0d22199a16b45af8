// Package encoding turns records into JSON-safe maps.
package encoding

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// DefaultPKAttr is the key the pk is emitted under unless configured.
const DefaultPKAttr = "pk"

// Source gives encoders access to related records and tags when expanding.
type Source struct {
	Models  *model.Registry
	Records storage.RecordStore
	Tags    storage.TagStore
}

// Options control a single encode call.
type Options struct {
	// Expand replaces foreign keys with the related record and adds tags.
	Expand     bool
	HTMLEscape bool
	// Fields limits output to these fields; nil means every concrete field.
	Fields []string
	PKAttr string
	Source *Source
}

// Encoder converts one record.
type Encoder interface {
	Encode(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error)
}

// EncoderFunc adapts a function to Encoder.
type EncoderFunc func(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error)

func (f EncoderFunc) Encode(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
	return f(ctx, rec, opts)
}

// DefaultEncoder emits concrete fields minus the model's Exclude list, any
// Extra values, and the pk.
type DefaultEncoder struct{}

func (DefaultEncoder) Encode(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
	m := rec.Model
	pkAttr := opts.PKAttr
	if pkAttr == "" {
		pkAttr = DefaultPKAttr
	}

	out := make(map[string]any, len(m.Fields)+len(rec.Extra))
	for k, v := range rec.Extra {
		out[k] = v
	}

	for _, f := range selectFields(m, opts.Fields) {
		v := rec.Values[f.Name]
		if opts.Expand && f.Kind == model.ForeignKey {
			related, err := expandForeignKey(ctx, f, v, opts)
			if err != nil {
				return nil, err
			}
			out[f.Name] = related
			continue
		}
		out[f.Name] = encodeValue(f, v, opts.HTMLEscape)
	}
	out[pkAttr] = rec.PK

	if opts.Expand && m.Taggable && opts.Source != nil && opts.Source.Tags != nil && rec.Saved() {
		tags, err := opts.Source.Tags.Tags(ctx, m, rec.PK)
		if err != nil {
			return nil, err
		}
		list := make([]map[string]any, 0, len(tags))
		for _, t := range tags {
			list = append(list, map[string]any{
				"name": escape(t.Name, opts.HTMLEscape),
				"slug": escape(t.Slug, opts.HTMLEscape),
			})
		}
		out["tags"] = list
	}
	return out, nil
}

func selectFields(m *model.Model, only []string) []model.Field {
	excluded := make(map[string]bool, len(m.Exclude))
	for _, name := range m.Exclude {
		excluded[name] = true
	}
	var wanted map[string]bool
	if only != nil {
		wanted = make(map[string]bool, len(only))
		for _, name := range only {
			wanted[name] = true
		}
	}

	var out []model.Field
	for _, f := range m.Concrete() {
		if excluded[f.Name] || (wanted != nil && !wanted[f.Name]) {
			continue
		}
		out = append(out, f)
	}
	return out
}

func expandForeignKey(ctx context.Context, f model.Field, v any, opts Options) (any, error) {
	pk, ok := v.(int64)
	if !ok || opts.Source == nil || opts.Source.Models == nil || opts.Source.Records == nil {
		return nil, nil
	}
	target, ok := opts.Source.Models.Get(f.To)
	if !ok {
		return nil, nil
	}
	related, err := opts.Source.Records.Get(ctx, target, pk)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, nil
		}
		return nil, err
	}
	nested := opts
	nested.Expand = false
	nested.Fields = nil
	return DefaultEncoder{}.Encode(ctx, related, nested)
}

func encodeValue(f model.Field, v any, htmlEscape bool) any {
	if v == nil {
		return nil
	}
	switch f.Kind {
	case model.Auto, model.Integer, model.PositiveInteger, model.ForeignKey:
		if n, err := f.Convert(v); err == nil {
			return n
		}
	case model.Float:
		if n, err := f.Convert(v); err == nil {
			return n
		}
	case model.Boolean:
		b, _ := v.(bool)
		if s, ok := v.(string); ok {
			b = s == "True" || s == "true"
		}
		return b
	case model.DateTime:
		if t, ok := v.(time.Time); ok {
			return FormatTime(t)
		}
	}
	if s, ok := v.(string); ok {
		return escape(s, htmlEscape)
	}
	return v
}

// FormatTime renders t as ISO-8601 with millisecond precision, "Z" for UTC.
func FormatTime(t time.Time) string {
	if t.Nanosecond() == 0 {
		return t.Format("2006-01-02T15:04:05Z07:00")
	}
	return t.Format("2006-01-02T15:04:05.000Z07:00")
}

// htmlEscaper uses the entity set web templates emit, so escaped output is
// byte-identical to server-rendered pages.
var htmlEscaper = strings.NewReplacer(
	"&", "&amp;",
	"<", "&lt;",
	">", "&gt;",
	`"`, "&quot;",
	"'", "&#x27;",
)

func escape(s string, on bool) string {
	if on {
		return htmlEscaper.Replace(s)
	}
	return s
}

// HTMLEscapeEncoder escapes every string value.
type HTMLEscapeEncoder struct{}

func (HTMLEscapeEncoder) Encode(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
	opts.HTMLEscape = true
	return DefaultEncoder{}.Encode(ctx, rec, opts)
}

// ExcludeEncoder drops the named fields.
func ExcludeEncoder(fields ...string) Encoder {
	drop := make(map[string]bool, len(fields))
	for _, f := range fields {
		drop[f] = true
	}
	return EncoderFunc(func(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
		keep := make([]string, 0, len(rec.Model.Fields))
		for _, f := range rec.Model.Concrete() {
			if !drop[f.Name] {
				keep = append(keep, f.Name)
			}
		}
		opts.Fields = keep
		return DefaultEncoder{}.Encode(ctx, rec, opts)
	})
}

// IncludeEncoder emits only the named fields plus the pk.
func IncludeEncoder(fields ...string) Encoder {
	include := append([]string{}, fields...)
	return EncoderFunc(func(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
		opts.Fields = include
		return DefaultEncoder{}.Encode(ctx, rec, opts)
	})
}

// Registry maps models to encoders. Models without a registration use
// DefaultEncoder.
type Registry struct {
	mu       sync.RWMutex
	encoders map[*model.Model]Encoder
	source   *Source
	pkAttr   string
}

// NewRegistry returns an empty registry. src and pkAttr are filled into
// every Options that leaves them unset.
func NewRegistry(src *Source, pkAttr string) *Registry {
	if pkAttr == "" {
		pkAttr = DefaultPKAttr
	}
	return &Registry{encoders: make(map[*model.Model]Encoder), source: src, pkAttr: pkAttr}
}

// PKAttr is the key the primary key is encoded under.
func (r *Registry) PKAttr() string { return r.pkAttr }

// Register binds enc to m.
func (r *Registry) Register(m *model.Model, enc Encoder) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.encoders[m]; exists {
		return apperrors.ErrAlreadyRegistered
	}
	r.encoders[m] = enc
	return nil
}

// Unregister removes the encoder of m.
func (r *Registry) Unregister(m *model.Model) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.encoders[m]; !exists {
		return apperrors.ErrNotRegistered
	}
	delete(r.encoders, m)
	return nil
}

// For returns the encoder registered for m, or DefaultEncoder.
func (r *Registry) For(m *model.Model) Encoder {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if enc, ok := r.encoders[m]; ok {
		return enc
	}
	return DefaultEncoder{}
}

func (r *Registry) fill(opts Options) Options {
	if opts.PKAttr == "" {
		opts.PKAttr = r.pkAttr
	}
	if opts.Source == nil {
		opts.Source = r.source
	}
	return opts
}

// Encode encodes rec with its model's encoder.
func (r *Registry) Encode(ctx context.Context, rec *model.Record, opts Options) (map[string]any, error) {
	return r.For(rec.Model).Encode(ctx, rec, r.fill(opts))
}

// EncodeAll encodes each record with its own model's encoder. The result is
// never nil so it marshals as a JSON array.
func (r *Registry) EncodeAll(ctx context.Context, recs []*model.Record, opts Options) ([]map[string]any, error) {
	out := make([]map[string]any, 0, len(recs))
	for _, rec := range recs {
		encoded, err := r.Encode(ctx, rec, opts)
		if err != nil {
			return nil, err
		}
		out = append(out, encoded)
	}
	return out, nil
}

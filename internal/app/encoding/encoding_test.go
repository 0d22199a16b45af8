package encoding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/storage/memory"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

type fixture struct {
	category *model.Model
	widget   *model.Model
	store    *memory.Store
	registry *Registry
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	category := model.MustNew("Category", "", model.Field{Name: "title", Kind: model.Char})
	widget := model.MustNew("Widget", "",
		model.Field{Name: "category", Kind: model.ForeignKey, To: "Category", Null: true},
		model.Field{Name: "title", Kind: model.Char},
		model.Field{Name: "active", Kind: model.Boolean, Default: true},
		model.Field{Name: "rank", Kind: model.Integer, Null: true},
		model.Field{Name: "ratio", Kind: model.Float, Null: true},
		model.Field{Name: "created", Kind: model.DateTime, Null: true},
	)
	widget.Taggable = true

	models := model.NewRegistry()
	for _, m := range []*model.Model{category, widget} {
		if err := models.Register(m); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	store := memory.New()
	src := &Source{Models: models, Records: store, Tags: store}
	return fixture{category: category, widget: widget, store: store, registry: NewRegistry(src, "")}
}

func (f fixture) insert(t *testing.T, m *model.Model, values map[string]any) *model.Record {
	t.Helper()
	rec := m.NewRecord(values)
	if err := f.store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return rec
}

func TestDefaultEncoderValues(t *testing.T) {
	f := newFixture(t)
	created := time.Date(2024, 1, 2, 3, 4, 5, 123456789, time.UTC)
	cat := f.insert(t, f.category, map[string]any{"title": "tools"})
	w := f.insert(t, f.widget, map[string]any{
		"category": cat.PK, "title": "<b>hammer</b>", "rank": int64(3), "ratio": 0.5, "created": created,
	})
	w.Extra = map[string]any{"score": 10}

	got, err := f.registry.Encode(context.Background(), w, Options{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	want := map[string]any{
		"pk":       w.PK,
		"category": cat.PK,
		"title":    "<b>hammer</b>",
		"active":   true,
		"rank":     int64(3),
		"ratio":    0.5,
		"created":  "2024-01-02T03:04:05.123Z",
		"score":    10,
	}
	for k, v := range want {
		if got[k] != v {
			t.Fatalf("%s: got %#v want %#v", k, got[k], v)
		}
	}
	if _, ok := got["tags"]; ok {
		t.Fatalf("tags are only emitted when expanding")
	}
	if _, ok := got["id"]; ok {
		t.Fatalf("pk must be emitted under the pk attribute only")
	}
}

func TestEncodeExpand(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cat := f.insert(t, f.category, map[string]any{"title": "tools"})
	w := f.insert(t, f.widget, map[string]any{"category": cat.PK, "title": "hammer"})
	if err := f.store.SetTags(ctx, f.widget, w.PK, []string{"steel"}); err != nil {
		t.Fatalf("tags: %v", err)
	}

	got, err := f.registry.Encode(ctx, w, Options{Expand: true})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	related, ok := got["category"].(map[string]any)
	if !ok || related["title"] != "tools" || related["pk"] != cat.PK {
		t.Fatalf("unexpected expanded category: %#v", got["category"])
	}
	tags, ok := got["tags"].([]map[string]any)
	if !ok || len(tags) != 1 || tags[0]["name"] != "steel" || tags[0]["slug"] != "steel" {
		t.Fatalf("unexpected tags: %#v", got["tags"])
	}

	orphan := f.insert(t, f.widget, map[string]any{"category": int64(99), "title": "lost"})
	got, err = f.registry.Encode(ctx, orphan, Options{Expand: true})
	if err != nil {
		t.Fatalf("encode orphan: %v", err)
	}
	if got["category"] != nil {
		t.Fatalf("missing related record must expand to nil, got %#v", got["category"])
	}
}

func TestHTMLEscapeEncoder(t *testing.T) {
	f := newFixture(t)
	w := f.insert(t, f.widget, map[string]any{"title": `<a href="x" title='R&D'>`})
	if err := f.registry.Register(f.widget, HTMLEscapeEncoder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	got, err := f.registry.Encode(context.Background(), w, Options{})
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if got["title"] != "&lt;a href=&quot;x&quot; title=&#x27;R&amp;D&#x27;&gt;" {
		t.Fatalf("expected escaped title, got %q", got["title"])
	}
}

func TestIncludeExcludeEncoders(t *testing.T) {
	f := newFixture(t)
	w := f.insert(t, f.widget, map[string]any{"title": "hammer", "rank": int64(1)})
	ctx := context.Background()

	got, _ := IncludeEncoder("title").Encode(ctx, w, Options{})
	if len(got) != 2 || got["title"] != "hammer" || got["pk"] != w.PK {
		t.Fatalf("include: %#v", got)
	}

	got, _ = ExcludeEncoder("title", "rank").Encode(ctx, w, Options{})
	if _, ok := got["title"]; ok {
		t.Fatalf("exclude kept title: %#v", got)
	}
	if _, ok := got["active"]; !ok {
		t.Fatalf("exclude dropped active: %#v", got)
	}
}

func TestModelExcludeAndPKAttr(t *testing.T) {
	f := newFixture(t)
	f.widget.Exclude = []string{"ratio"}
	w := f.insert(t, f.widget, map[string]any{"title": "hammer"})
	registry := NewRegistry(nil, "id")

	got, _ := registry.Encode(context.Background(), w, Options{})
	if _, ok := got["ratio"]; ok {
		t.Fatalf("excluded field emitted")
	}
	if got["id"] != w.PK {
		t.Fatalf("expected pk under id, got %#v", got)
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	if err := f.registry.Register(f.widget, HTMLEscapeEncoder{}); err != nil {
		t.Fatalf("register: %v", err)
	}
	if err := f.registry.Register(f.widget, DefaultEncoder{}); !errors.Is(err, apperrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if _, ok := f.registry.For(f.widget).(HTMLEscapeEncoder); !ok {
		t.Fatalf("expected registered encoder")
	}
	if _, ok := f.registry.For(f.category).(DefaultEncoder); !ok {
		t.Fatalf("expected default encoder fallback")
	}
	if err := f.registry.Unregister(f.widget); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if err := f.registry.Unregister(f.widget); !errors.Is(err, apperrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
}

func TestEncodeAllUsesPerRecordEncoder(t *testing.T) {
	f := newFixture(t)
	cat := f.insert(t, f.category, map[string]any{"title": "<i>"})
	w := f.insert(t, f.widget, map[string]any{"title": "<i>"})
	_ = f.registry.Register(f.widget, HTMLEscapeEncoder{})

	got, err := f.registry.EncodeAll(context.Background(), []*model.Record{cat, w}, Options{})
	if err != nil {
		t.Fatalf("encode all: %v", err)
	}
	if got[0]["title"] != "<i>" || got[1]["title"] != "&lt;i&gt;" {
		t.Fatalf("unexpected encodings: %#v", got)
	}

	empty, _ := f.registry.EncodeAll(context.Background(), nil, Options{})
	if empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice")
	}
}

func TestFormatTime(t *testing.T) {
	if got := FormatTime(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)); got != "2024-01-02T03:04:05Z" {
		t.Fatalf("got %s", got)
	}
}

package endpoint

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/encoding"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/signals"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/app/storage/memory"
	"github.com/R3E-Network/ajax_layer/internal/config"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

var member = auth.User{ID: 1, Username: "jstump", Active: true}

// countingStore records how often Update is called.
type countingStore struct {
	*memory.Store
	updates int
}

func (c *countingStore) Update(ctx context.Context, rec *model.Record) error {
	c.updates++
	return c.Store.Update(ctx, rec)
}

type fixture struct {
	category *model.Model
	widget   *model.Model
	store    *countingStore
	env      *Env
	site     *Site
	widgetEP *ModelDefinition
	catEP    *ModelDefinition
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	category := model.MustNew("Category", "", model.Field{Name: "title", Kind: model.Char, MaxLength: 100})
	widget := model.MustNew("Widget", "",
		model.Field{Name: "category", Kind: model.ForeignKey, To: "Category", Null: true, Blank: true},
		model.Field{Name: "title", Kind: model.Char, MaxLength: 100},
		model.Field{Name: "description", Kind: model.Char, MaxLength: 200, Null: true, Blank: true},
		model.Field{Name: "active", Kind: model.Boolean, Default: true},
	)
	widget.Taggable = true

	models := model.NewRegistry()
	_ = models.Register(category)
	_ = models.Register(widget)

	store := &countingStore{Store: memory.New()}
	env := &Env{
		Models:   models,
		Records:  store,
		Tags:     store,
		Encoders: encoding.NewRegistry(&encoding.Source{Models: models, Records: store, Tags: store}, ""),
		Signals:  signals.NewHub(),
	}
	f := &fixture{category: category, widget: widget, store: store, env: env, site: NewSite(env, nil)}
	f.widgetEP = &ModelDefinition{
		Model:      widget,
		MaxPerPage: 100,
		CanList:    func(auth.User) bool { return true },
		Queryset:   func(*Request) storage.Query { return storage.All(widget) },
	}
	f.catEP = &ModelDefinition{Model: category}
	if err := f.site.Endpoints.Register(f.widgetEP); err != nil {
		t.Fatalf("register widget: %v", err)
	}
	if err := f.site.Endpoints.Register(f.catEP); err != nil {
		t.Fatalf("register category: %v", err)
	}
	return f
}

func (f *fixture) insert(t *testing.T, m *model.Model, values map[string]any) *model.Record {
	t.Helper()
	rec := m.NewRecord(values)
	if err := f.store.Insert(context.Background(), rec); err != nil {
		t.Fatalf("insert: %v", err)
	}
	return rec
}

func (f *fixture) call(t *testing.T, name, method, pk string, data url.Values) (any, error) {
	t.Helper()
	ep, err := f.site.Endpoints.Load(name, "example", method)
	if err != nil {
		t.Fatalf("load %s: %v", name, err)
	}
	op, ok := ep.Operation(method)
	if !ok {
		t.Fatalf("no operation %s", method)
	}
	if data == nil {
		data = url.Values{}
	}
	req := &Request{
		HTTP:        httptest.NewRequest(http.MethodPost, "/ajax/example/"+name+".json", nil),
		User:        member,
		Data:        data,
		Application: "example",
		Model:       name,
		Method:      method,
		PK:          pk,
		Options:     map[string]string{},
	}
	return op(req)
}

func wantCode(t *testing.T, err error, code int) *apperrors.Error {
	t.Helper()
	e := apperrors.Get(err)
	if e == nil || e.Code != code {
		t.Fatalf("expected %d error, got %v", code, err)
	}
	return e
}

func TestCreate(t *testing.T) {
	f := newFixture(t)
	cat := f.insert(t, f.category, map[string]any{"title": "tools"})
	var got signals.Event
	f.env.Signals.Created.Connect(func(_ context.Context, ev signals.Event) { got = ev })

	out, err := f.call(t, "widget", "create", "", url.Values{
		"title": {"hammer"}, "category": {"1"}, "active": {"FALSE"}, "bogus": {"x"}, "tags": {"steel, heavy"},
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	data := out.(map[string]any)
	if data["title"] != "hammer" || data["category"] != cat.PK || data["active"] != false || data["pk"] != int64(1) {
		t.Fatalf("unexpected data %#v", data)
	}
	if got.Instance == nil || got.Instance.PK != 1 {
		t.Fatalf("created signal not sent")
	}
	tags, _ := f.store.Tags(context.Background(), f.widget, 1)
	if len(tags) != 2 {
		t.Fatalf("expected tags to be set, got %+v", tags)
	}
}

func TestCreateValidation(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, "widget", "create", "", url.Values{"description": {"x"}})
	e := wantCode(t, err, http.StatusBadRequest)
	if e.Message != "Could not save model." {
		t.Fatalf("unexpected message %q", e.Message)
	}
	errs, ok := e.Extra["errors"].(map[string][]string)
	if !ok || len(errs["title"]) == 0 {
		t.Fatalf("expected title error, got %#v", e.Extra)
	}
}

func TestCreateRejectsMissingForeignKey(t *testing.T) {
	f := newFixture(t)
	_, err := f.call(t, "widget", "create", "", url.Values{"title": {"x"}, "category": {"42"}})
	wantCode(t, err, http.StatusBadRequest)
}

func TestCreateForbiddenForInactiveUser(t *testing.T) {
	f := newFixture(t)
	ep, _ := f.site.Endpoints.Load("widget", "example", "create")
	op, _ := ep.Operation("create")
	_, err := op(&Request{User: auth.User{ID: 2}, Data: url.Values{"title": {"x"}}})
	e := wantCode(t, err, http.StatusForbidden)
	if e.Message != "Access to endpoint is forbidden" {
		t.Fatalf("unexpected message %q", e.Message)
	}

	_, err = op(&Request{User: auth.User{Staff: true}, Data: url.Values{"title": {"x"}}})
	if err != nil {
		t.Fatalf("staff may create: %v", err)
	}
}

func TestUpdateOnlySavesChanges(t *testing.T) {
	f := newFixture(t)
	w := f.insert(t, f.widget, map[string]any{"title": "hammer"})

	if _, err := f.call(t, "widget", "update", "1", url.Values{"active": {"true"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.store.updates != 0 {
		t.Fatalf("unchanged values must not save, got %d updates", f.store.updates)
	}

	out, err := f.call(t, "widget", "update", "1", url.Values{"active": {"False"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if f.store.updates != 1 {
		t.Fatalf("expected one update, got %d", f.store.updates)
	}
	if out.(map[string]any)["active"] != false {
		t.Fatalf("unexpected data %#v", out)
	}
	stored, _ := f.store.Get(context.Background(), f.widget, w.PK)
	if stored.Values["active"] != false {
		t.Fatalf("update not stored")
	}
}

func TestUpdateClearsNullableForeignKey(t *testing.T) {
	f := newFixture(t)
	cat := f.insert(t, f.category, map[string]any{"title": "tools"})
	f.insert(t, f.widget, map[string]any{"title": "a", "category": cat.PK})
	f.insert(t, f.widget, map[string]any{"title": "b", "category": cat.PK})

	for pk, value := range map[string]string{"1": "", "2": "false"} {
		out, err := f.call(t, "widget", "update", pk, url.Values{"category": {value}})
		if err != nil {
			t.Fatalf("update %s: %v", pk, err)
		}
		if out.(map[string]any)["category"] != nil {
			t.Fatalf("category should be cleared for %q", value)
		}
	}
}

func TestUpdateTags(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.widget, map[string]any{"title": "a"})
	ctx := context.Background()

	if _, err := f.call(t, "widget", "update", "1", url.Values{"tags": {"red blue"}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	tags, _ := f.store.Tags(ctx, f.widget, 1)
	if len(tags) != 2 {
		t.Fatalf("expected 2 tags, got %+v", tags)
	}
	if _, err := f.call(t, "widget", "update", "1", url.Values{"tags": {""}}); err != nil {
		t.Fatalf("update: %v", err)
	}
	tags, _ = f.store.Tags(ctx, f.widget, 1)
	if len(tags) != 0 {
		t.Fatalf("empty tags must clear, got %+v", tags)
	}
}

func TestImmutableFieldsAreIgnored(t *testing.T) {
	f := newFixture(t)
	f.widgetEP.ImmutableFields = []string{"title"}
	f.insert(t, f.widget, map[string]any{"title": "fixed"})

	out, err := f.call(t, "widget", "update", "1", url.Values{"title": {"changed"}, "id": {"9"}})
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	data := out.(map[string]any)
	if data["title"] != "fixed" || data["pk"] != int64(1) {
		t.Fatalf("immutable fields changed: %#v", data)
	}
}

func TestRecordBoundErrors(t *testing.T) {
	f := newFixture(t)

	_, err := f.call(t, "widget", "get", "", nil)
	if !errors.Is(err, apperrors.ErrPrimaryKeyMissing) {
		t.Fatalf("expected missing pk, got %v", err)
	}

	_, err = f.call(t, "widget", "get", "99", nil)
	e := wantCode(t, err, http.StatusNotFound)
	if e.Message != `Widget with id of "99" not found.` {
		t.Fatalf("unexpected message %q", e.Message)
	}
}

func TestDeleteSendsPayload(t *testing.T) {
	f := newFixture(t)
	w := f.insert(t, f.widget, map[string]any{"title": "a"})
	var payload map[string]any
	f.env.Signals.Deleted.Connect(func(_ context.Context, ev signals.Event) { payload = ev.Payload })

	out, err := f.call(t, "widget", "delete", "1", nil)
	if err != nil {
		t.Fatalf("delete: %v", err)
	}
	if out.(map[string]any)["pk"] != w.PK || payload["pk"] != w.PK {
		t.Fatalf("unexpected payload out=%#v signal=%#v", out, payload)
	}
	if _, err := f.store.Get(context.Background(), f.widget, w.PK); !storage.IsNotFound(err) {
		t.Fatalf("record still exists")
	}
}

func TestGetExpand(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.category, map[string]any{"title": "tools"})
	f.insert(t, f.widget, map[string]any{"title": "a", "category": int64(1)})

	out, err := f.call(t, "widget", "get", "1", url.Values{"expand": {"true"}})
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	related, ok := out.(map[string]any)["category"].(map[string]any)
	if !ok || related["title"] != "tools" {
		t.Fatalf("expected expanded category, got %#v", out)
	}
}

func listData(t *testing.T, out any) ([]map[string]any, int) {
	t.Helper()
	env, ok := out.(EnvelopedResponse)
	if !ok {
		t.Fatalf("expected enveloped response, got %T", out)
	}
	return env.Data.([]map[string]any), env.Metadata["total"].(int)
}

func TestList(t *testing.T) {
	f := newFixture(t)
	for _, title := range []string{"a", "b", "c", "d", "e", "f"} {
		f.insert(t, f.widget, map[string]any{"title": title})
	}

	out, err := f.call(t, "widget", "list", "", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	data, total := listData(t, out)
	if len(data) != 6 || total != 6 {
		t.Fatalf("expected all 6 widgets, got %d/%d", len(data), total)
	}

	f.widgetEP.MaxPerPage = 1
	out, _ = f.call(t, "widget", "list", "", url.Values{"items_per_page": {"2"}})
	if data, _ = listData(t, out); len(data) != 1 {
		t.Fatalf("request must not override max per page, got %d", len(data))
	}

	out, _ = f.call(t, "widget", "list", "", url.Values{"current_page": {"99"}})
	if data, total = listData(t, out); len(data) != 0 || total != 6 {
		t.Fatalf("out of range page must be empty, got %d", len(data))
	}

	out, _ = f.call(t, "widget", "list", "", url.Values{"current_page": {"two"}})
	if data, _ = listData(t, out); len(data) != 1 || data[0]["title"] != "a" {
		t.Fatalf("non-integer page must return page 1, got %#v", data)
	}

	out, _ = f.call(t, "widget", "list", "", url.Values{"current_page": {"3"}})
	if data, _ = listData(t, out); len(data) != 1 || data[0]["title"] != "c" {
		t.Fatalf("unexpected third page %#v", data)
	}
}

func TestListPermissionAndDefaultQueryset(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.category, map[string]any{"title": "tools"})

	_, err := f.call(t, "category", "list", "", nil)
	e := wantCode(t, err, http.StatusForbidden)
	if e.Message != "Access to this endpoint is forbidden" {
		t.Fatalf("unexpected message %q", e.Message)
	}

	f.catEP.CanList = func(auth.User) bool { return true }
	out, err := f.call(t, "category", "list", "", nil)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if data, total := listData(t, out); len(data) != 0 || total != 0 {
		t.Fatalf("default queryset must be empty")
	}
}

func TestTagsCommand(t *testing.T) {
	f := newFixture(t)
	f.insert(t, f.widget, map[string]any{"title": "a"})
	f.insert(t, f.widget, map[string]any{"title": "b"})
	ctx := context.Background()
	_ = f.store.SetTags(ctx, f.widget, 2, []string{"red"})

	call := func(cmd string, data url.Values) (any, error) {
		ep, _ := f.site.Endpoints.Load("widget", "example", "tags")
		op, _ := ep.Operation("tags")
		return op(&Request{User: member, Data: data, PK: "1", Options: map[string]string{OptionTagCommand: cmd}})
	}

	_, err := call("", nil)
	e := wantCode(t, err, http.StatusBadRequest)
	if e.Message != "Invalid or missing taggit command." {
		t.Fatalf("unexpected message %q", e.Message)
	}

	out, err := call("add", url.Values{"tags": {"red, green"}})
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if list := out.([]map[string]any); len(list) != 2 || list[0]["name"] != "green" {
		t.Fatalf("unexpected tags %#v", out)
	}

	out, err = call("similar", nil)
	if err != nil {
		t.Fatalf("similar: %v", err)
	}
	if list := out.([]map[string]any); len(list) != 1 || list[0]["pk"] != int64(2) {
		t.Fatalf("unexpected similar %#v", out)
	}

	out, _ = call("clear", nil)
	if list := out.([]map[string]any); len(list) != 0 {
		t.Fatalf("clear left tags %#v", out)
	}

	_, err = f.call(t, "category", "tags", "1", nil)
	wantCode(t, err, http.StatusBadRequest)
}

func TestCustomOperation(t *testing.T) {
	f := newFixture(t)
	f.catEP.Operations = map[string]func(*ModelEndpoint, *Request) (any, error){
		"count": func(e *ModelEndpoint, r *Request) (any, error) {
			return e.Env.Records.Count(r.Context(), storage.All(e.Def.Model))
		},
	}
	f.insert(t, f.category, map[string]any{"title": "tools"})
	out, err := f.call(t, "category", "count", "", nil)
	if err != nil || out != 1 {
		t.Fatalf("custom op: %v %v", out, err)
	}
}

func TestRegistry(t *testing.T) {
	f := newFixture(t)
	if err := f.site.Endpoints.Register(&ModelDefinition{Model: f.widget}); !errors.Is(err, apperrors.ErrAlreadyRegistered) {
		t.Fatalf("expected already registered, got %v", err)
	}
	if _, err := f.site.Endpoints.Load("WIDGET", "example", "get"); err != nil {
		t.Fatalf("load is case-insensitive: %v", err)
	}
	if err := f.site.Endpoints.Unregister("widget"); err != nil {
		t.Fatalf("unregister: %v", err)
	}
	if _, err := f.site.Endpoints.Load("widget", "example", "get"); !errors.Is(err, apperrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if err := f.site.Endpoints.Unregister("widget"); !errors.Is(err, apperrors.ErrNotRegistered) {
		t.Fatalf("expected not registered, got %v", err)
	}
	if names := f.site.Endpoints.Names(); len(names) != 1 || names[0] != "category" {
		t.Fatalf("unexpected names %v", names)
	}
}

func TestOverridesAppliedAtRegistration(t *testing.T) {
	overrides, err := config.ParseEndpointOverrides([]byte("models:\n  Gadget:\n    max_per_page: 5\n    immutable_fields: [title]\n    list: true\n"))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	gadget := model.MustNew("Gadget", "", model.Field{Name: "title", Kind: model.Char})
	def := &ModelDefinition{Model: gadget, ImmutableFields: []string{"slug"}}

	// The same definition registered with two registries gets the overrides
	// once each and stays untouched itself.
	for i := 0; i < 2; i++ {
		reg := NewRegistry(&Env{}, overrides)
		if err := reg.Register(def); err != nil {
			t.Fatalf("register: %v", err)
		}
		ep, err := reg.Load("gadget", "example", "list")
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		bound := ep.(*ModelEndpoint).Def
		if bound.MaxPerPage != 5 || bound.CanList == nil || !bound.CanList(auth.Anonymous) {
			t.Fatalf("overrides not applied: %+v", bound)
		}
		if got := bound.ImmutableFields; len(got) != 2 || got[0] != "slug" || got[1] != "title" {
			t.Fatalf("registration %d immutable fields = %v", i+1, got)
		}
	}
	if def.MaxPerPage != 0 || def.CanList != nil || len(def.ImmutableFields) != 1 {
		t.Fatalf("caller definition modified: %+v", def)
	}
}

func TestDecorators(t *testing.T) {
	ok := func(*Request) (any, error) { return "ok", nil }

	_, err := LoginRequired(ok)(&Request{})
	if e := wantCode(t, err, http.StatusForbidden); e.Message != "User must be authenticated." {
		t.Fatalf("unexpected message %q", e.Message)
	}
	if out, err := LoginRequired(ok)(&Request{User: member}); err != nil || out != "ok" {
		t.Fatalf("login required passed user: %v", err)
	}

	get := &Request{HTTP: httptest.NewRequest(http.MethodGet, "/", nil)}
	_, err = AllowedMethods(ok, http.MethodPost)(get)
	if e := wantCode(t, err, http.StatusForbidden); e.Message != "Access denied." {
		t.Fatalf("unexpected message %q", e.Message)
	}
	if _, err := AllowedMethods(ok, http.MethodGet)(get); err != nil {
		t.Fatalf("allowed method rejected: %v", err)
	}

	if _, err := RequirePK(ok)(&Request{}); !errors.Is(err, apperrors.ErrPrimaryKeyMissing) {
		t.Fatalf("expected missing pk, got %v", err)
	}
}

type contactForm struct {
	data  url.Values
	model *model.Model
}

func (c *contactForm) Bind(data url.Values) { c.data = data }
func (c *contactForm) Valid() bool          { return c.data.Get("title") != "" }
func (c *contactForm) Errors() map[string][]string {
	return map[string][]string{"title": {"This field is required."}}
}
func (c *contactForm) Save(context.Context) (any, error) {
	if c.model != nil {
		return c.model.NewRecord(map[string]any{"title": c.data.Get("title")}), nil
	}
	return map[string]string{"sent": c.data.Get("title")}, nil
}

func TestFormEndpoint(t *testing.T) {
	f := newFixture(t)
	def := &FormDefinition{FormName: "contact", New: func() Form { return &contactForm{} }}
	modelForm := &FormDefinition{FormName: "categoryform", New: func() Form { return &contactForm{model: f.category} }}
	_ = f.site.Endpoints.Register(def)
	_ = f.site.Endpoints.Register(modelForm)

	out, err := f.call(t, "contact", "create", "", url.Values{"title": {"hi"}})
	if err != nil || out.(map[string]string)["sent"] != "hi" {
		t.Fatalf("form create: %v %v", out, err)
	}

	out, err = f.call(t, "contact", "create", "", nil)
	if err != nil || len(out.(map[string][]string)["title"]) != 1 {
		t.Fatalf("invalid form should return errors: %v %v", out, err)
	}

	out, err = f.call(t, "categoryform", "create", "", url.Values{"title": {"tools"}})
	if err != nil || out.(map[string]any)["pk"] != int64(1) {
		t.Fatalf("model form create: %v %v", out, err)
	}

	for _, method := range []string{"update", "delete", "get"} {
		_, err := f.call(t, "contact", method, "1", nil)
		if e := wantCode(t, err, http.StatusNotFound); e.Message != "Endpoint does not exist." {
			t.Fatalf("%s: unexpected message %q", method, e.Message)
		}
	}
	ep, _ := f.site.Endpoints.Load("contact", "example", "list")
	if _, ok := ep.Operation("list"); ok {
		t.Fatalf("forms have no list operation")
	}
}

func TestSiteApplications(t *testing.T) {
	f := newFixture(t)
	app := f.site.Application("Example")
	app.Handle("echo", func(r *Request) (any, error) { return r.Values(), nil })

	found, ok := f.site.Lookup("example")
	if !ok || found != app {
		t.Fatalf("lookup failed")
	}
	op, ok := found.AdHoc("echo")
	if !ok {
		t.Fatalf("missing echo")
	}
	out, _ := op(&Request{Data: url.Values{"name": {"a", "b"}}})
	if out.(map[string]string)["name"] != "b" {
		t.Fatalf("echo should return the last value, got %#v", out)
	}
	if _, ok := f.site.Lookup("other"); ok {
		t.Fatalf("unexpected application")
	}
}

func TestAuthenticateUsesDefinitionHook(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	ep, _ := f.site.Endpoints.Load("widget", "example", "get")
	if ep.Authenticate(req, "example", "get") {
		t.Fatalf("anonymous session must not authenticate")
	}
	f.widgetEP.Authenticate = func(*http.Request, string, string) bool { return true }
	ep, _ = f.site.Endpoints.Load("widget", "example", "get")
	if !ep.Authenticate(req, "example", "get") {
		t.Fatalf("definition hook ignored")
	}
}

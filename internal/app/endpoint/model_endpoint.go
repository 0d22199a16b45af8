package endpoint

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/encoding"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/signals"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
	"github.com/R3E-Network/ajax_layer/internal/app/tags"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// ModelDefinition declares how a model is exposed. Nil hooks fall back to
// the defaults: anyone may get, active or staff users may write, nobody may
// list, and the list queryset is empty.
type ModelDefinition struct {
	Model *model.Model
	// MaxPerPage caps list pages; zero means the site default.
	MaxPerPage      int
	ImmutableFields []string
	// Encoder, when set, is registered for Model.
	Encoder encoding.Encoder

	CanCreate func(u auth.User, rec *model.Record) bool
	CanUpdate func(u auth.User, rec, modified *model.Record) bool
	CanDelete func(u auth.User, rec *model.Record) bool
	CanGet    func(u auth.User, rec *model.Record) bool
	CanList   func(u auth.User) bool
	Queryset  func(r *Request) storage.Query
	// Authenticate replaces the site authenticator for this model.
	Authenticate func(r *http.Request, application, method string) bool
	// Operations adds methods, or replaces built-in ones, by name.
	Operations map[string]func(e *ModelEndpoint, r *Request) (any, error)
}

// Name returns the model name.
func (d *ModelDefinition) Name() string { return d.Model.Name }

// Bind returns the endpoint for one request.
func (d *ModelDefinition) Bind(env *Env, application, method string) Endpoint {
	return &ModelEndpoint{Def: d, Env: env, Application: application, Method: method}
}

func activeOrStaff(u auth.User) bool {
	return (u.IsAuthenticated() && u.Active) || u.Staff
}

// ModelEndpoint serves the operations of one model.
type ModelEndpoint struct {
	Def         *ModelDefinition
	Env         *Env
	Application string
	Method      string
}

func (e *ModelEndpoint) Authenticate(r *http.Request, application, method string) bool {
	if e.Def.Authenticate != nil {
		return e.Def.Authenticate(r, application, method)
	}
	return e.Env.authenticator().IsAuthenticated(r, application, method)
}

func (e *ModelEndpoint) Operation(method string) (Operation, bool) {
	if custom, ok := e.Def.Operations[method]; ok {
		return func(r *Request) (any, error) { return custom(e, r) }, true
	}
	switch method {
	case "create":
		return e.Create, true
	case "update":
		return RequirePK(e.Update), true
	case "delete":
		return RequirePK(e.Delete), true
	case "get":
		return RequirePK(e.Get), true
	case "list":
		return e.List, true
	case "tags":
		return e.Tags, true
	}
	return nil, false
}

func (e *ModelEndpoint) canCreate(u auth.User, rec *model.Record) bool {
	if e.Def.CanCreate != nil {
		return e.Def.CanCreate(u, rec)
	}
	return activeOrStaff(u)
}

func (e *ModelEndpoint) canUpdate(u auth.User, rec, modified *model.Record) bool {
	if e.Def.CanUpdate != nil {
		return e.Def.CanUpdate(u, rec, modified)
	}
	return activeOrStaff(u)
}

func (e *ModelEndpoint) canDelete(u auth.User, rec *model.Record) bool {
	if e.Def.CanDelete != nil {
		return e.Def.CanDelete(u, rec)
	}
	return activeOrStaff(u)
}

func (e *ModelEndpoint) canGet(u auth.User, rec *model.Record) bool {
	if e.Def.CanGet != nil {
		return e.Def.CanGet(u, rec)
	}
	return true
}

func (e *ModelEndpoint) canList(u auth.User) bool {
	if e.Def.CanList != nil {
		return e.Def.CanList(u)
	}
	return false
}

func (e *ModelEndpoint) queryset(r *Request) storage.Query {
	if e.Def.Queryset != nil {
		return e.Def.Queryset(r)
	}
	return storage.None(e.Def.Model)
}

func (e *ModelEndpoint) maxPerPage() int {
	switch {
	case e.Def.MaxPerPage > 0:
		return e.Def.MaxPerPage
	case e.Env.MaxPerPage > 0:
		return e.Env.MaxPerPage
	}
	return DefaultMaxPerPage
}

func forbidden() error { return apperrors.Forbidden("Access to endpoint is forbidden") }

// Create builds a record from the posted data and saves it.
func (e *ModelEndpoint) Create(r *Request) (any, error) {
	ctx := r.Context()
	data, err := e.extractData(r)
	if err != nil {
		return nil, err
	}
	rec := e.Def.Model.NewRecord(data)
	if !e.canCreate(r.User, rec) {
		return nil, forbidden()
	}
	if err := e.save(r, rec); err != nil {
		return nil, err
	}
	if r.Has("tags") {
		if err := e.tagStore().SetTags(ctx, rec.Model, rec.PK, extractTags(r)); err != nil {
			return nil, err
		}
	}
	e.send(r, created, rec, nil)
	return e.Env.Encoders.Encode(ctx, rec, encoding.Options{})
}

// Update applies the posted values that differ from the stored record.
func (e *ModelEndpoint) Update(r *Request) (any, error) {
	ctx := r.Context()
	rec, err := e.getRecord(r)
	if err != nil {
		return nil, err
	}
	modified := rec.Clone()

	data, err := e.extractData(r)
	if err != nil {
		return nil, err
	}
	changed := false
	for name, value := range data {
		if !sameValue(rec.Get(name), value) {
			modified.Set(name, value)
			changed = true
		}
	}

	if !e.canUpdate(r.User, rec, modified) {
		return nil, forbidden()
	}
	if changed {
		if err := e.save(r, modified); err != nil {
			return nil, err
		}
	}
	if r.Has("tags") {
		store := e.tagStore()
		if names := extractTags(r); len(names) > 0 {
			err = store.SetTags(ctx, modified.Model, modified.PK, names)
		} else {
			err = store.ClearTags(ctx, modified.Model, modified.PK)
		}
		if err != nil {
			return nil, err
		}
	}
	e.send(r, updated, modified, nil)
	return e.Env.Encoders.Encode(ctx, modified, encoding.Options{})
}

// Delete removes the record and returns {"pk": pk}.
func (e *ModelEndpoint) Delete(r *Request) (any, error) {
	rec, err := e.getRecord(r)
	if err != nil {
		return nil, err
	}
	if !e.canDelete(r.User, rec) {
		return nil, forbidden()
	}
	payload := map[string]any{"pk": rec.PK}
	if err := e.Env.Records.Delete(r.Context(), rec.Model, rec.PK); err != nil {
		return nil, err
	}
	e.send(r, deleted, rec, payload)
	return payload, nil
}

// Get returns the encoded record. expand=true expands foreign keys and tags.
func (e *ModelEndpoint) Get(r *Request) (any, error) {
	rec, err := e.getRecord(r)
	if err != nil {
		return nil, err
	}
	if !e.canGet(r.User, rec) {
		return nil, forbidden()
	}
	return e.Env.Encoders.Encode(r.Context(), rec, encodingOptions(r))
}

// List returns one page of the queryset with the total count as metadata.
func (e *ModelEndpoint) List(r *Request) (any, error) {
	ctx := r.Context()
	perPage := defaultItemsPerPage
	if n, err := strconv.Atoi(strings.TrimSpace(r.Value("items_per_page"))); err == nil && n > 0 {
		perPage = n
	}
	if max := e.maxPerPage(); perPage > max {
		perPage = max
	}

	if !e.canList(r.User) {
		return nil, apperrors.Forbidden("Access to this endpoint is forbidden")
	}

	q := e.queryset(r)
	total, err := e.Env.Records.Count(ctx, q)
	if err != nil {
		return nil, err
	}

	page := 1
	if raw := strings.TrimSpace(r.Value("current_page")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil {
			page = n
		}
	}

	data := []map[string]any{}
	if inRange(page, perPage, total) {
		recs, err := e.Env.Records.List(ctx, q.Slice((page-1)*perPage, perPage))
		if err != nil {
			return nil, err
		}
		data, err = e.Env.Encoders.EncodeAll(ctx, recs, encodingOptions(r))
		if err != nil {
			return nil, err
		}
	}
	return EnvelopedResponse{Data: data, Metadata: map[string]any{"total": total}}, nil
}

// inRange reports whether page exists; the first page always does.
func inRange(page, perPage, total int) bool {
	if page < 1 {
		return false
	}
	return page == 1 || (page-1)*perPage < total
}

var tagCommands = map[string]bool{"add": true, "remove": true, "set": true, "clear": true, "similar": true}

// Tags runs a tag command against the record. "similar" lists records
// sharing tags; the others change the tags and return the current set.
func (e *ModelEndpoint) Tags(r *Request) (any, error) {
	ctx := r.Context()
	cmd := r.Options[OptionTagCommand]
	if !tagCommands[cmd] {
		return nil, apperrors.BadRequest("Invalid or missing taggit command.")
	}
	if !e.Def.Model.Taggable || e.Env.Tags == nil {
		return nil, apperrors.BadRequest(fmt.Sprintf("%s does not support tags.", e.Def.Model.Name))
	}

	rec, err := e.getRecord(r)
	if err != nil {
		return nil, err
	}
	m, store := rec.Model, e.Env.Tags

	if cmd == "similar" {
		recs, err := store.SimilarObjects(ctx, m, rec.PK)
		if err != nil {
			return nil, err
		}
		return e.Env.Encoders.EncodeAll(ctx, recs, encodingOptions(r))
	}

	names := extractTags(r)
	switch {
	case cmd == "clear":
		err = store.ClearTags(ctx, m, rec.PK)
	case !r.Has("tags"):
	case cmd == "add":
		err = store.AddTags(ctx, m, rec.PK, names)
	case cmd == "remove":
		err = store.RemoveTags(ctx, m, rec.PK, names)
	case cmd == "set":
		err = store.SetTags(ctx, m, rec.PK, names)
	}
	if err != nil {
		return nil, err
	}

	current, err := store.Tags(ctx, m, rec.PK)
	if err != nil {
		return nil, err
	}
	out := make([]map[string]any, 0, len(current))
	for _, t := range current {
		out = append(out, map[string]any{e.Env.pkAttr(): t.ID, "name": t.Name, "slug": t.Slug})
	}
	return out, nil
}

// getRecord fetches the record named by the request pk.
func (e *ModelEndpoint) getRecord(r *Request) (*model.Record, error) {
	if r.PK == "" {
		return nil, apperrors.BadRequest("Invalid request for record.")
	}
	m := e.Def.Model
	notFound := apperrors.NotFound(fmt.Sprintf("%s with id of %q not found.", m.Name, r.PK))
	pk, err := strconv.ParseInt(r.PK, 10, 64)
	if err != nil {
		return nil, notFound
	}
	rec, err := e.Env.Records.Get(r.Context(), m, pk)
	if err != nil {
		if storage.IsNotFound(err) {
			return nil, notFound
		}
		return nil, err
	}
	return rec, nil
}

// save validates rec and inserts or updates it.
func (e *ModelEndpoint) save(r *Request, rec *model.Record) error {
	return saveRecord(r, e.Env, rec)
}

func saveRecord(r *Request, env *Env, rec *model.Record) error {
	if err := rec.Model.Clean(rec); err != nil {
		var verr *model.ValidationError
		if apperrors.As(err, &verr) {
			return apperrors.BadRequest("Could not save model.").WithExtra("errors", verr.Errors)
		}
		return err
	}
	if rec.Saved() {
		return env.Records.Update(r.Context(), rec)
	}
	return env.Records.Insert(r.Context(), rec)
}

func (e *ModelEndpoint) tagStore() storage.TagStore {
	if e.Env.Tags == nil || !e.Def.Model.Taggable {
		return noTags{}
	}
	return e.Env.Tags
}

type signalKind int

const (
	created signalKind = iota
	updated
	deleted
)

func (e *ModelEndpoint) send(r *Request, kind signalKind, rec *model.Record, payload map[string]any) {
	hub := e.Env.Signals
	if hub == nil {
		return
	}
	sig := map[signalKind]*signals.Signal{created: hub.Created, updated: hub.Updated, deleted: hub.Deleted}[kind]
	if sig == nil {
		return
	}
	sig.Send(r.Context(), signals.Event{Sender: rec.Model, Instance: rec, Payload: payload})
}

func extractTags(r *Request) []string {
	raw := r.Value("tags")
	if raw == "" {
		return nil
	}
	return tags.Parse(raw)
}

func encodingOptions(r *Request) encoding.Options {
	return encoding.Options{Expand: r.Bool("expand")}
}

package endpoint

import (
	"context"
	"net/http"
	"net/url"

	"github.com/R3E-Network/ajax_layer/internal/app/encoding"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// Form validates posted data and produces a result on Save. A Save result
// of type *model.Record is persisted and encoded; anything else is returned
// as the response data.
type Form interface {
	Bind(data url.Values)
	Valid() bool
	Errors() map[string][]string
	Save(ctx context.Context) (any, error)
}

// FormDefinition exposes a form under a name. Only create is served.
type FormDefinition struct {
	FormName     string
	New          func() Form
	Authenticate func(r *http.Request, application, method string) bool
}

func (d *FormDefinition) Name() string { return d.FormName }

func (d *FormDefinition) Bind(env *Env, application, method string) Endpoint {
	return &FormEndpoint{Def: d, Env: env}
}

// FormEndpoint serves a FormDefinition.
type FormEndpoint struct {
	Def *FormDefinition
	Env *Env
}

func (e *FormEndpoint) Authenticate(r *http.Request, application, method string) bool {
	if e.Def.Authenticate != nil {
		return e.Def.Authenticate(r, application, method)
	}
	return e.Env.authenticator().IsAuthenticated(r, application, method)
}

func (e *FormEndpoint) Operation(method string) (Operation, bool) {
	switch method {
	case "create":
		return e.Create, true
	case "update", "delete", "get":
		return missing, true
	}
	return nil, false
}

func missing(*Request) (any, error) {
	return nil, apperrors.NotFound("Endpoint does not exist.")
}

// Create binds the posted data and saves a valid form. An invalid form's
// errors are returned as data.
func (e *FormEndpoint) Create(r *Request) (any, error) {
	form := e.Def.New()
	form.Bind(r.Data)
	if !form.Valid() {
		return form.Errors(), nil
	}
	result, err := form.Save(r.Context())
	if err != nil {
		return nil, err
	}
	rec, ok := result.(*model.Record)
	if !ok {
		return result, nil
	}
	if err := saveRecord(r, e.Env, rec); err != nil {
		return nil, err
	}
	return e.Env.Encoders.Encode(r.Context(), rec, encoding.Options{})
}

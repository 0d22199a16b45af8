// Package endpoint implements the operations exposed for each declared model:
// create, update, delete, get, list and tags, plus form endpoints, ad-hoc
// application endpoints and the decorators that guard them.
package endpoint

import (
	"context"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/encoding"
	"github.com/R3E-Network/ajax_layer/internal/app/model"
	"github.com/R3E-Network/ajax_layer/internal/app/signals"
	"github.com/R3E-Network/ajax_layer/internal/app/storage"
)

// OptionTagCommand is the Request option holding the tag command.
const OptionTagCommand = "taggit_command"

// DefaultMaxPerPage caps list pages when neither the definition nor the
// environment sets a limit.
const DefaultMaxPerPage = 100

const defaultItemsPerPage = 20

// Request is one call to an operation.
type Request struct {
	HTTP *http.Request
	User auth.User
	// Data holds the posted parameters.
	Data        url.Values
	Application string
	Model       string
	Method      string
	// PK is the raw record id from the URL, empty when absent.
	PK      string
	Options map[string]string
}

// Context returns the request context.
func (r *Request) Context() context.Context {
	if r.HTTP == nil {
		return context.Background()
	}
	return r.HTTP.Context()
}

// Has reports whether name was posted, even with an empty value.
func (r *Request) Has(name string) bool {
	_, ok := r.Data[name]
	return ok
}

// Value returns the last posted value of name.
func (r *Request) Value(name string) string {
	vals := r.Data[name]
	if len(vals) == 0 {
		return ""
	}
	return vals[len(vals)-1]
}

// Bool reads name as a boolean flag.
func (r *Request) Bool(name string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(r.Value(name)))
	return err == nil && b
}

// Values flattens Data to the last value per key.
func (r *Request) Values() map[string]string {
	out := make(map[string]string, len(r.Data))
	for k := range r.Data {
		out[k] = r.Value(k)
	}
	return out
}

// Operation runs one endpoint method. The result becomes the envelope data;
// an EnvelopedResponse adds metadata and an http.Handler is served as-is.
type Operation func(r *Request) (any, error)

// EnvelopedResponse carries data plus metadata merged into the top level of
// the success envelope.
type EnvelopedResponse struct {
	Data     any
	Metadata map[string]any
}

// Endpoint is an endpoint bound to an application and method.
type Endpoint interface {
	Authenticate(r *http.Request, application, method string) bool
	Operation(method string) (Operation, bool)
}

// Definition is a registered declaration that can be bound per request.
type Definition interface {
	Name() string
	Bind(env *Env, application, method string) Endpoint
}

// Env is what endpoints share: stores, encoders, signals and settings.
type Env struct {
	Models   *model.Registry
	Records  storage.RecordStore
	Tags     storage.TagStore
	Encoders *encoding.Registry
	Signals  *signals.Hub
	Auth     auth.Authenticator
	// MaxPerPage is the site-wide list page cap.
	MaxPerPage int
	PKAttr     string
}

func (e *Env) authenticator() auth.Authenticator {
	if e.Auth == nil {
		return auth.SessionAuthentication{}
	}
	return e.Auth
}

func (e *Env) pkAttr() string {
	if e.PKAttr == "" {
		return encoding.DefaultPKAttr
	}
	return e.PKAttr
}

// Package httpapi mounts the AJAX endpoints on a gorilla/mux router: it
// resolves the endpoint for each call, runs the operation and writes the
// JSON envelope.
package httpapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/internal/app/endpoint"
	"github.com/R3E-Network/ajax_layer/internal/app/metrics"
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
	"github.com/R3E-Network/ajax_layer/internal/middleware"
	"github.com/R3E-Network/ajax_layer/pkg/logger"
)

// DefaultPrefix is where the endpoints are mounted when Options.Prefix is unset.
const DefaultPrefix = "/ajax"

// Options tunes the handler.
type Options struct {
	// Prefix is the mount point of the AJAX routes. Use "/" for the root.
	Prefix string
	// Debug exposes error messages and tracebacks of unexpected failures.
	Debug bool
}

// handler serves every AJAX route of a site.
type handler struct {
	site  *endpoint.Site
	log   *logger.Logger
	debug bool
}

// NewHandler returns a router exposing the endpoints of site.
func NewHandler(site *endpoint.Site, log *logger.Logger, opts Options) http.Handler {
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{site: site, log: log, debug: opts.Debug}

	root := mux.NewRouter()
	root.Use(middleware.MetricsMiddleware())
	root.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperrors.NotFound("AJAX endpoint does not exist."))
	})
	root.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.writeError(w, r, apperrors.MethodNotAllowed("Method not allowed."))
	})

	root.HandleFunc("/healthz", healthz).Methods(http.MethodGet, http.MethodHead)
	root.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := root
	if prefix := mountPoint(opts.Prefix); prefix != "" {
		api = root.PathPrefix(prefix).Subrouter()
	}
	// Longest routes first; {pk} only matches digits.
	api.HandleFunc("/{application}/{model}/{pk:[0-9]+}/tags/{command}.json", h.serve)
	api.HandleFunc("/{application}/{model}/{pk:[0-9]+}/{method}.json", h.serve)
	api.HandleFunc("/{application}/{model}/{method}.json", h.serve)
	api.HandleFunc("/{application}/{model}.json", h.serve)

	return root
}

func mountPoint(prefix string) string {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return strings.TrimRight("/"+strings.Trim(prefix, "/"), "/")
}

func healthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

func (h *handler) serve(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	vars := mux.Vars(r)
	req := &endpoint.Request{
		HTTP:        r,
		User:        auth.FromContext(r.Context()),
		Application: vars["application"],
		Model:       vars["model"],
		Method:      vars["method"],
		PK:          vars["pk"],
		Options:     map[string]string{},
	}
	if cmd, ok := vars["command"]; ok {
		req.Method = "tags"
		req.Options[endpoint.OptionTagCommand] = cmd
	}

	labels := operationLabels{model: metrics.Unknown, method: metrics.Unknown}
	status := h.respond(w, r, func() (any, error) { return h.dispatch(r, req, &labels) })
	metrics.RecordOperation(labels.model, labels.method, status, time.Since(start))
}

// operationLabels are filled in by dispatch as names resolve against the
// site, so unmatched URLs never mint metric series.
type operationLabels struct {
	model  string
	method string
}

// dispatch resolves and runs the operation for req.
func (h *handler) dispatch(r *http.Request, req *endpoint.Request, labels *operationLabels) (any, error) {
	if r.Method != http.MethodPost {
		return nil, apperrors.BadRequest("Invalid HTTP method used.")
	}

	app, ok := h.site.Lookup(req.Application)
	if !ok {
		return nil, apperrors.NotFound("AJAX endpoint does not exist.")
	}

	data, err := parseParams(r)
	if err != nil {
		return nil, apperrors.BadRequest("Invalid request body.").WithExtra("errors", []string{err.Error()})
	}
	req.Data = data

	if op, ok := app.AdHoc(req.Model); ok {
		labels.model, labels.method = app.Name+"."+req.Model, "adhoc"
		return op(req)
	}

	method := strings.ToLower(req.Method)
	if method == "" {
		method = "create"
	}
	req.Method = method

	ep, err := h.site.Endpoints.Load(req.Model, app.Name, method)
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotRegistered) {
			return nil, apperrors.Internal("Invalid model.", err)
		}
		return nil, err
	}
	labels.model = strings.ToLower(req.Model)
	op, ok := ep.Operation(method)
	if ok {
		labels.method = method
	}
	if !ep.Authenticate(r, app.Name, method) {
		return nil, apperrors.Forbidden("User is not authorized.")
	}
	if !ok {
		return nil, apperrors.NotFound("Invalid method.")
	}
	return op(req)
}

// respond runs fn and writes its outcome, returning the status sent.
func (h *handler) respond(w http.ResponseWriter, r *http.Request, fn func() (any, error)) int {
	result, err := h.call(r, fn)
	if err != nil {
		return h.writeError(w, r, err)
	}

	switch res := result.(type) {
	case http.Handler:
		res.ServeHTTP(w, r)
		return http.StatusOK
	case endpoint.EnvelopedResponse:
		return h.writeSuccess(w, r, res.Data, res.Metadata)
	case *endpoint.EnvelopedResponse:
		return h.writeSuccess(w, r, res.Data, res.Metadata)
	default:
		return h.writeSuccess(w, r, res, nil)
	}
}

// call runs fn, turning a panic into an error.
func (h *handler) call(r *http.Request, fn func() (any, error)) (result any, err error) {
	defer func() {
		rec := recover()
		if rec == nil {
			return
		}
		h.log.WithContext(r.Context()).WithFields(logrus.Fields{
			"path":  r.URL.Path,
			"panic": fmt.Sprint(rec),
		}).Error("endpoint panicked")
		if h.debug {
			err = apperrors.Internal(fmt.Sprint(rec), nil).WithExtra("traceback", apperrors.Traceback())
			return
		}
		err = apperrors.Internal("Internal server error.", fmt.Errorf("panic: %v", rec))
	}()
	return fn()
}

func (h *handler) writeSuccess(w http.ResponseWriter, r *http.Request, data any, metadata map[string]any) int {
	body := make(map[string]any, len(metadata)+2)
	for k, v := range metadata {
		body[k] = v
	}
	body["success"] = true
	body["data"] = data

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(body); err != nil {
		return h.writeError(w, r, fmt.Errorf("encode response: %w", err))
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(bytes.TrimRight(buf.Bytes(), "\n"))
	return http.StatusOK
}

func (h *handler) writeError(w http.ResponseWriter, r *http.Request, err error) int {
	known := apperrors.Get(err) != nil
	e := apperrors.Translate(err, h.debug)

	entry := h.log.WithContext(r.Context()).WithFields(logrus.Fields{
		"code": e.Code,
		"path": r.URL.Path,
	})
	if !known && e.Code == http.StatusInternalServerError {
		entry.WithError(err).Error("endpoint failed")
	} else {
		entry.Warn(e.Message)
	}

	e.Write(w)
	return e.Code
}

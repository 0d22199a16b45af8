// Package errors defines the error kinds the endpoint layer can raise and how
// each one is rendered as an HTTP status plus JSON envelope.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"strings"
)

var (
	// ErrAlreadyRegistered is returned when a model or encoder is registered twice.
	ErrAlreadyRegistered = stderrors.New("already registered")
	// ErrNotRegistered is returned when looking up or removing an unknown registration.
	ErrNotRegistered = stderrors.New("not registered")
	// ErrPrimaryKeyMissing is returned by record-bound operations called without a pk.
	ErrPrimaryKeyMissing = stderrors.New("primary key missing")
	// ErrNotFound is the generic "no such record" error raised by stores.
	ErrNotFound = stderrors.New("not found")
)

// allowed lists the statuses an Error may carry.
var allowed = map[int]bool{
	http.StatusBadRequest:          true,
	http.StatusForbidden:           true,
	http.StatusNotFound:            true,
	http.StatusMethodNotAllowed:    true,
	http.StatusInternalServerError: true,
}

// Error is an error with a fixed HTTP status and a client-facing message.
// Extra entries are merged into the top level of the error envelope.
type Error struct {
	Code    int
	Message string
	Extra   map[string]any
	Err     error
}

// New builds an Error. Codes outside the supported set become 500.
func New(code int, message string) *Error {
	if !allowed[code] {
		code = http.StatusInternalServerError
	}
	return &Error{Code: code, Message: message}
}

func BadRequest(message string) *Error { return New(http.StatusBadRequest, message) }

func Forbidden(message string) *Error { return New(http.StatusForbidden, message) }

func NotFound(message string) *Error { return New(http.StatusNotFound, message) }

func MethodNotAllowed(message string) *Error { return New(http.StatusMethodNotAllowed, message) }

// Internal wraps cause in a 500.
func Internal(message string, cause error) *Error {
	e := New(http.StatusInternalServerError, message)
	e.Err = cause
	return e
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%d %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%d %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// WithExtra attaches a top-level envelope entry and returns e.
func (e *Error) WithExtra(key string, value any) *Error {
	if e.Extra == nil {
		e.Extra = make(map[string]any)
	}
	e.Extra[key] = value
	return e
}

// Envelope renders the error body.
func (e *Error) Envelope() map[string]any {
	body := make(map[string]any, len(e.Extra)+2)
	for k, v := range e.Extra {
		body[k] = v
	}
	body["success"] = false
	body["data"] = map[string]any{
		"code":    e.Code,
		"message": e.Message,
	}
	return body
}

// Write sends the error envelope with the matching status.
func (e *Error) Write(w http.ResponseWriter) {
	payload, err := json.Marshal(e.Envelope())
	if err != nil {
		payload = []byte(`{"success":false,"data":{"code":500,"message":"Internal server error."}}`)
		e = New(http.StatusInternalServerError, "Internal server error.")
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Code)
	_, _ = w.Write(payload)
}

// Get returns the *Error in err's chain, or nil.
func Get(err error) *Error {
	var e *Error
	if stderrors.As(err, &e) {
		return e
	}
	return nil
}

// Translate maps any error onto an Error. Unknown errors become an opaque
// 500 unless debug is set, in which case the message and a traceback are
// exposed to the client.
func Translate(err error, debugMode bool) *Error {
	if err == nil {
		return nil
	}
	if e := Get(err); e != nil {
		return e
	}
	switch {
	case stderrors.Is(err, ErrNotFound):
		return NotFound(err.Error())
	case stderrors.Is(err, ErrPrimaryKeyMissing):
		return BadRequest("Primary key is required.")
	}
	if debugMode {
		return Internal(err.Error(), err).WithExtra("traceback", Traceback())
	}
	return Internal("Internal server error.", err)
}

// Traceback returns the current goroutine stack as trimmed lines.
func Traceback() []string {
	var lines []string
	for _, line := range strings.Split(string(debug.Stack()), "\n") {
		if line = strings.TrimSpace(line); line != "" {
			lines = append(lines, line)
		}
	}
	return lines
}

// Is and As re-export the standard helpers so callers need a single import.
func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

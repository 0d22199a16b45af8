package auth

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
)

// Authenticator is the request-level gate consulted before any model
// endpoint runs.
type Authenticator interface {
	IsAuthenticated(r *http.Request, application, method string) bool
}

// AuthenticatorFunc adapts a function to Authenticator.
type AuthenticatorFunc func(r *http.Request, application, method string) bool

func (f AuthenticatorFunc) IsAuthenticated(r *http.Request, application, method string) bool {
	return f(r, application, method)
}

// SessionAuthentication accepts any request whose context carries an
// authenticated user.
type SessionAuthentication struct{}

func (SessionAuthentication) IsAuthenticated(r *http.Request, _, _ string) bool {
	return FromContext(r.Context()).IsAuthenticated()
}

// APIKeyAuthentication accepts "Authorization: <scheme> <username>:<key>".
type APIKeyAuthentication struct {
	Users UserStore
	Keys  KeyStore
}

func (a APIKeyAuthentication) IsAuthenticated(r *http.Request, _, _ string) bool {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return false
	}
	username, key, ok := strings.Cut(parts[1], ":")
	if !ok || username == "" || key == "" {
		return false
	}

	ctx := r.Context()
	user, err := a.Users.GetUserByUsername(ctx, username)
	if err != nil {
		return false
	}
	stored, err := a.Keys.GetAPIKey(ctx, user.ID)
	if err != nil || stored.Key == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(stored.Key), []byte(key)) == 1
}

// Lookup returns the authenticator configured by name.
func Lookup(name string, users UserStore, keys KeyStore) (Authenticator, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "session", "base":
		return SessionAuthentication{}, nil
	case "apikey", "api_key":
		if users == nil || keys == nil {
			return nil, fmt.Errorf("apikey authentication needs user and key stores")
		}
		return APIKeyAuthentication{Users: users, Keys: keys}, nil
	}
	return nil, fmt.Errorf("unknown authentication backend %q", name)
}

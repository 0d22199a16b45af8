// Package middleware provides the HTTP middleware wrapped around the AJAX router.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/R3E-Network/ajax_layer/internal/app/auth"
	"github.com/R3E-Network/ajax_layer/pkg/logger"
)

// AuthMiddleware resolves the calling user and stores it in the request
// context. It never rejects a request: endpoints decide what an anonymous
// caller may do.
//
// Two credential forms are understood:
//
//	Authorization: Bearer <jwt issued by auth.Tokens>
//	Authorization: <scheme> <username>:<api key>
type AuthMiddleware struct {
	tokens *auth.Tokens
	users  auth.UserStore
	keys   auth.KeyStore
	logger *logger.Logger
}

// NewAuthMiddleware creates the user resolver. tokens and keys may be nil to
// disable the matching credential form.
func NewAuthMiddleware(tokens *auth.Tokens, users auth.UserStore, keys auth.KeyStore, log *logger.Logger) *AuthMiddleware {
	return &AuthMiddleware{
		tokens: tokens,
		users:  users,
		keys:   keys,
		logger: log,
	}
}

// Handler returns the middleware handler.
func (m *AuthMiddleware) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		user, ok := m.resolve(r)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}

		ctx := auth.WithUser(r.Context(), user)
		ctx = logger.WithUser(ctx, user.Username)
		m.logger.WithContext(ctx).WithField("user_id", user.ID).Debug("Authentication successful")
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (m *AuthMiddleware) resolve(r *http.Request) (auth.User, bool) {
	if m.users == nil {
		return auth.Anonymous, false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return auth.Anonymous, false
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return auth.Anonymous, false
	}

	ctx := r.Context()
	if username, key, found := strings.Cut(parts[1], ":"); found {
		if m.keys == nil || username == "" || key == "" {
			return auth.Anonymous, false
		}
		user, err := m.users.GetUserByUsername(ctx, username)
		if err != nil {
			return auth.Anonymous, false
		}
		stored, err := m.keys.GetAPIKey(ctx, user.ID)
		if err != nil || subtle.ConstantTimeCompare([]byte(stored.Key), []byte(key)) != 1 {
			m.logger.WithContext(ctx).WithField("username", username).Warn("API key rejected")
			return auth.Anonymous, false
		}
		return user, true
	}

	if m.tokens == nil || !strings.EqualFold(parts[0], "Bearer") {
		return auth.Anonymous, false
	}
	id, err := m.tokens.Verify(parts[1])
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).Warn("Token validation failed")
		return auth.Anonymous, false
	}
	user, err := m.users.GetUser(ctx, id)
	if err != nil {
		m.logger.WithContext(ctx).WithError(err).WithField("user_id", id).Warn("Token user lookup failed")
		return auth.Anonymous, false
	}
	return user, true
}

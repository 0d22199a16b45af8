// Package auth resolves who is calling and decides whether a request may
// reach an endpoint at all. Per-operation permissions live on the endpoint
// definitions.
package auth

import (
	"context"
)

// User is the principal attached to a request. The zero value is anonymous.
type User struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Active   bool   `json:"is_active"`
	Staff    bool   `json:"is_staff"`
}

// Anonymous is the user of unauthenticated requests.
var Anonymous = User{}

// IsAuthenticated reports whether u is a real, stored user.
func (u User) IsAuthenticated() bool { return u.ID != 0 }

// UserStore persists users.
type UserStore interface {
	CreateUser(ctx context.Context, u User) (User, error)
	GetUser(ctx context.Context, id int64) (User, error)
	GetUserByUsername(ctx context.Context, username string) (User, error)
}

type ctxKey struct{}

// WithUser attaches u to ctx.
func WithUser(ctx context.Context, u User) context.Context {
	return context.WithValue(ctx, ctxKey{}, u)
}

// FromContext returns the request user, or Anonymous.
func FromContext(ctx context.Context) User {
	if u, ok := ctx.Value(ctxKey{}).(User); ok {
		return u
	}
	return Anonymous
}

package endpoint

import (
	apperrors "github.com/R3E-Network/ajax_layer/internal/errors"
)

// LoginRequired rejects anonymous callers.
func LoginRequired(op Operation) Operation {
	return func(r *Request) (any, error) {
		if !r.User.IsAuthenticated() {
			return nil, apperrors.Forbidden("User must be authenticated.")
		}
		return op(r)
	}
}

// AllowedMethods rejects requests whose HTTP method is not listed.
func AllowedMethods(op Operation, methods ...string) Operation {
	return func(r *Request) (any, error) {
		for _, m := range methods {
			if r.HTTP != nil && r.HTTP.Method == m {
				return op(r)
			}
		}
		return nil, apperrors.Forbidden("Access denied.")
	}
}

// RequirePK fails with ErrPrimaryKeyMissing when the request has no pk.
func RequirePK(op Operation) Operation {
	return func(r *Request) (any, error) {
		if r.PK == "" {
			return nil, apperrors.ErrPrimaryKeyMissing
		}
		return op(r)
	}
}

package auth

import (
	"context"

	"github.com/everyskill/relay/internal/model"
)

type contextKey string

const (
	authContextKey    contextKey = "auth_context"
	sessionContextKey contextKey = "session"
)

// ContextWithAuth adds an API key principal to the context.
func ContextWithAuth(ctx context.Context, auth *model.AuthContext) context.Context {
	return context.WithValue(ctx, authContextKey, auth)
}

// AuthFromContext retrieves the API key principal, or nil.
func AuthFromContext(ctx context.Context) *model.AuthContext {
	auth, _ := ctx.Value(authContextKey).(*model.AuthContext)
	return auth
}

// ContextWithSession adds a session principal to the context.
func ContextWithSession(ctx context.Context, s *model.Session) context.Context {
	return context.WithValue(ctx, sessionContextKey, s)
}

// SessionFromContext retrieves the session principal, or nil.
func SessionFromContext(ctx context.Context) *model.Session {
	s, _ := ctx.Value(sessionContextKey).(*model.Session)
	return s
}

// MustSessionFromContext panics when no session is present. Use only behind
// the session middleware.
func MustSessionFromContext(ctx context.Context) *model.Session {
	s := SessionFromContext(ctx)
	if s == nil {
		panic("session not found - ensure session middleware is applied")
	}
	return s
}

// UserIDFromContext returns the caller's user id from either principal.
func UserIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.UserID
	}
	if a := AuthFromContext(ctx); a != nil {
		return a.UserID
	}
	return ""
}

// TenantIDFromContext returns the caller's tenant id from either principal.
func TenantIDFromContext(ctx context.Context) string {
	if s := SessionFromContext(ctx); s != nil {
		return s.TenantID
	}
	if a := AuthFromContext(ctx); a != nil {
		return a.TenantID
	}
	return ""
}

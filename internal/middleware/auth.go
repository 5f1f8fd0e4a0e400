package middleware

import (
	"context"
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
)

const (
	// minAuthDuration is the minimum time to spend on auth to prevent timing attacks.
	minAuthDuration = 200 * time.Millisecond

	// SessionCookie carries the web session token.
	SessionCookie = "relay_session"
)

// KeyAuthenticator resolves a plaintext API key.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*model.AuthContext, error)
}

// AuthConfig holds configuration for the API key middleware.
type AuthConfig struct {
	Logger        *slog.Logger
	Authenticator KeyAuthenticator
}

// Auth returns a middleware that authenticates API requests by key.
// It extracts the key from the Authorization or X-API-Key header and
// injects the resolved principal into the request context.
func Auth(cfg AuthConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			startTime := time.Now()

			// Ensure consistent timing regardless of outcome
			defer func() {
				if elapsed := time.Since(startTime); elapsed < minAuthDuration {
					time.Sleep(minAuthDuration - elapsed)
				}
			}()

			key := extractAPIKey(r)
			if key == "" {
				logAuthFailure(cfg.Logger, r, "missing_key")
				writeAuthError(w, r, "Invalid or missing API key")
				return
			}

			authCtx, err := cfg.Authenticator.Authenticate(r.Context(), key)
			if err != nil {
				logAuthFailure(cfg.Logger, r, "invalid_key", slog.String("error", err.Error()))
				writeAuthError(w, r, "Invalid or missing API key")
				return
			}

			cfg.Logger.Debug("authentication successful",
				slog.String("key_id", authCtx.KeyID),
				slog.String("key_prefix", authCtx.KeyPrefix),
				slog.String("tenant_id", authCtx.TenantID),
				slog.String("user_id", authCtx.UserID),
				slog.String("request_id", GetRequestID(r.Context())),
			)

			ctx := auth.ContextWithAuth(r.Context(), authCtx)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// SessionConfig holds configuration for the session middleware.
type SessionConfig struct {
	Logger *slog.Logger
	Secret string
}

// Session returns a middleware that requires a verified web session, read
// from the relay_session cookie or a Bearer token.
func Session(cfg SessionConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := extractSessionToken(r)
			if token == "" {
				writeAuthError(w, r, "Authentication required")
				return
			}

			sess, err := auth.ParseSession(cfg.Secret, token)
			if err != nil {
				logAuthFailure(cfg.Logger, r, "invalid_session")
				writeAuthError(w, r, "Authentication required")
				return
			}

			ctx := auth.ContextWithSession(r.Context(), sess)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireTenantAdmin rejects sessions without the admin role.
// Must be applied after Session.
func RequireTenantAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess := auth.SessionFromContext(r.Context())
		if sess == nil {
			writeAuthError(w, r, "Authentication required")
			return
		}
		if !sess.IsAdmin() {
			writeError(w, r, http.StatusForbidden, "FORBIDDEN", "Admin role required")
			return
		}
		next.ServeHTTP(w, r)
	})
}

// CronAuth requires "Authorization: Bearer {secret}", compared in constant time.
func CronAuth(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	want := []byte("Bearer " + secret)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			got := []byte(r.Header.Get("Authorization"))
			if secret == "" || subtle.ConstantTimeCompare(got, want) != 1 {
				logAuthFailure(logger, r, "invalid_cron_secret")
				writeAuthError(w, r, "Unauthorized")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// extractAPIKey extracts the API key from the request.
// Supports both "Authorization: Bearer <key>" and "X-API-Key: <key>" headers.
func extractAPIKey(r *http.Request) string {
	if token, ok := bearerToken(r); ok {
		return token
	}
	return r.Header.Get("X-API-Key")
}

func extractSessionToken(r *http.Request) string {
	if c, err := r.Cookie(SessionCookie); err == nil && c.Value != "" {
		return c.Value
	}
	token, _ := bearerToken(r)
	return token
}

func bearerToken(r *http.Request) (string, bool) {
	return strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
}

func logAuthFailure(logger *slog.Logger, r *http.Request, reason string, extra ...slog.Attr) {
	if logger == nil {
		return
	}
	attrs := append([]slog.Attr{
		slog.String("reason", reason),
		slog.String("ip", clientIP(r)),
		slog.String("endpoint", r.Method+" "+r.URL.Path),
		slog.String("request_id", GetRequestID(r.Context())),
	}, extra...)
	logger.LogAttrs(r.Context(), slog.LevelWarn, "authentication failed", attrs...)
}

// writeAuthError writes a 401 Unauthorized response.
// Uses the same message for all failures of one kind to prevent enumeration.
func writeAuthError(w http.ResponseWriter, r *http.Request, message string) {
	writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", message)
}

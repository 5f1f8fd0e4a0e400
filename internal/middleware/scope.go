package middleware

import (
	"encoding/json"
	"net/http"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
)

// RequireScope rejects v1 API requests whose key lacks scope. Admin keys
// pass every check. Must run after Auth.
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal := auth.AuthFromContext(r.Context())
			switch {
			case principal == nil:
				writeError(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "API key required")
			case !principal.HasScope(scope):
				writeError(w, r, http.StatusForbidden, "FORBIDDEN", "API key lacks the "+scope+" scope")
			default:
				next.ServeHTTP(w, r)
			}
		})
	}
}

// RequireRead guards catalog reads.
func RequireRead() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeRead)
}

// RequireWrite guards usage reporting.
func RequireWrite() func(http.Handler) http.Handler {
	return RequireScope(model.ScopeWrite)
}

type errorBody struct {
	Error struct {
		Code      string `json:"code"`
		Message   string `json:"message"`
		RequestID string `json:"request_id,omitempty"`
	} `json:"error"`
}

// writeError writes the JSON error envelope shared with the handlers,
// stamped with the request ID.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	var body errorBody
	body.Error.Code = code
	body.Error.Message = message
	body.Error.RequestID = GetRequestID(r.Context())

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

package middleware

import (
	"context"
	"net/http"

	"github.com/everyskill/relay/internal/requestid"
)

// RequestIDHeader is the HTTP header for the request ID.
const RequestIDHeader = requestid.Header

// RequestID stores a correlation ID in the request context and echoes it in
// the response. A well-formed inbound X-Request-ID is kept; anything else
// is replaced with a new UUIDv7.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(RequestIDHeader)
		if !requestid.Valid(id) {
			id = requestid.New()
		}
		w.Header().Set(RequestIDHeader, id)
		next.ServeHTTP(w, r.WithContext(requestid.NewContext(r.Context(), id)))
	})
}

// GetRequestID retrieves the request ID from context.
func GetRequestID(ctx context.Context) string {
	return requestid.FromContext(ctx)
}

// Package requestid carries the request correlation ID from the HTTP edge
// into usage events and webhook deliveries.
package requestid

import (
	"context"

	"github.com/google/uuid"
)

// Header is the HTTP header that carries the ID in and out.
const Header = "X-Request-ID"

// MaxLength caps an accepted inbound ID.
const MaxLength = 128

type ctxKey struct{}

// New returns a fresh UUIDv7, so IDs sort by creation time.
func New() string {
	id, err := uuid.NewV7()
	if err != nil {
		return uuid.NewString()
	}
	return id.String()
}

// NewContext returns ctx carrying id.
func NewContext(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// FromContext returns the ID stored in ctx, or "".
func FromContext(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Valid reports whether a client supplied ID may be reused. Only letters,
// digits and ".-_:" are allowed so the ID is safe to log and to echo in
// outbound headers.
func Valid(id string) bool {
	if id == "" || len(id) > MaxLength {
		return false
	}
	for i := 0; i < len(id); i++ {
		c := id[i]
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9':
		case c == '.', c == '-', c == '_', c == ':':
		default:
			return false
		}
	}
	return true
}

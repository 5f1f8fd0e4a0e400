package mcpserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/everyskill/relay/internal/model"
)

// ErrNoIdentity is returned when neither a key nor a user/tenant pair is set.
var ErrNoIdentity = errors.New("no identity configured")

// Identity is the principal usage events are attributed to.
type Identity struct {
	TenantID string
	UserID   string
}

// KeyAuthenticator resolves a plaintext API key.
type KeyAuthenticator interface {
	Authenticate(ctx context.Context, key string) (*model.AuthContext, error)
}

// ResolveIdentity picks the principal for the process. An API key is
// authenticated and takes precedence over explicit ids.
func ResolveIdentity(ctx context.Context, apiKey, userID, tenantID string, keys KeyAuthenticator) (Identity, error) {
	if apiKey != "" {
		principal, err := keys.Authenticate(ctx, apiKey)
		if err != nil {
			return Identity{}, fmt.Errorf("authenticate RELAY_API_KEY: %w", err)
		}
		if !principal.HasScope(model.ScopeWrite) {
			return Identity{}, fmt.Errorf("RELAY_API_KEY lacks the %s scope", model.ScopeWrite)
		}
		return Identity{TenantID: principal.TenantID, UserID: principal.UserID}, nil
	}

	if userID == "" || tenantID == "" {
		return Identity{}, ErrNoIdentity
	}
	return Identity{TenantID: tenantID, UserID: userID}, nil
}

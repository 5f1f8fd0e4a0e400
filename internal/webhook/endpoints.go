package webhook

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/model"
)

// SecretSealer encrypts endpoint signing secrets at rest.
type SecretSealer interface {
	Seal(plaintext string) (string, error)
	Open(sealed string) (string, error)
}

// Endpoints manages a tenant's webhook subscriptions.
type Endpoints struct {
	repo   *Repository
	sealer SecretSealer
	opts   ValidationOptions
	logger *slog.Logger
}

// NewEndpoints creates an endpoint manager.
func NewEndpoints(repo *Repository, sealer SecretSealer, opts ValidationOptions, logger *slog.Logger) *Endpoints {
	return &Endpoints{
		repo:   repo,
		sealer: sealer,
		opts:   opts,
		logger: logger.With("component", "webhook.endpoints"),
	}
}

// Create registers an endpoint and returns it with its plaintext secret.
func (m *Endpoints) Create(ctx context.Context, tenantID string, req model.WebhookEndpointCreateRequest) (*model.WebhookEndpointCreateResponse, error) {
	if err := ValidateTargetURLWithOptions(req.TargetURL, m.opts); err != nil {
		return nil, err
	}

	eventTypes := req.EventTypes
	if len(eventTypes) == 0 {
		eventTypes = model.ValidEventTypes
	}
	for _, et := range eventTypes {
		if !model.IsValidEventType(et) {
			return nil, fmt.Errorf("%w: %s", ErrInvalidEventType, et)
		}
	}

	secret, err := GenerateSecret()
	if err != nil {
		return nil, err
	}
	sealed, err := m.sealer.Seal(secret)
	if err != nil {
		return nil, fmt.Errorf("seal secret: %w", err)
	}

	now := time.Now().UTC()
	endpoint := &model.WebhookEndpoint{
		ID:           ulid.Make().String(),
		TenantID:     tenantID,
		TargetURL:    req.TargetURL,
		SecretSealed: sealed,
		Enabled:      true,
		EventTypes:   eventTypes,
		Name:         req.Name,
		Description:  req.Description,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := m.repo.CreateEndpoint(ctx, endpoint); err != nil {
		return nil, err
	}

	m.logger.Info("webhook endpoint created",
		"endpoint_id", endpoint.ID,
		"tenant_id", tenantID,
		"target_host", ExtractHost(endpoint.TargetURL),
	)

	return &model.WebhookEndpointCreateResponse{
		WebhookEndpointResponse: endpoint.ToResponse(),
		Secret:                  secret,
	}, nil
}

// List returns the tenant's endpoints.
func (m *Endpoints) List(ctx context.Context, tenantID string) ([]model.WebhookEndpointResponse, error) {
	endpoints, err := m.repo.ListEndpoints(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	out := make([]model.WebhookEndpointResponse, 0, len(endpoints))
	for _, e := range endpoints {
		out = append(out, e.ToResponse())
	}
	return out, nil
}

// Delete removes one of the tenant's endpoints.
func (m *Endpoints) Delete(ctx context.Context, tenantID, id string) error {
	return m.repo.DeleteEndpoint(ctx, tenantID, id)
}

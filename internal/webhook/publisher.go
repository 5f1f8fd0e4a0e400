package webhook

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/requestid"
)

// Publisher queues webhook deliveries when skill events occur.
type Publisher struct {
	repo   *Repository
	logger *slog.Logger
	now    func() time.Time
}

// NewPublisher creates a new webhook publisher.
func NewPublisher(repo *Repository, logger *slog.Logger) *Publisher {
	return &Publisher{
		repo:   repo,
		logger: logger.With("component", "webhook.publisher"),
		now:    time.Now,
	}
}

// Publish fans an event out to every active endpoint of the tenant that
// subscribes to it. Called inside a transaction, the deliveries commit or
// roll back with it.
func (p *Publisher) Publish(ctx context.Context, tenantID string, eventType model.EventType, data model.SkillEventData) error {
	if !model.IsValidEventType(eventType) {
		return fmt.Errorf("%w: %s", ErrInvalidEventType, eventType)
	}

	endpoints, err := p.repo.ListActiveEndpoints(ctx, tenantID, eventType)
	if err != nil {
		return fmt.Errorf("list active endpoints: %w", err)
	}
	if len(endpoints) == 0 {
		return nil
	}

	now := p.now().UTC()
	eventID := ulid.Make().String()
	requestID := requestid.FromContext(ctx)
	payloadJSON, err := json.Marshal(model.WebhookPayload{
		EventType: eventType,
		EventID:   eventID,
		TenantID:  tenantID,
		Timestamp: now,
		Data:      data,
	})
	if err != nil {
		return fmt.Errorf("marshal payload: %w", err)
	}

	for _, endpoint := range endpoints {
		delivery := &model.WebhookDelivery{
			ID:          ulid.Make().String(),
			EndpointID:  endpoint.ID,
			EventID:     eventID,
			EventType:   eventType,
			PayloadJSON: string(payloadJSON),
			Status:      model.DeliveryStatusPending,
			MaxAttempts: DefaultMaxAttempts,
			NextRetryAt: now,
			RequestID:   requestID,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		if err := p.repo.CreateDelivery(ctx, delivery); err != nil {
			return fmt.Errorf("queue delivery for %s: %w", endpoint.ID, err)
		}

		p.logger.Debug("webhook delivery queued",
			"delivery_id", delivery.ID,
			"endpoint_id", endpoint.ID,
			"event_type", eventType,
			"request_id", requestID,
		)
	}
	return nil
}

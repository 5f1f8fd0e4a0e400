// Package usage captures skill usage events and folds them into PostgreSQL.
//
// Events travel through a Redis stream: the HTTP and MCP surfaces publish,
// a consumer-group worker batches them into usage_events, recomputes the
// touched skill_daily_stats rows and refreshes install counters.
package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/requestid"
)

const (
	// StreamKey is the Redis stream for usage events.
	StreamKey = "stream:usage_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:usage_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 100 * time.Millisecond
)

// EventPayload is the compact event format stored in the stream.
type EventPayload struct {
	TenantID   string          `json:"tid"`
	SkillID    string          `json:"sid"`
	UserID     string          `json:"uid,omitempty"`
	Action     string          `json:"a"`
	Source     string          `json:"src"`
	Metadata   json.RawMessage `json:"m,omitempty"`
	RequestID  string          `json:"rid,omitempty"`
	OccurredAt int64           `json:"t"` // Unix milliseconds
}

// NewEventPayload builds a payload stamped with now.
func NewEventPayload(tenantID, skillID, userID string, action model.UsageAction, source string, metadata json.RawMessage, now time.Time) EventPayload {
	return EventPayload{
		TenantID:   tenantID,
		SkillID:    skillID,
		UserID:     userID,
		Action:     string(action),
		Source:     source,
		Metadata:   metadata,
		OccurredAt: now.UnixMilli(),
	}
}

// Correlate stamps the request ID carried by ctx onto the event.
func (e EventPayload) Correlate(ctx context.Context) EventPayload {
	if id := requestid.FromContext(ctx); id != "" {
		e.RequestID = id
	}
	return e
}

// Tracker records usage events without failing the caller.
type Tracker interface {
	Track(event EventPayload)
}

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds a usage event to the stream synchronously.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	result, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}

	return result, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged but not returned.
func (p *Publisher) PublishAsync(event EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"skill_id", event.SkillID,
				"action", event.Action,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"skill_id", event.SkillID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Track implements Tracker.
func (p *Publisher) Track(event EventPayload) {
	p.PublishAsync(event)
}

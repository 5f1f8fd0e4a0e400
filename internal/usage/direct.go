package usage

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/model"
)

// DirectStore stores a single usage event and folds it into the derived
// tables the worker maintains.
type DirectStore interface {
	Insert(ctx context.Context, e *model.UsageEvent) error
	UpdateDailyStats(ctx context.Context, events []*model.UsageEvent) error
	RefreshInstallCounts(ctx context.Context, events []*model.UsageEvent) error
}

// TxManager runs fn inside a transaction carried by the context it passes.
type TxManager interface {
	Do(ctx context.Context, fn func(ctx context.Context) error) error
}

// DirectTracker writes events straight to PostgreSQL in the background.
// The stdio MCP server uses it since it runs without Redis.
type DirectTracker struct {
	store   DirectStore
	tx      TxManager
	logger  *slog.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewDirectTracker creates a tracker that records through store. A nil tx
// runs the steps without a transaction.
func NewDirectTracker(store DirectStore, tx TxManager, logger *slog.Logger) *DirectTracker {
	return &DirectTracker{
		store:   store,
		tx:      tx,
		logger:  logger.With("component", "usage.direct"),
		timeout: 2 * time.Second,
		now:     time.Now,
	}
}

// Track implements Tracker.
func (t *DirectTracker) Track(event EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
		defer cancel()
		if err := t.Record(ctx, event); err != nil {
			t.logger.Warn("failed to record usage event",
				"skill_id", event.SkillID,
				"action", event.Action,
				"error", err,
			)
		}
	}()
}

// Record validates event and, in one transaction, inserts it, recomputes
// its daily stats row and refreshes the skill's install count.
func (t *DirectTracker) Record(ctx context.Context, event EventPayload) error {
	if err := ValidateEventPayload(event); err != nil {
		return err
	}
	occurredAt := time.UnixMilli(event.OccurredAt).UTC()
	id := ulid.MustNew(ulid.Timestamp(occurredAt), ulid.DefaultEntropy()).String()
	e := &model.UsageEvent{
		ID:         id,
		EventID:    "direct:" + id,
		TenantID:   event.TenantID,
		SkillID:    event.SkillID,
		UserID:     event.UserID,
		Action:     model.UsageAction(event.Action),
		Source:     event.Source,
		Metadata:   event.Metadata,
		OccurredAt: occurredAt,
		CreatedAt:  t.now(),
	}

	if t.tx == nil {
		return t.persist(ctx, e)
	}
	return t.tx.Do(ctx, func(ctx context.Context) error {
		return t.persist(ctx, e)
	})
}

func (t *DirectTracker) persist(ctx context.Context, e *model.UsageEvent) error {
	if err := t.store.Insert(ctx, e); err != nil {
		return err
	}
	batch := []*model.UsageEvent{e}
	if err := t.store.UpdateDailyStats(ctx, batch); err != nil {
		return fmt.Errorf("update daily stats: %w", err)
	}
	if err := t.store.RefreshInstallCounts(ctx, batch); err != nil {
		return fmt.Errorf("refresh install counts: %w", err)
	}
	return nil
}

package usage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/requestid"
)

type fakeRepo struct {
	mu        sync.Mutex
	failures  int
	inserted  [][]*model.UsageEvent
	stats     int
	refreshes int
}

func (f *fakeRepo) BulkInsert(_ context.Context, events []*model.UsageEvent) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures > 0 {
		f.failures--
		return errors.New("connection reset")
	}
	f.inserted = append(f.inserted, events)
	return nil
}

func (f *fakeRepo) UpdateDailyStats(context.Context, []*model.UsageEvent) error {
	f.mu.Lock()
	f.stats++
	f.mu.Unlock()
	return nil
}

func (f *fakeRepo) RefreshInstallCounts(context.Context, []*model.UsageEvent) error {
	f.mu.Lock()
	f.refreshes++
	f.mu.Unlock()
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func payloadMessage(t *testing.T, id string, p EventPayload) redis.XMessage {
	t.Helper()
	data, err := json.Marshal(p)
	require.NoError(t, err)
	return redis.XMessage{ID: id, Values: map[string]interface{}{"payload": string(data)}}
}

func TestDecodeMessage(t *testing.T) {
	at := time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)
	p := NewEventPayload("t1", "s1", "u1", model.UsageUse, model.SourceAPI, nil, at)

	event, reason, err := decodeMessage(payloadMessage(t, "1700000000000-0", p))
	require.NoError(t, err)
	assert.Empty(t, reason)
	assert.Equal(t, "1700000000000-0", event.EventID)
	assert.Equal(t, "t1", event.TenantID)
	assert.Equal(t, model.UsageUse, event.Action)
	assert.True(t, event.OccurredAt.Equal(at))
	assert.Len(t, event.ID, 26)
	assert.Empty(t, event.RequestID)
}

func TestDecodeMessage_KeepsRequestID(t *testing.T) {
	ctx := requestid.NewContext(context.Background(), "req-9")
	p := NewEventPayload("t1", "s1", "u1", model.UsageView, model.SourceWeb, nil, time.Now()).Correlate(ctx)

	event, _, err := decodeMessage(payloadMessage(t, "1700000000001-0", p))
	require.NoError(t, err)
	assert.Equal(t, "req-9", event.RequestID)
}

func TestDecodeMessage_Poison(t *testing.T) {
	tests := []struct {
		name   string
		msg    redis.XMessage
		reason string
	}{
		{"missing payload", redis.XMessage{ID: "1-0", Values: map[string]interface{}{}}, "invalid_format"},
		{"not json", redis.XMessage{ID: "2-0", Values: map[string]interface{}{"payload": "{"}}, "unmarshal_error"},
		{"invalid", payloadMessage(t, "3-0", EventPayload{TenantID: "t"}), "validation_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, reason, err := decodeMessage(tt.msg)
			require.Error(t, err)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestProcessBatchWithRetry_RecoversAfterFailure(t *testing.T) {
	repo := &fakeRepo{failures: 1}
	rec := metrics.NewInMemory()
	w := NewWorker(nil, repo, discardLogger(), "test", rec)
	w.SetRetryBase(time.Millisecond)

	events := []*model.UsageEvent{{EventID: "1-0", SkillID: "s1", Action: model.UsageInstall, OccurredAt: time.Now()}}
	require.NoError(t, w.processBatchWithRetry(context.Background(), events))

	assert.Len(t, repo.inserted, 1)
	assert.Equal(t, 1, repo.stats)
	assert.Equal(t, 1, repo.refreshes)
	snap := rec.Snapshot()
	assert.Equal(t, uint64(1), snap.UsageProcessed["success"])
	assert.Equal(t, uint64(1), snap.UsageBatchCount)
}

func TestProcessBatchWithRetry_GivesUp(t *testing.T) {
	repo := &fakeRepo{failures: DefaultMaxRetries}
	rec := metrics.NewInMemory()
	w := NewWorker(nil, repo, discardLogger(), "test", rec)
	w.SetRetryBase(time.Millisecond)

	events := []*model.UsageEvent{{EventID: "1-0"}, {EventID: "2-0"}}
	err := w.processBatchWithRetry(context.Background(), events)
	require.Error(t, err)

	assert.Empty(t, repo.inserted)
	assert.Equal(t, uint64(2), rec.Snapshot().UsageProcessed["failed"])
}

func TestProcessBatchWithRetry_ContextCancelled(t *testing.T) {
	repo := &fakeRepo{failures: 10}
	w := NewWorker(nil, repo, discardLogger(), "test", nil)
	w.SetRetryBase(time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := w.processBatchWithRetry(ctx, []*model.UsageEvent{{EventID: "1-0"}})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestShutdown_NotStarted(t *testing.T) {
	w := NewWorker(nil, &fakeRepo{}, discardLogger(), "test", nil)
	assert.NoError(t, w.Shutdown(context.Background()))
}

func TestIsConsumerGroupExistsError(t *testing.T) {
	assert.True(t, isConsumerGroupExistsError(errors.New("BUSYGROUP Consumer Group name already exists")))
	assert.False(t, isConsumerGroupExistsError(errors.New("ERR no such key")))
	assert.False(t, isConsumerGroupExistsError(nil))
}

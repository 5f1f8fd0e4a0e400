//go:build integration

package webhook

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/repository"
	"github.com/everyskill/relay/internal/requestid"
	"github.com/everyskill/relay/internal/testutil"
)

// plainSealer stores secrets as-is.
type plainSealer struct{}

func (plainSealer) Seal(s string) (string, error) { return s, nil }
func (plainSealer) Open(s string) (string, error) { return s, nil }

func TestIntegrationDelivery_PublishAndDeliver(t *testing.T) {
	ctx, repo := newDeliveryTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenant := testutil.NewTestTenant(t, ctx, repo)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, string(model.EventSkillDeleted), r.Header.Get(HeaderEvent))
		assert.Equal(t, "req-42", r.Header.Get(HeaderRequestID))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	whRepo := NewRepository(repo.DB())
	endpoints := NewEndpoints(whRepo, plainSealer{}, ValidationOptions{AllowInsecure: true}, logger)
	created, err := endpoints.Create(ctx, tenant.ID, model.WebhookEndpointCreateRequest{TargetURL: srv.URL})
	require.NoError(t, err)
	assert.NotEmpty(t, created.Secret)
	assert.ElementsMatch(t, model.ValidEventTypes, created.EventTypes)

	publisher := NewPublisher(whRepo, logger)
	reqCtx := requestid.NewContext(ctx, "req-42")
	require.NoError(t, publisher.Publish(reqCtx, tenant.ID, model.EventSkillDeleted, model.SkillEventData{SkillID: "s1"}))

	recorder := metrics.NewInMemory()
	worker := NewWorker(whRepo, plainSealer{}, logger, recorder)
	require.NoError(t, worker.ProcessOnce(ctx))

	assert.Equal(t, int32(1), hits.Load())
	assert.Equal(t, uint64(1), recorder.Snapshot().WebhookDeliveries["success"])

	// Delivered rows are not claimed again.
	require.NoError(t, worker.ProcessOnce(ctx))
	assert.Equal(t, int32(1), hits.Load())
}

func TestIntegrationDelivery_FailureSchedulesRetry(t *testing.T) {
	ctx, repo := newDeliveryTestEnv(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	tenant := testutil.NewTestTenant(t, ctx, repo)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	whRepo := NewRepository(repo.DB())
	endpoints := NewEndpoints(whRepo, plainSealer{}, ValidationOptions{AllowInsecure: true}, logger)
	_, err := endpoints.Create(ctx, tenant.ID, model.WebhookEndpointCreateRequest{
		TargetURL:  srv.URL,
		EventTypes: []model.EventType{model.EventSkillMerged},
	})
	require.NoError(t, err)

	publisher := NewPublisher(whRepo, logger)
	// Not subscribed: nothing queued.
	require.NoError(t, publisher.Publish(ctx, tenant.ID, model.EventSkillDeleted, model.SkillEventData{SkillID: "s1"}))
	depth, err := whRepo.QueueDepth(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), depth)

	require.NoError(t, publisher.Publish(ctx, tenant.ID, model.EventSkillMerged, model.SkillEventData{SkillID: "s1"}))
	worker := NewWorker(whRepo, plainSealer{}, logger, nil)
	require.NoError(t, worker.ProcessOnce(ctx))

	var status string
	var attempts int
	require.NoError(t, repo.Pool().QueryRow(ctx,
		`SELECT status, attempt_count FROM webhook_deliveries`).Scan(&status, &attempts))
	assert.Equal(t, "failed", status)
	assert.Equal(t, 1, attempts)
}

func newDeliveryTestEnv(t *testing.T) (context.Context, *repository.Repository) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping integration tests in short mode")
	}

	ctx := context.Background()
	repo, err := repository.New(ctx, testutil.RequireEnv(t, "TEST_DATABASE_URL"))
	require.NoError(t, err)
	t.Cleanup(repo.Close)

	unlock, err := testutil.AcquireDBLock(ctx, repo.Pool())
	require.NoError(t, err)
	t.Cleanup(func() { _ = unlock() })

	require.NoError(t, testutil.ResetSchema(ctx, repo.Pool()))
	return ctx, repo
}

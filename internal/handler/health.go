package handler

import (
	"context"
	"fmt"
	"net/http"
	"time"
)

// DefaultWebhookBacklog is the pending delivery count above which readiness
// reports the webhook queue as backlogged.
const DefaultWebhookBacklog = 1000

// HealthChecker defines an interface for checking service health.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// QueueDepther reports how many webhook deliveries are waiting.
type QueueDepther interface {
	QueueDepth(ctx context.Context) (int64, error)
}

// HealthDeps are the dependencies readiness looks at. Nil entries are
// reported as not configured.
type HealthDeps struct {
	DB    HealthChecker
	Cache HealthChecker
	// Ollama only degrades readiness: search falls back to full-text ranking.
	Ollama   HealthChecker
	Webhooks QueueDepther
	// MaxWebhookBacklog defaults to DefaultWebhookBacklog.
	MaxWebhookBacklog int64
}

// HealthHandler manages health check endpoints.
type HealthHandler struct {
	deps HealthDeps
}

// NewHealthHandler creates a new HealthHandler.
func NewHealthHandler(deps HealthDeps) *HealthHandler {
	if deps.MaxWebhookBacklog <= 0 {
		deps.MaxWebhookBacklog = DefaultWebhookBacklog
	}
	return &HealthHandler{deps: deps}
}

// Health statuses. Degraded still answers 200.
const (
	StatusOK        = "ok"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

// Healthz is the liveness endpoint. No dependency checks.
//
// GET /api/health
func (h *HealthHandler) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, HealthResponse{Status: StatusOK})
}

// Readyz is the readiness endpoint. PostgreSQL and Redis are required; an
// unreachable Ollama or a webhook backlog only degrades the answer.
//
// GET /api/health/ready
func (h *HealthHandler) Readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	checks := make(map[string]string, 4)
	status := StatusOK
	mark := func(s string) {
		if s == StatusUnhealthy || status == StatusOK {
			status = s
		}
	}

	if !ping(ctx, checks, "postgres", h.deps.DB) {
		mark(StatusUnhealthy)
	}
	if !ping(ctx, checks, "redis", h.deps.Cache) {
		mark(StatusUnhealthy)
	}
	if !ping(ctx, checks, "ollama", h.deps.Ollama) {
		mark(StatusDegraded)
	}

	if h.deps.Webhooks == nil {
		checks["webhook_queue"] = "not configured"
	} else if depth, err := h.deps.Webhooks.QueueDepth(ctx); err != nil {
		checks["webhook_queue"] = "error: " + err.Error()
		mark(StatusDegraded)
	} else if depth > h.deps.MaxWebhookBacklog {
		checks["webhook_queue"] = fmt.Sprintf("backlogged: %d pending", depth)
		mark(StatusDegraded)
	} else {
		checks["webhook_queue"] = fmt.Sprintf("ok: %d pending", depth)
	}

	code := http.StatusOK
	if status == StatusUnhealthy {
		code = http.StatusServiceUnavailable
	}
	writeJSON(w, r, code, HealthResponse{Status: status, Checks: checks})
}

// ping records the result of one check and reports false only on failure.
func ping(ctx context.Context, checks map[string]string, name string, c HealthChecker) bool {
	if c == nil {
		checks[name] = "not configured"
		return true
	}
	if err := c.Ping(ctx); err != nil {
		checks[name] = "error: " + err.Error()
		return false
	}
	checks[name] = "ok"
	return true
}

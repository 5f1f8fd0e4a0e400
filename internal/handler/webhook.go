package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
)

// WebhookEndpoints manages a tenant's webhook subscriptions.
type WebhookEndpoints interface {
	Create(ctx context.Context, tenantID string, req model.WebhookEndpointCreateRequest) (*model.WebhookEndpointCreateResponse, error)
	List(ctx context.Context, tenantID string) ([]model.WebhookEndpointResponse, error)
	Delete(ctx context.Context, tenantID, id string) error
}

// WebhookHandler handles webhook management endpoints.
type WebhookHandler struct {
	endpoints WebhookEndpoints
	logger    *slog.Logger
}

// NewWebhookHandler creates a new webhook handler.
func NewWebhookHandler(endpoints WebhookEndpoints, logger *slog.Logger) *WebhookHandler {
	return &WebhookHandler{
		endpoints: endpoints,
		logger:    logger.With("component", "handler.webhook"),
	}
}

// Create handles POST /api/admin/webhooks. The signing secret is only
// returned here.
func (h *WebhookHandler) Create(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req model.WebhookEndpointCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	created, err := h.endpoints.Create(r.Context(), sess.TenantID, req)
	if err != nil {
		writeServiceError(w, r, h.logger, "create webhook", err)
		return
	}
	h.logger.Info("webhook endpoint created",
		"tenant_id", sess.TenantID,
		"endpoint_id", created.ID,
		"actor_id", sess.UserID,
	)
	writeJSON(w, r, http.StatusCreated, created)
}

type webhookListResponse struct {
	Webhooks []model.WebhookEndpointResponse `json:"webhooks"`
}

// List handles GET /api/admin/webhooks
func (h *WebhookHandler) List(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	endpoints, err := h.endpoints.List(r.Context(), sess.TenantID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list webhooks", err)
		return
	}
	if endpoints == nil {
		endpoints = []model.WebhookEndpointResponse{}
	}
	writeJSON(w, r, http.StatusOK, webhookListResponse{Webhooks: endpoints})
}

// Delete handles DELETE /api/admin/webhooks/{id}
func (h *WebhookHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	if err := h.endpoints.Delete(r.Context(), sess.TenantID, chi.URLParam(r, "id")); err != nil {
		writeServiceError(w, r, h.logger, "delete webhook", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

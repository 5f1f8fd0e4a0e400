package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/middleware"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/usage"
)

// UsagePublisher enqueues usage events.
type UsagePublisher interface {
	Publish(ctx context.Context, event usage.EventPayload) (string, error)
}

// SkillCatalog serves published skills to machine clients.
type SkillCatalog interface {
	Lookup(ctx context.Context, tenantID, ref string) (*model.Skill, error)
	Search(ctx context.Context, tenantID, userID string, in service.SearchInput) ([]model.SkillSummary, error)
}

// V1Handler serves the API-key authenticated routes.
type V1Handler struct {
	catalog   SkillCatalog
	publisher UsagePublisher
	logger    *slog.Logger
	now       func() time.Time
}

// NewV1Handler creates a new V1Handler.
func NewV1Handler(catalog SkillCatalog, publisher UsagePublisher, logger *slog.Logger) *V1Handler {
	return &V1Handler{
		catalog:   catalog,
		publisher: publisher,
		logger:    logger.With("component", "handler.v1"),
		now:       time.Now,
	}
}

type usageLogResponse struct {
	EventID string `json:"eventId"`
	SkillID string `json:"skillId"`
	Action  string `json:"action"`
}

// LogUsage handles POST /api/v1/usage
func (h *V1Handler) LogUsage(w http.ResponseWriter, r *http.Request) {
	principal := auth.AuthFromContext(r.Context())
	if principal == nil {
		writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Authentication required")
		return
	}

	var req model.UsageLogRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if req.Action == "" {
		req.Action = model.UsageUse
	}

	skill, err := h.catalog.Lookup(r.Context(), principal.TenantID, req.SkillID)
	if err != nil {
		writeServiceError(w, r, h.logger, "usage skill lookup", err)
		return
	}

	event := usage.NewEventPayload(principal.TenantID, skill.ID, principal.UserID, req.Action, model.SourceAPI, req.Metadata, h.now()).Correlate(r.Context())
	if err := usage.ValidateEventPayload(event); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	streamID, err := h.publisher.Publish(r.Context(), event)
	if err != nil {
		h.logger.Error("usage publish failed", "skill_id", skill.ID, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "usage pipeline unavailable")
		return
	}
	writeJSON(w, r, http.StatusAccepted, usageLogResponse{
		EventID: streamID,
		SkillID: skill.ID,
		Action:  string(req.Action),
	})
}

// ListSkills handles GET /api/v1/skills?q=&category=&limit=
func (h *V1Handler) ListSkills(w http.ResponseWriter, r *http.Request) {
	principal := auth.AuthFromContext(r.Context())
	if principal == nil {
		writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Authentication required")
		return
	}
	serveSearch(w, r, h.logger, h.catalog.Search, principal.TenantID, principal.UserID)
}

type v1SkillResponse struct {
	model.SkillSummary
	Content string `json:"content"`
}

// GetSkill handles GET /api/v1/skills/{ref}
func (h *V1Handler) GetSkill(w http.ResponseWriter, r *http.Request) {
	principal := auth.AuthFromContext(r.Context())
	if principal == nil {
		writeError(w, r, http.StatusUnauthorized, CodeUnauthorized, "Authentication required")
		return
	}
	ref := chi.URLParam(r, skillRefParam)
	if err := middleware.ValidateSkillRef(ref); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	skill, err := h.catalog.Lookup(r.Context(), principal.TenantID, ref)
	if err != nil {
		writeServiceError(w, r, h.logger, "skill lookup", err)
		return
	}
	writeJSON(w, r, http.StatusOK, v1SkillResponse{
		SkillSummary: service.Summarize(skill),
		Content:      skill.Content,
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
)

// SkillModerator is the admin side of the skill service.
type SkillModerator interface {
	Decide(ctx context.Context, sess *model.Session, skillID string, action model.ReviewAction, notes string) (*model.ReviewDecision, error)
	Merge(ctx context.Context, sess *model.Session, sourceID, targetID string) (*service.MergeResult, error)
}

// AdminHandler provides tenant-admin endpoints for moderation and operations.
type AdminHandler struct {
	skills  SkillModerator
	logger  *slog.Logger
	started time.Time
	version string
}

// NewAdminHandler creates a new AdminHandler.
func NewAdminHandler(skills SkillModerator, version string, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{
		skills:  skills,
		logger:  logger.With("component", "handler.admin"),
		started: time.Now(),
		version: version,
	}
}

type reviewDecisionRequest struct {
	Action string `json:"action" validate:"required,oneof=approve reject request_changes"`
	Notes  string `json:"notes" validate:"max=2000"`
}

// ReviewSkill handles POST /api/admin/skills/{ref}/review
func (h *AdminHandler) ReviewSkill(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req reviewDecisionRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	decision, err := h.skills.Decide(r.Context(), sess, chi.URLParam(r, skillRefParam), model.ReviewAction(req.Action), req.Notes)
	if err != nil {
		writeServiceError(w, r, h.logger, "review decision", err)
		return
	}
	writeJSON(w, r, http.StatusOK, decision)
}

type mergeRequest struct {
	SourceID string `json:"sourceId" validate:"required"`
	TargetID string `json:"targetId" validate:"required"`
}

// MergeSkills handles POST /api/admin/skills/merge
func (h *AdminHandler) MergeSkills(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req mergeRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result, err := h.skills.Merge(r.Context(), sess, req.SourceID, req.TargetID)
	if err != nil {
		writeServiceError(w, r, h.logger, "merge skills", err)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

// StatsResponse represents operational statistics.
type StatsResponse struct {
	Timestamp time.Time `json:"timestamp"`
	Service   string    `json:"service"`
	Version   string    `json:"version"`
	Uptime    string    `json:"uptime"`
}

// Stats handles GET /api/admin/stats
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	writeJSON(w, r, http.StatusOK, StatsResponse{
		Timestamp: now.UTC(),
		Service:   "relay",
		Version:   h.version,
		Uptime:    now.Sub(h.started).Truncate(time.Second).String(),
	})
}

package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/cron"
	"github.com/everyskill/relay/internal/integrity"
)

// CronJobs runs the scheduled jobs across the tenants this instance owns.
type CronJobs interface {
	Instance() string
	DetectCommunities(ctx context.Context) ([]cron.CommunityResult, error)
	CheckIntegrity(ctx context.Context, repair bool) ([]cron.IntegrityResult, error)
}

// IntegrityChecker runs integrity checks for one tenant.
type IntegrityChecker interface {
	Run(ctx context.Context, tenantID string, repair bool) (*integrity.Report, error)
}

// CronHandler serves the cron and integrity routes.
type CronHandler struct {
	jobs    CronJobs
	checker IntegrityChecker
	logger  *slog.Logger
}

// NewCronHandler creates a new CronHandler.
func NewCronHandler(jobs CronJobs, checker IntegrityChecker, logger *slog.Logger) *CronHandler {
	return &CronHandler{
		jobs:    jobs,
		checker: checker,
		logger:  logger.With("component", "handler.cron"),
	}
}

type communityJobResponse struct {
	Instance string                 `json:"instance"`
	Tenants  []cron.CommunityResult `json:"tenants"`
}

// CommunityDetection handles GET|POST /api/cron/community-detection
func (h *CronHandler) CommunityDetection(w http.ResponseWriter, r *http.Request) {
	results, err := h.jobs.DetectCommunities(r.Context())
	if err != nil {
		writeServiceError(w, r, h.logger, "community detection", err)
		return
	}
	h.logger.Info("community detection finished", "instance", h.jobs.Instance(), "tenants", len(results))
	writeJSON(w, r, http.StatusOK, communityJobResponse{Instance: h.jobs.Instance(), Tenants: results})
}

type integrityJobResponse struct {
	Instance string                 `json:"instance"`
	Repair   bool                   `json:"repair"`
	Tenants  []cron.IntegrityResult `json:"tenants"`
}

// IntegrityCheck handles GET|POST /api/cron/integrity-check?repair=bool
func (h *CronHandler) IntegrityCheck(w http.ResponseWriter, r *http.Request) {
	repair, ok := repairParam(w, r)
	if !ok {
		return
	}
	results, err := h.jobs.CheckIntegrity(r.Context(), repair)
	if err != nil {
		writeServiceError(w, r, h.logger, "integrity check", err)
		return
	}
	writeJSON(w, r, http.StatusOK, integrityJobResponse{Instance: h.jobs.Instance(), Repair: repair, Tenants: results})
}

// TenantIntegrity handles GET /api/admin/integrity?repair=
func (h *CronHandler) TenantIntegrity(w http.ResponseWriter, r *http.Request) {
	repair, ok := repairParam(w, r)
	if !ok {
		return
	}
	sess := auth.MustSessionFromContext(r.Context())
	report, err := h.checker.Run(r.Context(), sess.TenantID, repair)
	if err != nil {
		writeServiceError(w, r, h.logger, "tenant integrity check", err)
		return
	}
	writeJSON(w, r, http.StatusOK, report)
}

func repairParam(w http.ResponseWriter, r *http.Request) (bool, bool) {
	raw := r.URL.Query().Get("repair")
	if raw == "" {
		return false, true
	}
	repair, err := strconv.ParseBool(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "repair must be a boolean")
		return false, false
	}
	return repair, true
}

package handler

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/middleware"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
)

const exportDateLayout = "2006-01-02"

// skillRefParam is the route parameter holding a skill id or slug.
const skillRefParam = "ref"

// SkillActions is the skill service used by the session routes.
type SkillActions interface {
	Delete(ctx context.Context, sess *model.Session, skillID string) error
	Review(ctx context.Context, sess *model.Session, skillID string, rating int, comment string) (*model.SkillReview, error)
	RecordView(ctx context.Context, sess *model.Session, skillID string)
	Search(ctx context.Context, tenantID, userID string, in service.SearchInput) ([]model.SkillSummary, error)
	Detail(ctx context.Context, sess *model.Session, slug, userAgent string) (*model.SkillDetail, error)
	Topology(ctx context.Context, tenantID string, minWeight int) (*model.Topology, error)
	ExportCSV(ctx context.Context, sess *model.Session, from, to time.Time, skillID string, w io.Writer) error
}

// SkillHandler serves the session-authenticated skill routes.
type SkillHandler struct {
	skills SkillActions
	logger *slog.Logger
}

// NewSkillHandler creates a new SkillHandler.
func NewSkillHandler(skills SkillActions, logger *slog.Logger) *SkillHandler {
	return &SkillHandler{
		skills: skills,
		logger: logger.With("component", "handler.skill"),
	}
}

// Delete handles DELETE /api/skills/{ref}
func (h *SkillHandler) Delete(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	if err := h.skills.Delete(r.Context(), sess, chi.URLParam(r, skillRefParam)); err != nil {
		writeServiceError(w, r, h.logger, "delete skill", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type reviewRequest struct {
	Rating  int    `json:"rating" validate:"required,min=1,max=5"`
	Comment string `json:"comment" validate:"max=2000"`
}

// Review handles POST /api/skills/{ref}/reviews
func (h *SkillHandler) Review(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req reviewRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	review, err := h.skills.Review(r.Context(), sess, chi.URLParam(r, skillRefParam), req.Rating, req.Comment)
	if err != nil {
		writeServiceError(w, r, h.logger, "review skill", err)
		return
	}
	writeJSON(w, r, http.StatusOK, review)
}

// View handles POST /api/skills/{ref}/view. It always answers 204.
func (h *SkillHandler) View(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	h.skills.RecordView(r.Context(), sess, chi.URLParam(r, skillRefParam))
	w.WriteHeader(http.StatusNoContent)
}

type searchResponse struct {
	Query   string               `json:"query"`
	Results []model.SkillSummary `json:"results"`
}

// Search handles GET /api/search?q=&category=&limit=
func (h *SkillHandler) Search(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	serveSearch(w, r, h.logger, h.skills.Search, sess.TenantID, sess.UserID)
}

type searchFunc func(ctx context.Context, tenantID, userID string, in service.SearchInput) ([]model.SkillSummary, error)

func serveSearch(w http.ResponseWriter, r *http.Request, logger *slog.Logger, search searchFunc, tenantID, userID string) {
	q := r.URL.Query()
	in := service.SearchInput{
		Query:    q.Get("q"),
		Category: q.Get("category"),
	}
	if err := middleware.ValidateSearchQuery(in.Query); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}
	if in.Category != "" && !slices.Contains(model.ValidCategories, in.Category) {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "unknown category: "+in.Category)
		return
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "limit must be a positive integer")
			return
		}
		in.Limit = limit
	}

	results, err := search(r.Context(), tenantID, userID, in)
	if err != nil {
		writeServiceError(w, r, logger, "search skills", err)
		return
	}
	if results == nil {
		results = []model.SkillSummary{}
	}
	writeJSON(w, r, http.StatusOK, searchResponse{Query: in.Query, Results: results})
}

// Detail handles GET /api/skills/{ref}
func (h *SkillHandler) Detail(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	slug := chi.URLParam(r, skillRefParam)
	if err := middleware.ValidateSkillRef(slug); err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	detail, err := h.skills.Detail(r.Context(), sess, slug, r.UserAgent())
	if err != nil {
		writeServiceError(w, r, h.logger, "skill detail", err)
		return
	}
	writeJSON(w, r, http.StatusOK, detail)
}

// Topology handles GET /api/skills/topology?min_weight=
func (h *SkillHandler) Topology(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	minWeight := 1
	if raw := r.URL.Query().Get("min_weight"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "min_weight must be a positive integer")
			return
		}
		minWeight = n
	}

	topo, err := h.skills.Topology(r.Context(), sess.TenantID, minWeight)
	if err != nil {
		writeServiceError(w, r, h.logger, "skill topology", err)
		return
	}
	writeJSON(w, r, http.StatusOK, topo)
}

// Export handles GET /api/analytics/export?from=&to=&skill_id=
func (h *SkillHandler) Export(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	q := r.URL.Query()

	from, err := parseDate(q.Get("from"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", "from must be YYYY-MM-DD")
		return
	}
	to, err := parseDate(q.Get("to"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_DATE_RANGE", "to must be YYYY-MM-DD")
		return
	}

	// Buffered so a failed export can still get a JSON error.
	var buf bytes.Buffer
	if err := h.skills.ExportCSV(r.Context(), sess, from, to, q.Get("skill_id"), &buf); err != nil {
		writeServiceError(w, r, h.logger, "export usage", err)
		return
	}

	filename := fmt.Sprintf("skill-usage-%s.csv", time.Now().UTC().Format(exportDateLayout))
	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="`+filename+`"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func parseDate(raw string) (time.Time, error) {
	if raw == "" {
		return time.Time{}, nil
	}
	return time.Parse(exportDateLayout, raw)
}

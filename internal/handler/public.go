package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/everyskill/relay/internal/middleware"
)

// DomainLookup reports whether a tenant registered a domain.
type DomainLookup interface {
	TenantDomainExists(ctx context.Context, domain string) (bool, error)
}

// PublicHandler serves unauthenticated site endpoints.
type PublicHandler struct {
	domains         DomainLookup
	rootDomain      string
	markerIOProject string
	logger          *slog.Logger
}

// NewPublicHandler creates a new PublicHandler.
func NewPublicHandler(domains DomainLookup, rootDomain, markerIOProject string, logger *slog.Logger) *PublicHandler {
	return &PublicHandler{
		domains:         domains,
		rootDomain:      strings.ToLower(strings.TrimSuffix(rootDomain, ".")),
		markerIOProject: markerIOProject,
		logger:          logger.With("component", "handler.public"),
	}
}

type domainCheckResponse struct {
	Domain  string `json:"domain"`
	Allowed bool   `json:"allowed"`
}

// CheckDomain answers the TLS on-demand "ask" call.
//
// GET /api/check-domain?domain=
func (h *PublicHandler) CheckDomain(w http.ResponseWriter, r *http.Request) {
	raw := r.URL.Query().Get("domain")
	if raw == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "domain parameter is required")
		return
	}
	domain, err := middleware.NormalizeDomain(raw)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, err.Error())
		return
	}

	if h.rootDomain != "" && (domain == h.rootDomain || strings.HasSuffix(domain, "."+h.rootDomain)) {
		writeJSON(w, r, http.StatusOK, domainCheckResponse{Domain: domain, Allowed: true})
		return
	}

	exists, err := h.domains.TenantDomainExists(r.Context(), domain)
	if err != nil {
		h.logger.Error("domain lookup failed", "domain", domain, "error", err)
		writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "domain lookup unavailable")
		return
	}
	if !exists {
		writeJSON(w, r, http.StatusNotFound, domainCheckResponse{Domain: domain})
		return
	}
	writeJSON(w, r, http.StatusOK, domainCheckResponse{Domain: domain, Allowed: true})
}

type publicConfigResponse struct {
	MarkerIOProject string `json:"markerIoProject"`
}

// PublicConfig returns browser-visible settings.
//
// GET /api/public-config
func (h *PublicHandler) PublicConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, r, http.StatusOK, publicConfigResponse{MarkerIOProject: h.markerIOProject})
}

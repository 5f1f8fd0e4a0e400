package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
)

// GmailConnector is the Gmail OAuth service used by GmailHandler.
type GmailConnector interface {
	ConnectURL(sess *model.Session) (string, error)
	SettingsURL() string
	Callback(ctx context.Context, sess *model.Session, code, state string) error
	Disconnect(ctx context.Context, sess *model.Session) error
	Status(ctx context.Context, sess *model.Session) (*model.GmailStatus, error)
}

// GmailHandler serves the Gmail connection routes.
type GmailHandler struct {
	gmail  GmailConnector
	logger *slog.Logger
}

// NewGmailHandler creates a new GmailHandler. gmail may be nil when Google
// credentials are not configured; every route then answers 503.
func NewGmailHandler(gmail GmailConnector, logger *slog.Logger) *GmailHandler {
	return &GmailHandler{
		gmail:  gmail,
		logger: logger.With("component", "handler.gmail"),
	}
}

func (h *GmailHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.gmail == nil {
		writeError(w, r, http.StatusServiceUnavailable, CodeUnavailable, "Gmail integration not configured")
		return false
	}
	return true
}

// Connect handles GET /api/gmail/connect
func (h *GmailHandler) Connect(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	target, err := h.gmail.ConnectURL(auth.MustSessionFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "gmail connect", err)
		return
	}
	http.Redirect(w, r, target, http.StatusFound)
}

// Callback handles GET /api/gmail/callback?code&state
func (h *GmailHandler) Callback(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		writeError(w, r, http.StatusBadRequest, "CONSENT_DENIED", "Google consent was not granted: "+reason)
		return
	}
	code, state := q.Get("code"), q.Get("state")
	if code == "" || state == "" {
		writeError(w, r, http.StatusBadRequest, CodeInvalidRequest, "code and state are required")
		return
	}

	if err := h.gmail.Callback(r.Context(), auth.MustSessionFromContext(r.Context()), code, state); err != nil {
		writeServiceError(w, r, h.logger, "gmail callback", err)
		return
	}
	http.Redirect(w, r, h.gmail.SettingsURL(), http.StatusFound)
}

// Disconnect handles POST /api/gmail/disconnect
func (h *GmailHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	if err := h.gmail.Disconnect(r.Context(), auth.MustSessionFromContext(r.Context())); err != nil {
		writeServiceError(w, r, h.logger, "gmail disconnect", err)
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]bool{"disconnected": true})
}

// Status handles GET /api/gmail/status
func (h *GmailHandler) Status(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}
	status, err := h.gmail.Status(r.Context(), auth.MustSessionFromContext(r.Context()))
	if err != nil {
		writeServiceError(w, r, h.logger, "gmail status", err)
		return
	}
	writeJSON(w, r, http.StatusOK, status)
}

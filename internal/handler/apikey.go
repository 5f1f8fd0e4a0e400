package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/service"
)

// KeyManager is the API key service used by APIKeyHandler.
type KeyManager interface {
	Validate(ctx context.Context, key string) model.KeyValidationResponse
	Create(ctx context.Context, in service.CreateKeyInput) (*model.APIKeyCreateResponse, error)
	List(ctx context.Context, tenantID, userID string) ([]model.APIKeyResponse, error)
	Revoke(ctx context.Context, tenantID, keyID, ownerID string) error
	Rotate(ctx context.Context, tenantID, keyID, ownerID string) (*model.APIKeyRotateResponse, error)
}

// APIKeyHandler handles API key validation and management endpoints.
type APIKeyHandler struct {
	logger *slog.Logger
	keys   KeyManager
}

// NewAPIKeyHandler creates a new APIKeyHandler.
func NewAPIKeyHandler(logger *slog.Logger, keys KeyManager) *APIKeyHandler {
	return &APIKeyHandler{
		logger: logger.With("component", "handler.apikey"),
		keys:   keys,
	}
}

type validateKeyRequest struct {
	Key string `json:"key" validate:"required"`
}

// ValidateKey handles POST /api/auth/validate-key
func (h *APIKeyHandler) ValidateKey(w http.ResponseWriter, r *http.Request) {
	var req validateKeyRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}

	result := h.keys.Validate(r.Context(), req.Key)
	if !result.Valid {
		writeJSON(w, r, http.StatusUnauthorized, result)
		return
	}
	writeJSON(w, r, http.StatusOK, result)
}

type keyListResponse struct {
	Keys []model.APIKeyResponse `json:"keys"`
}

// AdminList handles GET /api/admin/api-keys?user_id=
func (h *APIKeyHandler) AdminList(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	h.list(w, r, sess.TenantID, r.URL.Query().Get("user_id"))
}

// MeList handles GET /api/me/api-keys
func (h *APIKeyHandler) MeList(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	h.list(w, r, sess.TenantID, sess.UserID)
}

func (h *APIKeyHandler) list(w http.ResponseWriter, r *http.Request, tenantID, userID string) {
	keys, err := h.keys.List(r.Context(), tenantID, userID)
	if err != nil {
		writeServiceError(w, r, h.logger, "list API keys", err)
		return
	}
	writeJSON(w, r, http.StatusOK, keyListResponse{Keys: keys})
}

// AdminCreate handles POST /api/admin/api-keys. The key is issued to
// userId, or to the admin when omitted.
func (h *APIKeyHandler) AdminCreate(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req model.APIKeyCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	userID := req.UserID
	if userID == "" {
		userID = sess.UserID
	}
	h.create(w, r, sess, userID, req)
}

// MeCreate handles POST /api/me/api-keys. Members may not grant admin scope.
func (h *APIKeyHandler) MeCreate(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	var req model.APIKeyCreateRequest
	if !decodeAndValidate(w, r, &req) {
		return
	}
	if !sess.IsAdmin() {
		for _, sc := range req.Scopes {
			if sc == model.ScopeAdmin {
				writeError(w, r, http.StatusForbidden, CodeForbidden, "admin scope requires the admin role")
				return
			}
		}
	}
	h.create(w, r, sess, sess.UserID, req)
}

func (h *APIKeyHandler) create(w http.ResponseWriter, r *http.Request, sess *model.Session, userID string, req model.APIKeyCreateRequest) {
	created, err := h.keys.Create(r.Context(), service.CreateKeyInput{
		TenantID:      sess.TenantID,
		UserID:        userID,
		Name:          req.Name,
		Scopes:        req.Scopes,
		ExpiresInDays: req.ExpiresInDays,
	})
	if err != nil {
		writeServiceError(w, r, h.logger, "create API key", err)
		return
	}

	h.logger.Info("API key created",
		slog.String("key_id", created.ID),
		slog.String("key_prefix", created.KeyPrefix),
		slog.String("user_id", userID),
		slog.String("actor_id", sess.UserID),
	)
	writeJSON(w, r, http.StatusCreated, created)
}

// AdminRevoke handles DELETE /api/admin/api-keys/{id}
func (h *APIKeyHandler) AdminRevoke(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	h.revoke(w, r, sess.TenantID, "")
}

// MeRevoke handles DELETE /api/me/api-keys/{id}
func (h *APIKeyHandler) MeRevoke(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	h.revoke(w, r, sess.TenantID, sess.UserID)
}

func (h *APIKeyHandler) revoke(w http.ResponseWriter, r *http.Request, tenantID, ownerID string) {
	if err := h.keys.Revoke(r.Context(), tenantID, chi.URLParam(r, "id"), ownerID); err != nil {
		writeServiceError(w, r, h.logger, "revoke API key", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// AdminRotate handles POST /api/admin/api-keys/{id}/rotate
func (h *APIKeyHandler) AdminRotate(w http.ResponseWriter, r *http.Request) {
	sess := auth.MustSessionFromContext(r.Context())
	rotated, err := h.keys.Rotate(r.Context(), sess.TenantID, chi.URLParam(r, "id"), "")
	if err != nil {
		writeServiceError(w, r, h.logger, "rotate API key", err)
		return
	}

	h.logger.Info("API key rotated",
		slog.String("old_key_id", rotated.OldKeyID),
		slog.String("new_key_id", rotated.NewKey.ID),
		slog.String("actor_id", sess.UserID),
	)
	writeJSON(w, r, http.StatusCreated, rotated)
}

package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/everyskill/relay/internal/service"
	"github.com/everyskill/relay/internal/webhook"
)

type errorMapping struct {
	target error
	status int
	code   string
}

var errorMappings = []errorMapping{
	{service.ErrSkillNotFound, http.StatusNotFound, "SKILL_NOT_FOUND"},
	{service.ErrAPIKeyNotFound, http.StatusNotFound, "KEY_NOT_FOUND"},
	{service.ErrUserNotFound, http.StatusNotFound, "USER_NOT_FOUND"},
	{webhook.ErrEndpointNotFound, http.StatusNotFound, "ENDPOINT_NOT_FOUND"},
	{service.ErrForbidden, http.StatusForbidden, CodeForbidden},
	{service.ErrSelfReview, http.StatusForbidden, "SELF_REVIEW"},
	{service.ErrInvalidTransition, http.StatusConflict, "INVALID_TRANSITION"},
	{service.ErrInvalidRating, http.StatusBadRequest, "INVALID_RATING"},
	{service.ErrInvalidAction, http.StatusBadRequest, "INVALID_ACTION"},
	{service.ErrInvalidMerge, http.StatusBadRequest, "INVALID_MERGE"},
	{service.ErrInvalidDateRange, http.StatusBadRequest, "INVALID_DATE_RANGE"},
	{service.ErrInvalidScope, http.StatusBadRequest, "INVALID_SCOPE"},
	{service.ErrInvalidState, http.StatusBadRequest, "INVALID_STATE"},
	{webhook.ErrInvalidEventType, http.StatusBadRequest, "INVALID_EVENT_TYPE"},
	{webhook.ErrInvalidURL, http.StatusBadRequest, "INVALID_URL"},
	{webhook.ErrInvalidScheme, http.StatusBadRequest, "INVALID_URL"},
	{webhook.ErrEmptyHost, http.StatusBadRequest, "INVALID_URL"},
	{webhook.ErrInvalidPort, http.StatusBadRequest, "INVALID_URL"},
	{webhook.ErrLocalhostBlocked, http.StatusBadRequest, "INVALID_URL"},
	{webhook.ErrPrivateIP, http.StatusBadRequest, "INVALID_URL"},
	{service.ErrGmailNotConfigured, http.StatusServiceUnavailable, CodeUnavailable},
}

// writeServiceError maps a service error to its JSON reply. Unknown errors
// are logged and reported as 500 without detail.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, op string, err error) {
	for _, m := range errorMappings {
		if errors.Is(err, m.target) {
			writeError(w, r, m.status, m.code, err.Error())
			return
		}
	}
	logger.Error(op+" failed", "path", r.URL.Path, "error", err)
	writeError(w, r, http.StatusInternalServerError, CodeInternal, "Internal server error")
}

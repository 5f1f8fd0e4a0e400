package handler

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/webhook"
)

type stubEndpoints struct {
	createErr error
	created   []model.WebhookEndpointCreateRequest
	listed    []model.WebhookEndpointResponse
	deleteErr error
	tenantIDs []string
}

func (s *stubEndpoints) Create(_ context.Context, tenantID string, req model.WebhookEndpointCreateRequest) (*model.WebhookEndpointCreateResponse, error) {
	s.tenantIDs = append(s.tenantIDs, tenantID)
	if s.createErr != nil {
		return nil, s.createErr
	}
	s.created = append(s.created, req)
	return &model.WebhookEndpointCreateResponse{
		WebhookEndpointResponse: model.WebhookEndpointResponse{ID: "wh1", TargetURL: req.TargetURL, Enabled: true},
		Secret:                  "whsec_abc",
	}, nil
}

func (s *stubEndpoints) List(_ context.Context, tenantID string) ([]model.WebhookEndpointResponse, error) {
	s.tenantIDs = append(s.tenantIDs, tenantID)
	return s.listed, nil
}

func (s *stubEndpoints) Delete(_ context.Context, tenantID, _ string) error {
	s.tenantIDs = append(s.tenantIDs, tenantID)
	return s.deleteErr
}

func TestWebhookHandler_Create(t *testing.T) {
	endpoints := &stubEndpoints{}
	h := NewWebhookHandler(endpoints, discardLogger())

	rec := httptest.NewRecorder()
	h.Create(rec, newRequest(http.MethodPost, "/api/admin/webhooks",
		`{"target_url":"https://hooks.example.com/relay","event_types":["skill.deleted"]}`, adminSession))

	require.Equal(t, http.StatusCreated, rec.Code)
	var body model.WebhookEndpointCreateResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	assert.Equal(t, "whsec_abc", body.Secret)
	assert.Equal(t, []string{"t1"}, endpoints.tenantIDs)
}

func TestWebhookHandler_CreateRejects(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		createErr error
		wantCode  int
		wantError string
	}{
		{name: "missing url", body: `{}`, wantCode: http.StatusUnprocessableEntity, wantError: CodeValidation},
		{name: "not a url", body: `{"target_url":"hooks"}`, wantCode: http.StatusUnprocessableEntity, wantError: CodeValidation},
		{
			name:      "private address",
			body:      `{"target_url":"https://10.0.0.5/hook"}`,
			createErr: webhook.ErrPrivateIP,
			wantCode:  http.StatusBadRequest,
			wantError: "INVALID_URL",
		},
		{
			name:      "unknown event",
			body:      `{"target_url":"https://hooks.example.com","event_types":["link.clicked"]}`,
			createErr: fmt.Errorf("%w: link.clicked", webhook.ErrInvalidEventType),
			wantCode:  http.StatusBadRequest,
			wantError: "INVALID_EVENT_TYPE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewWebhookHandler(&stubEndpoints{createErr: tt.createErr}, discardLogger())

			rec := httptest.NewRecorder()
			h.Create(rec, newRequest(http.MethodPost, "/api/admin/webhooks", tt.body, adminSession))

			assert.Equal(t, tt.wantCode, rec.Code)
			assert.Equal(t, tt.wantError, decodeError(t, rec).Code)
		})
	}
}

func TestWebhookHandler_ListAndDelete(t *testing.T) {
	endpoints := &stubEndpoints{}
	h := NewWebhookHandler(endpoints, discardLogger())

	rec := httptest.NewRecorder()
	h.List(rec, newRequest(http.MethodGet, "/api/admin/webhooks", "", adminSession))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"webhooks":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest(http.MethodDelete, "/api/admin/webhooks/wh1", "", adminSession, "id", "wh1"))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	endpoints.deleteErr = webhook.ErrEndpointNotFound
	rec = httptest.NewRecorder()
	h.Delete(rec, newRequest(http.MethodDelete, "/api/admin/webhooks/wh2", "", adminSession, "id", "wh2"))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

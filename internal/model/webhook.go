package model

import (
	"slices"
	"time"
)

// EventType represents webhook event types.
type EventType string

const (
	EventSkillDeleted  EventType = "skill.deleted"
	EventSkillReviewed EventType = "skill.reviewed"
	EventSkillMerged   EventType = "skill.merged"
)

// ValidEventTypes contains all valid event types.
var ValidEventTypes = []EventType{EventSkillDeleted, EventSkillReviewed, EventSkillMerged}

// IsValidEventType checks if an event type is valid.
func IsValidEventType(et EventType) bool {
	return slices.Contains(ValidEventTypes, et)
}

// DeliveryStatus represents webhook delivery state.
type DeliveryStatus string

const (
	DeliveryStatusPending   DeliveryStatus = "pending"
	DeliveryStatusSuccess   DeliveryStatus = "success"
	DeliveryStatusFailed    DeliveryStatus = "failed"
	DeliveryStatusExhausted DeliveryStatus = "exhausted"
)

// WebhookEndpoint is a tenant's subscription to skill lifecycle events.
type WebhookEndpoint struct {
	ID           string      `json:"id"`
	TenantID     string      `json:"tenant_id"`
	TargetURL    string      `json:"target_url"`
	SecretSealed string      `json:"-"`
	Enabled      bool        `json:"enabled"`
	EventTypes   []EventType `json:"event_types"`
	Name         string      `json:"name,omitempty"`
	Description  string      `json:"description,omitempty"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	DeletedAt    *time.Time  `json:"-"`
}

// IsActive returns true if the endpoint can receive webhooks.
func (e *WebhookEndpoint) IsActive() bool {
	return e.Enabled && e.DeletedAt == nil
}

// SubscribesToEvent checks if endpoint subscribes to given event type.
func (e *WebhookEndpoint) SubscribesToEvent(et EventType) bool {
	return slices.Contains(e.EventTypes, et)
}

// WebhookDelivery is one event queued for one endpoint.
type WebhookDelivery struct {
	ID             string         `json:"id"`
	EndpointID     string         `json:"endpoint_id"`
	EventID        string         `json:"event_id"`
	EventType      EventType      `json:"event_type"`
	PayloadJSON    string         `json:"-"`
	Status         DeliveryStatus `json:"status"`
	AttemptCount   int            `json:"attempt_count"`
	MaxAttempts    int            `json:"max_attempts"`
	NextRetryAt    time.Time      `json:"next_retry_at,omitempty"`
	LastAttemptAt  *time.Time     `json:"last_attempt_at,omitempty"`
	LastHTTPStatus *int           `json:"last_http_status,omitempty"`
	LastError      string         `json:"last_error,omitempty"`
	RequestID      string         `json:"request_id,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
	UpdatedAt      time.Time      `json:"updated_at"`
}

// IsTerminal returns true if delivery is in a terminal state.
func (d *WebhookDelivery) IsTerminal() bool {
	return d.Status == DeliveryStatusSuccess || d.Status == DeliveryStatusExhausted
}

// WebhookEndpointCreateRequest is the body of the endpoint create route.
type WebhookEndpointCreateRequest struct {
	Name        string      `json:"name,omitempty" validate:"max=100"`
	Description string      `json:"description,omitempty" validate:"max=500"`
	TargetURL   string      `json:"target_url" validate:"required,url"`
	EventTypes  []EventType `json:"event_types,omitempty"` // defaults to all event types
}

// WebhookEndpointResponse is the API form of an endpoint.
type WebhookEndpointResponse struct {
	ID          string      `json:"id"`
	Name        string      `json:"name,omitempty"`
	Description string      `json:"description,omitempty"`
	TargetURL   string      `json:"target_url"`
	Enabled     bool        `json:"enabled"`
	EventTypes  []EventType `json:"event_types"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// ToResponse converts WebhookEndpoint to API response.
func (e *WebhookEndpoint) ToResponse() WebhookEndpointResponse {
	return WebhookEndpointResponse{
		ID:          e.ID,
		Name:        e.Name,
		Description: e.Description,
		TargetURL:   e.TargetURL,
		Enabled:     e.Enabled,
		EventTypes:  e.EventTypes,
		CreatedAt:   e.CreatedAt,
		UpdatedAt:   e.UpdatedAt,
	}
}

// WebhookEndpointCreateResponse includes the signing secret, shown once.
type WebhookEndpointCreateResponse struct {
	WebhookEndpointResponse
	Secret string `json:"secret"`
}

// WebhookPayload is the body POSTed to endpoints.
type WebhookPayload struct {
	EventType EventType      `json:"event_type"`
	EventID   string         `json:"event_id"`
	TenantID  string         `json:"tenant_id"`
	Timestamp time.Time      `json:"timestamp"`
	Data      SkillEventData `json:"data"`
}

// SkillEventData is the data field for skill lifecycle events.
type SkillEventData struct {
	SkillID  string `json:"skill_id"`
	Slug     string `json:"slug,omitempty"`
	ActorID  string `json:"actor_id"`
	Status   string `json:"status,omitempty"`
	Action   string `json:"action,omitempty"`
	TargetID string `json:"target_id,omitempty"`
}

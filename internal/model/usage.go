package model

import (
	"encoding/json"
	"time"
)

// UsageAction classifies a usage event.
type UsageAction string

const (
	UsageInstall UsageAction = "install"
	UsageUse     UsageAction = "use"
	UsageView    UsageAction = "view"
)

// IsValid reports whether a is a known action.
func (a UsageAction) IsValid() bool {
	return a == UsageInstall || a == UsageUse || a == UsageView
}

// UsageSource identifies where a usage event came from.
const (
	SourceMCP = "mcp"
	SourceWeb = "web"
	SourceAPI = "api"
)

// UsageEvent is a logged record that a skill was invoked, installed or viewed.
type UsageEvent struct {
	ID      string `json:"id"`       // ULID (time-sortable)
	EventID string `json:"event_id"` // Idempotency key (Redis stream ID)

	TenantID string      `json:"tenant_id"`
	SkillID  string      `json:"skill_id"`
	UserID   string      `json:"user_id,omitempty"`
	Action   UsageAction `json:"action"`
	Source   string      `json:"source"`

	Metadata json.RawMessage `json:"metadata,omitempty"`

	// RequestID links the event to the HTTP request that reported it.
	RequestID string `json:"request_id,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
	CreatedAt  time.Time `json:"created_at"`
}

// SkillDailyStats holds pre-aggregated daily usage for one skill.
type SkillDailyStats struct {
	SkillID     string    `json:"skill_id"`
	SkillName   string    `json:"skill_name,omitempty"`
	Date        time.Time `json:"date"` // UTC date
	Uses        int64     `json:"uses"`
	Installs    int64     `json:"installs"`
	Views       int64     `json:"views"`
	UniqueUsers int64     `json:"unique_users"`
}

// ExportFilter narrows an analytics export.
type ExportFilter struct {
	TenantID string
	AuthorID string // empty exports the whole tenant
	SkillID  string
	From     time.Time
	To       time.Time
}

// UsageLogRequest is the body of the usage logging endpoint.
type UsageLogRequest struct {
	SkillID  string          `json:"skillId" validate:"required"`
	Action   UsageAction     `json:"action" validate:"omitempty,oneof=install use view"`
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// SearchQuery is a logged search.
type SearchQuery struct {
	ID          string    `json:"id"`
	TenantID    string    `json:"tenant_id"`
	UserID      string    `json:"user_id"`
	Query       string    `json:"query"`
	ResultCount int       `json:"result_count"`
	CreatedAt   time.Time `json:"created_at"`
}

package usage

import (
	"encoding/json"
	"fmt"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/requestid"
)

const (
	maxIDLength       = 64
	maxMetadataLength = 4096
)

// ValidateEventPayload validates usage payload fields.
func ValidateEventPayload(payload EventPayload) error {
	if payload.TenantID == "" {
		return fmt.Errorf("tenant_id is required")
	}
	if payload.SkillID == "" {
		return fmt.Errorf("skill_id is required")
	}
	if len(payload.SkillID) > maxIDLength || len(payload.TenantID) > maxIDLength || len(payload.UserID) > maxIDLength {
		return fmt.Errorf("identifier too long")
	}
	if !model.UsageAction(payload.Action).IsValid() {
		return fmt.Errorf("unknown action %q", payload.Action)
	}
	switch payload.Source {
	case model.SourceMCP, model.SourceWeb, model.SourceAPI:
	default:
		return fmt.Errorf("unknown source %q", payload.Source)
	}
	if payload.OccurredAt <= 0 {
		return fmt.Errorf("occurred_at must be set")
	}
	if len(payload.RequestID) > requestid.MaxLength {
		return fmt.Errorf("request_id too long")
	}
	if len(payload.Metadata) > maxMetadataLength {
		return fmt.Errorf("metadata too long")
	}
	if len(payload.Metadata) > 0 && !json.Valid(payload.Metadata) {
		return fmt.Errorf("metadata must be valid JSON")
	}
	return nil
}

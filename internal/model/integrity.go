package model

// Integrity check names.
const (
	CheckContentHash   = "content_hash_mismatch"
	CheckInstallDrift  = "install_count_drift"
	CheckDanglingMerge = "dangling_merge"
	CheckOrphanUsage   = "orphan_usage_events"
)

// IntegrityIssue is one inconsistency found by an integrity check.
type IntegrityIssue struct {
	Check    string `json:"check"`
	SkillID  string `json:"skill_id"`
	Detail   string `json:"detail"`
	Repaired bool   `json:"repaired"`
}

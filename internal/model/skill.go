package model

import (
	"strconv"
	"time"
)

// SkillStatus is the lifecycle state of a skill.
type SkillStatus string

const (
	SkillStatusDraft            SkillStatus = "draft"
	SkillStatusPendingReview    SkillStatus = "pending_review"
	SkillStatusChangesRequested SkillStatus = "changes_requested"
	SkillStatusRejected         SkillStatus = "rejected"
	SkillStatusPublished        SkillStatus = "published"
	SkillStatusArchived         SkillStatus = "archived"
)

// transitions lists the statuses reachable from each status.
var transitions = map[SkillStatus][]SkillStatus{
	SkillStatusDraft:            {SkillStatusPendingReview, SkillStatusArchived},
	SkillStatusPendingReview:    {SkillStatusPublished, SkillStatusRejected, SkillStatusChangesRequested},
	SkillStatusChangesRequested: {SkillStatusPendingReview, SkillStatusArchived},
	SkillStatusRejected:         {SkillStatusDraft, SkillStatusArchived},
	SkillStatusPublished:        {SkillStatusArchived},
	SkillStatusArchived:         nil,
}

// IsValid reports whether s is a known status.
func (s SkillStatus) IsValid() bool {
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether a skill may move from one status to another.
func CanTransition(from, to SkillStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// ReviewAction is an admin decision on a skill under review.
type ReviewAction string

const (
	ReviewApprove        ReviewAction = "approve"
	ReviewReject         ReviewAction = "reject"
	ReviewRequestChanges ReviewAction = "request_changes"
)

// TargetStatus returns the status an action moves a skill to.
func (a ReviewAction) TargetStatus() (SkillStatus, bool) {
	switch a {
	case ReviewApprove:
		return SkillStatusPublished, true
	case ReviewReject:
		return SkillStatusRejected, true
	case ReviewRequestChanges:
		return SkillStatusChangesRequested, true
	}
	return "", false
}

// SkillCategory constants.
const (
	CategoryPrompt   = "prompt"
	CategoryWorkflow = "workflow"
	CategoryAgent    = "agent"
	CategoryMCP      = "mcp"
)

// ValidCategories contains all valid category values.
var ValidCategories = []string{CategoryPrompt, CategoryWorkflow, CategoryAgent, CategoryMCP}

// Skill is a reusable prompt, workflow, agent or tool published by a user.
type Skill struct {
	ID           string      `json:"id"` // ULID
	TenantID     string      `json:"tenant_id"`
	AuthorID     string      `json:"author_id"`
	Slug         string      `json:"slug"`
	Name         string      `json:"name"`
	Description  string      `json:"description"`
	Category     string      `json:"category"`
	Content      string      `json:"content,omitempty"`
	ContentHash  string      `json:"content_hash"`
	Status       SkillStatus `json:"status"`
	PriceCents   int64       `json:"price_cents"`
	InstallCount int64       `json:"install_count"`
	ViewCount    int64       `json:"view_count"`
	RatingSum    int64       `json:"-"`
	RatingCount  int64       `json:"rating_count"`
	MergedIntoID *string     `json:"merged_into_id,omitempty"`
	Embedding    []float32   `json:"-"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
	DeletedAt    *time.Time  `json:"-"`
}

// IsDeleted returns true if the skill is soft-deleted.
func (s *Skill) IsDeleted() bool {
	return s.DeletedAt != nil
}

// AverageRating returns the mean review rating, or 0 without reviews.
func (s *Skill) AverageRating() float64 {
	if s.RatingCount == 0 {
		return 0
	}
	return float64(s.RatingSum) / float64(s.RatingCount)
}

// CachedSkill is the Redis hash representation of a skill lookup.
type CachedSkill struct {
	ID          string `redis:"id"`
	TenantID    string `redis:"tenant_id"`
	AuthorID    string `redis:"author_id"`
	Name        string `redis:"name"`
	Description string `redis:"description"`
	Category    string `redis:"category"`
	Content     string `redis:"content"`
	ContentHash string `redis:"content_hash"`
	Status      string `redis:"status"`
	PriceCents  string `redis:"price_cents"`
	UpdatedAt   string `redis:"updated_at"` // Unix timestamp
}

// ToSkill converts CachedSkill to the Skill domain model.
func (c *CachedSkill) ToSkill(slug string) *Skill {
	s := &Skill{
		ID:          c.ID,
		TenantID:    c.TenantID,
		AuthorID:    c.AuthorID,
		Slug:        slug,
		Name:        c.Name,
		Description: c.Description,
		Category:    c.Category,
		Content:     c.Content,
		ContentHash: c.ContentHash,
		Status:      SkillStatus(c.Status),
	}
	if v, err := strconv.ParseInt(c.PriceCents, 10, 64); err == nil {
		s.PriceCents = v
	}
	if ts, err := strconv.ParseInt(c.UpdatedAt, 10, 64); err == nil {
		s.UpdatedAt = time.Unix(ts, 0)
	}
	return s
}

// ToCachedSkill converts Skill to its cached form.
func (s *Skill) ToCachedSkill() *CachedSkill {
	return &CachedSkill{
		ID:          s.ID,
		TenantID:    s.TenantID,
		AuthorID:    s.AuthorID,
		Name:        s.Name,
		Description: s.Description,
		Category:    s.Category,
		Content:     s.Content,
		ContentHash: s.ContentHash,
		Status:      string(s.Status),
		PriceCents:  strconv.FormatInt(s.PriceCents, 10),
		UpdatedAt:   strconv.FormatInt(s.UpdatedAt.Unix(), 10),
	}
}

// SkillReview is a user's rating of a skill. One per user per skill.
type SkillReview struct {
	SkillID   string    `json:"skill_id"`
	UserID    string    `json:"user_id"`
	Rating    int       `json:"rating"`
	Comment   string    `json:"comment,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// ReviewDecision records an admin status change on a skill.
type ReviewDecision struct {
	ID         string       `json:"id"`
	TenantID   string       `json:"tenant_id"`
	SkillID    string       `json:"skill_id"`
	ReviewerID string       `json:"reviewer_id"`
	Action     ReviewAction `json:"action"`
	FromStatus SkillStatus  `json:"from_status"`
	ToStatus   SkillStatus  `json:"to_status"`
	Notes      string       `json:"notes,omitempty"`
	CreatedAt  time.Time    `json:"created_at"`
}

// SkillSummary is the list/search representation of a skill.
type SkillSummary struct {
	ID            string  `json:"id"`
	Slug          string  `json:"slug"`
	Name          string  `json:"name"`
	Description   string  `json:"description"`
	Category      string  `json:"category"`
	Price         string  `json:"price"`
	Tier          string  `json:"tier"`
	InstallCount  int64   `json:"install_count"`
	AverageRating float64 `json:"average_rating"`
	Score         float64 `json:"score,omitempty"`
}

// InstallHint tells a client where to put the skill on its platform.
type InstallHint struct {
	OS         string `json:"os"`
	ConfigPath string `json:"config_path,omitempty"`
}

// SkillDetail is the single-skill response.
type SkillDetail struct {
	SkillSummary
	Content     string      `json:"content"`
	Status      SkillStatus `json:"status"`
	AuthorID    string      `json:"author_id"`
	ViewCount   int64       `json:"view_count"`
	RatingCount int64       `json:"rating_count"`
	Install     InstallHint `json:"install"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// Package integrity runs consistency checks over a tenant's skill data and
// optionally repairs what can be fixed mechanically.
package integrity

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/everyskill/relay/internal/model"
)

// Store is the data access the checks need.
type Store interface {
	ContentHashMismatches(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error)
	InstallCountDrift(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error)
	DanglingMerges(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error)
	OrphanUsageEvents(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error)
	RepairContentHash(ctx context.Context, skillID string) error
	RepairInstallCount(ctx context.Context, skillID string) error
}

// Report summarizes one run for a tenant.
type Report struct {
	TenantID  string                 `json:"tenant_id"`
	CheckedAt time.Time              `json:"checked_at"`
	Issues    []model.IntegrityIssue `json:"issues"`
	Repaired  int                    `json:"repaired"`
}

type check struct {
	name   string
	find   func(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error)
	repair func(ctx context.Context, skillID string) error // nil when not repairable
}

// Checker runs the checks.
type Checker struct {
	checks []check
	logger *slog.Logger
	now    func() time.Time
}

// NewChecker creates a Checker over store.
func NewChecker(store Store, logger *slog.Logger) *Checker {
	return &Checker{
		checks: []check{
			{model.CheckContentHash, store.ContentHashMismatches, store.RepairContentHash},
			{model.CheckInstallDrift, store.InstallCountDrift, store.RepairInstallCount},
			{model.CheckDanglingMerge, store.DanglingMerges, nil},
			{model.CheckOrphanUsage, store.OrphanUsageEvents, nil},
		},
		logger: logger.With("component", "integrity"),
		now:    time.Now,
	}
}

// Run executes every check for tenantID. With repair set, repairable
// issues are fixed and flagged; a failed repair is logged and left unflagged.
func (c *Checker) Run(ctx context.Context, tenantID string, repair bool) (*Report, error) {
	report := &Report{
		TenantID:  tenantID,
		CheckedAt: c.now().UTC(),
		Issues:    []model.IntegrityIssue{},
	}

	for _, ch := range c.checks {
		issues, err := ch.find(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", ch.name, err)
		}

		for i := range issues {
			issues[i].Check = ch.name
			if !repair || ch.repair == nil {
				continue
			}
			if err := ch.repair(ctx, issues[i].SkillID); err != nil {
				c.logger.Warn("repair failed",
					"check", ch.name,
					"tenant_id", tenantID,
					"skill_id", issues[i].SkillID,
					"error", err,
				)
				continue
			}
			issues[i].Repaired = true
			report.Repaired++
		}
		report.Issues = append(report.Issues, issues...)
	}

	c.logger.Info("integrity check complete",
		"tenant_id", tenantID,
		"issues", len(report.Issues),
		"repaired", report.Repaired,
	)
	return report, nil
}

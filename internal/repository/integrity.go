package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/everyskill/relay/internal/model"
)

// ContentHashMismatches finds live skills whose stored hash differs from the
// sha256 of their content.
func (r *Repository) ContentHashMismatches(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error) {
	return r.collectIssues(ctx, model.CheckContentHash, `
		SELECT id, 'stored ' || content_hash || ', actual ' || encode(sha256(convert_to(content, 'UTF8')), 'hex')
		FROM skills
		WHERE tenant_id = $1 AND deleted_at IS NULL
		  AND content_hash <> encode(sha256(convert_to(content, 'UTF8')), 'hex')
		ORDER BY id
	`, tenantID)
}

// RepairContentHash recomputes a skill's content hash.
func (r *Repository) RepairContentHash(ctx context.Context, skillID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE skills SET content_hash = encode(sha256(convert_to(content, 'UTF8')), 'hex'), updated_at = now()
		WHERE id = $1
	`, skillID)
	if err != nil {
		return fmt.Errorf("failed to repair content hash: %w", err)
	}
	return nil
}

// InstallCountDrift finds live skills whose install counter disagrees with
// their install events.
func (r *Repository) InstallCountDrift(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error) {
	return r.collectIssues(ctx, model.CheckInstallDrift, `
		SELECT s.id, 'counter ' || s.install_count || ', events ' || COALESCE(e.n, 0)
		FROM skills s
		LEFT JOIN (
			SELECT skill_id, COUNT(*) AS n FROM usage_events
			WHERE tenant_id = $1 AND action = 'install'
			GROUP BY skill_id
		) e ON e.skill_id = s.id
		WHERE s.tenant_id = $1 AND s.deleted_at IS NULL
		  AND s.install_count <> COALESCE(e.n, 0)
		ORDER BY s.id
	`, tenantID)
}

// RepairInstallCount resets a skill's install counter from its events.
func (r *Repository) RepairInstallCount(ctx context.Context, skillID string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE skills SET install_count = (
			SELECT COUNT(*) FROM usage_events WHERE skill_id = $1 AND action = 'install'
		)
		WHERE id = $1
	`, skillID)
	if err != nil {
		return fmt.Errorf("failed to repair install count: %w", err)
	}
	return nil
}

// DanglingMerges finds merged skills whose target is missing, deleted or
// itself merged, and merged skills that were never deleted.
func (r *Repository) DanglingMerges(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error) {
	return r.collectIssues(ctx, model.CheckDanglingMerge, `
		SELECT s.id,
		       CASE
		           WHEN t.id IS NULL THEN 'target ' || s.merged_into_id || ' missing'
		           WHEN t.deleted_at IS NOT NULL THEN 'target ' || t.id || ' deleted'
		           ELSE 'source not deleted'
		       END
		FROM skills s
		LEFT JOIN skills t ON t.id = s.merged_into_id
		WHERE s.tenant_id = $1 AND s.merged_into_id IS NOT NULL
		  AND (t.id IS NULL OR t.deleted_at IS NOT NULL OR s.deleted_at IS NULL)
		ORDER BY s.id
	`, tenantID)
}

// OrphanUsageEvents finds skill ids referenced by usage events but absent
// from the skills table.
func (r *Repository) OrphanUsageEvents(ctx context.Context, tenantID string) ([]model.IntegrityIssue, error) {
	return r.collectIssues(ctx, model.CheckOrphanUsage, `
		SELECT e.skill_id, COUNT(*) || ' events'
		FROM usage_events e
		LEFT JOIN skills s ON s.id = e.skill_id
		WHERE e.tenant_id = $1 AND s.id IS NULL
		GROUP BY e.skill_id
		ORDER BY e.skill_id
	`, tenantID)
}

func (r *Repository) collectIssues(ctx context.Context, check, query string, args ...any) ([]model.IntegrityIssue, error) {
	rows, err := r.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to run %s check: %w", check, err)
	}
	issues, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.IntegrityIssue, error) {
		issue := model.IntegrityIssue{Check: check}
		err := row.Scan(&issue.SkillID, &issue.Detail)
		return issue, err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to scan %s check: %w", check, err)
	}
	return issues, nil
}

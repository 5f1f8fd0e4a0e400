package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/everyskill/relay/internal/model"
)

// ReplaceCommunities swaps the tenant's community assignments for the given
// set in one transaction.
func (r *Repository) ReplaceCommunities(ctx context.Context, tenantID string, assignments map[string]int, at time.Time) error {
	const op = "repository.ReplaceCommunities"

	return r.trm.Do(ctx, func(ctx context.Context) error {
		if _, err := r.conn(ctx).ExecContext(ctx,
			`DELETE FROM skill_communities WHERE tenant_id = $1`, tenantID); err != nil {
			return fmt.Errorf("%s: clear: %w", op, err)
		}
		for skillID, community := range assignments {
			_, err := r.conn(ctx).ExecContext(ctx, `
				INSERT INTO skill_communities (tenant_id, skill_id, community_id, computed_at)
				VALUES ($1, $2, $3, $4)
			`, tenantID, skillID, community, at)
			if err != nil {
				return fmt.Errorf("%s: insert %s: %w", op, skillID, err)
			}
		}
		return nil
	})
}

// ListCommunities returns the stored assignments of a tenant.
func (r *Repository) ListCommunities(ctx context.Context, tenantID string) ([]model.SkillCommunity, error) {
	const op = "repository.ListCommunities"

	var rows []struct {
		TenantID    string    `db:"tenant_id"`
		SkillID     string    `db:"skill_id"`
		CommunityID int       `db:"community_id"`
		ComputedAt  time.Time `db:"computed_at"`
	}
	err := r.conn(ctx).SelectContext(ctx, &rows, `
		SELECT tenant_id, skill_id, community_id, computed_at
		FROM skill_communities
		WHERE tenant_id = $1
		ORDER BY community_id, skill_id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	out := make([]model.SkillCommunity, 0, len(rows))
	for _, row := range rows {
		out = append(out, model.SkillCommunity(row))
	}
	return out, nil
}

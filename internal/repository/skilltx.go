package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/everyskill/relay/internal/model"
)

// Methods in this file run on the sqlx handle and join the transaction
// carried by ctx, if any.

type skillRow struct {
	ID           string         `db:"id"`
	TenantID     string         `db:"tenant_id"`
	AuthorID     string         `db:"author_id"`
	Slug         string         `db:"slug"`
	Name         string         `db:"name"`
	Description  string         `db:"description"`
	Category     string         `db:"category"`
	ContentHash  string         `db:"content_hash"`
	Status       string         `db:"status"`
	InstallCount int64          `db:"install_count"`
	ViewCount    int64          `db:"view_count"`
	RatingSum    int64          `db:"rating_sum"`
	RatingCount  int64          `db:"rating_count"`
	MergedIntoID sql.NullString `db:"merged_into_id"`
	UpdatedAt    time.Time      `db:"updated_at"`
	DeletedAt    sql.NullTime   `db:"deleted_at"`
}

func (r skillRow) toModel() *model.Skill {
	s := &model.Skill{
		ID:           r.ID,
		TenantID:     r.TenantID,
		AuthorID:     r.AuthorID,
		Slug:         r.Slug,
		Name:         r.Name,
		Description:  r.Description,
		Category:     r.Category,
		ContentHash:  r.ContentHash,
		Status:       model.SkillStatus(r.Status),
		InstallCount: r.InstallCount,
		ViewCount:    r.ViewCount,
		RatingSum:    r.RatingSum,
		RatingCount:  r.RatingCount,
		UpdatedAt:    r.UpdatedAt,
	}
	if r.MergedIntoID.Valid {
		s.MergedIntoID = &r.MergedIntoID.String
	}
	if r.DeletedAt.Valid {
		s.DeletedAt = &r.DeletedAt.Time
	}
	return s
}

// LockSkill loads a skill of the tenant, including deleted ones, and locks
// its row until the surrounding transaction ends.
func (r *Repository) LockSkill(ctx context.Context, tenantID, id string) (*model.Skill, error) {
	const op = "repository.LockSkill"

	var row skillRow
	err := r.conn(ctx).GetContext(ctx, &row, `
		SELECT id, tenant_id, author_id, slug, name, description, category, content_hash,
		       status, install_count, view_count, rating_sum, rating_count,
		       merged_into_id, updated_at, deleted_at
		FROM skills
		WHERE tenant_id = $1 AND id = $2
		FOR UPDATE
	`, tenantID, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrSkillNotFound
		}
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	return row.toModel(), nil
}

// SetSkillStatus updates a skill's status.
func (r *Repository) SetSkillStatus(ctx context.Context, id string, status model.SkillStatus) error {
	const op = "repository.SetSkillStatus"

	_, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE skills SET status = $2, updated_at = now() WHERE id = $1`, id, string(status))
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// InsertReviewDecision records an admin decision.
func (r *Repository) InsertReviewDecision(ctx context.Context, d *model.ReviewDecision) error {
	const op = "repository.InsertReviewDecision"

	_, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO review_decisions (id, tenant_id, skill_id, reviewer_id, action,
			from_status, to_status, notes, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`, d.ID, d.TenantID, d.SkillID, d.ReviewerID, string(d.Action),
		string(d.FromStatus), string(d.ToStatus), d.Notes, d.CreatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// SoftDeleteSkill marks a skill deleted and drops its community assignment.
func (r *Repository) SoftDeleteSkill(ctx context.Context, id string, at time.Time) error {
	const op = "repository.SoftDeleteSkill"

	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE skills SET deleted_at = $2, updated_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, at)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrSkillNotFound
	}
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM skill_communities WHERE skill_id = $1`, id); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// UpsertSkillReview stores the user's review of a skill, replacing an older one.
func (r *Repository) UpsertSkillReview(ctx context.Context, rv *model.SkillReview) error {
	const op = "repository.UpsertSkillReview"

	err := r.conn(ctx).QueryRowxContext(ctx, `
		INSERT INTO skill_reviews (skill_id, user_id, rating, comment)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (skill_id, user_id) DO UPDATE SET
			rating = EXCLUDED.rating,
			comment = EXCLUDED.comment,
			updated_at = now()
		RETURNING created_at, updated_at
	`, rv.SkillID, rv.UserID, rv.Rating, rv.Comment).Scan(&rv.CreatedAt, &rv.UpdatedAt)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RecomputeRating rebuilds a skill's rating aggregates from its reviews.
func (r *Repository) RecomputeRating(ctx context.Context, skillID string) error {
	const op = "repository.RecomputeRating"

	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE skills SET
			rating_sum = (SELECT COALESCE(SUM(rating), 0) FROM skill_reviews WHERE skill_id = $1),
			rating_count = (SELECT COUNT(*) FROM skill_reviews WHERE skill_id = $1)
		WHERE id = $1
	`, skillID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MoveUsageEvents reassigns usage events from one skill to another.
func (r *Repository) MoveUsageEvents(ctx context.Context, fromID, toID string) (int64, error) {
	const op = "repository.MoveUsageEvents"

	res, err := r.conn(ctx).ExecContext(ctx,
		`UPDATE usage_events SET skill_id = $2 WHERE skill_id = $1`, fromID, toID)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

// MoveReviews moves reviews to another skill. Where a user reviewed both,
// the target's review wins.
func (r *Repository) MoveReviews(ctx context.Context, fromID, toID string) error {
	const op = "repository.MoveReviews"

	if _, err := r.conn(ctx).ExecContext(ctx, `
		INSERT INTO skill_reviews (skill_id, user_id, rating, comment, created_at, updated_at)
		SELECT $2, user_id, rating, comment, created_at, updated_at
		FROM skill_reviews WHERE skill_id = $1
		ON CONFLICT (skill_id, user_id) DO NOTHING
	`, fromID, toID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM skill_reviews WHERE skill_id = $1`, fromID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// AbsorbSkillCounters adds the source's view count to the target and
// re-derives the target's install count from its usage events.
func (r *Repository) AbsorbSkillCounters(ctx context.Context, fromID, toID string) error {
	const op = "repository.AbsorbSkillCounters"

	_, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE skills t SET
			view_count = t.view_count + s.view_count,
			install_count = (SELECT COUNT(*) FROM usage_events e WHERE e.skill_id = t.id AND e.action = 'install'),
			updated_at = now()
		FROM skills s
		WHERE t.id = $2 AND s.id = $1
	`, fromID, toID)
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// MarkMerged soft-deletes the source skill and points it at the target.
func (r *Repository) MarkMerged(ctx context.Context, fromID, toID string, at time.Time) error {
	const op = "repository.MarkMerged"

	if _, err := r.conn(ctx).ExecContext(ctx, `
		UPDATE skills SET merged_into_id = $2, deleted_at = $3, updated_at = $3,
			install_count = 0, view_count = 0, rating_sum = 0, rating_count = 0
		WHERE id = $1
	`, fromID, toID, at); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM skill_communities WHERE skill_id = $1`, fromID); err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

// RebuildDailyStats recomputes every daily stats row of the given skills
// from their usage events.
func (r *Repository) RebuildDailyStats(ctx context.Context, skillIDs ...string) error {
	const op = "repository.RebuildDailyStats"

	for _, id := range skillIDs {
		if _, err := r.conn(ctx).ExecContext(ctx, `DELETE FROM skill_daily_stats WHERE skill_id = $1`, id); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
		if _, err := r.conn(ctx).ExecContext(ctx, dailyStatsUpsert, id, time.Time{}, maxStatsTime); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
	return nil
}

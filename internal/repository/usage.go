package repository

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/everyskill/relay/internal/model"
)

// maxStatsTime bounds open-ended daily stats rebuilds.
var maxStatsTime = time.Date(9999, 1, 1, 0, 0, 0, 0, time.UTC)

// dailyStatsUpsert aggregates usage events of skill $1 in [$2, $3) per UTC day.
const dailyStatsUpsert = `
	INSERT INTO skill_daily_stats (skill_id, date, uses, installs, views, unique_users, updated_at)
	SELECT skill_id,
	       (occurred_at AT TIME ZONE 'UTC')::date AS day,
	       COUNT(*) FILTER (WHERE action = 'use'),
	       COUNT(*) FILTER (WHERE action = 'install'),
	       COUNT(*) FILTER (WHERE action = 'view'),
	       COUNT(DISTINCT user_id),
	       now()
	FROM usage_events
	WHERE skill_id = $1 AND occurred_at >= $2 AND occurred_at < $3
	GROUP BY skill_id, day
	ON CONFLICT (skill_id, date) DO UPDATE SET
		uses = EXCLUDED.uses,
		installs = EXCLUDED.installs,
		views = EXCLUDED.views,
		unique_users = EXCLUDED.unique_users,
		updated_at = now()
`

const insertUsageEvent = `
	INSERT INTO usage_events (
		id, event_id, tenant_id, skill_id, user_id, action, source, metadata, request_id, occurred_at, created_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
	ON CONFLICT (event_id) DO NOTHING
`

// UsageRepository provides database access for usage events.
type UsageRepository struct {
	repo *Repository
}

// NewUsageRepository creates a new UsageRepository.
func NewUsageRepository(repo *Repository) *UsageRepository {
	return &UsageRepository{repo: repo}
}

// Insert stores one usage event directly, bypassing the stream. It joins
// the transaction carried by ctx, if any.
func (r *UsageRepository) Insert(ctx context.Context, e *model.UsageEvent) error {
	_, err := r.repo.conn(ctx).ExecContext(ctx, insertUsageEvent, usageArgs(e)...)
	if err != nil {
		return fmt.Errorf("insert usage event: %w", err)
	}
	return nil
}

// BulkInsert inserts events idempotently via ON CONFLICT (event_id) DO NOTHING.
func (r *UsageRepository) BulkInsert(ctx context.Context, events []*model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, e := range events {
		batch.Queue(insertUsageEvent, usageArgs(e)...)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}
	return nil
}

func usageArgs(e *model.UsageEvent) []any {
	var metadata any
	if len(e.Metadata) > 0 {
		metadata = []byte(e.Metadata)
	}
	return []any{
		e.ID,
		e.EventID,
		e.TenantID,
		e.SkillID,
		nullableString(e.UserID),
		string(e.Action),
		e.Source,
		metadata,
		nullableString(e.RequestID),
		e.OccurredAt,
	}
}

// UpdateDailyStats recomputes the daily rows touched by events. Like
// RefreshInstallCounts it joins the transaction carried by ctx.
func (r *UsageRepository) UpdateDailyStats(ctx context.Context, events []*model.UsageEvent) error {
	for _, key := range uniqueDailyKeys(events) {
		end := key.date.Add(24 * time.Hour)
		if _, err := r.repo.conn(ctx).ExecContext(ctx, dailyStatsUpsert, key.skillID, key.date, end); err != nil {
			return fmt.Errorf("upsert daily stat %s:%s: %w", key.skillID, key.date.Format(time.DateOnly), err)
		}
	}
	return nil
}

// RefreshInstallCounts re-derives install_count of the events' skills.
func (r *UsageRepository) RefreshInstallCounts(ctx context.Context, events []*model.UsageEvent) error {
	ids := installedSkillIDs(events)
	if len(ids) == 0 {
		return nil
	}
	_, err := r.repo.conn(ctx).ExecContext(ctx, `
		UPDATE skills s SET install_count = (
			SELECT COUNT(*) FROM usage_events e WHERE e.skill_id = s.id AND e.action = 'install'
		)
		WHERE s.id = ANY($1)
	`, pq.Array(ids))
	if err != nil {
		return fmt.Errorf("refresh install counts: %w", err)
	}
	return nil
}

type dailyStatsKey struct {
	skillID string
	date    time.Time
}

func uniqueDailyKeys(events []*model.UsageEvent) []dailyStatsKey {
	seen := make(map[dailyStatsKey]struct{})
	for _, e := range events {
		day := e.OccurredAt.UTC().Truncate(24 * time.Hour)
		seen[dailyStatsKey{skillID: e.SkillID, date: day}] = struct{}{}
	}

	keys := make([]dailyStatsKey, 0, len(seen))
	for k := range seen {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].skillID != keys[j].skillID {
			return keys[i].skillID < keys[j].skillID
		}
		return keys[i].date.Before(keys[j].date)
	})
	return keys
}

func installedSkillIDs(events []*model.UsageEvent) []string {
	seen := make(map[string]struct{})
	var ids []string
	for _, e := range events {
		if e.Action != model.UsageInstall {
			continue
		}
		if _, ok := seen[e.SkillID]; ok {
			continue
		}
		seen[e.SkillID] = struct{}{}
		ids = append(ids, e.SkillID)
	}
	sort.Strings(ids)
	return ids
}

// ExportDailyStats returns daily stats rows for an export, ordered by
// skill name then date.
func (r *UsageRepository) ExportDailyStats(ctx context.Context, f model.ExportFilter) ([]*model.SkillDailyStats, error) {
	rows, err := r.repo.pool.Query(ctx, `
		SELECT d.skill_id, s.name, d.date, d.uses, d.installs, d.views, d.unique_users
		FROM skill_daily_stats d
		JOIN skills s ON s.id = d.skill_id
		WHERE s.tenant_id = $1
		  AND ($2 = '' OR s.author_id::text = $2)
		  AND ($3 = '' OR s.id = $3)
		  AND d.date >= $4 AND d.date <= $5
		ORDER BY s.name, d.skill_id, d.date
	`, f.TenantID, f.AuthorID, f.SkillID, f.From, f.To)
	if err != nil {
		return nil, fmt.Errorf("query export stats: %w", err)
	}
	defer rows.Close()

	var stats []*model.SkillDailyStats
	for rows.Next() {
		var s model.SkillDailyStats
		if err := rows.Scan(&s.SkillID, &s.SkillName, &s.Date, &s.Uses, &s.Installs, &s.Views, &s.UniqueUsers); err != nil {
			return nil, fmt.Errorf("scan export stat: %w", err)
		}
		stats = append(stats, &s)
	}
	return stats, rows.Err()
}

// CoUsageEdges links live published skills used by the same users since
// the given time. Only pairs shared by at least minWeight users are returned.
func (r *UsageRepository) CoUsageEdges(ctx context.Context, tenantID string, since time.Time, minWeight int) ([]model.CoUsageEdge, error) {
	if minWeight < 1 {
		minWeight = 1
	}
	rows, err := r.repo.pool.Query(ctx, `
		WITH pairs AS (
			SELECT DISTINCT e.user_id, e.skill_id
			FROM usage_events e
			JOIN skills s ON s.id = e.skill_id
			WHERE e.tenant_id = $1
			  AND e.occurred_at >= $2
			  AND e.user_id IS NOT NULL
			  AND s.deleted_at IS NULL
			  AND s.status = 'published'
		)
		SELECT a.skill_id, b.skill_id, COUNT(*)::int
		FROM pairs a
		JOIN pairs b ON a.user_id = b.user_id AND a.skill_id < b.skill_id
		GROUP BY a.skill_id, b.skill_id
		HAVING COUNT(*) >= $3
		ORDER BY a.skill_id, b.skill_id
	`, tenantID, since, minWeight)
	if err != nil {
		return nil, fmt.Errorf("query co-usage edges: %w", err)
	}
	defer rows.Close()

	edges := []model.CoUsageEdge{}
	for rows.Next() {
		var e model.CoUsageEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Weight); err != nil {
			return nil, fmt.Errorf("scan co-usage edge: %w", err)
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

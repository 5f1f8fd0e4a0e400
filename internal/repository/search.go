package repository

import (
	"context"
	"fmt"

	"github.com/everyskill/relay/internal/model"
)

// LogSearch records a search query.
func (r *Repository) LogSearch(ctx context.Context, q *model.SearchQuery) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO search_queries (id, tenant_id, user_id, query, result_count)
		VALUES ($1, $2, $3, $4, $5)
	`, q.ID, q.TenantID, q.UserID, q.Query, q.ResultCount)
	if err != nil {
		return fmt.Errorf("failed to log search: %w", err)
	}
	return nil
}

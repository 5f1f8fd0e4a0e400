package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/everyskill/relay/internal/model"
)

const skillColumns = `id, tenant_id, author_id, slug, name, description, category, content,
	content_hash, status, price_cents, install_count, view_count, rating_sum, rating_count,
	merged_into_id, embedding, created_at, updated_at, deleted_at`

// SearchParams narrows a skill search.
type SearchParams struct {
	TenantID string
	Query    string
	Category string
	Limit    int
}

// CreateSkill inserts a skill. The caller assigns ID and ContentHash.
func (r *Repository) CreateSkill(ctx context.Context, s *model.Skill) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO skills (id, tenant_id, author_id, slug, name, description, category,
			content, content_hash, status, price_cents)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING created_at, updated_at
	`,
		s.ID, s.TenantID, s.AuthorID, s.Slug, s.Name, s.Description, s.Category,
		s.Content, s.ContentHash, s.Status, s.PriceCents,
	).Scan(&s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrSlugExists
		}
		return fmt.Errorf("failed to create skill: %w", err)
	}
	return nil
}

// GetSkillBySlug retrieves a live skill by tenant and slug.
func (r *Repository) GetSkillBySlug(ctx context.Context, tenantID, slug string) (*model.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills
		WHERE tenant_id = $1 AND slug = $2 AND deleted_at IS NULL`
	return r.getSkill(ctx, query, tenantID, slug)
}

// GetSkillByID retrieves a live skill by tenant and id.
func (r *Repository) GetSkillByID(ctx context.Context, tenantID, id string) (*model.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills
		WHERE tenant_id = $1 AND id = $2 AND deleted_at IS NULL`
	return r.getSkill(ctx, query, tenantID, id)
}

// ResolveSkill finds a live skill by id or slug.
func (r *Repository) ResolveSkill(ctx context.Context, tenantID, ref string) (*model.Skill, error) {
	query := `SELECT ` + skillColumns + ` FROM skills
		WHERE tenant_id = $1 AND (id = $2 OR slug = $2) AND deleted_at IS NULL
		ORDER BY (id = $2) DESC
		LIMIT 1`
	return r.getSkill(ctx, query, tenantID, ref)
}

func (r *Repository) getSkill(ctx context.Context, query string, args ...any) (*model.Skill, error) {
	s, err := scanSkill(r.pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSkillNotFound
		}
		return nil, fmt.Errorf("failed to get skill: %w", err)
	}
	return s, nil
}

// SearchSkills returns published skills matching the query, best first.
// An empty query lists the most installed skills.
func (r *Repository) SearchSkills(ctx context.Context, p SearchParams) ([]*model.Skill, error) {
	if p.Limit <= 0 || p.Limit > 100 {
		p.Limit = 20
	}

	query := `
		SELECT ` + skillColumns + `
		FROM skills
		WHERE tenant_id = $1
		  AND status = 'published'
		  AND deleted_at IS NULL
		  AND ($2 = '' OR category = $2)
		  AND ($3 = '' OR search @@ plainto_tsquery('english', $3)
		       OR name ILIKE '%' || $5 || '%' ESCAPE '\')
		ORDER BY
		  CASE WHEN $3 = '' THEN 0 ELSE ts_rank(search, plainto_tsquery('english', $3)) END DESC,
		  install_count DESC,
		  id
		LIMIT $4
	`

	rows, err := r.pool.Query(ctx, query, p.TenantID, p.Category, p.Query, p.Limit, escapeLike(p.Query))
	if err != nil {
		return nil, fmt.Errorf("failed to search skills: %w", err)
	}
	defer rows.Close()

	var skills []*model.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// escapeLike quotes the LIKE metacharacters of s so it matches literally
// under ESCAPE '\'.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// IncrementViewCount bumps a skill's view counter.
func (r *Repository) IncrementViewCount(ctx context.Context, skillID string) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE skills SET view_count = view_count + 1 WHERE id = $1 AND deleted_at IS NULL`, skillID,
	); err != nil {
		return fmt.Errorf("failed to increment view count: %w", err)
	}
	return nil
}

// UpdateSkillEmbedding stores the embedding vector of a skill.
func (r *Repository) UpdateSkillEmbedding(ctx context.Context, skillID string, embedding []float32) error {
	if _, err := r.pool.Exec(ctx,
		`UPDATE skills SET embedding = $2 WHERE id = $1`, skillID, embedding,
	); err != nil {
		return fmt.Errorf("failed to update embedding: %w", err)
	}
	return nil
}

// ListUnembeddedSkills returns live published skills without an embedding,
// oldest first.
func (r *Repository) ListUnembeddedSkills(ctx context.Context, tenantID string, limit int) ([]*model.Skill, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `SELECT `+skillColumns+` FROM skills
		WHERE tenant_id = $1 AND status = 'published' AND deleted_at IS NULL
		  AND (embedding IS NULL OR cardinality(embedding) = 0)
		ORDER BY created_at, id
		LIMIT $2`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list unembedded skills: %w", err)
	}
	defer rows.Close()

	var skills []*model.Skill
	for rows.Next() {
		s, err := scanSkill(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan skill: %w", err)
		}
		skills = append(skills, s)
	}
	return skills, rows.Err()
}

// ListTopologyNodes returns the live published skills of a tenant with their
// community assignment (-1 when none has been computed).
func (r *Repository) ListTopologyNodes(ctx context.Context, tenantID string) ([]model.TopologyNode, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT s.id, s.name, s.category, COALESCE(c.community_id, -1), s.install_count
		FROM skills s
		LEFT JOIN skill_communities c ON c.tenant_id = s.tenant_id AND c.skill_id = s.id
		WHERE s.tenant_id = $1 AND s.status = 'published' AND s.deleted_at IS NULL
		ORDER BY s.id
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list topology nodes: %w", err)
	}
	defer rows.Close()

	nodes := []model.TopologyNode{}
	for rows.Next() {
		var n model.TopologyNode
		if err := rows.Scan(&n.ID, &n.Name, &n.Category, &n.Community, &n.Installs); err != nil {
			return nil, fmt.Errorf("failed to scan topology node: %w", err)
		}
		nodes = append(nodes, n)
	}
	return nodes, rows.Err()
}

func scanSkill(row pgx.Row) (*model.Skill, error) {
	var s model.Skill
	err := row.Scan(
		&s.ID,
		&s.TenantID,
		&s.AuthorID,
		&s.Slug,
		&s.Name,
		&s.Description,
		&s.Category,
		&s.Content,
		&s.ContentHash,
		&s.Status,
		&s.PriceCents,
		&s.InstallCount,
		&s.ViewCount,
		&s.RatingSum,
		&s.RatingCount,
		&s.MergedIntoID,
		&s.Embedding,
		&s.CreatedAt,
		&s.UpdatedAt,
		&s.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"github.com/everyskill/relay/internal/model"
)

// CreateTenant inserts a tenant. ID and CreatedAt are filled in.
func (r *Repository) CreateTenant(ctx context.Context, t *model.Tenant) error {
	err := r.pool.QueryRow(ctx, `
		INSERT INTO tenants (name, domain) VALUES ($1, $2)
		RETURNING id, created_at
	`, t.Name, nullableString(strings.ToLower(t.Domain))).Scan(&t.ID, &t.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// TenantDomainExists reports whether any tenant registered the domain.
func (r *Repository) TenantDomainExists(ctx context.Context, domain string) (bool, error) {
	var exists bool
	err := r.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM tenants WHERE domain = $1)`, strings.ToLower(domain),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check tenant domain: %w", err)
	}
	return exists, nil
}

// ListTenantIDs returns every tenant id in a stable order.
func (r *Repository) ListTenantIDs(ctx context.Context) ([]string, error) {
	rows, err := r.pool.Query(ctx, `SELECT id FROM tenants ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("failed to scan tenants: %w", err)
	}
	return ids, nil
}

// CreateUser inserts a user. ID and CreatedAt are filled in.
func (r *Repository) CreateUser(ctx context.Context, u *model.User) error {
	if u.Role == "" {
		u.Role = model.RoleMember
	}
	err := r.pool.QueryRow(ctx, `
		INSERT INTO users (tenant_id, email, name, role) VALUES ($1, $2, $3, $4)
		RETURNING id, created_at
	`, u.TenantID, u.Email, u.Name, u.Role).Scan(&u.ID, &u.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrEmailExists
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

// GetUser retrieves a user inside a tenant.
func (r *Repository) GetUser(ctx context.Context, tenantID, id string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, email, name, role, created_at
		FROM users WHERE id = $1 AND tenant_id = $2
	`, id, tenantID).Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return &u, nil
}

// GetUserByEmail retrieves a user by email inside a tenant.
func (r *Repository) GetUserByEmail(ctx context.Context, tenantID, email string) (*model.User, error) {
	var u model.User
	err := r.pool.QueryRow(ctx, `
		SELECT id, tenant_id, email, name, role, created_at
		FROM users WHERE tenant_id = $1 AND lower(email) = lower($2)
	`, tenantID, email).Scan(&u.ID, &u.TenantID, &u.Email, &u.Name, &u.Role, &u.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to get user by email: %w", err)
	}
	return &u, nil
}

// GetOrCreateUser returns the tenant user with u.Email, creating it if needed.
func (r *Repository) GetOrCreateUser(ctx context.Context, u *model.User) (*model.User, error) {
	existing, err := r.GetUserByEmail(ctx, u.TenantID, u.Email)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, ErrUserNotFound) {
		return nil, err
	}

	if err := r.CreateUser(ctx, u); err != nil {
		// Lost a race with a concurrent create.
		if errors.Is(err, ErrEmailExists) {
			return r.GetUserByEmail(ctx, u.TenantID, u.Email)
		}
		return nil, err
	}
	return u, nil
}

// Package testutil holds helpers shared by integration tests.
package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/oklog/ulid/v2"
	"github.com/redis/go-redis/v9"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/migrations"
)

// RequireEnv returns an environment variable or skips the test if missing.
func RequireEnv(t testing.TB, key string) string {
	t.Helper()
	value := os.Getenv(key)
	if value == "" {
		t.Skipf("%s not set", key)
	}
	return value
}

const advisoryLockID int64 = 420420

// AcquireDBLock grabs a global advisory lock to serialize DB tests.
func AcquireDBLock(ctx context.Context, pool *pgxpool.Pool) (func() error, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquire connection: %w", err)
	}

	if _, err := conn.Exec(ctx, "SELECT pg_advisory_lock($1)", advisoryLockID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("acquire advisory lock: %w", err)
	}

	unlock := func() error {
		defer conn.Release()
		if _, err := conn.Exec(ctx, "SELECT pg_advisory_unlock($1)", advisoryLockID); err != nil {
			return fmt.Errorf("release advisory lock: %w", err)
		}
		return nil
	}

	return unlock, nil
}

// ResetSchema rolls back every migration and reapplies them, leaving
// empty tables.
func ResetSchema(ctx context.Context, pool *pgxpool.Pool) error {
	return migrations.Reset(ctx, pool, nil)
}

// FlushRedis clears the current Redis database.
func FlushRedis(ctx context.Context, client *redis.Client) error {
	return client.FlushDB(ctx).Err()
}

// ProjectRoot returns the project root directory.
func ProjectRoot() (string, error) {
	_, filename, _, ok := runtime.Caller(0)
	if !ok {
		return "", fmt.Errorf("failed to resolve testutil path")
	}
	root := filepath.Clean(filepath.Join(filepath.Dir(filename), "..", ".."))
	return root, nil
}

// ============================================================================
// Test Data Factories
// ============================================================================

// Creator is the subset of the repository the factories insert through.
type Creator interface {
	CreateTenant(ctx context.Context, t *model.Tenant) error
	CreateUser(ctx context.Context, u *model.User) error
	CreateSkill(ctx context.Context, s *model.Skill) error
}

// NewTestTenant inserts a tenant with a unique name.
func NewTestTenant(t testing.TB, ctx context.Context, c Creator) *model.Tenant {
	t.Helper()
	tenant := &model.Tenant{Name: UniqueID("tenant")}
	if err := c.CreateTenant(ctx, tenant); err != nil {
		t.Fatalf("create tenant: %v", err)
	}
	return tenant
}

// NewTestUser inserts a user of the tenant with the given role.
func NewTestUser(t testing.TB, ctx context.Context, c Creator, tenantID, role string) *model.User {
	t.Helper()
	u := &model.User{
		TenantID: tenantID,
		Email:    UniqueID("user") + "@example.com",
		Role:     role,
	}
	if err := c.CreateUser(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return u
}

// NewTestSkill inserts a published skill authored by authorID.
func NewTestSkill(t testing.TB, ctx context.Context, c Creator, tenantID, authorID, slug string) *model.Skill {
	t.Helper()
	content := "# " + slug + "\n\nDo the thing."
	sum := sha256.Sum256([]byte(content))
	s := &model.Skill{
		ID:          ulid.Make().String(),
		TenantID:    tenantID,
		AuthorID:    authorID,
		Slug:        slug,
		Name:        "Skill " + slug,
		Description: "Test skill " + slug,
		Category:    model.CategoryPrompt,
		Content:     content,
		ContentHash: hex.EncodeToString(sum[:]),
		Status:      model.SkillStatusPublished,
	}
	if err := c.CreateSkill(ctx, s); err != nil {
		t.Fatalf("create skill: %v", err)
	}
	return s
}

// NewTestAPIKey creates a test API key with sensible defaults.
func NewTestAPIKey(t testing.TB, tenantID, userID string) *model.APIKey {
	t.Helper()
	now := time.Now().UTC()
	return &model.APIKey{
		ID:            ulid.Make().String(),
		TenantID:      tenantID,
		UserID:        userID,
		KeyHash:       fmt.Sprintf("hash-%d", now.UnixNano()),
		KeyPrefix:     fmt.Sprintf("%06x", now.UnixNano()&0xffffff),
		Scopes:        []string{model.ScopeRead, model.ScopeWrite},
		RateLimitTier: model.TierFree,
		Name:          "Test Key",
		CreatedAt:     now,
	}
}

// UniqueID generates a unique ID for tests.
func UniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

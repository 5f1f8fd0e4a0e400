//go:build integration

package repository

import (
	"errors"
	"testing"
	"time"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/testutil"
)

// ============================================================================
// API Key Repository Integration Tests
// ============================================================================

func TestIntegrationAPIKeyRepository_CreateAndGet(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	user := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)

	key := testutil.NewTestAPIKey(t, tenant.ID, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	got, err := repo.GetAPIKeyByID(ctx, tenant.ID, key.ID)
	if err != nil {
		t.Fatalf("GetAPIKeyByID failed: %v", err)
	}
	if got.UserID != user.ID {
		t.Errorf("UserID mismatch: got %q, want %q", got.UserID, user.ID)
	}
	if got.KeyHash != key.KeyHash {
		t.Errorf("KeyHash mismatch: got %q, want %q", got.KeyHash, key.KeyHash)
	}
	if len(got.Scopes) != 2 {
		t.Errorf("Scopes mismatch: got %v", got.Scopes)
	}
}

func TestIntegrationAPIKeyRepository_GetByID_OtherTenant(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	other := testutil.NewTestTenant(t, ctx, repo)
	user := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)

	key := testutil.NewTestAPIKey(t, tenant.ID, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}

	_, err := repo.GetAPIKeyByID(ctx, other.ID, key.ID)
	if !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("Expected ErrAPIKeyNotFound, got: %v", err)
	}
}

func TestIntegrationAPIKeyRepository_GetByPrefix_ExcludesRevoked(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	user := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)

	active := testutil.NewTestAPIKey(t, tenant.ID, user.ID)
	active.KeyPrefix = "abc123"
	revoked := testutil.NewTestAPIKey(t, tenant.ID, user.ID)
	revoked.KeyPrefix = "abc123"

	for _, k := range []*model.APIKey{active, revoked} {
		if err := repo.CreateAPIKey(ctx, k); err != nil {
			t.Fatalf("CreateAPIKey failed: %v", err)
		}
	}
	if err := repo.RevokeAPIKey(ctx, tenant.ID, revoked.ID, time.Now()); err != nil {
		t.Fatalf("RevokeAPIKey failed: %v", err)
	}

	keys, err := repo.GetAPIKeysByPrefix(ctx, "abc123")
	if err != nil {
		t.Fatalf("GetAPIKeysByPrefix failed: %v", err)
	}
	if len(keys) != 1 || keys[0].ID != active.ID {
		t.Errorf("expected only the active key, got %d keys", len(keys))
	}
}

func TestIntegrationAPIKeyRepository_RevokeTwice(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	user := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)

	key := testutil.NewTestAPIKey(t, tenant.ID, user.ID)
	if err := repo.CreateAPIKey(ctx, key); err != nil {
		t.Fatalf("CreateAPIKey failed: %v", err)
	}
	if err := repo.RevokeAPIKey(ctx, tenant.ID, key.ID, time.Now()); err != nil {
		t.Fatalf("first revoke failed: %v", err)
	}
	if err := repo.RevokeAPIKey(ctx, tenant.ID, key.ID, time.Now()); !errors.Is(err, ErrAPIKeyNotFound) {
		t.Errorf("second revoke: expected ErrAPIKeyNotFound, got %v", err)
	}
}

func TestIntegrationAPIKeyRepository_ListByUser(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	alice := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	bob := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)

	for _, u := range []*model.User{alice, alice, bob} {
		if err := repo.CreateAPIKey(ctx, testutil.NewTestAPIKey(t, tenant.ID, u.ID)); err != nil {
			t.Fatalf("CreateAPIKey failed: %v", err)
		}
	}

	all, err := repo.ListAPIKeys(ctx, tenant.ID, "")
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(all) != 3 {
		t.Errorf("expected 3 tenant keys, got %d", len(all))
	}

	mine, err := repo.ListAPIKeys(ctx, tenant.ID, alice.ID)
	if err != nil {
		t.Fatalf("ListAPIKeys failed: %v", err)
	}
	if len(mine) != 2 {
		t.Errorf("expected 2 keys for alice, got %d", len(mine))
	}
}

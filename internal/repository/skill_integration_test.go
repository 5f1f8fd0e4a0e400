//go:build integration

package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/testutil"
)

func TestIntegrationSkillRepository_ResolveBySlugOrID(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	skill := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "code-review")

	for _, ref := range []string{skill.ID, skill.Slug} {
		got, err := repo.ResolveSkill(ctx, tenant.ID, ref)
		if err != nil {
			t.Fatalf("ResolveSkill(%q) failed: %v", ref, err)
		}
		if got.ID != skill.ID {
			t.Errorf("ResolveSkill(%q) = %s, want %s", ref, got.ID, skill.ID)
		}
	}

	other := testutil.NewTestTenant(t, ctx, repo)
	if _, err := repo.ResolveSkill(ctx, other.ID, skill.Slug); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("expected ErrSkillNotFound across tenants, got %v", err)
	}
}

func TestIntegrationSkillRepository_DuplicateSlug(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	first := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "dup")

	second := *first
	second.ID = ulid.Make().String()
	if err := repo.CreateSkill(ctx, &second); !errors.Is(err, ErrSlugExists) {
		t.Errorf("expected ErrSlugExists, got %v", err)
	}
}

func TestIntegrationSkillRepository_SoftDeleteInTx(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	skill := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "to-delete")

	err := repo.TxManager().Do(ctx, func(ctx context.Context) error {
		locked, err := repo.LockSkill(ctx, tenant.ID, skill.ID)
		if err != nil {
			return err
		}
		return repo.SoftDeleteSkill(ctx, locked.ID, time.Now())
	})
	if err != nil {
		t.Fatalf("delete tx failed: %v", err)
	}

	if _, err := repo.GetSkillByID(ctx, tenant.ID, skill.ID); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("expected deleted skill to be hidden, got %v", err)
	}
	if err := repo.SoftDeleteSkill(ctx, skill.ID, time.Now()); !errors.Is(err, ErrSkillNotFound) {
		t.Errorf("second delete: expected ErrSkillNotFound, got %v", err)
	}
}

func TestIntegrationSkillRepository_RollbackOnError(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	skill := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "rollback")

	boom := errors.New("boom")
	err := repo.TxManager().Do(ctx, func(ctx context.Context) error {
		if err := repo.SetSkillStatus(ctx, skill.ID, model.SkillStatusArchived); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	got, err := repo.GetSkillByID(ctx, tenant.ID, skill.ID)
	if err != nil {
		t.Fatalf("GetSkillByID failed: %v", err)
	}
	if got.Status != model.SkillStatusPublished {
		t.Errorf("status should be rolled back, got %s", got.Status)
	}
}

func TestIntegrationSkillRepository_ReviewsAndRating(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	reviewer := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	skill := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "rated")

	for _, rating := range []int{2, 5} {
		rv := &model.SkillReview{SkillID: skill.ID, UserID: reviewer.ID, Rating: rating}
		if err := repo.UpsertSkillReview(ctx, rv); err != nil {
			t.Fatalf("UpsertSkillReview failed: %v", err)
		}
	}
	if err := repo.RecomputeRating(ctx, skill.ID); err != nil {
		t.Fatalf("RecomputeRating failed: %v", err)
	}

	got, err := repo.GetSkillByID(ctx, tenant.ID, skill.ID)
	if err != nil {
		t.Fatalf("GetSkillByID failed: %v", err)
	}
	if got.RatingCount != 1 || got.RatingSum != 5 {
		t.Errorf("rating = %d/%d, want 5/1", got.RatingSum, got.RatingCount)
	}
}

func TestIntegrationUsageRepository_StatsAndCoUsage(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	u1 := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	u2 := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	a := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "a")
	b := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "b")

	now := time.Now().UTC()
	event := func(skillID, userID string, action model.UsageAction) *model.UsageEvent {
		id := ulid.Make().String()
		return &model.UsageEvent{
			ID: id, EventID: id, TenantID: tenant.ID, SkillID: skillID, UserID: userID,
			Action: action, Source: model.SourceAPI, OccurredAt: now,
		}
	}
	events := []*model.UsageEvent{
		event(a.ID, u1.ID, model.UsageInstall),
		event(a.ID, u2.ID, model.UsageUse),
		event(b.ID, u1.ID, model.UsageUse),
		event(b.ID, u2.ID, model.UsageInstall),
	}

	usage := NewUsageRepository(repo)
	if err := usage.BulkInsert(ctx, events); err != nil {
		t.Fatalf("BulkInsert failed: %v", err)
	}
	// Replays are ignored.
	if err := usage.BulkInsert(ctx, events); err != nil {
		t.Fatalf("BulkInsert replay failed: %v", err)
	}
	if err := usage.UpdateDailyStats(ctx, events); err != nil {
		t.Fatalf("UpdateDailyStats failed: %v", err)
	}
	if err := usage.RefreshInstallCounts(ctx, events); err != nil {
		t.Fatalf("RefreshInstallCounts failed: %v", err)
	}

	stats, err := usage.ExportDailyStats(ctx, model.ExportFilter{
		TenantID: tenant.ID, From: now.AddDate(0, 0, -1), To: now.AddDate(0, 0, 1),
	})
	if err != nil {
		t.Fatalf("ExportDailyStats failed: %v", err)
	}
	if len(stats) != 2 {
		t.Fatalf("expected 2 stat rows, got %d", len(stats))
	}
	if stats[0].Installs != 1 || stats[0].Uses != 1 || stats[0].UniqueUsers != 2 {
		t.Errorf("unexpected stats row: %+v", stats[0])
	}

	edges, err := usage.CoUsageEdges(ctx, tenant.ID, now.Add(-time.Hour), 1)
	if err != nil {
		t.Fatalf("CoUsageEdges failed: %v", err)
	}
	if len(edges) != 1 || edges[0].Weight != 2 {
		t.Errorf("expected one edge of weight 2, got %+v", edges)
	}

	issues, err := repo.InstallCountDrift(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("InstallCountDrift failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected no drift after refresh, got %+v", issues)
	}
}

func TestIntegrationIntegrity_ContentHashRepair(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	skill := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "hashed")

	if _, err := repo.Pool().Exec(ctx, `UPDATE skills SET content = content || '!' WHERE id = $1`, skill.ID); err != nil {
		t.Fatalf("tamper: %v", err)
	}

	issues, err := repo.ContentHashMismatches(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ContentHashMismatches failed: %v", err)
	}
	if len(issues) != 1 || issues[0].SkillID != skill.ID {
		t.Fatalf("expected one mismatch for %s, got %+v", skill.ID, issues)
	}

	if err := repo.RepairContentHash(ctx, skill.ID); err != nil {
		t.Fatalf("RepairContentHash failed: %v", err)
	}
	issues, err = repo.ContentHashMismatches(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ContentHashMismatches failed: %v", err)
	}
	if len(issues) != 0 {
		t.Errorf("expected no mismatch after repair, got %+v", issues)
	}
}

func TestIntegrationCommunities_Replace(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	a := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "a")
	b := testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "b")

	now := time.Now().UTC()
	if err := repo.ReplaceCommunities(ctx, tenant.ID, map[string]int{a.ID: 0, b.ID: 0}, now); err != nil {
		t.Fatalf("ReplaceCommunities failed: %v", err)
	}
	if err := repo.ReplaceCommunities(ctx, tenant.ID, map[string]int{a.ID: 1}, now); err != nil {
		t.Fatalf("ReplaceCommunities failed: %v", err)
	}

	got, err := repo.ListCommunities(ctx, tenant.ID)
	if err != nil {
		t.Fatalf("ListCommunities failed: %v", err)
	}
	if len(got) != 1 || got[0].SkillID != a.ID || got[0].CommunityID != 1 {
		t.Errorf("unexpected communities: %+v", got)
	}
}

func TestIntegrationSkillRepository_SearchTreatsWildcardsLiterally(t *testing.T) {
	ctx, repo := newTestEnv(t)
	tenant := testutil.NewTestTenant(t, ctx, repo)
	author := testutil.NewTestUser(t, ctx, repo, tenant.ID, model.RoleMember)
	testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "alpha")
	testutil.NewTestSkill(t, ctx, repo, tenant.ID, author.ID, "beta")

	for _, q := range []string{"%", "_", `\`} {
		got, err := repo.SearchSkills(ctx, SearchParams{TenantID: tenant.ID, Query: q})
		if err != nil {
			t.Fatalf("SearchSkills(%q) failed: %v", q, err)
		}
		if len(got) != 0 {
			t.Errorf("SearchSkills(%q) returned %d skills, want 0", q, len(got))
		}
	}

	got, err := repo.SearchSkills(ctx, SearchParams{TenantID: tenant.ID, Query: "alph"})
	if err != nil {
		t.Fatalf("SearchSkills failed: %v", err)
	}
	if len(got) != 1 || got[0].Slug != "alpha" {
		t.Errorf("expected substring match on alpha, got %d skills", len(got))
	}
}

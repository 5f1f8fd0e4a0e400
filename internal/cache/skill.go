package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/everyskill/relay/internal/model"
)

const (
	skillKeyPrefix    = "skill:"
	negCacheKeySuffix = ":neg"
	viewKeyPrefix     = "view:"

	// DefaultSkillTTL is the TTL for cached skill lookups.
	DefaultSkillTTL = 1 * time.Hour
	// NegativeCacheTTL is the TTL for not-found markers.
	NegativeCacheTTL = 2 * time.Minute
	// viewDedupeTTL outlives a UTC day so late-day views stay deduped.
	viewDedupeTTL = 26 * time.Hour
)

// ErrCacheMiss is returned when a skill is not cached.
var ErrCacheMiss = errors.New("cache miss")

func skillKey(tenantID, slug string) string {
	return skillKeyPrefix + tenantID + ":" + slug
}

func viewKey(skillID, userID string, day time.Time) string {
	return viewKeyPrefix + skillID + ":" + userID + ":" + day.UTC().Format("20060102")
}

// GetSkill retrieves a published skill lookup by tenant and slug.
func (c *Cache) GetSkill(ctx context.Context, tenantID, slug string) (*model.Skill, error) {
	var cached model.CachedSkill
	res := c.client.HGetAll(ctx, skillKey(tenantID, slug))
	if err := res.Err(); err != nil {
		return nil, fmt.Errorf("redis hgetall failed: %w", err)
	}
	if len(res.Val()) == 0 {
		return nil, ErrCacheMiss
	}
	if err := res.Scan(&cached); err != nil {
		return nil, ErrCacheMiss
	}
	return cached.ToSkill(slug), nil
}

// SetSkill caches a skill lookup and clears any not-found marker.
func (c *Cache) SetSkill(ctx context.Context, s *model.Skill) error {
	key := skillKey(s.TenantID, s.Slug)

	pipe := c.client.Pipeline()
	pipe.HSet(ctx, key, s.ToCachedSkill())
	pipe.Expire(ctx, key, DefaultSkillTTL)
	pipe.Del(ctx, key+negCacheKeySuffix)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to cache skill: %w", err)
	}
	return nil
}

// DeleteSkill evicts a skill lookup and its not-found marker.
func (c *Cache) DeleteSkill(ctx context.Context, tenantID, slug string) error {
	key := skillKey(tenantID, slug)
	if err := c.client.Del(ctx, key, key+negCacheKeySuffix).Err(); err != nil {
		return fmt.Errorf("failed to delete skill from cache: %w", err)
	}
	return nil
}

// IsNegativelyCached reports whether a slug was recently not found.
func (c *Cache) IsNegativelyCached(ctx context.Context, tenantID, slug string) (bool, error) {
	n, err := c.client.Exists(ctx, skillKey(tenantID, slug)+negCacheKeySuffix).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check negative cache: %w", err)
	}
	return n > 0, nil
}

// SetNegativeCache marks a slug as not found.
func (c *Cache) SetNegativeCache(ctx context.Context, tenantID, slug string) error {
	if err := c.client.SetEx(ctx, skillKey(tenantID, slug)+negCacheKeySuffix, "", NegativeCacheTTL).Err(); err != nil {
		return fmt.Errorf("failed to set negative cache: %w", err)
	}
	return nil
}

// MarkViewed records that userID viewed skillID on the UTC day of at.
// It returns true only for the first view of that day.
func (c *Cache) MarkViewed(ctx context.Context, skillID, userID string, at time.Time) (bool, error) {
	first, err := c.client.SetNX(ctx, viewKey(skillID, userID, at), 1, viewDedupeTTL).Result()
	if err != nil {
		return false, fmt.Errorf("failed to mark view: %w", err)
	}
	return first, nil
}

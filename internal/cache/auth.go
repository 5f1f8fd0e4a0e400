package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/everyskill/relay/internal/model"
)

const (
	authCachePrefix = "auth:ctx:"
	// authKeyIndexPrefix holds, per API key id, the set of cache entries
	// derived from it so revocation can evict them all.
	authKeyIndexPrefix = "auth:key:"
	authCacheTTL       = 5 * time.Minute
)

// GetAuthContext retrieves a cached auth context by cache key.
// Returns nil on miss; corrupted entries are treated as misses.
func (c *Cache) GetAuthContext(ctx context.Context, cacheKey string) (*model.AuthContext, error) {
	data, err := c.client.Get(ctx, authCachePrefix+cacheKey).Bytes()
	if err != nil {
		return nil, nil //nolint:nilerr
	}

	var auth model.AuthContext
	if err := json.Unmarshal(data, &auth); err != nil {
		return nil, nil //nolint:nilerr
	}
	if !auth.ExpiresAt.IsZero() && !time.Now().Before(auth.ExpiresAt) {
		c.client.Del(ctx, authCachePrefix+cacheKey)
		return nil, nil
	}
	return &auth, nil
}

// SetAuthContext caches an auth context and indexes it under its key id.
func (c *Cache) SetAuthContext(ctx context.Context, cacheKey string, auth *model.AuthContext) error {
	data, err := json.Marshal(auth)
	if err != nil {
		return fmt.Errorf("marshal auth context: %w", err)
	}

	ttl := authCacheTTL
	if !auth.ExpiresAt.IsZero() {
		if left := time.Until(auth.ExpiresAt); left < ttl {
			ttl = left
		}
		if ttl <= 0 {
			return nil
		}
	}

	index := authKeyIndexPrefix + auth.KeyID
	pipe := c.client.TxPipeline()
	pipe.Set(ctx, authCachePrefix+cacheKey, data, ttl)
	pipe.SAdd(ctx, index, cacheKey)
	pipe.Expire(ctx, index, authCacheTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("cache auth context: %w", err)
	}
	return nil
}

// DeleteAuthContext removes a single cached auth context.
func (c *Cache) DeleteAuthContext(ctx context.Context, cacheKey string) error {
	return c.client.Del(ctx, authCachePrefix+cacheKey).Err()
}

// InvalidateKey evicts every cached auth context derived from an API key.
func (c *Cache) InvalidateKey(ctx context.Context, keyID string) error {
	index := authKeyIndexPrefix + keyID
	members, err := c.client.SMembers(ctx, index).Result()
	if err != nil {
		return fmt.Errorf("read auth index: %w", err)
	}

	keys := make([]string, 0, len(members)+1)
	for _, m := range members {
		keys = append(keys, authCachePrefix+m)
	}
	keys = append(keys, index)
	return c.client.Del(ctx, keys...).Err()
}

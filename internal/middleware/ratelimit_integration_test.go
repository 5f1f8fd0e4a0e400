//go:build integration

package middleware

import (
	"context"
	"os"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/everyskill/relay/internal/cache"
)

// TestRateLimitConcurrency verifies the Redis token bucket under concurrent load.
func TestRateLimitConcurrency(t *testing.T) {
	redisURL := os.Getenv("TEST_REDIS_URL")
	if redisURL == "" {
		t.Skip("TEST_REDIS_URL not set")
	}

	ctx := context.Background()
	cacheClient, err := cache.New(ctx, redisURL)
	if err != nil {
		t.Skipf("Skipping integration test: Redis not available: %v", err)
	}
	defer cacheClient.Close()

	_ = cacheClient.Client().Del(ctx, "ratelimit:apikey:test-key-concurrent").Err()

	keyID := "test-key-concurrent"
	rpm := 10
	burst := 5

	var allowed, rejected int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				result, err := cacheClient.CheckAPIRateLimit(ctx, keyID, rpm, burst)
				if err != nil {
					t.Errorf("CheckAPIRateLimit error: %v", err)
					return
				}
				if result.Allowed {
					atomic.AddInt64(&allowed, 1)
				} else {
					atomic.AddInt64(&rejected, 1)
				}
			}
		}()
	}
	wg.Wait()

	t.Logf("Concurrency test: %d allowed, %d rejected", allowed, rejected)

	// 60 requests against a bucket of 5 refilling at 10/min.
	if allowed > int64(burst+1) {
		t.Errorf("Too many requests allowed: %d (expected <= %d)", allowed, burst+1)
	}
	if rejected == 0 {
		t.Error("Expected some requests to be rejected")
	}
}

package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/everyskill/relay/internal/auth"
	"github.com/everyskill/relay/internal/cache"
	"github.com/everyskill/relay/internal/metrics"
	"github.com/everyskill/relay/internal/model"
	"github.com/everyskill/relay/internal/ratelimit"
)

// APILimiter is the cluster-wide token bucket for API keys.
type APILimiter interface {
	CheckAPIRateLimit(ctx context.Context, keyID string, ratePerMinute, burst int) (*cache.RateLimitResult, error)
}

// RateLimitConfig holds configuration for rate limiting middleware.
type RateLimitConfig struct {
	Logger  *slog.Logger
	Metrics metrics.Recorder
	// API rate limiting (per API key, Redis)
	APIEnabled bool
	APILimiter APILimiter
	// Per-IP limiting for unauthenticated routes (in memory)
	IPEnabled bool
	// Per-user limiting for session routes such as search (in memory)
	UserEnabled bool
}

// RateLimitAPI returns middleware that rate limits API requests per API key.
// Must be applied after Auth middleware.
func RateLimitAPI(cfg RateLimitConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !cfg.APIEnabled || cfg.APILimiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			authCtx := auth.AuthFromContext(r.Context())
			if authCtx == nil {
				next.ServeHTTP(w, r)
				return
			}

			tierConfig, ok := model.TierConfigs[authCtx.RateLimitTier]
			if !ok {
				tierConfig = model.TierConfigs[model.TierFree]
			}
			if tierConfig.RequestsPerMinute == 0 {
				next.ServeHTTP(w, r)
				return
			}

			result, err := cfg.APILimiter.CheckAPIRateLimit(
				r.Context(),
				authCtx.KeyID,
				tierConfig.RequestsPerMinute,
				tierConfig.Burst,
			)
			if err != nil {
				cfg.Logger.Error("rate limit check failed",
					slog.String("error", err.Error()),
					slog.String("key_id", authCtx.KeyID),
				)
				// Fail open - allow request
				next.ServeHTTP(w, r)
				return
			}

			setRateLimitHeaders(w, tierConfig.RequestsPerMinute, result.Remaining, result.ResetAt)

			if !result.Allowed {
				rejectRateLimited(w, r, cfg, "api", result.RetryAfter,
					slog.String("key_id", authCtx.KeyID))
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// RateLimitIP returns middleware that limits requests per client IP with
// the process-local sliding window.
func RateLimitIP(cfg RateLimitConfig, limiter *ratelimit.SlidingWindow) func(http.Handler) http.Handler {
	return slidingLimit(cfg, cfg.IPEnabled, limiter, "ip", func(r *http.Request) string {
		return clientIP(r)
	})
}

// RateLimitUser limits requests per session user. Must be applied after
// Session; requests without a session fall back to the client IP.
func RateLimitUser(cfg RateLimitConfig, limiter *ratelimit.SlidingWindow) func(http.Handler) http.Handler {
	return slidingLimit(cfg, cfg.UserEnabled, limiter, "user", func(r *http.Request) string {
		if sess := auth.SessionFromContext(r.Context()); sess != nil {
			return "user:" + sess.UserID
		}
		return "ip:" + clientIP(r)
	})
}

func slidingLimit(cfg RateLimitConfig, enabled bool, limiter *ratelimit.SlidingWindow, kind string, keyFn func(*http.Request) string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !enabled || limiter == nil {
				next.ServeHTTP(w, r)
				return
			}

			key := keyFn(r)
			result := limiter.Check(key)
			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				rejectRateLimited(w, r, cfg, kind, result.RetryAfter, slog.String("key", key))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func rejectRateLimited(w http.ResponseWriter, r *http.Request, cfg RateLimitConfig, kind string, retryAfter time.Duration, attr slog.Attr) {
	if cfg.Metrics != nil {
		cfg.Metrics.IncRateLimited(kind)
	}
	if cfg.Logger != nil {
		cfg.Logger.Warn("rate limit exceeded",
			slog.String("type", kind),
			attr,
			slog.String("ip", clientIP(r)),
			slog.String("endpoint", r.Method+" "+r.URL.Path),
			slog.Int64("retry_after_seconds", int64(retryAfter.Seconds())),
			slog.String("request_id", GetRequestID(r.Context())),
		)
	}

	seconds := retryAfterSeconds(retryAfter)
	w.Header().Set("Retry-After", strconv.Itoa(seconds))
	writeRateLimitError(w, r, seconds)
}

// retryAfterSeconds rounds up so clients never retry too early.
func retryAfterSeconds(d time.Duration) int {
	s := int((d + time.Second - 1) / time.Second)
	if s < 1 {
		s = 1
	}
	return s
}

// setRateLimitHeaders sets standard rate limit response headers.
func setRateLimitHeaders(w http.ResponseWriter, limit int, remaining int64, resetAt time.Time) {
	if limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.FormatInt(remaining, 10))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(resetAt.Unix(), 10))
	}
}

// writeRateLimitError writes a 429 Too Many Requests response.
func writeRateLimitError(w http.ResponseWriter, r *http.Request, retryAfterSeconds int) {
	writeError(w, r, http.StatusTooManyRequests, "RATE_LIMITED",
		fmt.Sprintf("Rate limit exceeded. Retry after %d seconds.", retryAfterSeconds))
}

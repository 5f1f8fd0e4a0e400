package webhook

import (
	"math/rand/v2"
	"time"
)

// Backoff schedule after each failed attempt: 1m, 5m, 30m, 2h, 12h.
var retryDelays = []time.Duration{
	1 * time.Minute,
	5 * time.Minute,
	30 * time.Minute,
	2 * time.Hour,
	12 * time.Hour,
}

const (
	// DefaultMaxAttempts is the default maximum delivery attempts.
	DefaultMaxAttempts = 5

	// JitterFactor is the ±fraction of jitter applied to delays.
	JitterFactor = 0.2
)

// NextRetryDelay returns the backoff after a failed attempt, with jitter.
// attemptCount is 0-indexed.
func NextRetryDelay(attemptCount int) time.Duration {
	attemptCount = max(0, min(attemptCount, len(retryDelays)-1))
	base := retryDelays[attemptCount]

	jitter := (rand.Float64()*2 - 1) * float64(base) * JitterFactor
	return time.Duration(float64(base) + jitter)
}

// NextRetryAt calculates the time for next retry attempt.
func NextRetryAt(now time.Time, attemptCount int) time.Time {
	return now.Add(NextRetryDelay(attemptCount))
}

// IsExhausted returns true if max attempts have been reached.
func IsExhausted(attemptCount, maxAttempts int) bool {
	return attemptCount >= maxAttempts
}

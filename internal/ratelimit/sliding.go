// Package ratelimit provides a process-local sliding-window limiter.
//
// State lives in memory and resets on restart. Each replica limits on its
// own; use the Redis token bucket in package cache for cluster-wide limits.
package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Result describes the outcome of a Check.
type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration // zero when allowed
}

// Option configures a SlidingWindow.
type Option func(*SlidingWindow)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *SlidingWindow) { s.now = now }
}

// SlidingWindow allows at most limit events per key in any window of the
// configured length. Safe for concurrent use.
type SlidingWindow struct {
	mu       sync.Mutex
	requests map[string][]time.Time
	limit    int
	window   time.Duration
	now      func() time.Time
}

// New creates a limiter allowing limit events per window per key.
func New(limit int, window time.Duration, opts ...Option) *SlidingWindow {
	s := &SlidingWindow{
		requests: make(map[string][]time.Time),
		limit:    limit,
		window:   window,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Allow records an event for key and reports whether it is within the limit.
func (s *SlidingWindow) Allow(key string) bool {
	return s.Check(key).Allowed
}

// Check is Allow with remaining-quota and retry metadata.
func (s *SlidingWindow) Check(key string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	valid := prune(s.requests[key], now.Add(-s.window))

	if len(valid) < s.limit {
		valid = append(valid, now)
		s.requests[key] = valid
		return Result{Allowed: true, Limit: s.limit, Remaining: s.limit - len(valid)}
	}

	if len(valid) == 0 {
		delete(s.requests, key)
		return Result{Limit: s.limit, RetryAfter: s.window}
	}
	s.requests[key] = valid
	return Result{
		Limit:      s.limit,
		RetryAfter: valid[0].Add(s.window).Sub(now),
	}
}

// Sweep drops keys with no events inside the window.
func (s *SlidingWindow) Sweep() {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.window)
	for key, times := range s.requests {
		valid := prune(times, cutoff)
		if len(valid) == 0 {
			delete(s.requests, key)
		} else {
			s.requests[key] = valid
		}
	}
}

// Len returns the number of tracked keys.
func (s *SlidingWindow) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// Run sweeps every interval until ctx is done.
func (s *SlidingWindow) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep()
		}
	}
}

// prune returns the timestamps strictly after cutoff. Timestamps are stored
// in arrival order, so the result is a suffix of times.
func prune(times []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(times) && !times[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return times
	}
	return append(times[:0:0], times[i:]...)
}

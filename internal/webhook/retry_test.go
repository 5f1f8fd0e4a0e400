package webhook

import (
	"testing"
	"time"
)

func TestNextRetryDelay(t *testing.T) {
	tests := []struct {
		attempt  int
		minDelay time.Duration
		maxDelay time.Duration
	}{
		{0, 48 * time.Second, 72 * time.Second},
		{1, 4 * time.Minute, 6 * time.Minute},
		{2, 24 * time.Minute, 36 * time.Minute},
		{3, 96 * time.Minute, 144 * time.Minute},
		{4, 576 * time.Minute, 864 * time.Minute},
		{10, 576 * time.Minute, 864 * time.Minute}, // beyond max stays at last
		{-1, 48 * time.Second, 72 * time.Second},   // negative uses first
	}

	for _, tt := range tests {
		for i := 0; i < 20; i++ {
			delay := NextRetryDelay(tt.attempt)
			if delay < tt.minDelay || delay > tt.maxDelay {
				t.Errorf("NextRetryDelay(%d) = %v, want between %v and %v",
					tt.attempt, delay, tt.minDelay, tt.maxDelay)
			}
		}
	}
}

func TestNextRetryAt(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	at := NextRetryAt(now, 0)
	if at.Before(now.Add(48*time.Second)) || at.After(now.Add(72*time.Second)) {
		t.Errorf("NextRetryAt = %v, out of range", at)
	}
}

func TestIsExhausted(t *testing.T) {
	tests := []struct {
		attempt     int
		maxAttempts int
		want        bool
	}{
		{0, 5, false},
		{4, 5, false},
		{5, 5, true},
		{6, 5, true},
	}

	for _, tt := range tests {
		if got := IsExhausted(tt.attempt, tt.maxAttempts); got != tt.want {
			t.Errorf("IsExhausted(%d, %d) = %v, want %v", tt.attempt, tt.maxAttempts, got, tt.want)
		}
	}
}

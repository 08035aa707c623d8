package ratelimit

import (
	"testing"
	"time"

	"adwatch/pkg/config"
)

func testPolicy() *JitteredPolicy {
	return NewJitteredPolicy(&config.ScraperConfig{
		MinCompetitorDelay: 30 * time.Second,
		MaxCompetitorDelay: 60 * time.Second,
		MinScrollDelay:     2 * time.Second,
		MaxScrollDelay:     5 * time.Second,
		RetryBaseDelay:     5 * time.Second,
		MaxRetries:         3,
	})
}

func TestCompetitorDelayWithinBounds(t *testing.T) {
	p := testPolicy()
	for i := 0; i < 100; i++ {
		d := p.CompetitorDelay()
		if d < 30*time.Second || d > 60*time.Second {
			t.Fatalf("competitor delay %v outside [30s, 60s]", d)
		}
	}
}

func TestScrollDelayWithinBounds(t *testing.T) {
	p := testPolicy()
	for i := 0; i < 100; i++ {
		d := p.ScrollDelay()
		if d < 2*time.Second || d > 5*time.Second {
			t.Fatalf("scroll delay %v outside [2s, 5s]", d)
		}
	}
}

func TestDelaysAreJittered(t *testing.T) {
	p := testPolicy()
	seen := make(map[time.Duration]bool)
	for i := 0; i < 20; i++ {
		seen[p.CompetitorDelay()] = true
	}
	if len(seen) < 2 {
		t.Error("expected varying delays, got a fixed cadence")
	}
}

func TestRetryDelayGrows(t *testing.T) {
	p := testPolicy()

	// With +/-20% jitter, attempt n lives in [0.8, 1.2] * base * 2^(n-1).
	tests := []struct {
		attempt int
		min     time.Duration
		max     time.Duration
	}{
		{1, 4 * time.Second, 6 * time.Second},
		{2, 8 * time.Second, 12 * time.Second},
		{3, 16 * time.Second, 24 * time.Second},
	}
	for _, tt := range tests {
		d := p.RetryDelay(tt.attempt)
		if d < tt.min || d > tt.max {
			t.Errorf("attempt %d: delay %v outside [%v, %v]", tt.attempt, d, tt.min, tt.max)
		}
	}

	if p.RetryDelay(0) != 0 {
		t.Error("attempt 0 should have no delay")
	}
}

func TestMaxRetries(t *testing.T) {
	if got := testPolicy().MaxRetries(); got != 3 {
		t.Errorf("expected 3 retries, got %d", got)
	}
}

func TestDegenerateBounds(t *testing.T) {
	p := NewJitteredPolicy(&config.ScraperConfig{
		MinCompetitorDelay: 10 * time.Second,
		MaxCompetitorDelay: 10 * time.Second,
	})
	if d := p.CompetitorDelay(); d != 10*time.Second {
		t.Errorf("equal bounds should return the bound, got %v", d)
	}
}

package ratelimit

import (
	"math/rand"
	"sync"
	"time"

	"adwatch/pkg/config"
)

// Policy decides the pacing between scraping operations. Every delay is
// drawn fresh with jitter; a fixed cadence is a detectable scraping pattern.
type Policy interface {
	// CompetitorDelay is the pause between two competitors' scrapes.
	CompetitorDelay() time.Duration
	// ScrollDelay is the pause between incremental fetch steps within one
	// competitor's page.
	ScrollDelay() time.Duration
	// RetryDelay is the backoff before retry attempt n (1-based).
	RetryDelay(attempt int) time.Duration
	// MaxRetries is the number of fetch attempts allowed per competitor.
	MaxRetries() int
}

// JitteredPolicy draws delays uniformly from configured [min, max] bounds
// and backs retries off exponentially from a base delay.
type JitteredPolicy struct {
	minCompetitor time.Duration
	maxCompetitor time.Duration
	minScroll     time.Duration
	maxScroll     time.Duration
	retryBase     time.Duration
	maxRetries    int

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJitteredPolicy creates a policy from the scraper configuration.
func NewJitteredPolicy(cfg *config.ScraperConfig) *JitteredPolicy {
	return &JitteredPolicy{
		minCompetitor: cfg.MinCompetitorDelay,
		maxCompetitor: cfg.MaxCompetitorDelay,
		minScroll:     cfg.MinScrollDelay,
		maxScroll:     cfg.MaxScrollDelay,
		retryBase:     cfg.RetryBaseDelay,
		maxRetries:    cfg.MaxRetries,
		rng:           rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

func (p *JitteredPolicy) CompetitorDelay() time.Duration {
	return p.uniform(p.minCompetitor, p.maxCompetitor)
}

func (p *JitteredPolicy) ScrollDelay() time.Duration {
	return p.uniform(p.minScroll, p.maxScroll)
}

// RetryDelay doubles the base delay per attempt and jitters the result by
// +/-20% so retries from different competitors never line up.
func (p *JitteredPolicy) RetryDelay(attempt int) time.Duration {
	if attempt <= 0 {
		return 0
	}
	delay := p.retryBase << uint(attempt-1)
	jitter := time.Duration(float64(delay) * 0.2)
	return p.uniform(delay-jitter, delay+jitter)
}

func (p *JitteredPolicy) MaxRetries() int {
	return p.maxRetries
}

func (p *JitteredPolicy) uniform(min, max time.Duration) time.Duration {
	if max <= min {
		return min
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return min + time.Duration(p.rng.Int63n(int64(max-min)))
}

// Package ratelimit implements the token bucket shared by every outbound peer request.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/arcgis-harvester/internal/metrics"
)

// Config holds rate limiter configuration.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter gates requests through one bucket regardless of how many workers call it.
type Limiter struct {
	bucket *rate.Limiter
}

// New creates a new Limiter. A non-positive RPS disables limiting.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	burst := cfg.Burst
	if burst <= 0 {
		burst = 1
	}
	return &Limiter{bucket: rate.NewLimiter(r, burst)}
}

// Wait blocks until a token is available, respecting the context. The URL only labels
// the delay metric.
func (l *Limiter) Wait(ctx context.Context, url string) error {
	start := time.Now()
	if err := l.bucket.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		metrics.ObserveRateLimitDelay(metrics.SanitizeHost(url), waited)
	}
	return nil
}

// Limit reports the configured rate.
func (l *Limiter) Limit() rate.Limit {
	return l.bucket.Limit()
}

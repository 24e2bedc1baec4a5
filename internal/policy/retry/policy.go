// Package retry implements the jittered exponential backoff used for peer requests.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/JakeFAU/arcgis-harvester/internal/harvest"
)

// Config tunes the policy. Zero values fall back to defaults.
type Config struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	// AttemptTimeout bounds each attempt. Zero disables the per-attempt deadline.
	AttemptTimeout time.Duration
}

// ExponentialPolicy retries timeouts and transient peer failures with jittered backoff.
type ExponentialPolicy struct {
	maxAttempts    int
	baseDelay      time.Duration
	maxDelay       time.Duration
	attemptTimeout time.Duration
}

// New builds a policy with sane defaults.
func New(cfg Config) *ExponentialPolicy {
	p := &ExponentialPolicy{
		maxAttempts:    3,
		baseDelay:      250 * time.Millisecond,
		maxDelay:       5 * time.Second,
		attemptTimeout: cfg.AttemptTimeout,
	}
	if cfg.MaxAttempts > 0 {
		p.maxAttempts = cfg.MaxAttempts
	}
	if cfg.BaseDelay > 0 {
		p.baseDelay = cfg.BaseDelay
	}
	if cfg.MaxDelay > 0 {
		p.maxDelay = cfg.MaxDelay
	}
	return p
}

// MaxAttempts reports the total attempt budget.
func (p *ExponentialPolicy) MaxAttempts() int {
	return p.maxAttempts
}

// ShouldRetry decides whether the error is retryable. attempt is 1-based.
func (p *ExponentialPolicy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.maxAttempts {
		return false
	}
	return Retryable(err)
}

// Retryable classifies errors independent of the attempt budget.
func Retryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	if IsTimeout(err) {
		return true
	}
	var statusErr *harvest.StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	var peerErr *harvest.PeerError
	if errors.As(err, &peerErr) {
		return peerErr.Code == 429 || peerErr.Code >= 500
	}
	return false
}

// IsTimeout reports whether err is a deadline or network timeout.
func IsTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// Backoff returns the wait duration before the next attempt.
func (p *ExponentialPolicy) Backoff(attempt int) time.Duration {
	delay := float64(p.baseDelay) * math.Pow(2, float64(attempt))
	if delay > float64(p.maxDelay) {
		delay = float64(p.maxDelay)
	}
	jitter := p.randomJitter(time.Duration(delay) / 2)
	return time.Duration(delay/2) + jitter
}

func (p *ExponentialPolicy) randomJitter(limit time.Duration) time.Duration {
	if limit <= 0 {
		return 0
	}
	bound := big.NewInt(int64(limit))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return limit / 2
	}
	return time.Duration(n.Int64())
}

// Do runs op until it succeeds, the budget runs out, or ctx ends. Each attempt gets its
// own deadline. onRetry, if set, is called before every backoff sleep. When the budget
// is exhausted on a timeout the returned error wraps harvest.ErrTimeoutExceeded.
func (p *ExponentialPolicy) Do(
	ctx context.Context,
	onRetry func(attempt int, err error),
	op func(ctx context.Context) error,
) error {
	var lastErr error
	for attempt := 1; ; attempt++ {
		lastErr = p.attempt(ctx, op)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("attempt %d: %w", attempt, ctx.Err())
		}
		if !p.ShouldRetry(lastErr, attempt) {
			if IsTimeout(lastErr) {
				return fmt.Errorf("%w after %d attempts: %w", harvest.ErrTimeoutExceeded, attempt, lastErr)
			}
			return lastErr
		}
		if onRetry != nil {
			onRetry(attempt, lastErr)
		}
		timer := time.NewTimer(p.Backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("backoff interrupted: %w", ctx.Err())
		case <-timer.C:
		}
	}
}

func (p *ExponentialPolicy) attempt(ctx context.Context, op func(ctx context.Context) error) error {
	if p.attemptTimeout <= 0 {
		return op(ctx)
	}
	attemptCtx, cancel := context.WithTimeout(ctx, p.attemptTimeout)
	defer cancel()
	return op(attemptCtx)
}

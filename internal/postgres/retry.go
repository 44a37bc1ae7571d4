package postgres

import (
	"context"
	"time"

	"github.com/sethvargo/go-retry"
)

// RetryConfig controls the backoff applied to transient database failures.
type RetryConfig struct {
	MaxAttempts uint64
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the worker's stock tuning: three additional
// attempts starting at 100ms, capped at 5s per wait.
var DefaultRetryConfig = RetryConfig{
	MaxAttempts: 3,
	BaseDelay:   100 * time.Millisecond,
	MaxDelay:    5 * time.Second,
}

// WithRetry runs fn, retrying with exponential backoff and jitter when the
// returned error classifies as transient. Integrity violations and other
// permanent errors are returned immediately.
func WithRetry(ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(cfg.BaseDelay)
	b = retry.WithJitterPercent(25, b)
	b = retry.WithCappedDuration(cfg.MaxDelay, b)
	b = retry.WithMaxRetries(cfg.MaxAttempts, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		if err := fn(ctx); err != nil {
			if IsTransient(err) {
				return retry.RetryableError(err)
			}
			return err
		}
		return nil
	})
}

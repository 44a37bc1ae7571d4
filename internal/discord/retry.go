package discord

import (
	"context"
	"errors"
	"time"

	"github.com/sethvargo/go-retry"
)

const (
	retryMaxAttempts = 3
	retryBaseDelay   = time.Second
	retryCappedDelay = 30 * time.Second
	retryJitterPct   = 25
)

// WithRetry runs fn, retrying rate-limited and server-error responses. A 429
// carrying Retry-After waits exactly that long before the next attempt;
// everything else transient backs off exponentially with jitter. Forbidden and
// NotFound are returned immediately.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	b := retry.NewExponential(retryBaseDelay)
	b = retry.WithJitterPercent(retryJitterPct, b)
	b = retry.WithCappedDuration(retryCappedDelay, b)
	b = retry.WithMaxRetries(retryMaxAttempts, b)

	return retry.Do(ctx, b, func(ctx context.Context) error {
		err := fn(ctx)
		if err == nil {
			return nil
		}

		var httpErr *HTTPError
		if errors.As(err, &httpErr) {
			// Retry-After takes precedence over the computed backoff: wait it
			// out here, then let the retry loop re-run immediately after its
			// own (shorter) delay.
			if httpErr.Status == 429 && httpErr.RetryAfter > 0 {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(httpErr.RetryAfter):
				}
				return retry.RetryableError(err)
			}
			if IsTransient(err) {
				return retry.RetryableError(err)
			}
		}
		return err
	})
}

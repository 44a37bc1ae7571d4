package discord

import (
	"errors"
	"fmt"
	"time"
)

// Permanent platform error kinds. Neither is ever retried.
var (
	ErrForbidden = errors.New("discord: forbidden")
	ErrNotFound  = errors.New("discord: not found")
)

// HTTPError carries a non-2xx platform response. RetryAfter is populated from
// the rate-limit response when present.
type HTTPError struct {
	Status     int
	RetryAfter time.Duration
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("discord: http %d: %s", e.Status, e.Body)
}

// IsTransient reports whether err is a rate limit or server-side failure worth
// retrying.
func IsTransient(err error) bool {
	var httpErr *HTTPError
	if errors.As(err, &httpErr) {
		return httpErr.Status == 429 || httpErr.Status >= 500
	}
	return false
}

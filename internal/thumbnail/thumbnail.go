// Package thumbnail stores generated preview images and the retry state for
// clips whose generation failed.
package thumbnail

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a thumbnail row does not exist.
var ErrNotFound = errors.New("thumbnail not found")

// Size types for the two rendered variants.
const (
	SizeSmall = "small"
	SizeLarge = "large"
)

// Thumbnail is one rendered preview image for a clip.
type Thumbnail struct {
	ID          string
	ClipID      string
	SizeType    string
	StoragePath string
	Width       int
	Height      int
	FileSize    int64
	MIMEType    string
	CreatedAt   time.Time
}

// FailedThumbnail tracks a clip whose generation keeps failing. One row per
// clip; repeated failures bump the retry count and push the next attempt out.
type FailedThumbnail struct {
	ID              string
	ClipID          string
	ErrorMessage    string
	RetryCount      int
	LastAttemptedAt time.Time
	NextRetryAt     time.Time
	CreatedAt       time.Time
}

// backoffSchedule holds the wait before each retry attempt. Counts past the
// end of the schedule stay at the final step.
var backoffSchedule = []time.Duration{
	5 * time.Minute,
	15 * time.Minute,
	time.Hour,
	4 * time.Hour,
	12 * time.Hour,
	24 * time.Hour,
}

// Backoff returns the delay before the next attempt given how many failures
// a clip has accumulated.
func Backoff(retryCount int) time.Duration {
	if retryCount < 1 {
		retryCount = 1
	}
	if retryCount > len(backoffSchedule) {
		retryCount = len(backoffSchedule)
	}
	return backoffSchedule[retryCount-1]
}

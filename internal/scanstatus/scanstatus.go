// Package scanstatus tracks the per-channel history-walk state machine.
package scanstatus

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a channel has no scan status row.
var ErrNotFound = errors.New("scan status not found")

// Status is one state of the per-channel scan lifecycle.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

// CanTransitionTo reports whether moving from s to next is a legal step within
// a single scan. Re-enqueueing a finished channel goes through MarkQueued,
// which is a new scan rather than a transition.
func (s Status) CanTransitionTo(next Status) bool {
	switch s {
	case StatusQueued:
		return next == StatusRunning || next == StatusCancelled
	case StatusRunning:
		return next == StatusSucceeded || next == StatusFailed || next == StatusCancelled
	default:
		return false
	}
}

// Terminal reports whether the status ends a scan.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusFailed || s == StatusCancelled
}

// ScanStatus is the one-to-one scan record for a channel. forward_message_id
// is the newest id ever observed and backward_message_id the oldest; on the
// first successful page both are set together.
type ScanStatus struct {
	ChannelID            string
	GuildID              string
	Status               Status
	ForwardMessageID     *string
	BackwardMessageID    *string
	MessageCount         int64
	TotalMessagesScanned int64
	ErrorMessage         *string
	UpdatedAt            time.Time
}

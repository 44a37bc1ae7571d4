// Package message stores archived platform messages.
package message

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a message does not exist.
var ErrNotFound = errors.New("message not found")

// Message is one archived platform message. Content may be empty when the
// guild disables content retention.
type Message struct {
	ID        string
	GuildID   string
	ChannelID string
	AuthorID  string
	Content   string
	Timestamp time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
	DeletedAt *time.Time
}

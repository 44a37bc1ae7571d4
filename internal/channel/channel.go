// Package channel stores the channels discovered inside each guild.
package channel

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a channel does not exist or is soft-deleted.
var ErrNotFound = errors.New("channel not found")

// Channel mirrors a platform channel. Scanning a channel requires the guild
// flag, the channel flag, and a non-category type.
type Channel struct {
	ID            string
	GuildID       string
	Name          string
	Type          string
	Topic         *string
	Position      int
	ParentID      *string
	NSFW          bool
	ScanEnabled   bool
	Settings      map[string]any
	PurgeCooldown *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
	DeletedAt     *time.Time
}

// Snapshot is the discovery payload for an upsert.
type Snapshot struct {
	ID       string
	Name     string
	Type     string
	Topic    *string
	Position int
	ParentID *string
	NSFW     bool
}

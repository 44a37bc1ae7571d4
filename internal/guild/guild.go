// Package guild stores the guilds the archiver is installed in.
package guild

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a guild does not exist or is soft-deleted.
var ErrNotFound = errors.New("guild not found")

// Guild is the owning aggregate for channels. Guilds are only ever
// soft-deleted because a re-install must restore history.
type Guild struct {
	ID                     string
	Name                   string
	IconURL                *string
	OwnerUserID            *string
	ScanEnabled            bool
	Settings               map[string]any
	DefaultChannelSettings map[string]any
	LastScanAt             *time.Time
	CreatedAt              time.Time
	UpdatedAt              time.Time
	DeletedAt              *time.Time
}

// Snapshot is the discovery payload for an upsert. Icon is always a plain URL
// string, never a structured object.
type Snapshot struct {
	ID          string
	Name        string
	IconURL     *string
	OwnerUserID *string
}

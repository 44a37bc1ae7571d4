// Package clip stores video attachments projected as addressable artifacts.
package clip

import (
	"crypto/md5"
	"encoding/hex"
	"errors"
	"fmt"
	"time"
)

// ErrNotFound is returned when a clip does not exist.
var ErrNotFound = errors.New("clip not found")

// Thumbnail lifecycle states.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusFailed     = "failed"
)

// isoTimestamp renders a time the way the fingerprint expects: ISO 8601 with
// a numeric offset, the fraction always printed as six microsecond digits
// and omitted entirely when zero. Ids computed before a clip existed in this
// system depend on that exact rendering.
func isoTimestamp(t time.Time) string {
	t = t.UTC()
	s := t.Format("2006-01-02T15:04:05")
	if us := t.Nanosecond() / 1000; us != 0 {
		s += fmt.Sprintf(".%06d", us)
	}
	return s + t.Format("-07:00")
}

// Clip is one video attachment on one message. The id is a stable content
// fingerprint so duplicate deliveries collapse onto the same row.
type Clip struct {
	ID              string
	MessageID       string
	GuildID         string
	ChannelID       string
	AuthorID        string
	Filename        string
	FileSize        int64
	MIMEType        *string
	CDNURL          string
	ExpiresAt       time.Time
	ThumbnailStatus string
	SettingsHash    string
	Duration        *float64
	Resolution      *string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	DeletedAt       *time.Time
}

// ComputeID derives the content fingerprint for an attachment. The timestamp
// is rendered in ISO-8601 form, never as epoch seconds, so ids stay stable
// across re-scans.
func ComputeID(messageID, channelID, filename string, timestamp time.Time) string {
	payload := fmt.Sprintf("%s:%s:%s:%s", messageID, channelID, filename, isoTimestamp(timestamp))
	sum := md5.Sum([]byte(payload))
	return hex.EncodeToString(sum[:])
}

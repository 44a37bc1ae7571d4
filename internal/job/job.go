// Package job defines the queue job bodies exchanged between the bot, the
// operator tooling, and the worker.
package job

import (
	"time"

	"github.com/google/uuid"
)

// Type discriminates job bodies on the wire.
type Type string

const (
	TypeBatch           Type = "batch"
	TypeMessage         Type = "message"
	TypeRescan          Type = "rescan"
	TypeThumbnailRetry  Type = "thumbnail_retry"
	TypeMessageDeletion Type = "message_deletion"
	TypePurgeChannel    Type = "purge_channel"
	TypePurgeGuild      Type = "purge_guild"
)

// Direction selects which way a batch scan walks channel history.
type Direction string

const (
	DirectionBackward Direction = "backward"
	DirectionForward  Direction = "forward"
)

// RescanPolicy decides what happens when a scan encounters messages that are
// already stored.
type RescanPolicy string

const (
	// RescanStop drops known messages and halts continuation as soon as any
	// known id appears in a page.
	RescanStop RescanPolicy = "stop"
	// RescanContinue drops known messages but keeps walking.
	RescanContinue RescanPolicy = "continue"
	// RescanUpdate processes known messages normally, forcing a refresh.
	RescanUpdate RescanPolicy = "update"
)

// DefaultBatchLimit is the page size used when a batch job does not specify one.
const DefaultBatchLimit = 100

// RescanBatchLimit is the wide page size used when a rescan job is upgraded to
// a batch job.
const RescanBatchLimit = 1000

// Job is the single wire shape for every job type. Fields that do not apply to
// a given type stay at their zero value and are omitted from the encoding.
type Job struct {
	ID        string    `json:"job_id"`
	Type      Type      `json:"type"`
	GuildID   string    `json:"guild_id"`
	ChannelID string    `json:"channel_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`

	// Batch scan fields.
	Direction       Direction    `json:"direction,omitempty"`
	Limit           int          `json:"limit,omitempty"`
	BeforeMessageID string       `json:"before_message_id,omitempty"`
	AfterMessageID  string       `json:"after_message_id,omitempty"`
	AutoContinue    *bool        `json:"auto_continue,omitempty"`
	Rescan          RescanPolicy `json:"rescan,omitempty"`

	// Message job fields.
	MessageIDs []string `json:"message_ids,omitempty"`

	// Rescan job fields.
	Reason          string `json:"reason,omitempty"`
	ResetScanStatus bool   `json:"reset_scan_status,omitempty"`

	// Thumbnail retry fields.
	ClipIDs    []string `json:"clip_ids,omitempty"`
	RetryCount int      `json:"retry_count,omitempty"`

	// Message deletion fields.
	MessageID string `json:"message_id,omitempty"`
}

// PageLimit returns the page size, defaulting when unset.
func (j *Job) PageLimit() int {
	if j.Limit <= 0 {
		return DefaultBatchLimit
	}
	return j.Limit
}

// ScanDirection returns the walk direction, defaulting to backward.
func (j *Job) ScanDirection() Direction {
	if j.Direction == "" {
		return DirectionBackward
	}
	return j.Direction
}

// ShouldContinue reports whether a full page should enqueue a continuation job.
// Absent on the wire means true.
func (j *Job) ShouldContinue() bool {
	return j.AutoContinue == nil || *j.AutoContinue
}

// RescanMode returns the duplicate policy, defaulting to stop.
func (j *Job) RescanMode() RescanPolicy {
	if j.Rescan == "" {
		return RescanStop
	}
	return j.Rescan
}

func newJob(t Type, guildID, channelID string) Job {
	return Job{
		ID:        uuid.NewString(),
		Type:      t,
		GuildID:   guildID,
		ChannelID: channelID,
		CreatedAt: time.Now().UTC(),
	}
}

// NewBatch builds a batch scan job with explicit defaults so the encoded form
// is self-describing.
func NewBatch(guildID, channelID string, direction Direction, limit int, autoContinue bool, rescan RescanPolicy) *Job {
	j := newJob(TypeBatch, guildID, channelID)
	j.Direction = direction
	j.Limit = limit
	j.AutoContinue = &autoContinue
	j.Rescan = rescan
	return &j
}

// NewMessage builds a job that processes an explicit list of message ids.
func NewMessage(guildID, channelID string, messageIDs []string) *Job {
	j := newJob(TypeMessage, guildID, channelID)
	j.MessageIDs = messageIDs
	return &j
}

// NewRescan builds a channel rescan request. The worker upgrades it to a wide
// batch job.
func NewRescan(guildID, channelID, reason string, resetScanStatus bool) *Job {
	j := newJob(TypeRescan, guildID, channelID)
	j.Reason = reason
	j.ResetScanStatus = resetScanStatus
	return &j
}

// NewThumbnailRetry builds a retry sweep. An empty clipIDs list means "retry
// whatever is due".
func NewThumbnailRetry(guildID, channelID string, clipIDs []string) *Job {
	j := newJob(TypeThumbnailRetry, guildID, channelID)
	j.ClipIDs = clipIDs
	return &j
}

// NewMessageDeletion builds a hard-delete job for a single platform message.
func NewMessageDeletion(guildID, channelID, messageID string) *Job {
	j := newJob(TypeMessageDeletion, guildID, channelID)
	j.MessageID = messageID
	return &j
}

// NewPurgeChannel builds a job that removes all stored data for a channel.
func NewPurgeChannel(guildID, channelID string) *Job {
	j := newJob(TypePurgeChannel, guildID, channelID)
	return &j
}

// NewPurgeGuild builds a job that removes all stored data for a guild.
func NewPurgeGuild(guildID string) *Job {
	j := newJob(TypePurgeGuild, guildID, "")
	return &j
}

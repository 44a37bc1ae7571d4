// Package discord defines the chat-platform client contract consumed by the
// scan scheduler and batch processor, plus a REST implementation of it.
package discord

import "time"

// ChannelType mirrors the platform channel kinds the scanner cares about.
type ChannelType string

const (
	ChannelText     ChannelType = "text"
	ChannelVoice    ChannelType = "voice"
	ChannelCategory ChannelType = "category"
	ChannelForum    ChannelType = "forum"
)

// User is the platform-global view of a message author.
type User struct {
	ID            string
	Username      string
	Discriminator string
	DisplayName   string
	AvatarURL     string
}

// Member is the guild-scoped projection of a user.
type Member struct {
	User
	Nickname       string
	GuildAvatarURL string
}

// Attachment is one uploaded file on a message.
type Attachment struct {
	ID          string
	Filename    string
	ContentType string
	Size        int64
	URL         string
}

// Message is one platform message with its attachments.
type Message struct {
	ID          string
	GuildID     string
	ChannelID   string
	Content     string
	Timestamp   time.Time
	Author      User
	Member      *Member
	Attachments []Attachment
}

// ChannelInfo describes a channel for discovery and scan gating.
type ChannelInfo struct {
	ID       string
	GuildID  string
	Name     string
	Type     ChannelType
	Topic    string
	Position int
	ParentID string
	NSFW     bool
}

// SupportsHistory reports whether the channel kind can be walked by the
// scanner. Voice channels count: they carry a built-in text chat with
// readable history.
func (c *ChannelInfo) SupportsHistory() bool {
	return c.Type == ChannelText || c.Type == ChannelVoice || c.Type == ChannelForum
}

// GuildInfo describes a guild for discovery.
type GuildInfo struct {
	ID      string
	Name    string
	IconURL string
	OwnerID string
}

// HistoryOptions control one history page request.
type HistoryOptions struct {
	Limit       int
	BeforeID    string
	AfterID     string
	OldestFirst bool
}

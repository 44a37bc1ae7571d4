package discord

import (
	"context"
	"time"
)

// Client is the platform surface the ingestion pipeline depends on. The REST
// implementation below satisfies it; tests substitute fakes.
type Client interface {
	// Channel fetches channel metadata. Returns ErrNotFound or ErrForbidden
	// for the matching platform responses.
	Channel(ctx context.Context, channelID string) (*ChannelInfo, error)

	// Guild fetches guild metadata.
	Guild(ctx context.Context, guildID string) (*GuildInfo, error)

	// History returns one page of messages, newest first unless
	// opts.OldestFirst is set.
	History(ctx context.Context, channelID string, opts HistoryOptions) ([]*Message, error)

	// Message fetches a single message by id.
	Message(ctx context.Context, channelID, messageID string) (*Message, error)

	// Member resolves the guild-scoped member projection, serving cached
	// entries when available.
	Member(ctx context.Context, guildID, userID string) (*Member, error)

	// LeaveGuild removes the bot from a guild.
	LeaveGuild(ctx context.Context, guildID string) error
}

// PageDelay is the pause applied after each history page so long walks stay
// under the platform rate limits: half a second per hundred messages.
func PageDelay(pageSize int) time.Duration {
	return time.Duration(float64(pageSize) / 100 * 0.5 * float64(time.Second))
}

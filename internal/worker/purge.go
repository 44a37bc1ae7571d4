package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/storage"
)

// ClipPurgeStore is the clip surface the purger needs.
type ClipPurgeStore interface {
	ListByMessage(ctx context.Context, messageID string) ([]*clip.Clip, error)
	ListForChannel(ctx context.Context, channelID string) ([]*clip.Clip, error)
	ListForGuild(ctx context.Context, guildID string) ([]*clip.Clip, error)
	DeleteByMessage(ctx context.Context, messageID string) (int64, error)
	DeleteForChannel(ctx context.Context, channelID string) (int64, error)
	DeleteForGuild(ctx context.Context, guildID string) (int64, error)
}

// ThumbnailPurgeStore removes thumbnail rows and reports their blob paths.
type ThumbnailPurgeStore interface {
	PathsForClips(ctx context.Context, clipIDs []string) ([]string, error)
	DeleteForClips(ctx context.Context, clipIDs []string) (int64, error)
}

// FailurePurgeStore clears retry state for purged clips.
type FailurePurgeStore interface {
	DeleteForClips(ctx context.Context, clipIDs []string) error
}

// MessagePurgeStore removes archived messages.
type MessagePurgeStore interface {
	Delete(ctx context.Context, id string) error
	DeleteForChannel(ctx context.Context, channelID string) (int64, error)
	DeleteForGuild(ctx context.Context, guildID string) (int64, error)
}

// ScanPurgeStore cancels and clears scan state for the purge scope.
type ScanPurgeStore interface {
	CancelActiveForChannel(ctx context.Context, channelID, reason string) error
	CancelActiveForGuild(ctx context.Context, guildID, reason string) (int64, error)
	DeleteForChannel(ctx context.Context, channelID string) error
	DeleteForGuild(ctx context.Context, guildID string) error
}

// ChannelPurgeStore stamps the cooldown after a channel purge.
type ChannelPurgeStore interface {
	SetPurgeCooldown(ctx context.Context, id string, until time.Time) error
}

// GuildPurgeStore archives the guild row after a guild purge.
type GuildPurgeStore interface {
	SoftDelete(ctx context.Context, id string) error
}

// GuildLeaver detaches the bot from a purged guild.
type GuildLeaver interface {
	LeaveGuild(ctx context.Context, guildID string) error
}

// Purger removes clip data for a message, channel, or guild. Blobs go before
// rows so a crash never leaves orphaned objects that no row references can
// find again.
type Purger struct {
	store    storage.Store
	clips    ClipPurgeStore
	thumbs   ThumbnailPurgeStore
	failures FailurePurgeStore
	messages MessagePurgeStore
	scans    ScanPurgeStore
	channels ChannelPurgeStore
	guilds   GuildPurgeStore
	client   GuildLeaver
	cooldown time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewPurger wires a purger from its collaborators.
func NewPurger(store storage.Store, clips ClipPurgeStore, thumbs ThumbnailPurgeStore, failures FailurePurgeStore, messages MessagePurgeStore, scans ScanPurgeStore, channels ChannelPurgeStore, guilds GuildPurgeStore, client GuildLeaver, cooldown time.Duration, logger zerolog.Logger) *Purger {
	return &Purger{
		store:    store,
		clips:    clips,
		thumbs:   thumbs,
		failures: failures,
		messages: messages,
		scans:    scans,
		channels: channels,
		guilds:   guilds,
		client:   client,
		cooldown: cooldown,
		log:      logger,
		now:      time.Now,
	}
}

// DeleteMessage hard-deletes one message with its clips, thumbnail rows, and
// blobs. Used when the platform reports a message deletion.
func (p *Purger) DeleteMessage(ctx context.Context, messageID string) error {
	clips, err := p.clips.ListByMessage(ctx, messageID)
	if err != nil {
		return err
	}
	if err := p.removeClipArtifacts(ctx, clips); err != nil {
		return err
	}
	if _, err := p.clips.DeleteByMessage(ctx, messageID); err != nil {
		return err
	}
	if err := p.messages.Delete(ctx, messageID); err != nil {
		return err
	}
	p.log.Info().Str("message_id", messageID).Int("clips", len(clips)).Msg("message deleted")
	return nil
}

// PurgeChannel removes everything stored for a channel and stamps the purge
// cooldown. The channel row itself survives so discovery state is kept.
func (p *Purger) PurgeChannel(ctx context.Context, guildID, channelID string) error {
	if err := p.scans.CancelActiveForChannel(ctx, channelID, "channel purged"); err != nil {
		return err
	}

	clips, err := p.clips.ListForChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := p.removeClipArtifacts(ctx, clips); err != nil {
		return err
	}
	clipCount, err := p.clips.DeleteForChannel(ctx, channelID)
	if err != nil {
		return err
	}
	messageCount, err := p.messages.DeleteForChannel(ctx, channelID)
	if err != nil {
		return err
	}
	if err := p.scans.DeleteForChannel(ctx, channelID); err != nil {
		return err
	}
	if err := p.channels.SetPurgeCooldown(ctx, channelID, p.now().Add(p.cooldown)); err != nil {
		return err
	}

	p.log.Info().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Int64("clips", clipCount).
		Int64("messages", messageCount).
		Msg("channel purged")
	return nil
}

// PurgeGuild removes everything stored for a guild, soft-deletes the guild
// row, and leaves the guild on the platform.
func (p *Purger) PurgeGuild(ctx context.Context, guildID string) error {
	if _, err := p.scans.CancelActiveForGuild(ctx, guildID, "guild purged"); err != nil {
		return err
	}

	clips, err := p.clips.ListForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if err := p.removeClipArtifacts(ctx, clips); err != nil {
		return err
	}
	clipCount, err := p.clips.DeleteForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	messageCount, err := p.messages.DeleteForGuild(ctx, guildID)
	if err != nil {
		return err
	}
	if err := p.scans.DeleteForGuild(ctx, guildID); err != nil {
		return err
	}
	if err := p.guilds.SoftDelete(ctx, guildID); err != nil {
		return err
	}
	if err := p.client.LeaveGuild(ctx, guildID); err != nil {
		// Leaving is best effort; the data is already gone.
		p.log.Warn().Err(err).Str("guild_id", guildID).Msg("leave guild failed after purge")
	}

	p.log.Info().
		Str("guild_id", guildID).
		Int64("clips", clipCount).
		Int64("messages", messageCount).
		Msg("guild purged")
	return nil
}

// removeClipArtifacts deletes blob objects first, then the thumbnail and
// failure rows that referenced them.
func (p *Purger) removeClipArtifacts(ctx context.Context, clips []*clip.Clip) error {
	if len(clips) == 0 {
		return nil
	}
	clipIDs := make([]string, len(clips))
	for i, c := range clips {
		clipIDs[i] = c.ID
	}

	paths, err := p.thumbs.PathsForClips(ctx, clipIDs)
	if err != nil {
		return err
	}
	for _, path := range paths {
		if _, err := p.store.Delete(ctx, path); err != nil {
			// Best effort: a stuck blob must not block the purge.
			p.log.Warn().Err(err).Str("path", path).Msg("blob delete failed during purge")
		}
	}

	if _, err := p.thumbs.DeleteForClips(ctx, clipIDs); err != nil {
		return fmt.Errorf("delete thumbnail rows: %w", err)
	}
	if err := p.failures.DeleteForClips(ctx, clipIDs); err != nil {
		return fmt.Errorf("delete failure rows: %w", err)
	}
	return nil
}

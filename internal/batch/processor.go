// Package batch turns pages of platform messages into persisted authors,
// messages, and clips.
package batch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/author"
	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/media"
	"github.com/clipvault/clipvault/internal/message"
	"github.com/clipvault/clipvault/internal/postgres"
	"github.com/clipvault/clipvault/internal/settings"
)

// SettingsSource resolves effective settings for a channel.
type SettingsSource interface {
	Resolve(ctx context.Context, guildID, channelID string) (settings.Settings, error)
}

// AuthorStore persists author projections.
type AuthorStore interface {
	BulkUpsert(ctx context.Context, authors []author.Author) error
}

// MessageStore persists archived messages.
type MessageStore interface {
	BulkUpsert(ctx context.Context, messages []message.Message) error
}

// ClipStore persists clip rows and supports the dedup decisions.
type ClipStore interface {
	BulkUpsert(ctx context.Context, clips []clip.Clip) error
	ListByIDs(ctx context.Context, ids []string) (map[string]*clip.Clip, error)
	RefreshCDN(ctx context.Context, id, cdnURL string, expiresAt time.Time) error
}

// ThumbnailHandler generates thumbnails for loaded clips.
type ThumbnailHandler interface {
	ProcessClip(ctx context.Context, c *clip.Clip) error
}

// Result summarizes one processed batch.
type Result struct {
	ClipsFound          int
	ThumbnailsGenerated int
}

// Processor archives one page of messages for a single channel.
type Processor struct {
	settings SettingsSource
	authors  AuthorStore
	messages MessageStore
	clips    ClipStore
	handler  ThumbnailHandler
	retry    postgres.RetryConfig
	log      zerolog.Logger
	now      func() time.Time
}

// NewProcessor wires a processor from its collaborators. The retry config
// applies to the bulk write statements only; transient connection failures
// are retried, integrity violations surface immediately.
func NewProcessor(src SettingsSource, authors AuthorStore, messages MessageStore, clips ClipStore, handler ThumbnailHandler, retry postgres.RetryConfig, logger zerolog.Logger) *Processor {
	return &Processor{
		settings: src,
		authors:  authors,
		messages: messages,
		clips:    clips,
		handler:  handler,
		retry:    retry,
		log:      logger,
		now:      time.Now,
	}
}

// Process archives a page of messages. Writes happen as three bulk
// statements regardless of page size, then thumbnails fan out sequentially
// over one bulk reload.
func (p *Processor) Process(ctx context.Context, guildID, channelID string, msgs []discord.Message, policy job.RescanPolicy) (Result, error) {
	var result Result
	if len(msgs) == 0 {
		return result, nil
	}

	resolved, err := p.settings.Resolve(ctx, guildID, channelID)
	if err != nil {
		return result, err
	}
	hash := resolved.Hash()
	allowed := resolved.AllowedMIMETypes()
	storeContent := resolved.ContentStorageEnabled()
	matcher, err := resolved.MatchRegex()
	if err != nil {
		return result, err
	}

	// Regex filtering happens before attachment extraction. Messages with no
	// surviving clips contribute nothing unless an update rescan wants their
	// author refreshed.
	type extracted struct {
		msg   discord.Message
		clips []discord.Attachment
	}
	var pages []extracted
	authorRows := map[string]author.Author{}
	for _, msg := range msgs {
		if policy == job.RescanUpdate {
			authorRows[msg.Author.ID] = authorFrom(guildID, msg)
		}
		if matcher != nil && !matcher.MatchString(msg.Content) {
			continue
		}
		var kept []discord.Attachment
		for _, att := range msg.Attachments {
			if isVideo(att, allowed) {
				kept = append(kept, att)
			}
		}
		if len(kept) > 0 {
			pages = append(pages, extracted{msg: msg, clips: kept})
		}
	}
	if len(pages) == 0 && len(authorRows) == 0 {
		return result, nil
	}

	candidateIDs := make([]string, 0, len(pages))
	for _, page := range pages {
		for _, att := range page.clips {
			candidateIDs = append(candidateIDs, clip.ComputeID(page.msg.ID, channelID, att.Filename, page.msg.Timestamp))
		}
	}
	existing, err := p.clips.ListByIDs(ctx, candidateIDs)
	if err != nil {
		return result, err
	}

	now := p.now()
	var messageRows []message.Message
	var clipRows []clip.Clip
	var pendingIDs []string
	for _, page := range pages {
		msg := page.msg
		authorRows[msg.Author.ID] = authorFrom(guildID, msg)

		content := msg.Content
		if !storeContent {
			content = ""
		}
		messageRows = append(messageRows, message.Message{
			ID:        msg.ID,
			GuildID:   guildID,
			ChannelID: channelID,
			AuthorID:  msg.Author.ID,
			Content:   content,
			Timestamp: msg.Timestamp,
		})

		for _, att := range page.clips {
			id := clip.ComputeID(msg.ID, channelID, att.Filename, msg.Timestamp)
			result.ClipsFound++

			if prior, ok := existing[id]; ok && prior.SettingsHash == hash && prior.ThumbnailStatus == clip.StatusCompleted {
				if prior.ExpiresAt.Before(now) {
					if err := p.clips.RefreshCDN(ctx, id, att.URL, clip.ExtractCDNExpiry(att.URL, now)); err != nil {
						return result, fmt.Errorf("refresh expired clip: %w", err)
					}
				}
				continue
			}

			clipRows = append(clipRows, clip.Clip{
				ID:              id,
				MessageID:       msg.ID,
				GuildID:         guildID,
				ChannelID:       channelID,
				AuthorID:        msg.Author.ID,
				Filename:        att.Filename,
				FileSize:        att.Size,
				MIMEType:        attachmentMIME(att),
				CDNURL:          att.URL,
				ExpiresAt:       clip.ExtractCDNExpiry(att.URL, now),
				ThumbnailStatus: clip.StatusPending,
				SettingsHash:    hash,
			})
			pendingIDs = append(pendingIDs, id)
		}
	}

	err = postgres.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		return p.authors.BulkUpsert(ctx, authorList(authorRows))
	})
	if err != nil {
		return result, err
	}
	err = postgres.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		return p.messages.BulkUpsert(ctx, messageRows)
	})
	if err != nil {
		return result, err
	}
	err = postgres.WithRetry(ctx, p.retry, func(ctx context.Context) error {
		return p.clips.BulkUpsert(ctx, clipRows)
	})
	if err != nil {
		return result, err
	}

	if len(pendingIDs) == 0 {
		return result, nil
	}
	reloaded, err := p.clips.ListByIDs(ctx, pendingIDs)
	if err != nil {
		return result, err
	}
	for _, id := range pendingIDs {
		c, ok := reloaded[id]
		if !ok {
			p.log.Warn().Str("clip_id", id).Msg("clip missing after upsert")
			continue
		}
		if err := ctx.Err(); err != nil {
			return result, err
		}
		if err := p.handler.ProcessClip(ctx, c); err != nil {
			p.log.Warn().Err(err).Str("clip_id", id).Msg("thumbnail generation failed in batch")
			continue
		}
		result.ThumbnailsGenerated++
	}

	p.log.Debug().
		Str("guild_id", guildID).
		Str("channel_id", channelID).
		Int("messages", len(messageRows)).
		Int("clips_found", result.ClipsFound).
		Int("thumbnails", result.ThumbnailsGenerated).
		Msg("processed batch")
	return result, nil
}

// isVideo keeps attachments whose declared type is allowed, with a filename
// extension fallback for absent or ambiguous content types.
func isVideo(att discord.Attachment, allowed map[string]bool) bool {
	if allowed[normalizeMIME(att.ContentType)] {
		return true
	}
	_, ok := media.MIMEFromFilename(att.Filename)
	return ok
}

func normalizeMIME(contentType string) string {
	base, _, _ := strings.Cut(contentType, ";")
	return strings.ToLower(strings.TrimSpace(base))
}

func attachmentMIME(att discord.Attachment) *string {
	if mime := normalizeMIME(att.ContentType); mime != "" {
		return &mime
	}
	if mime, ok := media.MIMEFromFilename(att.Filename); ok {
		return &mime
	}
	return nil
}

// authorFrom builds the author projection, preferring the guild member view
// when the platform supplied one.
func authorFrom(guildID string, msg discord.Message) author.Author {
	a := author.Author{
		UserID:        msg.Author.ID,
		GuildID:       guildID,
		Username:      msg.Author.Username,
		Discriminator: msg.Author.Discriminator,
		DisplayName:   msg.Author.DisplayName,
	}
	if msg.Author.AvatarURL != "" {
		url := msg.Author.AvatarURL
		a.AvatarURL = &url
	}
	if m := msg.Member; m != nil {
		if m.Username != "" {
			a.Username = m.Username
		}
		if m.DisplayName != "" {
			a.DisplayName = m.DisplayName
		}
		if m.Nickname != "" {
			nick := m.Nickname
			a.Nickname = &nick
		}
		if m.GuildAvatarURL != "" {
			url := m.GuildAvatarURL
			a.GuildAvatarURL = &url
		}
	}
	return a
}

func authorList(rows map[string]author.Author) []author.Author {
	out := make([]author.Author, 0, len(rows))
	for _, a := range rows {
		out = append(out, a)
	}
	return out
}

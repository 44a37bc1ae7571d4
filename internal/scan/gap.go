package scan

import (
	"context"
	"errors"

	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/scanstatus"
)

// CatchUp walks the scan-enabled channels and enqueues a forward scan for
// each one whose recorded forward boundary trails the channel's newest
// message. Channels with no recorded boundary are left to their initial
// backward scan. Returns how many catch-up jobs were enqueued.
func (s *Scheduler) CatchUp(ctx context.Context, queuer StatusQueuer) (int, error) {
	channels, err := s.channels.ListScanEnabled(ctx)
	if err != nil {
		return 0, err
	}

	enqueued := 0
	for _, ch := range channels {
		if err := ctx.Err(); err != nil {
			return enqueued, err
		}

		st, err := s.statuses.Get(ctx, ch.ID)
		if err != nil {
			if errors.Is(err, scanstatus.ErrNotFound) {
				continue
			}
			return enqueued, err
		}
		if st.ForwardMessageID == nil {
			continue
		}

		page, err := s.client.History(ctx, ch.ID, discord.HistoryOptions{Limit: 1})
		if err != nil {
			s.log.Warn().Err(err).Str("channel_id", ch.ID).Msg("gap check skipped channel")
			continue
		}
		if len(page) == 0 || !snowflakeLess(*st.ForwardMessageID, page[0].ID) {
			continue
		}

		next := job.NewBatch(ch.GuildID, ch.ID, job.DirectionForward, job.DefaultBatchLimit, true, job.RescanStop)
		next.AfterMessageID = *st.ForwardMessageID
		if err := queuer.MarkQueued(ctx, ch.GuildID, ch.ID); err != nil {
			return enqueued, err
		}
		if _, err := s.queue.Enqueue(ctx, next); err != nil {
			return enqueued, err
		}
		enqueued++
		s.log.Info().
			Str("channel_id", ch.ID).
			Str("after", *st.ForwardMessageID).
			Str("newest", page[0].ID).
			Msg("gap detected, forward catch-up enqueued")
	}
	return enqueued, nil
}

// StatusQueuer marks a channel queued ahead of a catch-up scan.
type StatusQueuer interface {
	MarkQueued(ctx context.Context, guildID, channelID string) error
}

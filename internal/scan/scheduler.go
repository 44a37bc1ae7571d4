// Package scan drives the per-channel history walk state machine.
package scan

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/batch"
	"github.com/clipvault/clipvault/internal/channel"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/guild"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/scanstatus"
)

// GuildStore is the guild gate the scheduler consults.
type GuildStore interface {
	ScanEnabled(ctx context.Context, id string) (bool, error)
}

// ChannelStore is the channel gate the scheduler consults, plus the listing
// the startup gap check walks.
type ChannelStore interface {
	GetByID(ctx context.Context, id string) (*channel.Channel, error)
	ListScanEnabled(ctx context.Context) ([]*channel.Channel, error)
}

// MessageStore partitions history pages into known and new ids.
type MessageStore interface {
	ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error)
}

// StatusStore persists the per-channel scan record.
type StatusStore interface {
	Get(ctx context.Context, channelID string) (*scanstatus.ScanStatus, error)
	MarkQueued(ctx context.Context, guildID, channelID string) error
	SetStatus(ctx context.Context, channelID string, status scanstatus.Status, reason *string) error
	SetCursors(ctx context.Context, channelID string, forward, backward *string) error
	IncrementCounts(ctx context.Context, channelID string, added, scanned int64) error
}

// Processor archives one page of messages.
type Processor interface {
	Process(ctx context.Context, guildID, channelID string, msgs []discord.Message, policy job.RescanPolicy) (batch.Result, error)
}

// Enqueuer schedules continuation jobs.
type Enqueuer interface {
	Enqueue(ctx context.Context, j *job.Job) (string, error)
}

// Scheduler executes batch scan jobs.
type Scheduler struct {
	client    discord.Client
	guilds    GuildStore
	channels  ChannelStore
	messages  MessageStore
	statuses  StatusStore
	processor Processor
	queue     Enqueuer
	log       zerolog.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// NewScheduler wires a scheduler from its collaborators.
func NewScheduler(client discord.Client, guilds GuildStore, channels ChannelStore, messages MessageStore, statuses StatusStore, processor Processor, queue Enqueuer, logger zerolog.Logger) *Scheduler {
	return &Scheduler{
		client:    client,
		guilds:    guilds,
		channels:  channels,
		messages:  messages,
		statuses:  statuses,
		processor: processor,
		queue:     queue,
		log:       logger,
		sleep:     sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Run executes one batch scan job. Platform errors mark the scan failed and
// consume the job; unexpected errors mark it failed and propagate so the
// delivery stays pending for another worker.
func (s *Scheduler) Run(ctx context.Context, j *job.Job) error {
	ch, reason, err := s.validate(ctx, j)
	if err != nil {
		return s.failScan(ctx, j, err)
	}
	if reason != "" {
		s.log.Info().
			Str("guild_id", j.GuildID).
			Str("channel_id", j.ChannelID).
			Str("reason", reason).
			Msg("scan cancelled")
		// A cancellation is still a scan touch: persist it when the channel
		// row exists so the row can hold the status.
		if ch != nil {
			if err := s.statuses.MarkQueued(ctx, j.GuildID, j.ChannelID); err != nil {
				return err
			}
		}
		return s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusCancelled, &reason)
	}
	// Ensure the status row exists before the first transition. The status,
	// cursor, and counter writes are plain updates that miss channels which
	// have never been scanned.
	if err := s.statuses.MarkQueued(ctx, j.GuildID, j.ChannelID); err != nil {
		return err
	}
	if err := s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusRunning, nil); err != nil {
		return err
	}

	info, err := s.client.Channel(ctx, j.ChannelID)
	if err != nil {
		return s.platformFail(ctx, j, err)
	}
	if !info.SupportsHistory() {
		reason := fmt.Sprintf("channel type %s does not support history", info.Type)
		return s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusFailed, &reason)
	}

	direction := j.ScanDirection()
	opts := discord.HistoryOptions{Limit: j.PageLimit()}
	if direction == job.DirectionBackward {
		opts.BeforeID = j.BeforeMessageID
	} else {
		opts.AfterID = j.AfterMessageID
	}
	page, err := s.client.History(ctx, j.ChannelID, opts)
	if err != nil {
		return s.platformFail(ctx, j, err)
	}

	ids := make([]string, len(page))
	for i, m := range page {
		ids[i] = m.ID
	}
	existing, err := s.messages.ExistingIDs(ctx, ids)
	if err != nil {
		return s.failScan(ctx, j, err)
	}

	policy := j.RescanMode()
	toProcess, stoppedOnKnown := applyPolicy(page, existing, policy)

	if _, err := s.processor.Process(ctx, j.GuildID, j.ChannelID, toProcess, policy); err != nil {
		return s.failScan(ctx, j, err)
	}

	if len(page) > 0 {
		if err := s.advanceCursors(ctx, j.ChannelID, direction, page); err != nil {
			return s.failScan(ctx, j, err)
		}
		err := s.statuses.IncrementCounts(ctx, j.ChannelID, int64(len(toProcess)), int64(len(page)))
		if err != nil {
			return s.failScan(ctx, j, err)
		}
	}

	full := len(page) >= j.PageLimit()
	if full && !stoppedOnKnown && j.ShouldContinue() {
		if err := s.enqueueContinuation(ctx, j, direction, page); err != nil {
			return s.failScan(ctx, j, err)
		}
	} else {
		if err := s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusSucceeded, nil); err != nil {
			return err
		}
	}

	return s.sleep(ctx, discord.PageDelay(len(page)))
}

// validate applies the scan gate: both the guild and channel flags must be
// on and the channel must not be a category. A missing guild or channel row
// cancels rather than fails. The channel row is returned when it was loaded
// so a cancelled scan can still be recorded against it; an empty reason
// means the scan may proceed.
func (s *Scheduler) validate(ctx context.Context, j *job.Job) (ch *channel.Channel, reason string, err error) {
	enabled, err := s.guilds.ScanEnabled(ctx, j.GuildID)
	if err != nil {
		if errors.Is(err, guild.ErrNotFound) {
			return nil, "guild not registered", nil
		}
		return nil, "", err
	}
	if !enabled {
		return nil, "guild scanning disabled", nil
	}

	ch, err = s.channels.GetByID(ctx, j.ChannelID)
	if err != nil {
		if errors.Is(err, channel.ErrNotFound) {
			return nil, "channel not registered", nil
		}
		return nil, "", err
	}
	if !ch.ScanEnabled {
		return ch, "channel scanning disabled", nil
	}
	if ch.Type == "category" {
		return ch, "category channels have no messages", nil
	}
	return ch, "", nil
}

// applyPolicy filters the page per the rescan policy and reports whether a
// known message should halt continuation.
func applyPolicy(page []*discord.Message, existing map[string]bool, policy job.RescanPolicy) ([]discord.Message, bool) {
	var out []discord.Message
	stopped := false
	for _, m := range page {
		if policy != job.RescanUpdate && existing[m.ID] {
			if policy == job.RescanStop {
				stopped = true
			}
			continue
		}
		out = append(out, *m)
	}
	return out, stopped
}

// advanceCursors writes the walk boundary. The first page ever seen for a
// channel initializes both boundaries at once; later pages only push the
// boundary matching the walk direction.
func (s *Scheduler) advanceCursors(ctx context.Context, channelID string, direction job.Direction, page []*discord.Message) error {
	newest, oldest := pageExtremes(page)

	st, err := s.statuses.Get(ctx, channelID)
	if err != nil && !errors.Is(err, scanstatus.ErrNotFound) {
		return err
	}
	firstScan := st == nil || (st.ForwardMessageID == nil && st.BackwardMessageID == nil)

	if firstScan {
		return s.statuses.SetCursors(ctx, channelID, &newest, &oldest)
	}
	if direction == job.DirectionBackward {
		return s.statuses.SetCursors(ctx, channelID, nil, &oldest)
	}
	return s.statuses.SetCursors(ctx, channelID, &newest, nil)
}

func (s *Scheduler) enqueueContinuation(ctx context.Context, j *job.Job, direction job.Direction, page []*discord.Message) error {
	newest, oldest := pageExtremes(page)

	next := job.NewBatch(j.GuildID, j.ChannelID, direction, j.PageLimit(), true, j.RescanMode())
	if direction == job.DirectionBackward {
		next.BeforeMessageID = oldest
	} else {
		next.AfterMessageID = newest
	}
	if _, err := s.queue.Enqueue(ctx, next); err != nil {
		return fmt.Errorf("enqueue continuation: %w", err)
	}
	s.log.Debug().
		Str("channel_id", j.ChannelID).
		Str("direction", string(direction)).
		Msg("scan continuation enqueued")
	return nil
}

// pageExtremes returns the newest and oldest snowflake ids in a page
// regardless of the order the platform returned them in.
func pageExtremes(page []*discord.Message) (newest, oldest string) {
	newest, oldest = page[0].ID, page[0].ID
	for _, m := range page[1:] {
		if snowflakeLess(newest, m.ID) {
			newest = m.ID
		}
		if snowflakeLess(m.ID, oldest) {
			oldest = m.ID
		}
	}
	return newest, oldest
}

// snowflakeLess compares numeric string ids without overflowing an int64.
func snowflakeLess(a, b string) bool {
	if len(a) != len(b) {
		return len(a) < len(b)
	}
	return a < b
}

func (s *Scheduler) platformFail(ctx context.Context, j *job.Job, cause error) error {
	reason := platformReason(cause)
	s.log.Warn().
		Err(cause).
		Str("guild_id", j.GuildID).
		Str("channel_id", j.ChannelID).
		Msg("scan failed on platform error")
	return s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusFailed, &reason)
}

func platformReason(err error) string {
	switch {
	case errors.Is(err, discord.ErrForbidden):
		return "missing permission to read channel history"
	case errors.Is(err, discord.ErrNotFound):
		return "channel not found on platform"
	default:
		return err.Error()
	}
}

// failScan records the failure and propagates it so the queue delivery stays
// pending.
func (s *Scheduler) failScan(ctx context.Context, j *job.Job, cause error) error {
	reason := cause.Error()
	if err := s.statuses.SetStatus(ctx, j.ChannelID, scanstatus.StatusFailed, &reason); err != nil {
		s.log.Error().Err(err).Str("channel_id", j.ChannelID).Msg("mark scan failed")
	}
	return cause
}

// Package worker hosts the queue consumers and background maintenance loops.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/batch"
	"github.com/clipvault/clipvault/internal/discord"
	"github.com/clipvault/clipvault/internal/job"
	"github.com/clipvault/clipvault/internal/queue"
)

const (
	fetchBlock = 5 * time.Second

	// healthEscalateAfter is how many consecutive ping failures trigger an
	// escalated log entry.
	healthEscalateAfter = 3
)

// JobQueue is the stream surface the worker consumes.
type JobQueue interface {
	Fetch(ctx context.Context, consumer string, count int, block, minIdle time.Duration) ([]queue.Delivery, error)
	Ack(ctx context.Context, stream, messageID string) error
	Enqueue(ctx context.Context, j *job.Job) (string, error)
}

// ScanRunner executes batch scan jobs.
type ScanRunner interface {
	Run(ctx context.Context, j *job.Job) error
}

// BatchRunner archives explicit message lists.
type BatchRunner interface {
	Process(ctx context.Context, guildID, channelID string, msgs []discord.Message, policy job.RescanPolicy) (batch.Result, error)
}

// MessageFetcher loads single messages for message jobs.
type MessageFetcher interface {
	Message(ctx context.Context, channelID, messageID string) (*discord.Message, error)
}

// ThumbnailRetrier runs retry batches and stale cleanup.
type ThumbnailRetrier interface {
	RetryBatch(ctx context.Context, clipIDs []string, limit int) (succeeded, failed int, err error)
	CleanupStale(ctx context.Context, olderThan time.Duration) (int, error)
}

// MessagePurger handles the destructive job types.
type MessagePurger interface {
	DeleteMessage(ctx context.Context, messageID string) error
	PurgeChannel(ctx context.Context, guildID, channelID string) error
	PurgeGuild(ctx context.Context, guildID string) error
}

// ScanStateStore is the scan-status maintenance surface.
type ScanStateStore interface {
	CancelStale(ctx context.Context, cutoff time.Time, reason string) (int64, error)
	CancelActiveForChannel(ctx context.Context, channelID, reason string) error
	MarkQueued(ctx context.Context, guildID, channelID string) error
	Reset(ctx context.Context, channelID string) error
}

// Pinger checks database liveness.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Options tune the worker loops.
type Options struct {
	Concurrency        int
	BatchSize          int
	ClaimMinIdle       time.Duration
	HealthInterval     time.Duration
	StaleScanInterval  time.Duration
	StaleScanTimeout   time.Duration
	ConsumerNamePrefix string
}

func (o *Options) withDefaults() {
	if o.Concurrency <= 0 {
		o.Concurrency = 1
	}
	if o.BatchSize <= 0 {
		o.BatchSize = 10
	}
	if o.ClaimMinIdle <= 0 {
		o.ClaimMinIdle = queue.DefaultMinIdle
	}
	if o.HealthInterval <= 0 {
		o.HealthInterval = 30 * time.Second
	}
	if o.StaleScanInterval <= 0 {
		o.StaleScanInterval = 5 * time.Minute
	}
	if o.StaleScanTimeout <= 0 {
		o.StaleScanTimeout = 30 * time.Minute
	}
	if o.ConsumerNamePrefix == "" {
		host, err := os.Hostname()
		if err != nil {
			host = "worker"
		}
		o.ConsumerNamePrefix = host
	}
}

// Worker consumes job streams and runs the maintenance loops.
type Worker struct {
	queue     JobQueue
	scheduler ScanRunner
	processor BatchRunner
	fetcher   MessageFetcher
	thumbs    ThumbnailRetrier
	purger    MessagePurger
	scans     ScanStateStore
	db        Pinger
	opts      Options
	log       zerolog.Logger
}

// New wires a worker from its collaborators.
func New(q JobQueue, scheduler ScanRunner, processor BatchRunner, fetcher MessageFetcher, thumbs ThumbnailRetrier, purger MessagePurger, scans ScanStateStore, db Pinger, opts Options, logger zerolog.Logger) *Worker {
	opts.withDefaults()
	return &Worker{
		queue:     q,
		scheduler: scheduler,
		processor: processor,
		fetcher:   fetcher,
		thumbs:    thumbs,
		purger:    purger,
		scans:     scans,
		db:        db,
		opts:      opts,
		log:       logger,
	}
}

// Run starts the consumer goroutines and background loops and blocks until
// the context is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.healthLoop(ctx)
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		w.staleScanLoop(ctx)
	}()

	for i := 0; i < w.opts.Concurrency; i++ {
		consumer := fmt.Sprintf("%s-%d", w.opts.ConsumerNamePrefix, i)
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.consumeLoop(ctx, consumer)
		}()
	}

	w.log.Info().
		Int("concurrency", w.opts.Concurrency).
		Int("batch_size", w.opts.BatchSize).
		Msg("worker started")

	<-ctx.Done()
	wg.Wait()
	w.log.Info().Msg("worker stopped")
	return ctx.Err()
}

func (w *Worker) consumeLoop(ctx context.Context, consumer string) {
	for {
		if ctx.Err() != nil {
			return
		}
		deliveries, err := w.queue.Fetch(ctx, consumer, w.opts.BatchSize, fetchBlock, w.opts.ClaimMinIdle)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.log.Error().Err(err).Str("consumer", consumer).Msg("fetch failed")
			if err := sleepCtx(ctx, time.Second); err != nil {
				return
			}
			continue
		}
		for _, d := range deliveries {
			w.handle(ctx, consumer, d)
		}
	}
}

// handle dispatches one delivery and acks only on success, leaving failed
// deliveries pending for reclaim.
func (w *Worker) handle(ctx context.Context, consumer string, d queue.Delivery) {
	log := w.log.With().
		Str("consumer", consumer).
		Str("job_id", d.Job.ID).
		Str("job_type", string(d.Job.Type)).
		Str("guild_id", d.Job.GuildID).
		Logger()

	if err := w.Dispatch(ctx, d.Job); err != nil {
		log.Error().Err(err).Msg("job failed, left pending for reclaim")
		return
	}
	if err := w.queue.Ack(ctx, d.Stream, d.MessageID); err != nil {
		log.Error().Err(err).Msg("ack failed")
		return
	}
	log.Debug().Msg("job completed")
}

// Dispatch routes one job to its handler.
func (w *Worker) Dispatch(ctx context.Context, j *job.Job) error {
	switch j.Type {
	case job.TypeBatch:
		if err := w.scheduler.Run(ctx, j); err != nil {
			// The delivery stays pending; note the retry on the scan record
			// so operators see why it went quiet.
			reason := "scan interrupted, waiting for redelivery"
			if cancelErr := w.scans.CancelActiveForChannel(ctx, j.ChannelID, reason); cancelErr != nil {
				w.log.Error().Err(cancelErr).Str("channel_id", j.ChannelID).Msg("cancel note failed")
			}
			return err
		}
		return nil

	case job.TypeMessage:
		return w.runMessageJob(ctx, j)

	case job.TypeRescan:
		return w.runRescanJob(ctx, j)

	case job.TypeThumbnailRetry:
		_, failed, err := w.thumbs.RetryBatch(ctx, j.ClipIDs, 0)
		if err != nil {
			return err
		}
		if failed > 0 {
			w.log.Info().Int("failed", failed).Msg("thumbnail retries rescheduled")
		}
		return nil

	case job.TypeMessageDeletion:
		return w.purger.DeleteMessage(ctx, j.MessageID)

	case job.TypePurgeChannel:
		return w.purger.PurgeChannel(ctx, j.GuildID, j.ChannelID)

	case job.TypePurgeGuild:
		return w.purger.PurgeGuild(ctx, j.GuildID)

	default:
		// Unknown types are acked away rather than poisoning the stream.
		w.log.Warn().Str("job_type", string(j.Type)).Msg("unknown job type dropped")
		return nil
	}
}

// runMessageJob archives an explicit id list, fetching each message fresh.
// Vanished or forbidden messages are skipped.
func (w *Worker) runMessageJob(ctx context.Context, j *job.Job) error {
	var msgs []discord.Message
	for _, id := range j.MessageIDs {
		m, err := w.fetcher.Message(ctx, j.ChannelID, id)
		if err != nil {
			if errors.Is(err, discord.ErrNotFound) || errors.Is(err, discord.ErrForbidden) {
				w.log.Warn().Err(err).Str("message_id", id).Msg("message skipped")
				continue
			}
			return err
		}
		msgs = append(msgs, *m)
	}
	if len(msgs) == 0 {
		return nil
	}
	_, err := w.processor.Process(ctx, j.GuildID, j.ChannelID, msgs, job.RescanUpdate)
	return err
}

// runRescanJob upgrades a rescan request into a wide batch walk.
func (w *Worker) runRescanJob(ctx context.Context, j *job.Job) error {
	if j.ResetScanStatus {
		if err := w.scans.Reset(ctx, j.ChannelID); err != nil {
			return err
		}
	}
	if err := w.scans.MarkQueued(ctx, j.GuildID, j.ChannelID); err != nil {
		return err
	}
	next := job.NewBatch(j.GuildID, j.ChannelID, job.DirectionBackward, job.RescanBatchLimit, true, job.RescanUpdate)
	if _, err := w.queue.Enqueue(ctx, next); err != nil {
		return err
	}
	w.log.Info().
		Str("channel_id", j.ChannelID).
		Str("reason", j.Reason).
		Msg("rescan upgraded to wide batch scan")
	return nil
}

func (w *Worker) healthLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.HealthInterval)
	defer ticker.Stop()

	consecutive := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if err := w.db.Ping(ctx); err != nil {
			consecutive++
			if consecutive >= healthEscalateAfter {
				w.log.Error().Err(err).Int("consecutive", consecutive).Msg("database unreachable")
			} else {
				w.log.Warn().Err(err).Msg("database health check failed")
			}
			continue
		}
		consecutive = 0
	}
}

func (w *Worker) staleScanLoop(ctx context.Context) {
	ticker := time.NewTicker(w.opts.StaleScanInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		cutoff := time.Now().Add(-w.opts.StaleScanTimeout)
		cancelled, err := w.scans.CancelStale(ctx, cutoff, "scan stalled and was cancelled")
		if err != nil {
			w.log.Error().Err(err).Msg("stale scan sweep failed")
		} else if cancelled > 0 {
			w.log.Info().Int64("cancelled", cancelled).Msg("stale scans cancelled")
		}
		if _, err := w.thumbs.CleanupStale(ctx, w.opts.StaleScanTimeout); err != nil {
			w.log.Error().Err(err).Msg("stale thumbnail sweep failed")
		}
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

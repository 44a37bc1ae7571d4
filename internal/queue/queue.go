// Package queue implements the Redis-stream job transport. Each guild and job
// type pair gets its own stream so operators can inspect and trim them
// independently.
package queue

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/job"
)

const (
	// Group is the consumer group shared by all workers.
	Group = "clipvault-workers"

	streamPrefix = "jobs"

	// DefaultMinIdle is how long a pending entry must sit unacked before
	// another consumer may claim it.
	DefaultMinIdle = 60 * time.Second
)

// StreamName returns the stream key for a guild and job type.
func StreamName(guildID string, t job.Type) string {
	return fmt.Sprintf("%s:guild:%s:%s", streamPrefix, guildID, t)
}

// Delivery is one message pulled from a stream, decoded and ready to dispatch.
type Delivery struct {
	Stream    string
	MessageID string
	Job       *job.Job
}

// Queue wraps the Redis client with the stream conventions used by the worker
// and the producers.
type Queue struct {
	rdb    *redis.Client
	log    zerolog.Logger
	maxLen int64

	mu     sync.Mutex
	groups map[string]bool
}

// New creates a queue. maxLen caps each stream with approximate trimming.
func New(rdb *redis.Client, maxLen int64, logger zerolog.Logger) *Queue {
	return &Queue{
		rdb:    rdb,
		log:    logger,
		maxLen: maxLen,
		groups: make(map[string]bool),
	}
}

// Enqueue appends a job to its stream and returns the stream message id. The
// consumer group is created lazily so a fresh stream is immediately readable.
func (q *Queue) Enqueue(ctx context.Context, j *job.Job) (string, error) {
	data, err := job.Encode(j)
	if err != nil {
		return "", err
	}

	stream := StreamName(j.GuildID, j.Type)
	if err := q.ensureGroup(ctx, stream); err != nil {
		return "", err
	}

	id, err := q.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: q.maxLen,
		Approx: true,
		Values: map[string]any{
			"job":        string(data),
			"guild_id":   j.GuildID,
			"channel_id": j.ChannelID,
			"job_type":   string(j.Type),
			"job_id":     j.ID,
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd %s: %w", stream, err)
	}

	q.log.Debug().
		Str("stream", stream).
		Str("job_id", j.ID).
		Str("job_type", string(j.Type)).
		Msg("Job enqueued")
	return id, nil
}

// ensureGroup creates the consumer group for a stream, tolerating the group
// already existing. Results are cached per stream.
func (q *Queue) ensureGroup(ctx context.Context, stream string) error {
	q.mu.Lock()
	done := q.groups[stream]
	q.mu.Unlock()
	if done {
		return nil
	}

	err := q.rdb.XGroupCreateMkStream(ctx, stream, Group, "0").Err()
	if err != nil && !strings.HasPrefix(err.Error(), "BUSYGROUP") {
		return fmt.Errorf("create consumer group for %s: %w", stream, err)
	}

	q.mu.Lock()
	q.groups[stream] = true
	q.mu.Unlock()
	return nil
}

// Streams discovers all job streams with a cursor scan. KEYS is never used so
// discovery cannot block the server.
func (q *Queue) Streams(ctx context.Context) ([]string, error) {
	var (
		streams []string
		cursor  uint64
	)
	for {
		keys, next, err := q.rdb.Scan(ctx, cursor, streamPrefix+":*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan job streams: %w", err)
		}
		streams = append(streams, keys...)
		if next == 0 {
			return streams, nil
		}
		cursor = next
	}
}

// Fetch returns up to count deliveries for the consumer. Pending entries idle
// for at least minIdle are claimed first so work orphaned by a crashed worker
// is recovered before new work is read. Entries that fail to decode are acked
// and dropped so they cannot wedge the stream.
func (q *Queue) Fetch(ctx context.Context, consumer string, count int, block, minIdle time.Duration) ([]Delivery, error) {
	streams, err := q.Streams(ctx)
	if err != nil {
		return nil, err
	}
	if len(streams) == 0 {
		// Nothing to consume yet. Wait out the block interval so an idle
		// consumer polls instead of hammering SCAN in a tight loop.
		timer := time.NewTimer(block)
		defer timer.Stop()
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			return nil, nil
		}
	}
	for _, stream := range streams {
		if err := q.ensureGroup(ctx, stream); err != nil {
			return nil, err
		}
	}

	claimed, err := q.claimPending(ctx, streams, consumer, count, minIdle)
	if err != nil {
		return nil, err
	}
	if len(claimed) > 0 {
		return claimed, nil
	}

	return q.readNew(ctx, streams, consumer, count, block)
}

func (q *Queue) claimPending(ctx context.Context, streams []string, consumer string, count int, minIdle time.Duration) ([]Delivery, error) {
	var out []Delivery
	for _, stream := range streams {
		if len(out) >= count {
			break
		}

		pending, err := q.rdb.XPendingExt(ctx, &redis.XPendingExtArgs{
			Stream: stream,
			Group:  Group,
			Start:  "-",
			End:    "+",
			Count:  int64(count - len(out)),
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xpending %s: %w", stream, err)
		}

		var ids []string
		for _, p := range pending {
			if p.Idle >= minIdle {
				ids = append(ids, p.ID)
			}
		}
		if len(ids) == 0 {
			continue
		}

		msgs, err := q.rdb.XClaim(ctx, &redis.XClaimArgs{
			Stream:   stream,
			Group:    Group,
			Consumer: consumer,
			MinIdle:  minIdle,
			Messages: ids,
		}).Result()
		if err != nil {
			return nil, fmt.Errorf("xclaim %s: %w", stream, err)
		}
		out = append(out, q.decodeAll(ctx, stream, msgs)...)
	}
	return out, nil
}

func (q *Queue) readNew(ctx context.Context, streams []string, consumer string, count int, block time.Duration) ([]Delivery, error) {
	args := make([]string, 0, len(streams)*2)
	args = append(args, streams...)
	for range streams {
		args = append(args, ">")
	}

	res, err := q.rdb.XReadGroup(ctx, &redis.XReadGroupArgs{
		Group:    Group,
		Consumer: consumer,
		Streams:  args,
		Count:    int64(count),
		Block:    block,
	}).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("xreadgroup: %w", err)
	}

	var out []Delivery
	for _, stream := range res {
		out = append(out, q.decodeAll(ctx, stream.Stream, stream.Messages)...)
	}
	return out, nil
}

func (q *Queue) decodeAll(ctx context.Context, stream string, msgs []redis.XMessage) []Delivery {
	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["job"].(string)
		if !ok {
			q.log.Warn().Str("stream", stream).Str("message_id", msg.ID).Msg("Stream entry missing job field")
			_ = q.Ack(ctx, stream, msg.ID)
			continue
		}
		j, err := job.Decode([]byte(raw))
		if err != nil {
			q.log.Warn().Err(err).Str("stream", stream).Str("message_id", msg.ID).Msg("Dropping undecodable job")
			_ = q.Ack(ctx, stream, msg.ID)
			continue
		}
		out = append(out, Delivery{Stream: stream, MessageID: msg.ID, Job: j})
	}
	return out
}

// Ack acknowledges a delivery and deletes the entry so stream memory follows
// consumption.
func (q *Queue) Ack(ctx context.Context, stream, messageID string) error {
	if err := q.rdb.XAck(ctx, stream, Group, messageID).Err(); err != nil {
		return fmt.Errorf("xack %s %s: %w", stream, messageID, err)
	}
	if err := q.rdb.XDel(ctx, stream, messageID).Err(); err != nil {
		return fmt.Errorf("xdel %s %s: %w", stream, messageID, err)
	}
	return nil
}

package queue

import (
	"context"
	"fmt"
	"strings"

	"github.com/clipvault/clipvault/internal/job"
)

// StreamStats summarizes one job stream for operator tooling.
type StreamStats struct {
	Stream  string
	Length  int64
	Pending int64
}

// StreamInfo returns length and pending-entry counts for a stream.
func (q *Queue) StreamInfo(ctx context.Context, stream string) (*StreamStats, error) {
	length, err := q.rdb.XLen(ctx, stream).Result()
	if err != nil {
		return nil, fmt.Errorf("xlen %s: %w", stream, err)
	}

	stats := &StreamStats{Stream: stream, Length: length}

	pending, err := q.rdb.XPending(ctx, stream, Group).Result()
	if err != nil {
		// A stream without a consumer group has no pending entries.
		if strings.HasPrefix(err.Error(), "NOGROUP") {
			return stats, nil
		}
		return nil, fmt.Errorf("xpending %s: %w", stream, err)
	}
	stats.Pending = pending.Count
	return stats, nil
}

// Peek returns up to count entries from the head of a stream without
// consuming them.
func (q *Queue) Peek(ctx context.Context, stream string, count int) ([]Delivery, error) {
	msgs, err := q.rdb.XRangeN(ctx, stream, "-", "+", int64(count)).Result()
	if err != nil {
		return nil, fmt.Errorf("xrange %s: %w", stream, err)
	}

	out := make([]Delivery, 0, len(msgs))
	for _, msg := range msgs {
		raw, ok := msg.Values["job"].(string)
		if !ok {
			continue
		}
		j, err := job.Decode([]byte(raw))
		if err != nil {
			continue
		}
		out = append(out, Delivery{Stream: stream, MessageID: msg.ID, Job: j})
	}
	return out, nil
}

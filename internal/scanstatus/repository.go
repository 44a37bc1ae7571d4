package scanstatus

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `channel_id, guild_id, status, forward_message_id, backward_message_id,
message_count, total_messages_scanned, error_message, updated_at`

// PGRepository implements scan-status persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed scan status repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Get returns the scan status for a channel.
func (r *PGRepository) Get(ctx context.Context, channelID string) (*ScanStatus, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM channel_scan_status WHERE channel_id = $1", selectColumns), channelID,
	)
	s, err := scanStatus(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query scan status: %w", err)
	}
	return s, nil
}

// MarkQueued creates or re-arms the status row for a new scan. The error
// message from any previous scan is cleared.
func (r *PGRepository) MarkQueued(ctx context.Context, guildID, channelID string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO channel_scan_status (channel_id, guild_id, status)
		VALUES ($1, $2, 'queued')
		ON CONFLICT (channel_id) DO UPDATE SET
			status = 'queued',
			error_message = NULL,
			updated_at = now()`,
		channelID, guildID,
	)
	if err != nil {
		return fmt.Errorf("mark scan queued: %w", err)
	}
	return nil
}

// SetStatus moves the scan to a new state, recording an optional reason.
func (r *PGRepository) SetStatus(ctx context.Context, channelID string, status Status, reason *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET status = $2, error_message = $3, updated_at = now()
		WHERE channel_id = $1`,
		channelID, status, reason,
	)
	if err != nil {
		return fmt.Errorf("set scan status: %w", err)
	}
	return nil
}

// SetCursors advances the history boundaries. Nil leaves a boundary untouched;
// the first successful page passes both.
func (r *PGRepository) SetCursors(ctx context.Context, channelID string, forward, backward *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET forward_message_id = COALESCE($2, forward_message_id),
		    backward_message_id = COALESCE($3, backward_message_id),
		    updated_at = now()
		WHERE channel_id = $1`,
		channelID, forward, backward,
	)
	if err != nil {
		return fmt.Errorf("set scan cursors: %w", err)
	}
	return nil
}

// IncrementCounts adds to the message counters atomically so concurrent
// workers never lose updates to a read-modify-write race.
func (r *PGRepository) IncrementCounts(ctx context.Context, channelID string, added, scanned int64) error {
	_, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET message_count = message_count + $2,
		    total_messages_scanned = total_messages_scanned + $3,
		    updated_at = now()
		WHERE channel_id = $1`,
		channelID, added, scanned,
	)
	if err != nil {
		return fmt.Errorf("increment scan counts: %w", err)
	}
	return nil
}

// Reset clears cursors and counters so the next scan starts from scratch.
func (r *PGRepository) Reset(ctx context.Context, channelID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET forward_message_id = NULL,
		    backward_message_id = NULL,
		    message_count = 0,
		    total_messages_scanned = 0,
		    error_message = NULL,
		    updated_at = now()
		WHERE channel_id = $1`,
		channelID,
	)
	if err != nil {
		return fmt.Errorf("reset scan status: %w", err)
	}
	return nil
}

// CancelStale cancels scans stuck in running or queued past the cutoff and
// returns how many were recovered.
func (r *PGRepository) CancelStale(ctx context.Context, cutoff time.Time, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET status = 'cancelled', error_message = $2, updated_at = now()
		WHERE status IN ('running', 'queued') AND updated_at < $1`,
		cutoff, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel stale scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelActiveForGuild cancels every running or queued scan in a guild.
// Purges call this before deleting rows so no scan writes into the void.
func (r *PGRepository) CancelActiveForGuild(ctx context.Context, guildID, reason string) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET status = 'cancelled', error_message = $2, updated_at = now()
		WHERE guild_id = $1 AND status IN ('running', 'queued')`,
		guildID, reason,
	)
	if err != nil {
		return 0, fmt.Errorf("cancel guild scans: %w", err)
	}
	return tag.RowsAffected(), nil
}

// CancelActiveForChannel cancels a channel's running or queued scan.
func (r *PGRepository) CancelActiveForChannel(ctx context.Context, channelID, reason string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE channel_scan_status
		SET status = 'cancelled', error_message = $2, updated_at = now()
		WHERE channel_id = $1 AND status IN ('running', 'queued')`,
		channelID, reason,
	)
	if err != nil {
		return fmt.Errorf("cancel channel scan: %w", err)
	}
	return nil
}

// DeleteForChannel removes the status row for a purged channel.
func (r *PGRepository) DeleteForChannel(ctx context.Context, channelID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM channel_scan_status WHERE channel_id = $1", channelID)
	if err != nil {
		return fmt.Errorf("delete scan status: %w", err)
	}
	return nil
}

// DeleteForGuild removes every status row for a purged guild.
func (r *PGRepository) DeleteForGuild(ctx context.Context, guildID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM channel_scan_status WHERE guild_id = $1", guildID)
	if err != nil {
		return fmt.Errorf("delete guild scan statuses: %w", err)
	}
	return nil
}

func scanStatus(row pgx.Row) (*ScanStatus, error) {
	var s ScanStatus
	err := row.Scan(
		&s.ChannelID, &s.GuildID, &s.Status, &s.ForwardMessageID, &s.BackwardMessageID,
		&s.MessageCount, &s.TotalMessagesScanned, &s.ErrorMessage, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

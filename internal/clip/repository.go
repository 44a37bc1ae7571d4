package clip

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, message_id, guild_id, channel_id, author_id, filename, file_size,
mime_type, cdn_url, expires_at, thumbnail_status, settings_hash, duration, resolution,
created_at, updated_at, deleted_at`

// PGRepository implements clip persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed clip repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// BulkUpsert writes a batch of clips in one round trip. The fingerprint
// primary key makes re-delivery idempotent; conflicts refresh the CDN URL,
// expiry, status, and settings hash.
func (r *PGRepository) BulkUpsert(ctx context.Context, clips []Clip) error {
	if len(clips) == 0 {
		return nil
	}

	ids := make([]string, len(clips))
	messageIDs := make([]string, len(clips))
	guildIDs := make([]string, len(clips))
	channelIDs := make([]string, len(clips))
	authorIDs := make([]string, len(clips))
	filenames := make([]string, len(clips))
	fileSizes := make([]int64, len(clips))
	mimeTypes := make([]*string, len(clips))
	cdnURLs := make([]string, len(clips))
	expiries := make([]time.Time, len(clips))
	statuses := make([]string, len(clips))
	hashes := make([]string, len(clips))
	for i, c := range clips {
		ids[i] = c.ID
		messageIDs[i] = c.MessageID
		guildIDs[i] = c.GuildID
		channelIDs[i] = c.ChannelID
		authorIDs[i] = c.AuthorID
		filenames[i] = c.Filename
		fileSizes[i] = c.FileSize
		mimeTypes[i] = c.MIMEType
		cdnURLs[i] = c.CDNURL
		expiries[i] = c.ExpiresAt
		statuses[i] = c.ThumbnailStatus
		hashes[i] = c.SettingsHash
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO clips (id, message_id, guild_id, channel_id, author_id, filename, file_size,
			mime_type, cdn_url, expires_at, thumbnail_status, settings_hash)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
			$7::bigint[], $8::text[], $9::text[], $10::timestamptz[], $11::text[], $12::text[])
		ON CONFLICT (id) DO UPDATE SET
			cdn_url = EXCLUDED.cdn_url,
			expires_at = EXCLUDED.expires_at,
			file_size = EXCLUDED.file_size,
			thumbnail_status = EXCLUDED.thumbnail_status,
			settings_hash = EXCLUDED.settings_hash,
			deleted_at = NULL,
			updated_at = now()`,
		ids, messageIDs, guildIDs, channelIDs, authorIDs, filenames, fileSizes,
		mimeTypes, cdnURLs, expiries, statuses, hashes,
	)
	if err != nil {
		return fmt.Errorf("bulk upsert clips: %w", err)
	}
	return nil
}

// GetByID returns one clip.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Clip, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM clips WHERE id = $1", selectColumns), id,
	)
	c, err := scanClip(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query clip by id: %w", err)
	}
	return c, nil
}

// ListByIDs loads a set of clips in one query, returned keyed by id.
func (r *PGRepository) ListByIDs(ctx context.Context, ids []string) (map[string]*Clip, error) {
	out := make(map[string]*Clip, len(ids))
	if len(ids) == 0 {
		return out, nil
	}

	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM clips WHERE id = ANY($1)", selectColumns), ids,
	)
	if err != nil {
		return nil, fmt.Errorf("query clips by ids: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip row: %w", err)
		}
		out[c.ID] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return out, nil
}

// ListByMessage returns the clips attached to one message.
func (r *PGRepository) ListByMessage(ctx context.Context, messageID string) ([]*Clip, error) {
	return r.list(ctx, "message_id", messageID)
}

// ListForChannel returns every clip stored for a channel.
func (r *PGRepository) ListForChannel(ctx context.Context, channelID string) ([]*Clip, error) {
	return r.list(ctx, "channel_id", channelID)
}

// ListForGuild returns every clip stored for a guild.
func (r *PGRepository) ListForGuild(ctx context.Context, guildID string) ([]*Clip, error) {
	return r.list(ctx, "guild_id", guildID)
}

func (r *PGRepository) list(ctx context.Context, column, value string) ([]*Clip, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM clips WHERE %s = $1", selectColumns, column), value,
	)
	if err != nil {
		return nil, fmt.Errorf("query clips by %s: %w", column, err)
	}
	defer rows.Close()

	var out []*Clip
	for rows.Next() {
		c, err := scanClip(rows)
		if err != nil {
			return nil, fmt.Errorf("scan clip row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate clips: %w", err)
	}
	return out, nil
}

// SetStatus moves a clip's thumbnail lifecycle state.
func (r *PGRepository) SetStatus(ctx context.Context, id, status string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE clips SET thumbnail_status = $2, updated_at = now() WHERE id = $1", id, status,
	)
	if err != nil {
		return fmt.Errorf("set clip status: %w", err)
	}
	return nil
}

// CompleteProcessing marks a clip done and backfills probe metadata. Existing
// non-null media fields are kept so a regeneration never clobbers them.
func (r *PGRepository) CompleteProcessing(ctx context.Context, id string, mimeType *string, duration *float64, resolution *string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE clips
		SET thumbnail_status = 'completed',
		    mime_type = COALESCE(mime_type, $2),
		    duration = COALESCE(duration, $3),
		    resolution = COALESCE(resolution, $4),
		    updated_at = now()
		WHERE id = $1`,
		id, mimeType, duration, resolution,
	)
	if err != nil {
		return fmt.Errorf("complete clip processing: %w", err)
	}
	return nil
}

// RefreshCDN updates the URL and expiry of a clip whose link was re-observed.
func (r *PGRepository) RefreshCDN(ctx context.Context, id, cdnURL string, expiresAt time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE clips SET cdn_url = $2, expires_at = $3, updated_at = now() WHERE id = $1",
		id, cdnURL, expiresAt,
	)
	if err != nil {
		return fmt.Errorf("refresh clip cdn url: %w", err)
	}
	return nil
}

// FailStaleProcessing flips clips stuck in pending or processing past the
// cutoff to failed and returns their ids so the retry machinery can pick
// them up.
func (r *PGRepository) FailStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		UPDATE clips
		SET thumbnail_status = 'failed', updated_at = now()
		WHERE thumbnail_status IN ('pending', 'processing') AND updated_at < $1
		RETURNING id`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("fail stale clips: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan stale clip id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate stale clips: %w", err)
	}
	return ids, nil
}

// DeleteByMessage hard-deletes the clips on one message.
func (r *PGRepository) DeleteByMessage(ctx context.Context, messageID string) (int64, error) {
	return r.delete(ctx, "message_id", messageID)
}

// DeleteForChannel hard-deletes every clip in a channel.
func (r *PGRepository) DeleteForChannel(ctx context.Context, channelID string) (int64, error) {
	return r.delete(ctx, "channel_id", channelID)
}

// DeleteForGuild hard-deletes every clip in a guild.
func (r *PGRepository) DeleteForGuild(ctx context.Context, guildID string) (int64, error) {
	return r.delete(ctx, "guild_id", guildID)
}

func (r *PGRepository) delete(ctx context.Context, column, value string) (int64, error) {
	tag, err := r.db.Exec(ctx,
		fmt.Sprintf("DELETE FROM clips WHERE %s = $1", column), value,
	)
	if err != nil {
		return 0, fmt.Errorf("delete clips by %s: %w", column, err)
	}
	return tag.RowsAffected(), nil
}

func scanClip(row pgx.Row) (*Clip, error) {
	var c Clip
	err := row.Scan(
		&c.ID, &c.MessageID, &c.GuildID, &c.ChannelID, &c.AuthorID, &c.Filename, &c.FileSize,
		&c.MIMEType, &c.CDNURL, &c.ExpiresAt, &c.ThumbnailStatus, &c.SettingsHash,
		&c.Duration, &c.Resolution, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

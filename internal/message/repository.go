package message

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// PGRepository implements message persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed message repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// BulkUpsert writes a batch of messages in one round trip. Conflicts update
// content and timestamp so update-rescans refresh stored rows.
func (r *PGRepository) BulkUpsert(ctx context.Context, messages []Message) error {
	if len(messages) == 0 {
		return nil
	}

	ids := make([]string, len(messages))
	guildIDs := make([]string, len(messages))
	channelIDs := make([]string, len(messages))
	authorIDs := make([]string, len(messages))
	contents := make([]string, len(messages))
	timestamps := make([]time.Time, len(messages))
	for i, m := range messages {
		ids[i] = m.ID
		guildIDs[i] = m.GuildID
		channelIDs[i] = m.ChannelID
		authorIDs[i] = m.AuthorID
		contents[i] = m.Content
		timestamps[i] = m.Timestamp
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO messages (id, guild_id, channel_id, author_id, content, timestamp)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::text[], $6::timestamptz[])
		ON CONFLICT (id) DO UPDATE SET
			content = EXCLUDED.content,
			timestamp = EXCLUDED.timestamp,
			deleted_at = NULL,
			updated_at = now()`,
		ids, guildIDs, channelIDs, authorIDs, contents, timestamps,
	)
	if err != nil {
		return fmt.Errorf("bulk upsert messages: %w", err)
	}
	return nil
}

// ExistingIDs partitions a candidate id set into the ones already stored,
// using a single query regardless of page size.
func (r *PGRepository) ExistingIDs(ctx context.Context, ids []string) (map[string]bool, error) {
	if len(ids) == 0 {
		return map[string]bool{}, nil
	}

	rows, err := r.db.Query(ctx, "SELECT id FROM messages WHERE id = ANY($1)", ids)
	if err != nil {
		return nil, fmt.Errorf("query existing message ids: %w", err)
	}
	defer rows.Close()

	existing := make(map[string]bool, len(ids))
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan message id: %w", err)
		}
		existing[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate message ids: %w", err)
	}
	return existing, nil
}

// Delete hard-deletes one message. Platform deletions are hard because the
// CDN content is unrecoverable; operator archival is the soft path.
func (r *PGRepository) Delete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM messages WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("delete message: %w", err)
	}
	return nil
}

// DeleteForChannel hard-deletes every message in a channel, returning the
// count removed.
func (r *PGRepository) DeleteForChannel(ctx context.Context, channelID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM messages WHERE channel_id = $1", channelID)
	if err != nil {
		return 0, fmt.Errorf("delete channel messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteForGuild hard-deletes every message in a guild.
func (r *PGRepository) DeleteForGuild(ctx context.Context, guildID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM messages WHERE guild_id = $1", guildID)
	if err != nil {
		return 0, fmt.Errorf("delete guild messages: %w", err)
	}
	return tag.RowsAffected(), nil
}

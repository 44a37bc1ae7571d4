package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, guild_id, name, type, topic, position, parent_id, nsfw,
message_scan_enabled, settings, purge_cooldown, created_at, updated_at, deleted_at`

// PGRepository implements channel persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed channel repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// UpsertForGuild inserts or refreshes a guild's channels in one statement.
// Re-observation clears deleted_at.
func (r *PGRepository) UpsertForGuild(ctx context.Context, guildID string, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	ids := make([]string, len(snapshots))
	names := make([]string, len(snapshots))
	types := make([]string, len(snapshots))
	topics := make([]*string, len(snapshots))
	positions := make([]int32, len(snapshots))
	parents := make([]*string, len(snapshots))
	nsfws := make([]bool, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID
		names[i] = s.Name
		types[i] = s.Type
		topics[i] = s.Topic
		positions[i] = int32(s.Position)
		parents[i] = s.ParentID
		nsfws[i] = s.NSFW
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO channels (id, name, type, topic, position, parent_id, nsfw, guild_id)
		SELECT u.*, $8 FROM unnest($1::text[], $2::text[], $3::text[], $4::text[], $5::int[], $6::text[], $7::bool[]) AS u
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			topic = EXCLUDED.topic,
			position = EXCLUDED.position,
			parent_id = EXCLUDED.parent_id,
			nsfw = EXCLUDED.nsfw,
			deleted_at = NULL,
			updated_at = now()`,
		ids, names, types, topics, positions, parents, nsfws, guildID,
	)
	if err != nil {
		return fmt.Errorf("upsert channels: %w", err)
	}
	return nil
}

// GetByID returns a channel that has not been soft-deleted.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Channel, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM channels WHERE id = $1 AND deleted_at IS NULL", selectColumns), id,
	)
	c, err := scanChannel(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel by id: %w", err)
	}
	return c, nil
}

// Settings returns the channel's settings override map.
func (r *PGRepository) Settings(ctx context.Context, id string) (map[string]any, error) {
	var raw []byte
	err := r.db.QueryRow(ctx,
		"SELECT settings FROM channels WHERE id = $1 AND deleted_at IS NULL", id,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query channel settings: %w", err)
	}

	var settings map[string]any
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode channel settings: %w", err)
	}
	return settings, nil
}

// SetPurgeCooldown stamps the channel after a purge so operators cannot
// immediately re-purge it.
func (r *PGRepository) SetPurgeCooldown(ctx context.Context, id string, until time.Time) error {
	_, err := r.db.Exec(ctx,
		"UPDATE channels SET purge_cooldown = $2, updated_at = now() WHERE id = $1", id, until,
	)
	if err != nil {
		return fmt.Errorf("set purge cooldown: %w", err)
	}
	return nil
}

// SoftDelete marks a channel removed on the platform.
func (r *PGRepository) SoftDelete(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE channels SET deleted_at = now(), updated_at = now() WHERE id = $1", id,
	)
	if err != nil {
		return fmt.Errorf("soft delete channel: %w", err)
	}
	return nil
}

// ListScanEnabled returns channels eligible for scanning: both the guild and
// channel flags on, a scannable type, and neither row soft-deleted.
func (r *PGRepository) ListScanEnabled(ctx context.Context) ([]*Channel, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(`
		SELECT %s FROM channels c
		WHERE c.deleted_at IS NULL
		  AND c.message_scan_enabled
		  AND c.type <> 'category'
		  AND EXISTS (
			SELECT 1 FROM guilds g
			WHERE g.id = c.guild_id AND g.deleted_at IS NULL AND g.message_scan_enabled
		  )`, selectColumns))
	if err != nil {
		return nil, fmt.Errorf("query scan-enabled channels: %w", err)
	}
	defer rows.Close()

	var out []*Channel
	for rows.Next() {
		c, err := scanChannel(rows)
		if err != nil {
			return nil, fmt.Errorf("scan channel row: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate channels: %w", err)
	}
	return out, nil
}

func scanChannel(row pgx.Row) (*Channel, error) {
	var (
		c   Channel
		raw []byte
	)
	err := row.Scan(
		&c.ID, &c.GuildID, &c.Name, &c.Type, &c.Topic, &c.Position, &c.ParentID, &c.NSFW,
		&c.ScanEnabled, &raw, &c.PurgeCooldown, &c.CreatedAt, &c.UpdatedAt, &c.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &c.Settings); err != nil {
		return nil, fmt.Errorf("decode channel settings: %w", err)
	}
	return &c, nil
}

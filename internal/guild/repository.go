package guild

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/postgres"
)

const selectColumns = `id, name, icon_url, owner_user_id, message_scan_enabled,
settings, default_channel_settings, last_message_scan_at, created_at, updated_at, deleted_at`

// PGRepository implements guild persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed guild repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// UpsertMany inserts or refreshes guilds in one statement. Re-observation
// clears deleted_at so a re-installed guild comes back without manual repair.
func (r *PGRepository) UpsertMany(ctx context.Context, snapshots []Snapshot) error {
	if len(snapshots) == 0 {
		return nil
	}

	ids := make([]string, len(snapshots))
	names := make([]string, len(snapshots))
	icons := make([]*string, len(snapshots))
	owners := make([]*string, len(snapshots))
	for i, s := range snapshots {
		ids[i] = s.ID
		names[i] = s.Name
		icons[i] = s.IconURL
		owners[i] = s.OwnerUserID
	}

	_, err := r.db.Exec(ctx, `
		INSERT INTO guilds (id, name, icon_url, owner_user_id)
		SELECT * FROM unnest($1::text[], $2::text[], $3::text[], $4::text[])
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			icon_url = EXCLUDED.icon_url,
			owner_user_id = EXCLUDED.owner_user_id,
			deleted_at = NULL,
			updated_at = now()`,
		ids, names, icons, owners,
	)
	if err != nil {
		return fmt.Errorf("upsert guilds: %w", err)
	}
	return nil
}

// GetByID returns a guild that has not been soft-deleted.
func (r *PGRepository) GetByID(ctx context.Context, id string) (*Guild, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM guilds WHERE id = $1 AND deleted_at IS NULL", selectColumns), id,
	)
	g, err := scanGuild(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query guild by id: %w", err)
	}
	return g, nil
}

// Settings returns the guild settings and the default channel settings used
// by the resolver. A missing guild yields ErrNotFound.
func (r *PGRepository) Settings(ctx context.Context, id string) (settings, defaults map[string]any, err error) {
	var settingsRaw, defaultsRaw []byte
	err = r.db.QueryRow(ctx,
		"SELECT settings, default_channel_settings FROM guilds WHERE id = $1 AND deleted_at IS NULL", id,
	).Scan(&settingsRaw, &defaultsRaw)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("query guild settings: %w", err)
	}

	if err := json.Unmarshal(settingsRaw, &settings); err != nil {
		return nil, nil, fmt.Errorf("decode guild settings: %w", err)
	}
	if err := json.Unmarshal(defaultsRaw, &defaults); err != nil {
		return nil, nil, fmt.Errorf("decode default channel settings: %w", err)
	}
	return settings, defaults, nil
}

// ScanEnabled reports whether message scanning is switched on for the guild.
func (r *PGRepository) ScanEnabled(ctx context.Context, id string) (bool, error) {
	var enabled bool
	err := r.db.QueryRow(ctx,
		"SELECT message_scan_enabled FROM guilds WHERE id = $1 AND deleted_at IS NULL", id,
	).Scan(&enabled)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, ErrNotFound
		}
		return false, fmt.Errorf("query guild scan flag: %w", err)
	}
	return enabled, nil
}

// SetLastScanAt records when the guild was last walked.
func (r *PGRepository) SetLastScanAt(ctx context.Context, id string) error {
	_, err := r.db.Exec(ctx,
		"UPDATE guilds SET last_message_scan_at = now(), updated_at = now() WHERE id = $1", id,
	)
	if err != nil {
		return fmt.Errorf("set last scan time: %w", err)
	}
	return nil
}

// SoftDelete marks the guild deleted and hard-deletes its scan statuses in
// the same transaction. Clip and message rows are left to the purge handler.
func (r *PGRepository) SoftDelete(ctx context.Context, id string) error {
	return postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			"UPDATE guilds SET deleted_at = now(), updated_at = now() WHERE id = $1", id,
		); err != nil {
			return fmt.Errorf("soft delete guild: %w", err)
		}
		if _, err := tx.Exec(ctx,
			"DELETE FROM channel_scan_status WHERE guild_id = $1", id,
		); err != nil {
			return fmt.Errorf("delete guild scan statuses: %w", err)
		}
		return nil
	})
}

func scanGuild(row pgx.Row) (*Guild, error) {
	var (
		g           Guild
		settingsRaw []byte
		defaultsRaw []byte
	)
	err := row.Scan(
		&g.ID, &g.Name, &g.IconURL, &g.OwnerUserID, &g.ScanEnabled,
		&settingsRaw, &defaultsRaw, &g.LastScanAt, &g.CreatedAt, &g.UpdatedAt, &g.DeletedAt,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(settingsRaw, &g.Settings); err != nil {
		return nil, fmt.Errorf("decode guild settings: %w", err)
	}
	if err := json.Unmarshal(defaultsRaw, &g.DefaultChannelSettings); err != nil {
		return nil, fmt.Errorf("decode default channel settings: %w", err)
	}
	return &g, nil
}

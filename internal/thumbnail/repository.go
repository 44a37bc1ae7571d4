package thumbnail

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const selectColumns = `id, clip_id, size_type, storage_path, width, height, file_size, mime_type, created_at`

// PGRepository implements thumbnail persistence using PostgreSQL.
type PGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewPGRepository creates a new PostgreSQL-backed thumbnail repository.
func NewPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *PGRepository {
	return &PGRepository{db: db, log: logger}
}

// Upsert records one rendered variant. A regeneration for the same clip and
// size replaces the previous row in place.
func (r *PGRepository) Upsert(ctx context.Context, t Thumbnail) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	_, err := r.db.Exec(ctx, `
		INSERT INTO thumbnails (id, clip_id, size_type, storage_path, width, height, file_size, mime_type)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (clip_id, size_type) DO UPDATE SET
			storage_path = EXCLUDED.storage_path,
			width = EXCLUDED.width,
			height = EXCLUDED.height,
			file_size = EXCLUDED.file_size,
			mime_type = EXCLUDED.mime_type`,
		t.ID, t.ClipID, t.SizeType, t.StoragePath, t.Width, t.Height, t.FileSize, t.MIMEType,
	)
	if err != nil {
		return fmt.Errorf("upsert thumbnail: %w", err)
	}
	return nil
}

// ByClipID returns the stored variants for one clip.
func (r *PGRepository) ByClipID(ctx context.Context, clipID string) ([]Thumbnail, error) {
	rows, err := r.db.Query(ctx,
		fmt.Sprintf("SELECT %s FROM thumbnails WHERE clip_id = $1", selectColumns), clipID,
	)
	if err != nil {
		return nil, fmt.Errorf("query thumbnails by clip: %w", err)
	}
	defer rows.Close()
	return collect(rows)
}

// PathsForClips returns the storage paths of every variant across a set of
// clips, used to remove blobs ahead of a purge.
func (r *PGRepository) PathsForClips(ctx context.Context, clipIDs []string) ([]string, error) {
	if len(clipIDs) == 0 {
		return nil, nil
	}
	rows, err := r.db.Query(ctx,
		"SELECT storage_path FROM thumbnails WHERE clip_id = ANY($1)", clipIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query thumbnail paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("scan thumbnail path: %w", err)
		}
		paths = append(paths, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thumbnail paths: %w", err)
	}
	return paths, nil
}

// DeleteForClip removes the rows for one clip, returning the count removed.
func (r *PGRepository) DeleteForClip(ctx context.Context, clipID string) (int64, error) {
	tag, err := r.db.Exec(ctx, "DELETE FROM thumbnails WHERE clip_id = $1", clipID)
	if err != nil {
		return 0, fmt.Errorf("delete clip thumbnails: %w", err)
	}
	return tag.RowsAffected(), nil
}

// DeleteForClips removes the rows for a set of clips.
func (r *PGRepository) DeleteForClips(ctx context.Context, clipIDs []string) (int64, error) {
	if len(clipIDs) == 0 {
		return 0, nil
	}
	tag, err := r.db.Exec(ctx, "DELETE FROM thumbnails WHERE clip_id = ANY($1)", clipIDs)
	if err != nil {
		return 0, fmt.Errorf("delete thumbnails: %w", err)
	}
	return tag.RowsAffected(), nil
}

func collect(rows pgx.Rows) ([]Thumbnail, error) {
	var out []Thumbnail
	for rows.Next() {
		var t Thumbnail
		err := rows.Scan(&t.ID, &t.ClipID, &t.SizeType, &t.StoragePath,
			&t.Width, &t.Height, &t.FileSize, &t.MIMEType, &t.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan thumbnail row: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thumbnails: %w", err)
	}
	return out, nil
}

package thumbnail

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/postgres"
)

const failedColumns = `id, clip_id, error_message, retry_count, last_attempted_at, next_retry_at, created_at`

// FailedPGRepository tracks clips whose thumbnail generation failed.
type FailedPGRepository struct {
	db  *pgxpool.Pool
	log zerolog.Logger
}

// NewFailedPGRepository creates a new PostgreSQL-backed failed thumbnail
// repository.
func NewFailedPGRepository(db *pgxpool.Pool, logger zerolog.Logger) *FailedPGRepository {
	return &FailedPGRepository{db: db, log: logger}
}

// RecordFailure upserts the failure row for a clip, bumping the retry count
// and scheduling the next attempt per the backoff schedule. Returns the new
// retry count.
func (r *FailedPGRepository) RecordFailure(ctx context.Context, clipID, errorMessage string, now time.Time) (int, error) {
	var count int
	err := postgres.WithTx(ctx, r.db, func(tx pgx.Tx) error {
		row := tx.QueryRow(ctx, `
			INSERT INTO failed_thumbnails (id, clip_id, error_message, retry_count, last_attempted_at, next_retry_at)
			VALUES ($1, $2, $3, 1, $4, $5)
			ON CONFLICT (clip_id) DO UPDATE SET
				error_message = EXCLUDED.error_message,
				retry_count = failed_thumbnails.retry_count + 1,
				last_attempted_at = EXCLUDED.last_attempted_at
			RETURNING retry_count`,
			uuid.NewString(), clipID, errorMessage, now, now.Add(Backoff(1)),
		)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("record thumbnail failure: %w", err)
		}
		_, err := tx.Exec(ctx,
			"UPDATE failed_thumbnails SET next_retry_at = $2 WHERE clip_id = $1",
			clipID, now.Add(Backoff(count)),
		)
		if err != nil {
			return fmt.Errorf("schedule thumbnail retry: %w", err)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return count, nil
}

// GetByClipID returns the failure row for one clip.
func (r *FailedPGRepository) GetByClipID(ctx context.Context, clipID string) (*FailedThumbnail, error) {
	row := r.db.QueryRow(ctx,
		fmt.Sprintf("SELECT %s FROM failed_thumbnails WHERE clip_id = $1", failedColumns), clipID,
	)
	var f FailedThumbnail
	err := row.Scan(&f.ID, &f.ClipID, &f.ErrorMessage, &f.RetryCount,
		&f.LastAttemptedAt, &f.NextRetryAt, &f.CreatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query failed thumbnail: %w", err)
	}
	return &f, nil
}

// Due returns clip ids whose next retry time has passed, oldest first.
func (r *FailedPGRepository) Due(ctx context.Context, now time.Time, limit int) ([]string, error) {
	rows, err := r.db.Query(ctx, `
		SELECT clip_id FROM failed_thumbnails
		WHERE next_retry_at <= $1
		ORDER BY next_retry_at
		LIMIT $2`,
		now, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query due thumbnail retries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan due clip id: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate due retries: %w", err)
	}
	return ids, nil
}

// Delete clears the failure row for a clip after a successful generation.
func (r *FailedPGRepository) Delete(ctx context.Context, clipID string) error {
	_, err := r.db.Exec(ctx, "DELETE FROM failed_thumbnails WHERE clip_id = $1", clipID)
	if err != nil {
		return fmt.Errorf("delete failed thumbnail: %w", err)
	}
	return nil
}

// DeleteForClips clears failure rows for a set of clips during a purge.
func (r *FailedPGRepository) DeleteForClips(ctx context.Context, clipIDs []string) error {
	if len(clipIDs) == 0 {
		return nil
	}
	_, err := r.db.Exec(ctx, "DELETE FROM failed_thumbnails WHERE clip_id = ANY($1)", clipIDs)
	if err != nil {
		return fmt.Errorf("delete failed thumbnails: %w", err)
	}
	return nil
}

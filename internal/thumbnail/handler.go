package thumbnail

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/clip"
	"github.com/clipvault/clipvault/internal/media"
	"github.com/clipvault/clipvault/internal/storage"
)

// DefaultRetryLimit caps how many failed clips one retry job processes.
const DefaultRetryLimit = 10

// ClipStore is the slice of the clip repository the handler needs.
type ClipStore interface {
	GetByID(ctx context.Context, id string) (*clip.Clip, error)
	SetStatus(ctx context.Context, id, status string) error
	CompleteProcessing(ctx context.Context, id string, mimeType *string, duration *float64, resolution *string) error
	FailStaleProcessing(ctx context.Context, cutoff time.Time) ([]string, error)
}

// ThumbnailStore persists rendered variant rows.
type ThumbnailStore interface {
	Upsert(ctx context.Context, t Thumbnail) error
}

// FailureStore tracks per-clip failure state.
type FailureStore interface {
	RecordFailure(ctx context.Context, clipID, errorMessage string, now time.Time) (int, error)
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
	Delete(ctx context.Context, clipID string) error
}

// Generator runs the media pipeline for one clip.
type Generator interface {
	Generate(ctx context.Context, guildID, clipID, cdnURL string) (*media.Result, error)
}

// Handler wraps the media pipeline with the per-clip failure state machine.
type Handler struct {
	clips    ClipStore
	thumbs   ThumbnailStore
	failures FailureStore
	pipeline Generator
	store    storage.Store
	log      zerolog.Logger
	now      func() time.Time
}

// NewHandler wires a handler from its collaborators.
func NewHandler(clips ClipStore, thumbs ThumbnailStore, failures FailureStore, pipeline Generator, store storage.Store, logger zerolog.Logger) *Handler {
	return &Handler{
		clips:    clips,
		thumbs:   thumbs,
		failures: failures,
		pipeline: pipeline,
		store:    store,
		log:      logger,
		now:      time.Now,
	}
}

// Process loads one clip and generates its thumbnails.
func (h *Handler) Process(ctx context.Context, clipID string) error {
	c, err := h.clips.GetByID(ctx, clipID)
	if err != nil {
		if errors.Is(err, clip.ErrNotFound) {
			h.log.Warn().Str("clip_id", clipID).Msg("clip vanished before thumbnail generation")
			return nil
		}
		return err
	}
	return h.ProcessClip(ctx, c)
}

// ProcessClip generates and stores thumbnails for an already loaded clip.
// Completed clips whose blobs are still present are skipped; completed clips
// with missing blobs are regenerated to repair the divergence.
func (h *Handler) ProcessClip(ctx context.Context, c *clip.Clip) error {
	if c.ThumbnailStatus == clip.StatusCompleted {
		present, err := h.blobsPresent(ctx, c)
		if err != nil {
			return err
		}
		if present {
			if err := h.failures.Delete(ctx, c.ID); err != nil {
				return err
			}
			return nil
		}
		h.log.Warn().Str("clip_id", c.ID).Msg("clip completed but blobs missing, regenerating")
	}

	if err := h.clips.SetStatus(ctx, c.ID, clip.StatusProcessing); err != nil {
		return err
	}

	result, err := h.pipeline.Generate(ctx, c.GuildID, c.ID, c.CDNURL)
	if err != nil {
		return h.recordFailure(ctx, c.ID, err)
	}

	for _, variant := range []struct {
		sizeType string
		artifact media.Artifact
	}{
		{SizeSmall, result.Small},
		{SizeLarge, result.Large},
	} {
		err := h.thumbs.Upsert(ctx, Thumbnail{
			ClipID:      c.ID,
			SizeType:    variant.sizeType,
			StoragePath: variant.artifact.Path,
			Width:       variant.artifact.Width,
			Height:      variant.artifact.Height,
			FileSize:    variant.artifact.FileSize,
			MIMEType:    "image/webp",
		})
		if err != nil {
			return h.recordFailure(ctx, c.ID, err)
		}
	}

	if err := h.clips.CompleteProcessing(ctx, c.ID, result.MIMEType, result.Duration, result.Resolution); err != nil {
		return err
	}
	if err := h.failures.Delete(ctx, c.ID); err != nil {
		return err
	}

	h.log.Info().Str("clip_id", c.ID).Str("guild_id", c.GuildID).Msg("thumbnails generated")
	return nil
}

func (h *Handler) blobsPresent(ctx context.Context, c *clip.Clip) (bool, error) {
	for _, size := range []string{SizeSmall, SizeLarge} {
		exists, err := h.store.Exists(ctx, media.ThumbnailPath(c.GuildID, c.ID, size))
		if err != nil {
			return false, fmt.Errorf("check thumbnail blob: %w", err)
		}
		if !exists {
			return false, nil
		}
	}
	return true, nil
}

func (h *Handler) recordFailure(ctx context.Context, clipID string, cause error) error {
	if err := h.clips.SetStatus(ctx, clipID, clip.StatusFailed); err != nil {
		h.log.Error().Err(err).Str("clip_id", clipID).Msg("mark clip failed")
	}
	count, err := h.failures.RecordFailure(ctx, clipID, cause.Error(), h.now())
	if err != nil {
		h.log.Error().Err(err).Str("clip_id", clipID).Msg("record thumbnail failure")
		return cause
	}
	h.log.Warn().
		Err(cause).
		Str("clip_id", clipID).
		Int("retry_count", count).
		Dur("next_retry_in", Backoff(count)).
		Msg("thumbnail generation failed")
	return cause
}

// RetryBatch processes due failures, or an explicit clip-id list when
// provided. Individual failures are rescheduled, not propagated, so one bad
// clip cannot stall the rest of the batch.
func (h *Handler) RetryBatch(ctx context.Context, clipIDs []string, limit int) (succeeded, failed int, err error) {
	if limit <= 0 {
		limit = DefaultRetryLimit
	}
	if len(clipIDs) == 0 {
		clipIDs, err = h.failures.Due(ctx, h.now(), limit)
		if err != nil {
			return 0, 0, err
		}
	}

	for _, id := range clipIDs {
		if err := ctx.Err(); err != nil {
			return succeeded, failed, err
		}
		if err := h.Process(ctx, id); err != nil {
			failed++
			continue
		}
		succeeded++
	}
	return succeeded, failed, nil
}

// CleanupStale fails clips stuck in pending or processing longer than
// olderThan and registers them with the retry machinery.
func (h *Handler) CleanupStale(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := h.now().Add(-olderThan)
	ids, err := h.clips.FailStaleProcessing(ctx, cutoff)
	if err != nil {
		return 0, err
	}
	for _, id := range ids {
		if _, err := h.failures.RecordFailure(ctx, id, "processing timed out", h.now()); err != nil {
			h.log.Error().Err(err).Str("clip_id", id).Msg("record stale clip failure")
		}
	}
	if len(ids) > 0 {
		h.log.Info().Int("count", len(ids)).Msg("failed stale thumbnail work")
	}
	return len(ids), nil
}

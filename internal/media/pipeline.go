package media

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/disintegration/imaging"
	"github.com/rs/zerolog"

	"github.com/clipvault/clipvault/internal/storage"
)

// SizeSpec is one output variant of the thumbnail render.
type SizeSpec struct {
	Name      string
	MaxWidth  int
	MaxHeight int
}

// Options configures the render pass.
type Options struct {
	Small     SizeSpec
	Large     SizeSpec
	Timestamp float64
	Quality   int
}

// DefaultOptions returns the standard two-variant render configuration.
func DefaultOptions() Options {
	return Options{
		Small:     SizeSpec{Name: "small", MaxWidth: 320, MaxHeight: 180},
		Large:     SizeSpec{Name: "large", MaxWidth: 640, MaxHeight: 360},
		Timestamp: 1.0,
		Quality:   85,
	}
}

// Artifact is one stored thumbnail blob.
type Artifact struct {
	Path     string
	Width    int
	Height   int
	FileSize int64
}

// Result carries the stored artifacts plus the probe metadata used to
// backfill the clip record.
type Result struct {
	Small      Artifact
	Large      Artifact
	MIMEType   *string
	Duration   *float64
	Resolution *string
}

// ThumbnailPath is the stable blob path for one clip variant.
func ThumbnailPath(guildID, clipID, size string) string {
	return fmt.Sprintf("thumbnails/guild_%s/%s_%s.webp", guildID, clipID, size)
}

// Pipeline runs download, probe, frame extraction, and the two-size render
// for a clip.
type Pipeline struct {
	downloader *Downloader
	bins       Binaries
	store      storage.Store
	opts       Options
	log        zerolog.Logger
}

// NewPipeline wires a pipeline from its collaborators.
func NewPipeline(downloader *Downloader, bins Binaries, store storage.Store, opts Options, logger zerolog.Logger) *Pipeline {
	return &Pipeline{downloader: downloader, bins: bins, store: store, opts: opts, log: logger}
}

// Generate produces and stores both thumbnail variants for a clip, returning
// the stored artifacts and probe metadata.
func (p *Pipeline) Generate(ctx context.Context, guildID, clipID, cdnURL string) (*Result, error) {
	videoPath, cleanupVideo, err := p.downloader.Download(ctx, cdnURL)
	if err != nil {
		return nil, err
	}
	defer cleanupVideo()

	probe, err := p.bins.Probe(ctx, videoPath)
	if err != nil {
		return nil, err
	}

	frameDir, err := os.MkdirTemp("", "clipvault-frame-")
	if err != nil {
		return nil, fmt.Errorf("create frame dir: %w", err)
	}
	defer os.RemoveAll(frameDir)

	framePath := filepath.Join(frameDir, clipID+".png")
	offset := p.opts.Timestamp
	if probe.Duration != nil && *probe.Duration < offset {
		// Short clips get their first frame instead of a seek past the end.
		offset = 0
	}
	if err := p.bins.ExtractFrame(ctx, videoPath, framePath, offset); err != nil {
		return nil, err
	}

	frame, err := imaging.Open(framePath)
	if err != nil {
		return nil, fmt.Errorf("open extracted frame: %w", err)
	}

	mime := MIMEFromProbe(probe.CodecName, probe.FormatName)
	result := &Result{
		MIMEType:   &mime,
		Duration:   probe.Duration,
		Resolution: probe.Resolution(),
	}

	for _, spec := range []struct {
		size SizeSpec
		out  *Artifact
	}{
		{p.opts.Small, &result.Small},
		{p.opts.Large, &result.Large},
	} {
		data, width, height, err := RenderWebP(frame, spec.size.MaxWidth, spec.size.MaxHeight, p.opts.Quality)
		if err != nil {
			return nil, err
		}
		path := ThumbnailPath(guildID, clipID, spec.size.Name)
		if _, err := p.store.Put(ctx, path, data); err != nil {
			return nil, fmt.Errorf("store %s thumbnail: %w", spec.size.Name, err)
		}
		*spec.out = Artifact{Path: path, Width: width, Height: height, FileSize: int64(len(data))}
	}

	p.log.Debug().
		Str("clip_id", clipID).
		Str("guild_id", guildID).
		Msg("generated thumbnails")
	return result, nil
}

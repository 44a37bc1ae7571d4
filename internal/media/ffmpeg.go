package media

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
)

// Binaries holds the resolved paths of the external media tools.
type Binaries struct {
	FFmpeg  string
	FFprobe string
}

// FindBinaries locates ffmpeg and ffprobe, preferring a bundled install
// under bin/ffmpeg before falling back to PATH.
func FindBinaries() (Binaries, error) {
	ffmpeg, err := findBinary("ffmpeg")
	if err != nil {
		return Binaries{}, err
	}
	ffprobe, err := findBinary("ffprobe")
	if err != nil {
		return Binaries{}, err
	}
	return Binaries{FFmpeg: ffmpeg, FFprobe: ffprobe}, nil
}

func findBinary(name string) (string, error) {
	if runtime.GOOS == "windows" {
		name += ".exe"
	}
	bundled := []string{
		filepath.Join("bin", "ffmpeg", "bin", name),
		filepath.Join("bin", "ffmpeg", name),
	}

	// Bundled installs resolve against the executable's directory first so
	// the result does not depend on where the process was launched from; the
	// working directory is kept as a fallback for development runs.
	var candidates []string
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, rel := range bundled {
			candidates = append(candidates, filepath.Join(dir, rel))
		}
	}
	candidates = append(candidates, bundled...)

	for _, candidate := range candidates {
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}
	path, err := exec.LookPath(name)
	if err != nil {
		return "", fmt.Errorf("locate %s: %w", name, err)
	}
	return path, nil
}

// ProbeResult carries the stream and container metadata a clip record needs.
type ProbeResult struct {
	Duration   *float64
	Width      int
	Height     int
	CodecName  string
	FormatName string
}

// Resolution renders the probed dimensions as "WxH", or nil when unknown.
func (p ProbeResult) Resolution() *string {
	if p.Width <= 0 || p.Height <= 0 {
		return nil
	}
	s := fmt.Sprintf("%dx%d", p.Width, p.Height)
	return &s
}

type probeEnvelope struct {
	Streams []struct {
		CodecType string `json:"codec_type"`
		CodecName string `json:"codec_name"`
		Width     int    `json:"width"`
		Height    int    `json:"height"`
	} `json:"streams"`
	Format struct {
		FormatName string `json:"format_name"`
		Duration   string `json:"duration"`
	} `json:"format"`
}

// Probe inspects a downloaded video with ffprobe.
func (b Binaries) Probe(ctx context.Context, videoPath string) (*ProbeResult, error) {
	cmd := exec.CommandContext(ctx, b.FFprobe,
		"-v", "quiet",
		"-print_format", "json",
		"-show_format",
		"-show_streams",
		videoPath,
	)
	var stdout bytes.Buffer
	cmd.Stdout = &stdout
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run ffprobe: %w", err)
	}

	var envelope probeEnvelope
	if err := json.Unmarshal(stdout.Bytes(), &envelope); err != nil {
		return nil, fmt.Errorf("parse ffprobe output: %w", err)
	}

	result := &ProbeResult{FormatName: envelope.Format.FormatName}
	if envelope.Format.Duration != "" {
		if d, err := strconv.ParseFloat(envelope.Format.Duration, 64); err == nil {
			result.Duration = &d
		}
	}
	for _, stream := range envelope.Streams {
		if stream.CodecType == "video" {
			result.CodecName = stream.CodecName
			result.Width = stream.Width
			result.Height = stream.Height
			break
		}
	}
	return result, nil
}

// ExtractFrame writes a single lossless PNG frame at the given offset.
func (b Binaries) ExtractFrame(ctx context.Context, videoPath, framePath string, offset float64) error {
	cmd := exec.CommandContext(ctx, b.FFmpeg,
		"-y",
		"-ss", strconv.FormatFloat(offset, 'f', -1, 64),
		"-i", videoPath,
		"-vframes", "1",
		"-f", "image2",
		"-vcodec", "png",
		framePath,
	)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("extract frame: %w: %s", err, stderr.String())
	}
	return nil
}

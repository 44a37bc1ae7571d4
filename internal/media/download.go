// Package media turns clip CDN URLs into stored thumbnail images.
package media

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Download timeouts. The total timeout bounds the whole transfer; the
// connect timeout bounds dialing alone so a dead CDN host fails fast.
const (
	DefaultDownloadTimeout = 300 * time.Second
	DefaultConnectTimeout  = 10 * time.Second
)

// Downloader fetches clip bytes into temp files. The underlying client is
// shared across downloads to reuse connections.
type Downloader struct {
	client *http.Client
	log    zerolog.Logger
}

// NewDownloader builds a downloader with the given timeouts. Zero values
// fall back to the defaults.
func NewDownloader(totalTimeout, connectTimeout time.Duration, logger zerolog.Logger) *Downloader {
	if totalTimeout <= 0 {
		totalTimeout = DefaultDownloadTimeout
	}
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &Downloader{
		client: &http.Client{
			Timeout: totalTimeout,
			Transport: &http.Transport{
				DialContext:         dialer.DialContext,
				TLSHandshakeTimeout: connectTimeout,
			},
		},
		log: logger,
	}
}

// Download writes the body at url to a temp file and returns its path plus a
// cleanup func that removes it. The cleanup func is safe to call on every
// return path.
func (d *Downloader) Download(ctx context.Context, url string) (string, func(), error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", nil, fmt.Errorf("build download request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return "", nil, fmt.Errorf("download clip: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", nil, fmt.Errorf("download clip: unexpected status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "clipvault-*.video")
	if err != nil {
		return "", nil, fmt.Errorf("create temp file: %w", err)
	}
	cleanup := func() { os.Remove(tmp.Name()) }

	written, err := io.Copy(tmp, resp.Body)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		cleanup()
		return "", nil, fmt.Errorf("write temp file: %w", err)
	}

	d.log.Debug().Str("url", url).Int64("bytes", written).Msg("downloaded clip")
	return tmp.Name(), cleanup, nil
}

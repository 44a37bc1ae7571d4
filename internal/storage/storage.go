// Package storage abstracts blob persistence so thumbnails can live on local
// disk, GCS, or S3 without the pipeline knowing which.
package storage

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
)

// ErrNotFound is returned by Get when the object does not exist.
var ErrNotFound = errors.New("storage object not found")

// Store is the blob contract. Paths are POSIX-style and relative; each backend
// prepends its own base. Deletes of missing objects succeed and report false.
type Store interface {
	// Put writes data at path, creating parents as needed, and returns the
	// stored path.
	Put(ctx context.Context, path string, data []byte) (string, error)

	// Get reads the full object. Returns ErrNotFound when missing.
	Get(ctx context.Context, path string) ([]byte, error)

	// Delete removes the object, reporting whether it existed.
	Delete(ctx context.Context, path string) (bool, error)

	// Exists reports whether the object is present.
	Exists(ctx context.Context, path string) (bool, error)

	// PublicURL resolves the externally servable URL for a stored path.
	// Credentials never appear in the result.
	PublicURL(path string) string
}

// contentTypes maps file extensions to the Content-Type set on cloud uploads.
var contentTypes = map[string]string{
	".webp": "image/webp",
	".png":  "image/png",
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".gif":  "image/gif",
	".mp4":  "video/mp4",
	".webm": "video/webm",
	".mkv":  "video/x-matroska",
	".mov":  "video/quicktime",
	".avi":  "video/x-msvideo",
	".flv":  "video/x-flv",
}

// ContentTypeFor returns the Content-Type for a stored path, defaulting to
// application/octet-stream.
func ContentTypeFor(path string) string {
	if ct, ok := contentTypes[strings.ToLower(filepath.Ext(path))]; ok {
		return ct
	}
	return "application/octet-stream"
}

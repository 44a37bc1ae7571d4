package storage

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Local stores blobs on the local filesystem. All file operations are scoped
// to a root directory using os.Root, which guarantees that no path can escape
// the base directory via traversal sequences or symbolic links.
type Local struct {
	root *os.Root
}

// NewLocal creates a local store rooted at basePath, creating the directory if
// it does not exist.
func NewLocal(basePath string) (*Local, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root %s: %w", basePath, err)
	}
	root, err := os.OpenRoot(basePath)
	if err != nil {
		return nil, fmt.Errorf("open storage root %s: %w", basePath, err)
	}
	return &Local{root: root}, nil
}

// Close releases the underlying root directory handle.
func (s *Local) Close() error {
	return s.root.Close()
}

// Put writes data to the file identified by path. Parent directories are
// created automatically. A failed write removes the partial file.
func (s *Local) Put(_ context.Context, path string, data []byte) (string, error) {
	dir := filepath.Dir(path)
	if dir != "." {
		if err := s.root.MkdirAll(dir, 0o755); err != nil {
			return "", fmt.Errorf("create storage directory: %w", err)
		}
	}

	f, err := s.root.Create(path)
	if err != nil {
		return "", fmt.Errorf("create storage file: %w", err)
	}

	if _, err := f.Write(data); err != nil {
		_ = f.Close()
		_ = s.root.Remove(path)
		return "", fmt.Errorf("write storage file: %w", err)
	}

	if err := f.Close(); err != nil {
		_ = s.root.Remove(path)
		return "", fmt.Errorf("close storage file: %w", err)
	}
	return path, nil
}

// Get reads the file identified by path. Returns ErrNotFound when it does not
// exist.
func (s *Local) Get(_ context.Context, path string) ([]byte, error) {
	f, err := s.root.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open storage file: %w", err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, fmt.Errorf("read storage file: %w", err)
	}
	return data, nil
}

// Delete removes the file at path, reporting whether it existed.
func (s *Local) Delete(_ context.Context, path string) (bool, error) {
	if err := s.root.Remove(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("delete storage file: %w", err)
	}
	return true, nil
}

// Exists reports whether a file is present at path.
func (s *Local) Exists(_ context.Context, path string) (bool, error) {
	if _, err := s.root.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("stat storage file: %w", err)
	}
	return true, nil
}

// PublicURL returns the path under the /storage prefix served by the HTTP
// layer.
func (s *Local) PublicURL(path string) string {
	return "/storage/" + strings.TrimLeft(path, "/")
}

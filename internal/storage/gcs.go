package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	gcs "cloud.google.com/go/storage"
)

// GCS stores blobs in a Google Cloud Storage bucket.
type GCS struct {
	client *gcs.Client
	bucket *gcs.BucketHandle
	name   string
}

// NewGCS builds the backend using application default credentials.
func NewGCS(ctx context.Context, bucketName string) (*GCS, error) {
	client, err := gcs.NewClient(ctx)
	if err != nil {
		return nil, fmt.Errorf("create gcs client: %w", err)
	}
	return &GCS{
		client: client,
		bucket: client.Bucket(bucketName),
		name:   bucketName,
	}, nil
}

// Close releases the underlying client.
func (s *GCS) Close() error {
	return s.client.Close()
}

// Put uploads data with a Content-Type derived from the path extension.
func (s *GCS) Put(ctx context.Context, path string, data []byte) (string, error) {
	w := s.bucket.Object(path).NewWriter(ctx)
	w.ContentType = ContentTypeFor(path)

	if _, err := w.Write(data); err != nil {
		_ = w.Close()
		return "", fmt.Errorf("write gcs object %s: %w", path, err)
	}
	if err := w.Close(); err != nil {
		return "", fmt.Errorf("close gcs object %s: %w", path, err)
	}
	return path, nil
}

// Get downloads the full object. Returns ErrNotFound when the object is
// absent.
func (s *GCS) Get(ctx context.Context, path string) ([]byte, error) {
	r, err := s.bucket.Object(path).NewReader(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("open gcs object %s: %w", path, err)
	}
	defer func() { _ = r.Close() }()

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read gcs object %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object, reporting whether it existed.
func (s *GCS) Delete(ctx context.Context, path string) (bool, error) {
	err := s.bucket.Object(path).Delete(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("delete gcs object %s: %w", path, err)
	}
	return true, nil
}

// Exists reports whether the object is present.
func (s *GCS) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.bucket.Object(path).Attrs(ctx)
	if err != nil {
		if errors.Is(err, gcs.ErrObjectNotExist) {
			return false, nil
		}
		return false, fmt.Errorf("stat gcs object %s: %w", path, err)
	}
	return true, nil
}

// PublicURL returns the canonical object URL for the bucket.
func (s *GCS) PublicURL(path string) string {
	return fmt.Sprintf("https://storage.googleapis.com/%s/%s", s.name, path)
}

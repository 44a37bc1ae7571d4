package storage

import (
	"context"
	"fmt"

	"github.com/clipvault/clipvault/internal/config"
)

// FromConfig builds the blob store selected by STORAGE_TYPE.
func FromConfig(ctx context.Context, cfg *config.Config) (Store, error) {
	switch cfg.StorageType {
	case config.StorageLocal:
		return NewLocal(cfg.StoragePath)
	case config.StorageGCS:
		return NewGCS(ctx, cfg.GCSBucketName)
	case config.StorageS3:
		return NewS3(ctx, S3Options{
			Bucket:          cfg.S3BucketName,
			Region:          cfg.S3Region,
			Endpoint:        cfg.S3Endpoint,
			AccessKeyID:     cfg.S3AccessKeyID,
			SecretAccessKey: cfg.S3SecretAccessKey,
		})
	default:
		return nil, fmt.Errorf("unknown storage type %q", cfg.StorageType)
	}
}

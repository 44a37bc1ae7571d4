package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3Options configure the S3 backend. Endpoint is optional and enables
// path-style addressing for S3-compatible servers such as MinIO.
type S3Options struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
}

// S3 stores blobs in an S3 (or S3-compatible) bucket.
type S3 struct {
	client   *s3.Client
	bucket   string
	region   string
	endpoint string
}

// NewS3 builds the backend. When no static credentials are given, the default
// AWS credential chain applies (env, shared config, instance role).
func NewS3(ctx context.Context, opts S3Options) (*S3, error) {
	loadOpts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(opts.Region),
	}
	if opts.AccessKeyID != "" && opts.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKeyID, opts.SecretAccessKey, ""),
		))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})

	return &S3{
		client:   client,
		bucket:   opts.Bucket,
		region:   opts.Region,
		endpoint: strings.TrimRight(opts.Endpoint, "/"),
	}, nil
}

// Put uploads data with a Content-Type derived from the path extension.
func (s *S3) Put(ctx context.Context, path string, data []byte) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(path),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(ContentTypeFor(path)),
	})
	if err != nil {
		return "", fmt.Errorf("put s3 object %s: %w", path, err)
	}
	return path, nil
}

// Get downloads the full object. Returns ErrNotFound when the key is absent.
func (s *S3) Get(ctx context.Context, path string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get s3 object %s: %w", path, err)
	}
	defer func() { _ = out.Body.Close() }()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("read s3 object %s: %w", path, err)
	}
	return data, nil
}

// Delete removes the object, reporting whether it existed.
func (s *S3) Delete(ctx context.Context, path string) (bool, error) {
	existed, err := s.Exists(ctx, path)
	if err != nil {
		return false, err
	}
	if !existed {
		return false, nil
	}

	_, err = s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		return false, fmt.Errorf("delete s3 object %s: %w", path, err)
	}
	return true, nil
}

// Exists reports whether the object is present.
func (s *S3) Exists(ctx context.Context, path string) (bool, error) {
	_, err := s.client.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(path),
	})
	if err != nil {
		var notFound *types.NotFound
		if errors.As(err, &notFound) {
			return false, nil
		}
		return false, fmt.Errorf("head s3 object %s: %w", path, err)
	}
	return true, nil
}

// PublicURL returns the canonical object URL. Custom endpoints use path-style
// addressing.
func (s *S3) PublicURL(path string) string {
	if s.endpoint != "" {
		return fmt.Sprintf("%s/%s/%s", s.endpoint, s.bucket, path)
	}
	return fmt.Sprintf("https://%s.s3.%s.amazonaws.com/%s", s.bucket, s.region, path)
}

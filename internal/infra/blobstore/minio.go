// Package blobstore keeps large harvest artifacts, such as DCAT catalog
// pages, in S3-compatible object storage.
package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"udata-harvest/internal/resilience/retry"
)

// Config locates the bucket.
type Config struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Region    string
	UseSSL    bool
}

// Store writes objects to one bucket.
type Store struct {
	client *minio.Client
	bucket string
	retry  retry.Config
}

// New creates a store. It does not contact the server; call EnsureBucket
// at startup.
func New(cfg Config) (*Store, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("blobstore: bucket is required")
	}
	region := cfg.Region
	if region == "" {
		region = "us-east-1"
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure:       cfg.UseSSL,
		Region:       region,
		BucketLookup: minio.BucketLookupPath,
	})
	if err != nil {
		return nil, fmt.Errorf("blobstore: create client: %w", err)
	}
	return &Store{client: client, bucket: cfg.Bucket, retry: retry.BlobStoreConfig()}, nil
}

// EnsureBucket creates the bucket when it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blobstore: check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
		return fmt.Errorf("blobstore: create bucket %s: %w", s.bucket, err)
	}
	slog.Info("bucket created", slog.String("bucket", s.bucket))
	return nil
}

// Put uploads data under key, retrying transient failures.
func (s *Store) Put(ctx context.Context, key string, data []byte, contentType string) error {
	start := time.Now()
	err := retry.WithBackoff(ctx, s.retry, func() error {
		_, err := s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)),
			minio.PutObjectOptions{ContentType: contentType})
		return classify(err)
	})
	if err != nil {
		return fmt.Errorf("blobstore: put %s: %w", key, err)
	}
	slog.Debug("object stored",
		slog.String("bucket", s.bucket),
		slog.String("key", key),
		slog.Int("size", len(data)),
		slog.Duration("duration", time.Since(start)))
	return nil
}

// Get reads the object stored under key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("blobstore: get %s: %w", key, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("blobstore: read %s: %w", key, err)
	}
	return buf.Bytes(), nil
}

// Ping reports whether the bucket is reachable.
func (s *Store) Ping(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("blobstore: %w", err)
	}
	if !exists {
		return fmt.Errorf("blobstore: bucket %s does not exist", s.bucket)
	}
	return nil
}

// classify turns S3 error responses into retry.HTTPError so server-side
// failures are retried and client errors are not.
func classify(err error) error {
	if err == nil {
		return nil
	}
	resp := minio.ToErrorResponse(err)
	if resp.StatusCode == 0 {
		return err
	}
	return fmt.Errorf("%w (%s)", &retry.HTTPError{StatusCode: resp.StatusCode, Message: resp.Code}, resp.Message)
}

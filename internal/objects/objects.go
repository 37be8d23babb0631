// Package objects stores uploaded images in an S3-compatible bucket.
package objects

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"

	"github.com/intelligrit/quakesafe/internal/config"
	"github.com/intelligrit/quakesafe/internal/metrics"
)

// Store is a bucket of private image objects.
type Store struct {
	client *minio.Client
	bucket string
	region string
}

// New connects to the endpoint in cfg using MINIO_ACCESS_KEY and
// MINIO_SECRET_KEY from the environment.
func New(cfg config.StorageConfig) (*Store, error) {
	accessKey := os.Getenv("MINIO_ACCESS_KEY")
	secretKey := os.Getenv("MINIO_SECRET_KEY")
	if cfg.Endpoint == "" || cfg.Bucket == "" || accessKey == "" || secretKey == "" {
		return nil, fmt.Errorf("object storage needs storage.endpoint, storage.bucket, MINIO_ACCESS_KEY and MINIO_SECRET_KEY")
	}

	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: cfg.UseSSL,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("creating object storage client: %w", err)
	}

	log.Info().Str("endpoint", cfg.Endpoint).Str("bucket", cfg.Bucket).Msg("Object storage configured")
	return &Store{client: client, bucket: cfg.Bucket, region: cfg.Region}, nil
}

// EnsureBucket creates the bucket if it does not exist.
func (s *Store) EnsureBucket(ctx context.Context) error {
	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("checking bucket existence: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("creating bucket %s: %w", s.bucket, err)
	}
	log.Info().Str("bucket", s.bucket).Msg("Bucket created")
	return nil
}

// Put stores an image under a fresh random key and returns the key.
func (s *Store) Put(ctx context.Context, r io.Reader, size int64, contentType string) (string, error) {
	key := NewKey(contentType)
	_, err := s.client.PutObject(ctx, s.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return "", fmt.Errorf("storing object: %w", err)
	}
	if size > 0 {
		metrics.UploadBytesTotal.Add(float64(size))
	}
	log.Debug().Str("key", key).Int64("size", size).Str("content_type", contentType).Msg("Image stored")
	return key, nil
}

// PresignGet returns a time-limited download URL for key.
func (s *Store) PresignGet(ctx context.Context, key string, expiry time.Duration) (string, error) {
	u, err := s.client.PresignedGetObject(ctx, s.bucket, key, expiry, url.Values{})
	if err != nil {
		return "", fmt.Errorf("presigning %s: %w", key, err)
	}
	return u.String(), nil
}

// NewKey returns "<uuid>.<ext>" with the extension taken from an image
// content type, defaulting to jpg.
func NewKey(contentType string) string {
	return uuid.NewString() + "." + Extension(contentType)
}

// Extension maps an image content type to a file extension.
func Extension(contentType string) string {
	ct := strings.ToLower(strings.TrimSpace(contentType))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	switch ct {
	case "image/png":
		return "png"
	case "image/webp":
		return "webp"
	case "image/heic":
		return "heic"
	case "image/gif":
		return "gif"
	}
	return "jpg"
}

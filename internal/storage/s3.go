package storage

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog/log"
)

// S3Storage implements Storage on S3-compatible object storage (AWS S3, MinIO, etc.)
type S3Storage struct {
	client *minio.Client
	region string
}

// NewS3Storage creates a new S3-compatible storage provider
func NewS3Storage(endpoint, accessKey, secretKey, region string, useSSL bool) (*S3Storage, error) {
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(accessKey, secretKey, ""),
		Secure: useSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create S3 client: %w", err)
	}

	log.Info().
		Str("endpoint", endpoint).
		Str("region", region).
		Bool("ssl", useSSL).
		Msg("S3-compatible storage initialized")

	return &S3Storage{
		client: client,
		region: region,
	}, nil
}

// Name returns the provider name
func (s3 *S3Storage) Name() string {
	return "s3"
}

// Health checks if the storage is reachable
func (s3 *S3Storage) Health(ctx context.Context) error {
	if _, err := s3.client.ListBuckets(ctx); err != nil {
		return fmt.Errorf("S3 health check failed: %w", err)
	}
	return nil
}

// EnsureBucket creates bucket when it does not exist yet
func (s3 *S3Storage) EnsureBucket(ctx context.Context, bucket string) error {
	exists, err := s3.client.BucketExists(ctx, bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if exists {
		return nil
	}
	if err := s3.client.MakeBucket(ctx, bucket, minio.MakeBucketOptions{Region: s3.region}); err != nil {
		return fmt.Errorf("failed to create bucket: %w", err)
	}
	log.Info().Str("bucket", bucket).Msg("S3 bucket created")
	return nil
}

// Upload uploads an asset to S3
func (s3 *S3Storage) Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error) {
	if opts == nil {
		opts = &UploadOptions{}
	}

	info, err := s3.client.PutObject(ctx, bucket, key, data, size, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
		CacheControl: opts.CacheControl,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to upload to S3: %w", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Int64("size", info.Size).
		Msg("Asset uploaded to S3")

	return &Object{
		Key:          key,
		Bucket:       bucket,
		Size:         info.Size,
		ContentType:  opts.ContentType,
		LastModified: time.Now(),
		ETag:         info.ETag,
		Metadata:     opts.Metadata,
	}, nil
}

// Exists checks if bucket/key is present
func (s3 *S3Storage) Exists(ctx context.Context, bucket, key string) (bool, error) {
	_, err := s3.client.StatObject(ctx, bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// Delete removes bucket/key
func (s3 *S3Storage) Delete(ctx context.Context, bucket, key string) error {
	if err := s3.client.RemoveObject(ctx, bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("failed to delete from S3: %w", err)
	}

	log.Debug().
		Str("bucket", bucket).
		Str("key", key).
		Msg("Asset deleted from S3")

	return nil
}

// Package storage holds the object stores binary assets are deployed to.
package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Object represents a stored asset
type Object struct {
	Key          string            `json:"key" yaml:"key"`
	Bucket       string            `json:"bucket" yaml:"bucket"`
	Size         int64             `json:"size" yaml:"size"`
	ContentType  string            `json:"content_type" yaml:"content_type"`
	LastModified time.Time         `json:"last_modified" yaml:"last_modified"`
	ETag         string            `json:"etag,omitempty" yaml:"etag,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty" yaml:"metadata,omitempty"`
}

// UploadOptions contains options for uploading assets
type UploadOptions struct {
	ContentType  string
	Metadata     map[string]string
	CacheControl string
}

// Storage is the subset of object storage the asset deploy step needs.
type Storage interface {
	// Name returns the provider name
	Name() string

	// Health checks if the storage is reachable
	Health(ctx context.Context) error

	// EnsureBucket creates bucket when it does not exist yet
	EnsureBucket(ctx context.Context, bucket string) error

	// Upload stores data under bucket/key
	Upload(ctx context.Context, bucket, key string, data io.Reader, size int64, opts *UploadOptions) (*Object, error)

	// Exists checks if bucket/key is present
	Exists(ctx context.Context, bucket, key string) (bool, error)

	// Delete removes bucket/key
	Delete(ctx context.Context, bucket, key string) error
}

// Config selects and configures a storage provider.
type Config struct {
	Provider    string `mapstructure:"provider"` // local or s3
	LocalPath   string `mapstructure:"local_path"`
	S3Endpoint  string `mapstructure:"s3_endpoint"`
	S3AccessKey string `mapstructure:"s3_access_key"`
	S3SecretKey string `mapstructure:"s3_secret_key"`
	S3Region    string `mapstructure:"s3_region"`
	S3UseSSL    bool   `mapstructure:"s3_use_ssl"`
	Bucket      string `mapstructure:"bucket"`
}

// Validate validates storage configuration
func (c *Config) Validate() error {
	switch c.Provider {
	case "local", "":
		if c.LocalPath == "" {
			return fmt.Errorf("local_path is required for local storage")
		}
	case "s3":
		if c.S3Endpoint == "" || c.S3AccessKey == "" || c.S3SecretKey == "" {
			return fmt.Errorf("S3 configuration is incomplete")
		}
	default:
		return fmt.Errorf("storage provider must be 'local' or 's3'")
	}
	if c.Bucket == "" {
		return fmt.Errorf("bucket is required")
	}
	return nil
}

// New creates the storage provider named by cfg.Provider.
func New(cfg Config) (Storage, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	switch cfg.Provider {
	case "s3":
		return NewS3Storage(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Region, cfg.S3UseSSL)
	default:
		return NewLocalStorage(cfg.LocalPath)
	}
}

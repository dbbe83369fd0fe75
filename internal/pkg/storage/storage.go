package storage

import (
	"context"
	"errors"
)

// ErrNotConfigured is returned when a storage backend is missing credentials or bucket.
var ErrNotConfigured = errors.New("storage not configured")

// Storage is the durable storage boundary: put bytes under a key and get a public URL back.
type Storage interface {
	// Put stores data at key and returns its public URL.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)

	// Delete removes a file by key. Returns nil if the file doesn't exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether key is present.
	Exists(ctx context.Context, key string) (bool, error)

	// GetURL returns the public URL for key.
	GetURL(key string) string
}

// Config selects and configures a backend.
type Config struct {
	Driver      string // s3 or local
	S3Endpoint  string // empty for AWS, https://<account>.r2.cloudflarestorage.com for R2
	S3Region    string
	S3AccessKey string
	S3SecretKey string
	S3Bucket    string
	PublicURL   string
	LocalPath   string
}

// New builds the backend named by cfg.Driver.
func New(ctx context.Context, cfg Config) (Storage, error) {
	switch cfg.Driver {
	case "local":
		return NewLocalStorage(cfg.LocalPath, cfg.PublicURL)
	default:
		return NewS3Storage(ctx, cfg)
	}
}

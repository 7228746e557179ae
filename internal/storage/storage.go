// Package storage keeps generated export files, on local disk or in S3.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"churchadmin/internal/config"

	"github.com/google/uuid"
)

var (
	ErrNotFound    = errors.New("file not found")
	ErrInvalidPath = errors.New("invalid file path")
)

type Storage interface {
	// Store saves content under the organization and returns its key.
	Store(ctx context.Context, organizationID, filename string, content io.Reader, contentType string) (string, error)
	Retrieve(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
	Exists(ctx context.Context, key string) (bool, error)
	// URL returns a download location valid for at least expiration.
	URL(ctx context.Context, key string, expiration time.Duration) (string, error)
}

const (
	TypeLocal = "local"
	TypeS3    = "s3"
)

// New picks the backend named by cfg.Type.
func New(ctx context.Context, cfg config.StorageConfig) (Storage, error) {
	switch cfg.Type {
	case "", TypeLocal:
		path := cfg.LocalPath
		if path == "" {
			path = "./exports"
		}
		return NewLocalStorage(path, cfg.BaseURL)
	case TypeS3:
		if cfg.S3Bucket == "" || cfg.S3Region == "" {
			return nil, errors.New("s3 storage requires STORAGE_S3_BUCKET and STORAGE_S3_REGION")
		}
		return NewS3Storage(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown storage type: %s", cfg.Type)
	}
}

// newKey lays files out as organization/yyyy/mm/uuid_filename.
func newKey(organizationID, filename string, now time.Time) string {
	return fmt.Sprintf("%s/%d/%02d/%s_%s",
		sanitizeFilename(organizationID),
		now.Year(),
		now.Month(),
		uuid.New().String(),
		sanitizeFilename(filename),
	)
}

// OwnedBy reports whether key was stored for the organization.
func OwnedBy(key, organizationID string) bool {
	return organizationID != "" && strings.HasPrefix(key, sanitizeFilename(organizationID)+"/")
}

var filenameReplacer = strings.NewReplacer(
	"/", "_", "\\", "_", "..", "_", ":", "_", "*", "_",
	"?", "_", "\"", "_", "<", "_", ">", "_", "|", "_",
)

func sanitizeFilename(filename string) string {
	return filenameReplacer.Replace(filename)
}

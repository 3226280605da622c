// Package blobstore stores identity documents attached to visitor authorizations.
// Authorizations persist only the returned key, never the bytes.
package blobstore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
)

// ErrNotFound is returned by Retrieve when no object exists under the key.
var ErrNotFound = errors.New("blobstore: object not found")

// Store is implemented by every backend.
type Store interface {
	Store(ctx context.Context, key string, data []byte, contentType string) (string, error)
	Retrieve(ctx context.Context, key string) ([]byte, string, error)
	// Delete removes the object; deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}

// Config selects and configures a backend.
type Config struct {
	Driver string // database | s3 | minio
	S3     S3Config
	MinIO  MinIOConfig
}

// New builds the configured backend. The database backend needs db; the others ignore it.
func New(ctx context.Context, cfg Config, db *gorm.DB) (Store, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Driver)) {
	case "", "database":
		return NewDatabaseStore(db)
	case "s3":
		return NewS3Store(ctx, cfg.S3)
	case "minio":
		return NewMinIOStore(ctx, cfg.MinIO)
	default:
		return nil, fmt.Errorf("blobstore: unsupported driver %q", cfg.Driver)
	}
}

// DocumentKey is the tenant- and authorization-scoped key of an identity document.
func DocumentKey(organizationID, authorizationID string) string {
	return fmt.Sprintf("organizations/%s/authorizations/%s/identity-document", organizationID, authorizationID)
}

func validateKey(key string) error {
	if strings.TrimSpace(key) == "" {
		return errors.New("blobstore: key is required")
	}
	return nil
}

func defaultContentType(contentType string) string {
	if strings.TrimSpace(contentType) == "" {
		return "application/octet-stream"
	}
	return contentType
}

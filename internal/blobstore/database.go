package blobstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

// DatabaseStore keeps documents in the blob_objects table.
type DatabaseStore struct {
	db *gorm.DB
}

func NewDatabaseStore(db *gorm.DB) (*DatabaseStore, error) {
	if db == nil {
		return nil, errors.New("blobstore: db is required")
	}
	return &DatabaseStore{db: db}, nil
}

func (s *DatabaseStore) Store(ctx context.Context, key string, data []byte, contentType string) (string, error) {
	if err := validateKey(key); err != nil {
		return "", err
	}
	object := models.BlobObject{
		Key:         key,
		ContentType: defaultContentType(contentType),
		Size:        int64(len(data)),
		Data:        data,
	}
	err := s.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "key"}},
			DoUpdates: clause.AssignmentColumns([]string{"content_type", "size", "data", "updated_at"}),
		}).
		Create(&object).Error
	if err != nil {
		return "", fmt.Errorf("blobstore: store %s: %w", key, err)
	}
	return key, nil
}

func (s *DatabaseStore) Retrieve(ctx context.Context, key string) ([]byte, string, error) {
	var object models.BlobObject
	err := s.db.WithContext(ctx).Take(&object, "key = ?", key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("blobstore: retrieve %s: %w", key, err)
	}
	return object.Data, object.ContentType, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, key string) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := s.db.WithContext(ctx).Delete(&models.BlobObject{}, "key = ?", key).Error; err != nil {
		return fmt.Errorf("blobstore: delete %s: %w", key, err)
	}
	return nil
}

package database

import (
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

// AutoMigrate creates or updates the database schema for all models.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.SystemSetting{},
		&models.Unit{},
		&models.UnitMembership{},
		&models.CryptoKey{},
		&models.Authorization{},
		&models.AccessEvent{},
		&models.BlobObject{},
		&models.CacheEntry{},
	)
}

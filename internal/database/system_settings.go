package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

// VaultEncryptionKeySetting stores the master key that seals tenant signing keys.
const VaultEncryptionKeySetting = "vault.encryption_key"

// ErrVaultKeyMismatch means the configured master key differs from the one already used to
// seal signing keys; starting with it would make every stored private key unreadable.
var ErrVaultKeyMismatch = errors.New("system settings: configured vault key does not match the persisted key")

// GetSystemSetting retrieves a system setting by key. Returns an empty string when not found.
func GetSystemSetting(ctx context.Context, db *gorm.DB, key string) (string, error) {
	if db == nil {
		return "", fmt.Errorf("system settings: db is nil")
	}

	var setting models.SystemSetting
	err := db.WithContext(ctx).Take(&setting, "key = ?", key).Error
	switch {
	case err == nil:
		return setting.Value, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return "", nil
	default:
		return "", fmt.Errorf("system settings: get %q: %w", key, err)
	}
}

// UpsertSystemSetting stores or updates a system setting value.
func UpsertSystemSetting(ctx context.Context, db *gorm.DB, key, value string) error {
	if db == nil {
		return fmt.Errorf("system settings: db is nil")
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return fmt.Errorf("system settings: key is required")
	}

	record := models.SystemSetting{Key: key, Value: value}
	if err := db.WithContext(ctx).
		Where("key = ?", key).
		Assign(map[string]any{"value": value}).
		FirstOrCreate(&record).Error; err != nil {
		return fmt.Errorf("system settings: upsert %q: %w", key, err)
	}
	return nil
}

// ResolveVaultEncryptionKey reconciles the configured master key with the persisted one.
// The first run persists candidate. Later runs reuse the persisted key when candidate was
// generated at start-up, and refuse an explicitly configured key that differs from it.
func ResolveVaultEncryptionKey(ctx context.Context, db *gorm.DB, candidate string, generated bool) (string, error) {
	candidate = strings.TrimSpace(candidate)
	if candidate == "" {
		return "", fmt.Errorf("system settings: vault key is empty")
	}

	stored, err := GetSystemSetting(ctx, db, VaultEncryptionKeySetting)
	if err != nil {
		return "", err
	}
	stored = strings.TrimSpace(stored)

	switch {
	case stored == "":
		if err := UpsertSystemSetting(ctx, db, VaultEncryptionKeySetting, candidate); err != nil {
			return "", err
		}
		return candidate, nil
	case generated:
		return stored, nil
	case stored != candidate:
		return "", ErrVaultKeyMismatch
	default:
		return candidate, nil
	}
}

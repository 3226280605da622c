// Package directory provides gorm-backed lookups of units and unit memberships.
// Lookups return a zero value with a nil error when nothing matches.
package directory

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/models"
)

// UnitDirectory resolves units by identifier.
type UnitDirectory struct {
	db *gorm.DB
}

func NewUnitDirectory(db *gorm.DB) (*UnitDirectory, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}
	return &UnitDirectory{db: db}, nil
}

// FindByID returns the unit or nil when it does not exist.
func (d *UnitDirectory) FindByID(ctx context.Context, id string) (*models.Unit, error) {
	var unit models.Unit
	err := d.db.WithContext(ctx).Take(&unit, "id = ?", id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("directory: find unit %s: %w", id, err)
	}
	return &unit, nil
}

// MembershipDirectory resolves the units a user belongs to.
type MembershipDirectory struct {
	db *gorm.DB
}

func NewMembershipDirectory(db *gorm.DB) (*MembershipDirectory, error) {
	if db == nil {
		return nil, errors.New("directory: db is required")
	}
	return &MembershipDirectory{db: db}, nil
}

// FindPrimaryUnit returns the user's primary unit id, or "" when the user has none.
func (d *MembershipDirectory) FindPrimaryUnit(ctx context.Context, userID string) (string, error) {
	var membership models.UnitMembership
	err := d.db.WithContext(ctx).
		Where("user_id = ? AND is_primary = ?", userID, true).
		Order("created_at ASC").
		Take(&membership).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("directory: find primary unit for %s: %w", userID, err)
	}
	return membership.UnitID, nil
}

package models

import (
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/kodianteach/atlas-platform-sub001/internal/ids"
)

// ErrAccessEventImmutable is returned by any attempt to update or delete a ledger row.
var ErrAccessEventImmutable = errors.New("access_event: ledger rows are append-only")

// AccessAction is the direction of a gate passage.
type AccessAction string

const (
	AccessActionEntry AccessAction = "ENTRY"
	AccessActionExit  AccessAction = "EXIT"
)

func (a AccessAction) Valid() bool {
	return a == AccessActionEntry || a == AccessActionExit
}

// ScanResult classifies a validation attempt.
type ScanResult string

const (
	ScanResultValid       ScanResult = "VALID"
	ScanResultInvalid     ScanResult = "INVALID"
	ScanResultExpired     ScanResult = "EXPIRED"
	ScanResultAlreadyUsed ScanResult = "ALREADY_USED"
	ScanResultRevoked     ScanResult = "REVOKED"
)

func (r ScanResult) Valid() bool {
	switch r {
	case ScanResultValid, ScanResultInvalid, ScanResultExpired, ScanResultAlreadyUsed, ScanResultRevoked:
		return true
	}
	return false
}

// AccessEvent is one immutable ledger entry. ScannedAt is when the porter scanned;
// SyncedAt is only set for events ingested from an offline device.
type AccessEvent struct {
	ID               string         `gorm:"primaryKey;size:26" json:"id"`
	OrganizationID   string         `gorm:"size:64;not null;index:idx_access_events_org_scanned,priority:1" json:"organization_id"`
	AuthorizationID  *string        `gorm:"size:64;index" json:"authorization_id,omitempty"`
	PorterUserID     string         `gorm:"size:64;not null;index" json:"porter_user_id"`
	DeviceID         string         `gorm:"size:128;index" json:"device_id,omitempty"`
	Action           AccessAction   `gorm:"size:8;not null" json:"action"`
	ScanResult       ScanResult     `gorm:"size:16;not null;index" json:"scan_result"`
	PersonName       string         `gorm:"size:255" json:"person_name,omitempty"`
	PersonDocument   string         `gorm:"size:64" json:"person_document,omitempty"`
	VehiclePlate     string         `gorm:"size:16" json:"vehicle_plate,omitempty"`
	VehicleMatch     *bool          `json:"vehicle_match,omitempty"`
	OfflineValidated bool           `gorm:"not null;default:false" json:"offline_validated"`
	Notes            string         `gorm:"type:text" json:"notes,omitempty"`
	Metadata         datatypes.JSON `json:"metadata,omitempty"`
	ScannedAt        time.Time      `gorm:"not null;index:idx_access_events_org_scanned,priority:2" json:"scanned_at"`
	SyncedAt         *time.Time     `json:"synced_at,omitempty"`
	CreatedAt        time.Time      `json:"created_at"`
}

// BeforeCreate assigns a time-sortable id and validates the enumerations.
func (e *AccessEvent) BeforeCreate(tx *gorm.DB) error {
	if !e.Action.Valid() {
		return fmt.Errorf("access_event: invalid action %q", e.Action)
	}
	if !e.ScanResult.Valid() {
		return fmt.Errorf("access_event: invalid scan result %q", e.ScanResult)
	}
	if e.ScannedAt.IsZero() {
		return errors.New("access_event: scanned_at is required")
	}
	if e.ID == "" {
		id, err := ids.NewEventIDAt(e.ScannedAt)
		if err != nil {
			return fmt.Errorf("access_event: %w", err)
		}
		e.ID = id
	}
	return nil
}

func (e *AccessEvent) BeforeUpdate(tx *gorm.DB) error {
	return ErrAccessEventImmutable
}

func (e *AccessEvent) BeforeDelete(tx *gorm.DB) error {
	return ErrAccessEventImmutable
}

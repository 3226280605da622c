package models

import (
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"
)

// CryptoKey is a tenant signing key. ActiveOrganizationID mirrors OrganizationID while the
// key is active and is NULL once retired; its unique index allows one active key per tenant.
type CryptoKey struct {
	BaseModel

	OrganizationID       string     `gorm:"size:64;not null;index" json:"organization_id"`
	KeyID                string     `gorm:"size:64;not null;uniqueIndex" json:"kid"`
	Algorithm            string     `gorm:"size:32;not null" json:"algorithm"`
	PublicKey            string     `gorm:"type:text;not null" json:"public_key"`
	EncryptedPrivateKey  string     `gorm:"type:text;not null" json:"-"`
	IsActive             bool       `gorm:"not null;default:false" json:"is_active"`
	ActiveOrganizationID *string    `gorm:"size:64;uniqueIndex:idx_crypto_keys_active_org" json:"-"`
	RetiredAt            *time.Time `json:"retired_at,omitempty"`
}

// BeforeSave validates key material and keeps the active marker consistent with IsActive.
func (k *CryptoKey) BeforeSave(tx *gorm.DB) error {
	k.OrganizationID = strings.TrimSpace(k.OrganizationID)
	if k.OrganizationID == "" {
		return errors.New("crypto_key: organization_id is required")
	}
	k.KeyID = strings.TrimSpace(k.KeyID)
	if k.KeyID == "" {
		return errors.New("crypto_key: kid is required")
	}
	if k.PublicKey == "" || k.EncryptedPrivateKey == "" {
		return errors.New("crypto_key: key material is required")
	}
	if k.IsActive {
		org := k.OrganizationID
		k.ActiveOrganizationID = &org
		k.RetiredAt = nil
	} else {
		k.ActiveOrganizationID = nil
	}
	return nil
}

// Retire marks the key as verify-only.
func (k *CryptoKey) Retire(at time.Time) {
	k.IsActive = false
	k.ActiveOrganizationID = nil
	k.RetiredAt = &at
}

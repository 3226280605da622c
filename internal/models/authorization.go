package models

import (
	"time"
)

// ServiceType classifies who an authorization admits.
type ServiceType string

const (
	ServiceTypeVisitor  ServiceType = "VISITOR"
	ServiceTypeDelivery ServiceType = "DELIVERY"
	ServiceTypeService  ServiceType = "SERVICE"
	ServiceTypeOther    ServiceType = "OTHER"
)

// Valid reports whether s is one of the known service types.
func (s ServiceType) Valid() bool {
	switch s {
	case ServiceTypeVisitor, ServiceTypeDelivery, ServiceTypeService, ServiceTypeOther:
		return true
	}
	return false
}

// AuthorizationStatus is the mutable lifecycle state of an issued pass.
type AuthorizationStatus string

const (
	AuthorizationStatusActive  AuthorizationStatus = "ACTIVE"
	AuthorizationStatusRevoked AuthorizationStatus = "REVOKED"
)

// Authorization is a signed, time-boxed visitor pass issued by a resident for one unit.
// SignedQR is written once on insert; revocation only touches the status columns.
type Authorization struct {
	BaseModel

	OrganizationID string      `gorm:"size:64;not null;index:idx_authorizations_org_status,priority:1;index:idx_authorizations_org_document,priority:1" json:"organization_id"`
	UnitID         string      `gorm:"size:64;not null;index" json:"unit_id"`
	PersonName     string      `gorm:"size:255;not null" json:"person_name"`
	PersonDocument string      `gorm:"size:64;not null;index:idx_authorizations_org_document,priority:2" json:"person_document"`
	ServiceType    ServiceType `gorm:"size:32;not null" json:"service_type"`
	VehiclePlate   string      `gorm:"size:16" json:"vehicle_plate,omitempty"`
	VehicleType    string      `gorm:"size:32" json:"vehicle_type,omitempty"`
	VehicleColor   string      `gorm:"size:32" json:"vehicle_color,omitempty"`
	NotifyEmail    string      `gorm:"size:255" json:"notify_email,omitempty"`

	ValidFrom time.Time `gorm:"not null" json:"valid_from"`
	ValidTo   time.Time `gorm:"not null;index" json:"valid_to"`

	Status          AuthorizationStatus `gorm:"size:16;not null;default:'ACTIVE';index:idx_authorizations_org_status,priority:2" json:"status"`
	CreatedByUserID string              `gorm:"size:64;not null;index" json:"created_by_user_id"`
	RevokedAt       *time.Time          `json:"revoked_at,omitempty"`
	RevokedBy       *string             `gorm:"size:64" json:"revoked_by,omitempty"`

	IdentityDocumentKey         string `gorm:"size:512" json:"identity_document_key,omitempty"`
	IdentityDocumentContentType string `gorm:"size:128" json:"-"`

	SignedQR string `gorm:"<-:create;type:text;not null" json:"signed_qr"`
}

// HasVehicle reports whether the pass carries a vehicle triple.
func (a *Authorization) HasVehicle() bool {
	return a.VehiclePlate != ""
}

// ActiveAt reports whether the authorization is ACTIVE and t falls inside its window.
func (a *Authorization) ActiveAt(t time.Time) bool {
	return a.Status == AuthorizationStatusActive && !t.Before(a.ValidFrom) && !t.After(a.ValidTo)
}

// Package passes encodes visitor authorization claims into the signed token format
// "base64url(payload).base64url(signature)" and decodes them back.
package passes

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrMalformedPayload is returned when payload bytes are not a complete claim set.
	ErrMalformedPayload = errors.New("passes: malformed payload")
	// ErrMalformedToken is returned when a token is not two base64url segments joined by one '.'.
	ErrMalformedToken = errors.New("passes: malformed token")
)

// Vehicle is the optional vehicle triple carried by a pass.
type Vehicle struct {
	Plate string
	Type  string
	Color string
}

// Claims is the signed content of a visitor pass.
type Claims struct {
	AuthorizationID string
	OrganizationID  string
	UnitCode        string
	PersonName      string
	PersonDocument  string
	ServiceType     string
	ValidFrom       time.Time
	ValidTo         time.Time
	Vehicle         *Vehicle
	IssuedAt        time.Time
	KeyID           string
}

// ActiveAt reports whether t falls inside [ValidFrom, ValidTo].
func (c Claims) ActiveAt(t time.Time) bool {
	return !t.Before(c.ValidFrom) && !t.After(c.ValidTo)
}

// wireClaims fixes the JSON field order; encoding/json emits struct fields in declaration order.
type wireClaims struct {
	AuthID       string  `json:"authId"`
	OrgID        string  `json:"orgId"`
	UnitCode     string  `json:"unitCode"`
	PersonName   string  `json:"personName"`
	PersonDoc    string  `json:"personDoc"`
	ServiceType  string  `json:"serviceType"`
	ValidFrom    string  `json:"validFrom"`
	ValidTo      string  `json:"validTo"`
	VehiclePlate *string `json:"vehiclePlate,omitempty"`
	VehicleType  *string `json:"vehicleType,omitempty"`
	VehicleColor *string `json:"vehicleColor,omitempty"`
	IssuedAt     string  `json:"issuedAt"`
	KID          string  `json:"kid"`
}

// Encode serializes claims with a fixed field order. Timestamps are RFC 3339 in UTC,
// truncated to whole seconds. Vehicle fields are emitted only when a plate is set.
func Encode(c Claims) ([]byte, error) {
	wire := wireClaims{
		AuthID:      c.AuthorizationID,
		OrgID:       c.OrganizationID,
		UnitCode:    c.UnitCode,
		PersonName:  c.PersonName,
		PersonDoc:   c.PersonDocument,
		ServiceType: c.ServiceType,
		ValidFrom:   formatTime(c.ValidFrom),
		ValidTo:     formatTime(c.ValidTo),
		IssuedAt:    formatTime(c.IssuedAt),
		KID:         c.KeyID,
	}
	if c.Vehicle != nil && c.Vehicle.Plate != "" {
		plate, vtype, color := c.Vehicle.Plate, c.Vehicle.Type, c.Vehicle.Color
		wire.VehiclePlate = &plate
		wire.VehicleType = &vtype
		wire.VehicleColor = &color
	}
	return json.Marshal(wire)
}

// Decode parses payload bytes produced by Encode. It rejects anything that is not JSON,
// lacks a required field, or carries an unparseable timestamp. Unknown fields are ignored.
func Decode(payload []byte) (Claims, error) {
	var wire wireClaims
	if err := json.Unmarshal(payload, &wire); err != nil {
		return Claims{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}

	required := []struct{ name, value string }{
		{"authId", wire.AuthID},
		{"orgId", wire.OrgID},
		{"personName", wire.PersonName},
		{"personDoc", wire.PersonDoc},
		{"serviceType", wire.ServiceType},
		{"validFrom", wire.ValidFrom},
		{"validTo", wire.ValidTo},
		{"issuedAt", wire.IssuedAt},
		{"kid", wire.KID},
	}
	for _, field := range required {
		if field.value == "" {
			return Claims{}, fmt.Errorf("%w: missing %s", ErrMalformedPayload, field.name)
		}
	}

	validFrom, err := parseTime("validFrom", wire.ValidFrom)
	if err != nil {
		return Claims{}, err
	}
	validTo, err := parseTime("validTo", wire.ValidTo)
	if err != nil {
		return Claims{}, err
	}
	issuedAt, err := parseTime("issuedAt", wire.IssuedAt)
	if err != nil {
		return Claims{}, err
	}

	claims := Claims{
		AuthorizationID: wire.AuthID,
		OrganizationID:  wire.OrgID,
		UnitCode:        wire.UnitCode,
		PersonName:      wire.PersonName,
		PersonDocument:  wire.PersonDoc,
		ServiceType:     wire.ServiceType,
		ValidFrom:       validFrom,
		ValidTo:         validTo,
		IssuedAt:        issuedAt,
		KeyID:           wire.KID,
	}
	if wire.VehiclePlate != nil && *wire.VehiclePlate != "" {
		claims.Vehicle = &Vehicle{Plate: *wire.VehiclePlate}
		if wire.VehicleType != nil {
			claims.Vehicle.Type = *wire.VehicleType
		}
		if wire.VehicleColor != nil {
			claims.Vehicle.Color = *wire.VehicleColor
		}
	}
	return claims, nil
}

// PeekKeyID returns the kid of an unverified payload, or "" when none can be read.
// It selects the verification key; nothing else in the payload is trusted before the
// signature is checked.
func PeekKeyID(payload []byte) string {
	var header struct {
		KID string `json:"kid"`
	}
	if err := json.Unmarshal(payload, &header); err != nil {
		return ""
	}
	return header.KID
}

func formatTime(t time.Time) string {
	return t.UTC().Truncate(time.Second).Format(time.RFC3339)
}

func parseTime(field, value string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %s: %v", ErrMalformedPayload, field, err)
	}
	return t.UTC(), nil
}

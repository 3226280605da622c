package models

// Unit is an apartment or house inside an organization. Code is the human readable
// identifier printed on passes (e.g. "T2-501").
type Unit struct {
	BaseModel

	OrganizationID string `gorm:"size:64;not null;uniqueIndex:idx_units_org_code,priority:1" json:"organization_id"`
	Code           string `gorm:"size:32;not null;uniqueIndex:idx_units_org_code,priority:2" json:"code"`
	Tower          string `gorm:"size:64" json:"tower,omitempty"`
}

// UnitMembership links a user to a unit; at most one membership per user is primary.
type UnitMembership struct {
	BaseModel

	UserID    string `gorm:"size:64;not null;uniqueIndex:idx_unit_memberships_user_unit,priority:1" json:"user_id"`
	UnitID    string `gorm:"size:64;not null;uniqueIndex:idx_unit_memberships_user_unit,priority:2" json:"unit_id"`
	IsPrimary bool   `gorm:"not null;default:false" json:"is_primary"`
	Unit      *Unit  `gorm:"foreignKey:UnitID" json:"unit,omitempty"`
}

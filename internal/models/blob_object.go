package models

import "time"

// BlobObject stores identity documents when the database blob backend is configured.
type BlobObject struct {
	Key         string    `gorm:"primaryKey;size:512"`
	ContentType string    `gorm:"size:128"`
	Size        int64     `gorm:"not null"`
	Data        []byte    `gorm:"not null"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

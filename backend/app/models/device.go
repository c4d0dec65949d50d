package models

import "time"

// Device is an Auto.js runner. Code is the deviceCode used on the wire and in
// every TTL store key; Certificate is the shared HMAC secret.
type Device struct {
	ID            uint   `gorm:"primaryKey"`
	Code          string `gorm:"uniqueIndex;size:191;not null"`
	Name          string `gorm:"size:255"`
	Certificate   string `gorm:"size:255;not null"`
	GroupID       string `gorm:"size:191;index"`
	AutoJsVersion string `gorm:"size:64"`
	Model         string `gorm:"size:128"`
	LastSeenAt    *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

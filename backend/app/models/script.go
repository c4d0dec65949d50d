package models

import "time"

// DefaultScriptTimeout applies when a script does not declare its own timeout.
const DefaultScriptTimeout = 300

type Script struct {
	ID        uint   `gorm:"primaryKey"`
	Name      string `gorm:"size:255;not null"`
	Content   string `gorm:"type:longtext"`
	Timeout   int    // seconds
	CreatedAt time.Time
	UpdatedAt time.Time
}

// TimeoutSeconds returns the instruction timeout for this script.
func (s *Script) TimeoutSeconds() int {
	if s == nil || s.Timeout <= 0 {
		return DefaultScriptTimeout
	}
	return s.Timeout
}

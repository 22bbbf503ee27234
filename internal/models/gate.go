package models

import "time"

// ProcessedEvent marks an inbound event as handled until ExpiresAt.
type ProcessedEvent struct {
	EventID   string    `gorm:"primaryKey;size:200"`
	ExpiresAt time.Time `gorm:"not null;index"`
	CreatedAt time.Time
}

// ContactThrottle is the persisted per-contact send counter.
type ContactThrottle struct {
	Address       string `gorm:"primaryKey;size:64"`
	LastSentAt    time.Time
	DayBucket     string `gorm:"size:10"` // YYYY-MM-DD in the gate's zone
	CountInBucket int
	UpdatedAt     time.Time
}

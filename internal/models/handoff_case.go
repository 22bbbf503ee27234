package models

import "time"

// Case statuses. Transitions only move forward: open -> assigned -> resolved,
// or open -> resolved.
const (
	CaseOpen     = "open"
	CaseAssigned = "assigned"
	CaseResolved = "resolved"
)

// HandoffCase records a conversation escalated to a human operator.
type HandoffCase struct {
	ID              string `gorm:"primaryKey;size:26"` // ULID
	TenantID        string `gorm:"size:128;index:idx_case_contact"`
	ContactAddress  string `gorm:"size:64;not null;index:idx_case_contact"`
	ConversationRef string `gorm:"size:160"`
	Summary         string `gorm:"type:text"`
	Status          string `gorm:"size:16;default:open;index"`
	AssignedTo      string `gorm:"size:128"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	ResolvedAt      *time.Time
}

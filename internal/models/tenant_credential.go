package models

import "time"

// TenantCredential is the OAuth credential a tenant granted for CRM access.
// One row per tenant; writes are last-write-wins.
type TenantCredential struct {
	TenantID     string `gorm:"primaryKey;size:128"`
	AccessToken  string `gorm:"type:text;not null"`
	RefreshToken string `gorm:"type:text"`
	TokenType    string `gorm:"size:32"`
	Scope        string `gorm:"type:text"`
	Expiry       time.Time
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

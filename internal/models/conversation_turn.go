package models

import "time"

// Turn directions.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Turn origins.
const (
	OriginContact   = "contact"
	OriginAssistant = "assistant"
	OriginOperator  = "operator"
)

// ConversationTurn is one message in a contact conversation. Turns are
// append-only; Sequence is monotonic per ConversationID.
type ConversationTurn struct {
	ID               uint   `gorm:"primaryKey;autoIncrement"`
	ConversationID   string `gorm:"size:160;not null;index:idx_conv_seq"`
	Sequence         int    `gorm:"not null;index:idx_conv_seq"`
	TenantID         string `gorm:"size:128;index"`
	ContactAddress   string `gorm:"size:64;not null;index"`
	Direction        string `gorm:"size:16;not null"` // inbound, outbound
	Origin           string `gorm:"size:16;not null"` // contact, assistant, operator
	Text             string `gorm:"type:mediumtext;not null"`
	RetrievedContext string `gorm:"type:json"` // JSON array of chunk refs
	HandoffDecision  string `gorm:"size:16"`   // auto_reply, escalate
	EventID          string `gorm:"size:200;index"`
	CreatedAt        time.Time
}

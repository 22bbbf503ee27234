// Package crm talks to the CRM conversation API: it parses operator
// webhooks, mirrors inbound contact messages and keeps tenant OAuth tokens
// fresh in the vault.
package crm

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/switchyard/internal/channel"
)

// OperatorEvent is an operator-authored message the CRM asks us to deliver.
type OperatorEvent struct {
	EventID        string
	TenantID       string
	Event          string
	MessageID      string
	ContactID      string
	ContactAddress string
	ConversationID string
	Text           string
	ReceivedAt     time.Time
}

type webhookPayload struct {
	Event      string `json:"event"`
	Type       string `json:"type"`
	LocationID string `json:"locationId"`
	Data       struct {
		LocationID string `json:"locationId"`
		Message    struct {
			ID             string `json:"id"`
			Direction      string `json:"direction"`
			Message        string `json:"message"`
			Body           string `json:"body"`
			ConversationID string `json:"conversationId"`
			LocationID     string `json:"locationId"`
			Contact        struct {
				ID    string `json:"id"`
				Phone string `json:"phone"`
			} `json:"contact"`
			Phone string `json:"phone"`
		} `json:"message"`
	} `json:"data"`
}

// ParseWebhook normalizes a CRM webhook body. ok is false for payloads that
// must not trigger delivery (anything other than an outbound message with a
// recipient and text). defaultTenant fills in a missing location id.
func ParseWebhook(raw []byte, defaultTenant string, now time.Time) (ev OperatorEvent, ok bool, err error) {
	var p webhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return OperatorEvent{}, false, fmt.Errorf("crm: parse webhook: %w", err)
	}
	m := p.Data.Message
	if !strings.EqualFold(m.Direction, "outbound") {
		return OperatorEvent{}, false, nil
	}
	phone := m.Contact.Phone
	if phone == "" {
		phone = m.Phone
	}
	addr := channel.NormalizeAddress(phone)
	text := m.Message
	if text == "" {
		text = m.Body
	}
	if addr == "" || strings.TrimSpace(text) == "" {
		return OperatorEvent{}, false, nil
	}

	tenant := firstNonEmpty(m.LocationID, p.Data.LocationID, p.LocationID, defaultTenant)
	event := firstNonEmpty(p.Event, p.Type)
	return OperatorEvent{
		EventID:        "crm:" + channel.DeriveEventID("crm", m.ID, addr, m.ConversationID+"|"+text, now),
		TenantID:       tenant,
		Event:          event,
		MessageID:      m.ID,
		ContactID:      m.Contact.ID,
		ContactAddress: addr,
		ConversationID: m.ConversationID,
		Text:           text,
		ReceivedAt:     now,
	}, true, nil
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

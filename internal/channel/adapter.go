// Package channel defines the chat-channel boundary: typed inbound events,
// outbound messages and the Adapter contract channel clients satisfy.
package channel

import (
	"context"
	"time"
)

// Adapter is the interface a chat-channel client must satisfy.
type Adapter interface {
	// Connect prepares the adapter for use.
	Connect(ctx context.Context) error

	// Listen returns a channel of inbound events. The channel is closed
	// when the adapter is closed. Listen must only be called after Connect.
	Listen(ctx context.Context) (<-chan InboundEvent, error)

	// Send delivers a message to a contact.
	Send(ctx context.Context, msg OutboundMessage) error

	// Close shuts the adapter down.
	Close() error
}

// SelfAddresser is an optional interface exposing the address the relay
// itself sends from, so echoes of our own messages can be ignored.
type SelfAddresser interface {
	SelfAddress() string
}

// InboundEvent is one message received from a contact. It is immutable once
// built by ParseInbound or NewInboundEvent.
type InboundEvent struct {
	EventID           string
	TenantID          string
	Channel           string
	SenderAddress     string
	SenderName        string
	Body              string
	ProviderMessageID string
	ReceivedAt        time.Time
	RawPayload        []byte
}

// OutboundMessage is a message to deliver to a contact.
type OutboundMessage struct {
	TenantID string
	To       string
	Text     string
}

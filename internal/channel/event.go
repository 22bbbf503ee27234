package channel

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"strings"
	"time"
)

// Event id prefixes, in order of preference.
const (
	PrefixMessage = "msg:"
	PrefixHash    = "hash:"
	PrefixTime    = "ts:"
)

// DeriveEventID computes the dedup key for an inbound event. A provider
// message id wins; otherwise a hash of channel, sender and body; otherwise
// the receive time.
func DeriveEventID(channelName, providerMessageID, sender, body string, receivedAt time.Time) string {
	if id := strings.TrimSpace(providerMessageID); id != "" {
		return PrefixMessage + id
	}
	if sender != "" || body != "" {
		sum := sha256.Sum256([]byte(channelName + "|" + sender + "|" + body))
		return PrefixHash + hex.EncodeToString(sum[:])
	}
	return PrefixTime + strconv.FormatInt(receivedAt.UnixNano(), 10)
}

// NormalizeAddress canonicalizes a phone-style address: transport prefixes
// and JID suffixes are dropped, separators removed, and a leading "+" kept.
func NormalizeAddress(addr string) string {
	a := strings.TrimSpace(addr)
	a = strings.TrimPrefix(a, "whatsapp:")
	if i := strings.IndexByte(a, '@'); i >= 0 {
		a = a[:i]
	}
	if i := strings.IndexByte(a, ':'); i >= 0 {
		a = a[:i]
	}
	var b strings.Builder
	for i, r := range a {
		switch {
		case r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '+' && i == 0:
			b.WriteRune(r)
		}
	}
	out := b.String()
	if out == "" || out == "+" {
		return ""
	}
	if out[0] != '+' {
		out = "+" + out
	}
	return out
}

// NewInboundEvent builds an InboundEvent, normalizing the sender and
// deriving the event id.
func NewInboundEvent(channelName, tenantID, providerMessageID, sender, senderName, body string, receivedAt time.Time, raw []byte) InboundEvent {
	addr := NormalizeAddress(sender)
	return InboundEvent{
		EventID:           DeriveEventID(channelName, providerMessageID, addr, body, receivedAt),
		TenantID:          tenantID,
		Channel:           channelName,
		SenderAddress:     addr,
		SenderName:        strings.TrimSpace(senderName),
		Body:              body,
		ProviderMessageID: strings.TrimSpace(providerMessageID),
		ReceivedAt:        receivedAt,
		RawPayload:        raw,
	}
}

package channel

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidPayload is returned for webhook bodies that cannot be turned
// into an InboundEvent.
var ErrInvalidPayload = errors.New("channel: invalid payload")

// Field aliases accepted in inbound webhook payloads.
var (
	senderKeys     = []string{"from", "phone", "sender", "contact_phone"}
	bodyKeys       = []string{"body", "text", "message"}
	messageIDKeys  = []string{"id", "messageId", "message_id"}
	senderNameKeys = []string{"name", "pushName", "sender_name"}
	tenantKeys     = []string{"tenant", "tenantId", "locationId"}
	timestampKeys  = []string{"timestamp", "ts"}
)

// ParseInbound normalizes a webhook payload into an InboundEvent. now is
// used when the payload carries no timestamp.
func ParseInbound(channelName string, raw []byte, now time.Time) (InboundEvent, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return InboundEvent{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}

	sender := firstString(fields, senderKeys)
	if NormalizeAddress(sender) == "" {
		return InboundEvent{}, fmt.Errorf("%w: missing sender", ErrInvalidPayload)
	}
	body := firstString(fields, bodyKeys)
	if strings.TrimSpace(body) == "" {
		return InboundEvent{}, fmt.Errorf("%w: missing body", ErrInvalidPayload)
	}

	receivedAt := now
	if ts := firstString(fields, timestampKeys); ts != "" {
		if t, ok := parseTimestamp(ts); ok {
			receivedAt = t
		}
	}

	return NewInboundEvent(
		channelName,
		firstString(fields, tenantKeys),
		firstString(fields, messageIDKeys),
		sender,
		firstString(fields, senderNameKeys),
		body,
		receivedAt,
		raw,
	), nil
}

// firstString returns the first key in keys holding a usable string. Numbers
// are formatted; objects carrying a "body" or "text" string are unwrapped.
func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		if s := rawString(raw); s != "" {
			return s
		}
	}
	return ""
}

func rawString(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	var obj map[string]json.RawMessage
	if err := json.Unmarshal(raw, &obj); err == nil {
		return firstString(obj, []string{"body", "text"})
	}
	return ""
}

func parseTimestamp(s string) (time.Time, bool) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		if n > 1e12 {
			return time.UnixMilli(n).UTC(), true
		}
		return time.Unix(n, 0).UTC(), true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

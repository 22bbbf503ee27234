package channel

import (
	"errors"
	"testing"
	"time"
)

var fixedNow = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseInbound_FieldAliases(t *testing.T) {
	tests := []struct {
		name       string
		payload    string
		wantSender string
		wantBody   string
		wantID     string
	}{
		{
			name:       "from/body/id",
			payload:    `{"from":"+15551234567","body":"hello","id":"wamid.1"}`,
			wantSender: "+15551234567",
			wantBody:   "hello",
			wantID:     "msg:wamid.1",
		},
		{
			name:       "phone/text/messageId",
			payload:    `{"phone":"15551234567","text":"hi there","messageId":"abc"}`,
			wantSender: "+15551234567",
			wantBody:   "hi there",
			wantID:     "msg:abc",
		},
		{
			name:       "sender/message numeric id",
			payload:    `{"sender":"15551234567@s.whatsapp.net","message":"yo","message_id":42}`,
			wantSender: "+15551234567",
			wantBody:   "yo",
			wantID:     "msg:42",
		},
		{
			name:       "nested text object",
			payload:    `{"contact_phone":"+44 20 7946 0958","text":{"body":"nested"}}`,
			wantSender: "+442079460958",
			wantBody:   "nested",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := ParseInbound("whatsapp", []byte(tt.payload), fixedNow)
			if err != nil {
				t.Fatalf("ParseInbound: %v", err)
			}
			if ev.SenderAddress != tt.wantSender {
				t.Errorf("SenderAddress = %q, want %q", ev.SenderAddress, tt.wantSender)
			}
			if ev.Body != tt.wantBody {
				t.Errorf("Body = %q, want %q", ev.Body, tt.wantBody)
			}
			if tt.wantID != "" && ev.EventID != tt.wantID {
				t.Errorf("EventID = %q, want %q", ev.EventID, tt.wantID)
			}
			if tt.wantID == "" && ev.EventID[:5] != PrefixHash {
				t.Errorf("EventID = %q, want hash id", ev.EventID)
			}
			if string(ev.RawPayload) != tt.payload {
				t.Error("RawPayload not preserved")
			}
		})
	}
}

func TestParseInbound_Timestamp(t *testing.T) {
	ev, err := ParseInbound("whatsapp", []byte(`{"from":"+1555","body":"x","timestamp":"1700000000"}`), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if !ev.ReceivedAt.Equal(time.Unix(1700000000, 0)) {
		t.Errorf("ReceivedAt = %v", ev.ReceivedAt)
	}

	ev, _ = ParseInbound("whatsapp", []byte(`{"from":"+1555","body":"x"}`), fixedNow)
	if !ev.ReceivedAt.Equal(fixedNow) {
		t.Errorf("ReceivedAt = %v, want now", ev.ReceivedAt)
	}
}

func TestParseInbound_Invalid(t *testing.T) {
	for name, payload := range map[string]string{
		"not json":       `{nope`,
		"missing sender": `{"body":"hi"}`,
		"missing body":   `{"from":"+1555"}`,
		"blank body":     `{"from":"+1555","body":"   "}`,
		"array":          `[1,2]`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseInbound("whatsapp", []byte(payload), fixedNow)
			if !errors.Is(err, ErrInvalidPayload) {
				t.Errorf("err = %v, want ErrInvalidPayload", err)
			}
		})
	}
}

func TestParseInbound_TenantAndName(t *testing.T) {
	ev, err := ParseInbound("whatsapp", []byte(`{"from":"+1555","body":"x","locationId":"loc_9","pushName":" Ana "}`), fixedNow)
	if err != nil {
		t.Fatal(err)
	}
	if ev.TenantID != "loc_9" {
		t.Errorf("TenantID = %q", ev.TenantID)
	}
	if ev.SenderName != "Ana" {
		t.Errorf("SenderName = %q", ev.SenderName)
	}
}

package crm

import (
	"strings"
	"testing"
	"time"
)

var now = time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)

func TestParseWebhook_Outbound(t *testing.T) {
	raw := `{"event":"OutboundMessage","data":{"locationId":"loc_1","message":{"id":"m1","direction":"outbound","contact":{"phone":"+1 555 123","id":"c1"},"message":"We can help","conversationId":"conv1"}}}`
	ev, ok, err := ParseWebhook([]byte(raw), "default", now)
	if err != nil || !ok {
		t.Fatalf("ParseWebhook = %v, %v", ok, err)
	}
	if ev.TenantID != "loc_1" {
		t.Errorf("TenantID = %q", ev.TenantID)
	}
	if ev.ContactAddress != "+1555123" || ev.ContactID != "c1" {
		t.Errorf("contact = %q / %q", ev.ContactAddress, ev.ContactID)
	}
	if ev.Text != "We can help" || ev.ConversationID != "conv1" {
		t.Errorf("event = %+v", ev)
	}
	if ev.EventID != "crm:msg:m1" {
		t.Errorf("EventID = %q, want crm:msg:m1", ev.EventID)
	}
}

func TestParseWebhook_IgnoresInboundDirection(t *testing.T) {
	raw := `{"event":"InboundMessage","data":{"message":{"direction":"inbound","contact":{"phone":"+1555"},"message":"hi"}}}`
	_, ok, err := ParseWebhook([]byte(raw), "default", now)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("inbound-direction webhook should not trigger delivery")
	}
}

func TestParseWebhook_MissingFields(t *testing.T) {
	for name, raw := range map[string]string{
		"no phone": `{"data":{"message":{"direction":"outbound","message":"hi"}}}`,
		"no text":  `{"data":{"message":{"direction":"outbound","contact":{"phone":"+1555"}}}}`,
		"empty":    `{}`,
	} {
		t.Run(name, func(t *testing.T) {
			_, ok, err := ParseWebhook([]byte(raw), "default", now)
			if err != nil {
				t.Fatal(err)
			}
			if ok {
				t.Error("expected ok=false")
			}
		})
	}
}

func TestParseWebhook_DefaultTenantAndHashID(t *testing.T) {
	raw := `{"data":{"message":{"direction":"Outbound","phone":"15550001","body":"hello","conversationId":"c"}}}`
	ev, ok, err := ParseWebhook([]byte(raw), "loc_default", now)
	if err != nil || !ok {
		t.Fatalf("ParseWebhook = %v, %v", ok, err)
	}
	if ev.TenantID != "loc_default" {
		t.Errorf("TenantID = %q", ev.TenantID)
	}
	if !strings.HasPrefix(ev.EventID, "crm:hash:") {
		t.Errorf("EventID = %q, want crm:hash: prefix", ev.EventID)
	}
	again, _, _ := ParseWebhook([]byte(raw), "loc_default", now.Add(time.Minute))
	if again.EventID != ev.EventID {
		t.Error("hash event id not stable across redeliveries")
	}
}

func TestParseWebhook_BadJSON(t *testing.T) {
	if _, _, err := ParseWebhook([]byte("{"), "d", now); err == nil {
		t.Fatal("expected error")
	}
}

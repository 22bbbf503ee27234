package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/zulandar/switchyard/internal/channel"
)

var _ channel.Adapter = (*Adapter)(nil)
var _ channel.SelfAddresser = (*Adapter)(nil)

func TestNew_RequiresSendURL(t *testing.T) {
	if _, err := New(AdapterOpts{}); err == nil {
		t.Fatal("expected error without send url")
	}
}

func TestAdapter_SendPostsJSON(t *testing.T) {
	var got sendRequest
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, err := New(AdapterOpts{SendURL: srv.URL, Token: "tkn"})
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Send(context.Background(), channel.OutboundMessage{To: "+1555", Text: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if got.To != "+1555" || got.Message != "hello" {
		t.Errorf("request = %+v", got)
	}
	if auth != "Bearer tkn" {
		t.Errorf("Authorization = %q", auth)
	}
}

func TestAdapter_SendRetriesOnRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a, _ := New(AdapterOpts{SendURL: srv.URL})
	a.baseBackoff = time.Millisecond
	if err := a.Send(context.Background(), channel.OutboundMessage{To: "+1", Text: "x"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if calls.Load() != 2 {
		t.Errorf("calls = %d, want 2", calls.Load())
	}
}

func TestAdapter_SendErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad number", http.StatusBadRequest)
	}))
	defer srv.Close()

	a, _ := New(AdapterOpts{SendURL: srv.URL})
	err := a.Send(context.Background(), channel.OutboundMessage{To: "+1", Text: "x"})
	if err == nil || !strings.Contains(err.Error(), "status 400") {
		t.Fatalf("err = %v, want status 400", err)
	}
}

func TestAdapter_SendRequiresRecipient(t *testing.T) {
	a, _ := New(AdapterOpts{SendURL: "http://127.0.0.1:1"})
	if err := a.Send(context.Background(), channel.OutboundMessage{Text: "x"}); err == nil {
		t.Fatal("expected error without recipient")
	}
}

func TestAdapter_PushAndListen(t *testing.T) {
	ctx := context.Background()
	a, _ := New(AdapterOpts{SendURL: "http://example.invalid", SelfAddress: "whatsapp:+1 555 000"})
	if a.SelfAddress() != "+1555000" {
		t.Errorf("SelfAddress = %q", a.SelfAddress())
	}
	if _, err := a.Listen(ctx); err == nil {
		t.Fatal("Listen before Connect should fail")
	}
	_ = a.Connect(ctx)
	ch, err := a.Listen(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if err := a.Push(ctx, channel.InboundEvent{EventID: "msg:1"}); err != nil {
		t.Fatal(err)
	}
	if ev := <-ch; ev.EventID != "msg:1" {
		t.Errorf("EventID = %q", ev.EventID)
	}

	_ = a.Close()
	if _, ok := <-ch; ok {
		t.Error("inbound channel still open after Close")
	}
	if err := a.Push(ctx, channel.InboundEvent{}); !errors.Is(err, ErrClosed) {
		t.Errorf("Push after Close err = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Errorf("double Close: %v", err)
	}
}

package gate

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
)

func newTestRedisStore(t *testing.T) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	s, err := NewRedisStore(client, "")
	if err != nil {
		t.Fatal(err)
	}
	return s, mr
}

func TestNewRedisStore_RequiresClient(t *testing.T) {
	if _, err := NewRedisStore(nil, ""); err == nil {
		t.Fatal("expected error for nil client")
	}
}

func TestRedisStore_Contract(t *testing.T) {
	runStoreContract(t, func(t *testing.T) Store {
		s, _ := newTestRedisStore(t)
		return s
	})
}

func TestRedisStore_EventKeyHasTTL(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)

	if err := s.PutEvent(ctx, "msg:ttl", time.Now().Add(time.Hour)); err != nil {
		t.Fatal(err)
	}
	key := DefaultRedisPrefix + "event:msg:ttl"
	if !mr.Exists(key) {
		t.Fatalf("key %s not written", key)
	}
	if ttl := mr.TTL(key); ttl <= 0 || ttl > time.Hour {
		t.Errorf("TTL = %v, want (0, 1h]", ttl)
	}

	mr.FastForward(2 * time.Hour)
	if _, ok, _ := s.EventExpiry(ctx, "msg:ttl"); ok {
		t.Error("event still present after redis expiry")
	}
}

func TestRedisStore_UnavailableFailsOpen(t *testing.T) {
	ctx := context.Background()
	s, mr := newTestRedisStore(t)
	mr.Close()

	if _, _, err := s.EventExpiry(ctx, "x"); err == nil {
		t.Fatal("expected error with redis down")
	}
	g, _ := New(Opts{Store: s})
	if g.IsDuplicate(ctx, "x") {
		t.Error("IsDuplicate should fail open when redis is down")
	}
}

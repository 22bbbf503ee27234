package gate

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

func newTestGate(t *testing.T, store Store, clock *fakeClock) *Gate {
	t.Helper()
	g, err := New(Opts{
		Store:       store,
		EventTTL:    time.Hour,
		DailyLimit:  3,
		MinInterval: 10 * time.Second,
		Now:         clock.Now,
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return g
}

func TestNew_RequiresStore(t *testing.T) {
	if _, err := New(Opts{}); err == nil {
		t.Fatal("expected error without store")
	}
}

func TestNew_Defaults(t *testing.T) {
	g, err := New(Opts{Store: NewMemoryStore()})
	if err != nil {
		t.Fatal(err)
	}
	if g.ttl != DefaultEventTTL || g.dailyLimit != DefaultDailyLimit || g.loc != time.UTC {
		t.Errorf("defaults = ttl %v limit %d loc %v", g.ttl, g.dailyLimit, g.loc)
	}
}

// runStoreContract exercises the gate semantics against any Store.
func runStoreContract(t *testing.T, newStore func(t *testing.T) Store) {
	ctx := context.Background()

	t.Run("duplicate within ttl", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(t, newStore(t), clock)

		if g.IsDuplicate(ctx, "msg:1") {
			t.Fatal("fresh event reported as duplicate")
		}
		if err := g.MarkProcessed(ctx, "msg:1"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(59 * time.Minute)
		if !g.IsDuplicate(ctx, "msg:1") {
			t.Error("event within TTL not reported as duplicate")
		}
	})

	t.Run("expired is not duplicate", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t)
		g := newTestGate(t, store, clock)

		if err := g.MarkProcessed(ctx, "msg:2"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(time.Hour)
		if g.IsDuplicate(ctx, "msg:2") {
			t.Error("expired event reported as duplicate")
		}
		if _, ok, _ := store.EventExpiry(ctx, "msg:2"); ok {
			t.Error("expired event not evicted on lookup")
		}
	})

	t.Run("daily limit", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(t, newStore(t), clock)

		for i := 0; i < 3; i++ {
			if !g.CanSend(ctx, "+1555") {
				t.Fatalf("send %d refused", i)
			}
			if err := g.RegisterSend(ctx, "+1555"); err != nil {
				t.Fatal(err)
			}
			clock.Advance(11 * time.Second)
		}
		ok, reason := g.CheckSend(ctx, "+1555")
		if ok || reason != ReasonDailyLimit {
			t.Errorf("CheckSend = %v %q, want false %q", ok, reason, ReasonDailyLimit)
		}
		if !g.CanSend(ctx, "+1666") {
			t.Error("other contact throttled")
		}
	})

	t.Run("min interval", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(t, newStore(t), clock)

		if err := g.RegisterSend(ctx, "+1555"); err != nil {
			t.Fatal(err)
		}
		clock.Advance(9 * time.Second)
		ok, reason := g.CheckSend(ctx, "+1555")
		if ok || reason != ReasonMinInterval {
			t.Errorf("CheckSend = %v %q, want false %q", ok, reason, ReasonMinInterval)
		}
		clock.Advance(time.Second)
		if !g.CanSend(ctx, "+1555") {
			t.Error("send refused after min interval elapsed")
		}
	})

	t.Run("bucket rollover resets count", func(t *testing.T) {
		clock := newFakeClock()
		store := newStore(t)
		g := newTestGate(t, store, clock)

		for i := 0; i < 3; i++ {
			if err := g.RegisterSend(ctx, "+1555"); err != nil {
				t.Fatal(err)
			}
		}
		clock.Advance(24 * time.Hour)
		if !g.CanSend(ctx, "+1555") {
			t.Fatal("send refused in new day bucket")
		}
		if err := g.RegisterSend(ctx, "+1555"); err != nil {
			t.Fatal(err)
		}
		st, _, err := store.GetThrottle(ctx, "+1555")
		if err != nil {
			t.Fatal(err)
		}
		if st.CountInBucket != 1 || st.DayBucket != "2025-03-11" {
			t.Errorf("state = %+v, want count 1 in 2025-03-11", st)
		}
	})

	t.Run("try acquire", func(t *testing.T) {
		clock := newFakeClock()
		g := newTestGate(t, newStore(t), clock)

		ok, _, err := g.TryAcquireSend(ctx, "+1555")
		if err != nil || !ok {
			t.Fatalf("first acquire = %v, %v", ok, err)
		}
		ok, reason, err := g.TryAcquireSend(ctx, "+1555")
		if err != nil {
			t.Fatal(err)
		}
		if ok || reason != ReasonMinInterval {
			t.Errorf("second acquire = %v %q", ok, reason)
		}
		if g.Stats().SendsSuppressed != 1 {
			t.Errorf("SendsSuppressed = %d, want 1", g.Stats().SendsSuppressed)
		}
	})
}

func TestMemoryStore_Contract(t *testing.T) {
	runStoreContract(t, func(*testing.T) Store { return NewMemoryStore() })
}

func TestGate_ClaimBlocksConcurrentDelivery(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, NewMemoryStore(), newFakeClock())

	if !g.Claim(ctx, "msg:9") {
		t.Fatal("first claim refused")
	}
	if g.Claim(ctx, "msg:9") {
		t.Fatal("second claim of in-flight event accepted")
	}
	if err := g.MarkProcessed(ctx, "msg:9"); err != nil {
		t.Fatal(err)
	}
	if g.Claim(ctx, "msg:9") {
		t.Fatal("claim of processed event accepted")
	}
	if got := g.Stats().DuplicatesAbsorbed; got != 2 {
		t.Errorf("DuplicatesAbsorbed = %d, want 2", got)
	}
}

func TestGate_ReleaseAllowsRetry(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, NewMemoryStore(), newFakeClock())

	if !g.Claim(ctx, "msg:10") {
		t.Fatal("claim refused")
	}
	g.Release("msg:10")
	if !g.Claim(ctx, "msg:10") {
		t.Fatal("claim after release refused")
	}
}

func TestGate_ConcurrentClaimsSingleWinner(t *testing.T) {
	ctx := context.Background()
	g := newTestGate(t, NewMemoryStore(), newFakeClock())

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if g.Claim(ctx, "msg:race") {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if wins != 1 {
		t.Errorf("wins = %d, want 1", wins)
	}
}

func TestGate_ConcurrentTryAcquireRespectsLimit(t *testing.T) {
	ctx := context.Background()
	g, err := New(Opts{Store: NewMemoryStore(), DailyLimit: 5, Now: newFakeClock().Now})
	if err != nil {
		t.Fatal(err)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		granted int
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, _, err := g.TryAcquireSend(ctx, "+1555")
			if err == nil && ok {
				mu.Lock()
				granted++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()
	if granted != 5 {
		t.Errorf("granted = %d, want 5", granted)
	}
}

func TestGate_SweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	g := newTestGate(t, NewMemoryStore(), clock)

	_ = g.MarkProcessed(ctx, "a")
	clock.Advance(30 * time.Minute)
	_ = g.MarkProcessed(ctx, "b")
	clock.Advance(31 * time.Minute)

	n, err := g.Sweep(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("swept %d, want 1", n)
	}
	if !g.IsDuplicate(ctx, "b") {
		t.Error("unexpired event swept")
	}
}

func TestGate_BucketUsesLocation(t *testing.T) {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata unavailable")
	}
	g, _ := New(Opts{Store: NewMemoryStore(), Location: loc})
	ts := time.Date(2025, 3, 11, 2, 0, 0, 0, time.UTC)
	if got := g.Bucket(ts); got != "2025-03-10" {
		t.Errorf("Bucket = %q, want 2025-03-10", got)
	}
}

type failingStore struct{ MemoryStore }

func (*failingStore) EventExpiry(context.Context, string) (time.Time, bool, error) {
	return time.Time{}, false, ErrStoreUnavailable
}

func (*failingStore) GetThrottle(context.Context, string) (ThrottleState, bool, error) {
	return ThrottleState{}, false, ErrStoreUnavailable
}

func TestGate_FailsOpenOnStoreErrors(t *testing.T) {
	ctx := context.Background()
	g, _ := New(Opts{Store: &failingStore{}})
	if g.IsDuplicate(ctx, "x") {
		t.Error("IsDuplicate should fail open")
	}
	if !g.CanSend(ctx, "+1") {
		t.Error("CanSend should fail open")
	}
}

// Package gate dedupes inbound events and throttles outbound sends per contact.
package gate

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultEventTTL   = 24 * time.Hour
	DefaultDailyLimit = 50
)

// Throttle reasons returned by CheckSend.
const (
	ReasonDailyLimit  = "daily_limit"
	ReasonMinInterval = "min_interval"
)

// Opts configures a Gate.
type Opts struct {
	Store       Store
	EventTTL    time.Duration  // default 24h
	DailyLimit  int            // sends per contact per day bucket, default 50
	MinInterval time.Duration  // minimum spacing between sends, zero disables
	Location    *time.Location // day bucket zone, default UTC
	Now         func() time.Time
}

// Stats counts events absorbed by the gate.
type Stats struct {
	DuplicatesAbsorbed int64
	SendsSuppressed    int64
}

// Gate is the idempotency and rate gate. It is safe for concurrent use.
type Gate struct {
	store       Store
	ttl         time.Duration
	dailyLimit  int
	minInterval time.Duration
	loc         *time.Location
	now         func() time.Time

	mu       sync.Mutex
	inFlight map[string]struct{}

	duplicates atomic.Int64
	suppressed atomic.Int64
}

// New creates a Gate.
func New(opts Opts) (*Gate, error) {
	if opts.Store == nil {
		return nil, fmt.Errorf("gate: store is required")
	}
	if opts.DailyLimit < 0 {
		return nil, fmt.Errorf("gate: daily limit must be >= 0")
	}
	if opts.EventTTL <= 0 {
		opts.EventTTL = DefaultEventTTL
	}
	if opts.DailyLimit == 0 {
		opts.DailyLimit = DefaultDailyLimit
	}
	if opts.MinInterval < 0 {
		opts.MinInterval = 0
	}
	if opts.Location == nil {
		opts.Location = time.UTC
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Gate{
		store:       opts.Store,
		ttl:         opts.EventTTL,
		dailyLimit:  opts.DailyLimit,
		minInterval: opts.MinInterval,
		loc:         opts.Location,
		now:         opts.Now,
		inFlight:    make(map[string]struct{}),
	}, nil
}

// IsDuplicate reports whether eventID was processed within the TTL. Expired
// records are evicted on lookup. Store errors are logged and treated as
// "not a duplicate" so an event is never dropped for lack of state.
func (g *Gate) IsDuplicate(ctx context.Context, eventID string) bool {
	exp, ok, err := g.store.EventExpiry(ctx, eventID)
	if err != nil {
		log.Warn().Err(err).Str("event_id", eventID).Msg("gate: event lookup failed, processing anyway")
		return false
	}
	if !ok {
		return false
	}
	if !g.now().Before(exp) {
		if err := g.store.DeleteEvent(ctx, eventID); err != nil {
			log.Warn().Err(err).Str("event_id", eventID).Msg("gate: evict expired event")
		}
		return false
	}
	return true
}

// MarkProcessed records eventID as handled until now + TTL and drops any
// in-flight claim on it.
func (g *Gate) MarkProcessed(ctx context.Context, eventID string) error {
	defer g.Release(eventID)
	if err := g.store.PutEvent(ctx, eventID, g.now().Add(g.ttl)); err != nil {
		return fmt.Errorf("gate: mark processed %s: %w", eventID, err)
	}
	return nil
}

// Claim reserves eventID for processing. It returns false when the event is
// a duplicate or another delivery of it is already being handled. A
// successful claim must be followed by MarkProcessed or Release.
func (g *Gate) Claim(ctx context.Context, eventID string) bool {
	g.mu.Lock()
	if _, busy := g.inFlight[eventID]; busy {
		g.mu.Unlock()
		g.duplicates.Add(1)
		return false
	}
	g.inFlight[eventID] = struct{}{}
	g.mu.Unlock()

	if g.IsDuplicate(ctx, eventID) {
		g.Release(eventID)
		g.duplicates.Add(1)
		return false
	}
	return true
}

// Release drops an in-flight claim so a redelivery can retry.
func (g *Gate) Release(eventID string) {
	g.mu.Lock()
	delete(g.inFlight, eventID)
	g.mu.Unlock()
}

// CanSend reports whether a send to address is currently allowed.
func (g *Gate) CanSend(ctx context.Context, address string) bool {
	ok, _ := g.CheckSend(ctx, address)
	return ok
}

// CheckSend is CanSend with the throttle reason when the send is refused.
func (g *Gate) CheckSend(ctx context.Context, address string) (bool, string) {
	st, _, err := g.store.GetThrottle(ctx, address)
	if err != nil {
		log.Warn().Err(err).Str("address", address).Msg("gate: throttle lookup failed, allowing send")
		return true, ""
	}
	return g.allowed(st, g.now())
}

// RegisterSend counts a completed send to address.
func (g *Gate) RegisterSend(ctx context.Context, address string) error {
	now := g.now()
	_, err := g.store.UpdateThrottle(ctx, address, func(st *ThrottleState) bool {
		g.record(st, now)
		return true
	})
	if err != nil {
		return fmt.Errorf("gate: register send %s: %w", address, err)
	}
	return nil
}

// TryAcquireSend checks and registers a send in one atomic step. It returns
// false with the reason when the send is throttled.
func (g *Gate) TryAcquireSend(ctx context.Context, address string) (bool, string, error) {
	now := g.now()
	var (
		ok     bool
		reason string
	)
	_, err := g.store.UpdateThrottle(ctx, address, func(st *ThrottleState) bool {
		ok, reason = g.allowed(*st, now)
		if !ok {
			return false
		}
		g.record(st, now)
		return true
	})
	if err != nil {
		return false, "", fmt.Errorf("gate: acquire send %s: %w", address, err)
	}
	if !ok {
		g.suppressed.Add(1)
	}
	return ok, reason, nil
}

// NoteSuppressed counts a send the caller withheld after CanSend refused it.
func (g *Gate) NoteSuppressed() {
	g.suppressed.Add(1)
}

// Sweep evicts expired event records and returns how many were removed.
func (g *Gate) Sweep(ctx context.Context) (int, error) {
	n, err := g.store.SweepEvents(ctx, g.now())
	if err != nil {
		return 0, fmt.Errorf("gate: sweep: %w", err)
	}
	return n, nil
}

// Stats returns a snapshot of the gate counters.
func (g *Gate) Stats() Stats {
	return Stats{
		DuplicatesAbsorbed: g.duplicates.Load(),
		SendsSuppressed:    g.suppressed.Load(),
	}
}

// Bucket returns the day bucket t falls into.
func (g *Gate) Bucket(t time.Time) string {
	return t.In(g.loc).Format("2006-01-02")
}

func (g *Gate) allowed(st ThrottleState, now time.Time) (bool, string) {
	if st.DayBucket == g.Bucket(now) && st.CountInBucket >= g.dailyLimit {
		return false, ReasonDailyLimit
	}
	if !st.LastSentAt.IsZero() && now.Sub(st.LastSentAt) < g.minInterval {
		return false, ReasonMinInterval
	}
	return true, ""
}

func (g *Gate) record(st *ThrottleState, now time.Time) {
	bucket := g.Bucket(now)
	if st.DayBucket != bucket {
		st.DayBucket = bucket
		st.CountInBucket = 0
	}
	st.CountInBucket++
	st.LastSentAt = now
}

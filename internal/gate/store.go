package gate

import (
	"context"
	"errors"
	"time"
)

// ErrStoreUnavailable is returned by stores that cannot reach their backend.
var ErrStoreUnavailable = errors.New("gate: store unavailable")

// ThrottleState is the per-contact send counter.
type ThrottleState struct {
	Address       string
	LastSentAt    time.Time
	DayBucket     string
	CountInBucket int
}

// Store persists processed events and throttle state.
//
// UpdateThrottle must apply fn atomically per address: no other update to
// the same address may interleave between the read and the write. fn returns
// false to leave the stored state untouched.
type Store interface {
	EventExpiry(ctx context.Context, eventID string) (time.Time, bool, error)
	PutEvent(ctx context.Context, eventID string, expiresAt time.Time) error
	DeleteEvent(ctx context.Context, eventID string) error
	SweepEvents(ctx context.Context, now time.Time) (int, error)

	GetThrottle(ctx context.Context, address string) (ThrottleState, bool, error)
	UpdateThrottle(ctx context.Context, address string, fn func(*ThrottleState) bool) (ThrottleState, error)
}

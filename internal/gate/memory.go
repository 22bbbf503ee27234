package gate

import (
	"context"
	"sync"
	"time"
)

// MemoryStore keeps gate state for the lifetime of the process.
type MemoryStore struct {
	mu        sync.Mutex
	events    map[string]time.Time
	throttles map[string]ThrottleState
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		events:    make(map[string]time.Time),
		throttles: make(map[string]ThrottleState),
	}
}

func (m *MemoryStore) EventExpiry(_ context.Context, eventID string) (time.Time, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	exp, ok := m.events[eventID]
	return exp, ok, nil
}

func (m *MemoryStore) PutEvent(_ context.Context, eventID string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[eventID] = expiresAt
	return nil
}

func (m *MemoryStore) DeleteEvent(_ context.Context, eventID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.events, eventID)
	return nil
}

func (m *MemoryStore) SweepEvents(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for id, exp := range m.events {
		if !now.Before(exp) {
			delete(m.events, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) GetThrottle(_ context.Context, address string) (ThrottleState, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.throttles[address]
	return st, ok, nil
}

func (m *MemoryStore) UpdateThrottle(_ context.Context, address string, fn func(*ThrottleState) bool) (ThrottleState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st, ok := m.throttles[address]
	if !ok {
		st = ThrottleState{Address: address}
	}
	if fn(&st) {
		m.throttles[address] = st
	}
	return st, nil
}

package relay

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"

	"github.com/panjf2000/ants/v2"
	"github.com/rs/zerolog/log"
)

// DefaultWorkers is the pool size when none is configured.
const DefaultWorkers = 64

// ErrQueueClosed is returned by Submit after Close.
var ErrQueueClosed = errors.New("relay: queue closed")

// KeyedQueue runs tasks concurrently across keys and strictly in
// submission order within a key. Each key with pending work occupies at
// most one pool worker.
type KeyedQueue struct {
	pool *ants.Pool

	mu     sync.Mutex
	lanes  map[string][]func()
	closed bool
	wg     sync.WaitGroup
}

// NewKeyedQueue creates a queue backed by an ants pool of the given size.
func NewKeyedQueue(workers int) (*KeyedQueue, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	pool, err := ants.NewPool(workers, ants.WithPanicHandler(logPanic))
	if err != nil {
		return nil, fmt.Errorf("relay: queue: %w", err)
	}
	return &KeyedQueue{pool: pool, lanes: make(map[string][]func())}, nil
}

// Submit enqueues task behind any pending tasks for key.
func (q *KeyedQueue) Submit(key string, task func()) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	pending, active := q.lanes[key]
	q.lanes[key] = append(pending, task)
	q.wg.Add(1)
	q.mu.Unlock()

	if active {
		return nil
	}
	if err := q.pool.Submit(func() { q.drain(key) }); err != nil {
		q.mu.Lock()
		dropped := len(q.lanes[key])
		delete(q.lanes, key)
		q.mu.Unlock()
		q.wg.Add(-dropped)
		return fmt.Errorf("relay: queue submit: %w", err)
	}
	return nil
}

// drain runs key's tasks until its lane is empty.
func (q *KeyedQueue) drain(key string) {
	for {
		q.mu.Lock()
		lane := q.lanes[key]
		if len(lane) == 0 {
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		task := lane[0]
		q.lanes[key] = lane[1:]
		q.mu.Unlock()

		runTask(task)
		q.wg.Done()
	}
}

// runTask isolates a panicking task so the rest of its lane still runs.
func runTask(task func()) {
	defer func() {
		if r := recover(); r != nil {
			logPanic(r)
		}
	}()
	task()
}

func logPanic(r interface{}) {
	log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("relay: task panicked")
}

// Running returns the number of busy pool workers.
func (q *KeyedQueue) Running() int {
	return q.pool.Running()
}

// Wait blocks until every submitted task has run.
func (q *KeyedQueue) Wait() {
	q.wg.Wait()
}

// Close stops accepting tasks, waits for pending ones up to ctx, and
// releases the pool.
func (q *KeyedQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		q.pool.Release()
		return nil
	case <-ctx.Done():
		q.pool.Release()
		return ctx.Err()
	}
}

package relay

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestKeyedQueue_OrderWithinKey(t *testing.T) {
	q, err := NewKeyedQueue(4)
	if err != nil {
		t.Fatalf("NewKeyedQueue: %v", err)
	}
	defer q.Close(context.Background())

	var mu sync.Mutex
	var got []int
	for i := 0; i < 50; i++ {
		i := i
		if err := q.Submit("a", func() {
			mu.Lock()
			got = append(got, i)
			mu.Unlock()
		}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}
	q.Wait()

	if len(got) != 50 {
		t.Fatalf("ran %d tasks, want 50", len(got))
	}
	for i, v := range got {
		if v != i {
			t.Fatalf("got[%d] = %d, tasks ran out of order", i, v)
		}
	}
}

func TestKeyedQueue_KeysRunConcurrently(t *testing.T) {
	q, _ := NewKeyedQueue(4)
	defer q.Close(context.Background())

	release := make(chan struct{})
	started := make(chan string, 2)
	for _, key := range []string{"a", "b"} {
		key := key
		q.Submit(key, func() {
			started <- key
			<-release
		})
	}

	for i := 0; i < 2; i++ {
		select {
		case <-started:
		case <-time.After(2 * time.Second):
			t.Fatal("tasks for different keys did not run concurrently")
		}
	}
	close(release)
	q.Wait()
}

func TestKeyedQueue_SameKeyNeverOverlaps(t *testing.T) {
	q, _ := NewKeyedQueue(8)
	defer q.Close(context.Background())

	var active, maxActive atomic.Int32
	for i := 0; i < 20; i++ {
		q.Submit("contact", func() {
			n := active.Add(1)
			for {
				m := maxActive.Load()
				if n <= m || maxActive.CompareAndSwap(m, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
		})
	}
	q.Wait()
	if maxActive.Load() != 1 {
		t.Errorf("max concurrent tasks for one key = %d, want 1", maxActive.Load())
	}
}

func TestKeyedQueue_PanicDoesNotStopLane(t *testing.T) {
	q, _ := NewKeyedQueue(2)
	defer q.Close(context.Background())

	var ran atomic.Bool
	q.Submit("a", func() { panic("boom") })
	q.Submit("a", func() { ran.Store(true) })
	q.Wait()

	if !ran.Load() {
		t.Error("task after a panic should still run")
	}
}

func TestKeyedQueue_SubmitAfterClose(t *testing.T) {
	q, _ := NewKeyedQueue(1)
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := q.Submit("a", func() {}); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("err = %v, want ErrQueueClosed", err)
	}
}

func TestKeyedQueue_CloseDrainsPending(t *testing.T) {
	q, _ := NewKeyedQueue(1)
	var count atomic.Int32
	for i := 0; i < 5; i++ {
		q.Submit("a", func() {
			time.Sleep(time.Millisecond)
			count.Add(1)
		})
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if count.Load() != 5 {
		t.Errorf("ran %d tasks before close returned, want 5", count.Load())
	}
}

func TestKeyedQueue_CloseTimesOut(t *testing.T) {
	q, _ := NewKeyedQueue(1)
	block := make(chan struct{})
	defer close(block)
	q.Submit("a", func() { <-block })

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("err = %v, want DeadlineExceeded", err)
	}
}

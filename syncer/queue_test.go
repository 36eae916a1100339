package syncer

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestKeyedQueuePreservesOrderPerKey(t *testing.T) {
	q := NewKeyedQueue(nil)
	var mu sync.Mutex
	got := map[string][]int{}
	for i := 0; i < 50; i++ {
		for _, key := range []string{"a", "b"} {
			key, i := key, i
			q.Submit(key, func(context.Context) {
				mu.Lock()
				got[key] = append(got[key], i)
				mu.Unlock()
			})
		}
	}
	q.Flush()
	for _, key := range []string{"a", "b"} {
		if len(got[key]) != 50 {
			t.Fatalf("key %s ran %d tasks", key, len(got[key]))
		}
		for i, v := range got[key] {
			if v != i {
				t.Fatalf("key %s out of order at %d: %v", key, i, got[key])
			}
		}
	}
	if q.Pending() != 0 {
		t.Fatalf("pending=%d after flush", q.Pending())
	}
}

func TestKeyedQueueKeysAreIndependent(t *testing.T) {
	q := NewKeyedQueue(nil)
	release := make(chan struct{})
	done := make(chan struct{})
	q.Submit("slow", func(context.Context) { <-release })
	q.Submit("fast", func(context.Context) { close(done) })

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("a blocked lane delayed another key")
	}
	close(release)
	q.Flush()
}

func TestKeyedQueueSurvivesPanics(t *testing.T) {
	q := NewKeyedQueue(nil)
	ran := false
	q.Submit("k", func(context.Context) { panic("boom") })
	q.Submit("k", func(context.Context) { ran = true })
	q.Flush()
	if !ran {
		t.Fatalf("task after a panic did not run")
	}
}

func TestKeyedQueueClose(t *testing.T) {
	q := NewKeyedQueue(nil)
	ran := 0
	for i := 0; i < 3; i++ {
		q.Submit("k", func(context.Context) { ran++ })
	}
	if err := q.Close(context.Background()); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if ran != 3 {
		t.Fatalf("Close did not drain: ran=%d", ran)
	}
	if q.Submit("k", func(context.Context) {}) {
		t.Fatalf("Submit accepted after Close")
	}
}

func TestKeyedQueueCloseTimesOut(t *testing.T) {
	q := NewKeyedQueue(nil)
	cancelled := make(chan struct{})
	q.Submit("k", func(ctx context.Context) {
		<-ctx.Done()
		close(cancelled)
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := q.Close(ctx); err == nil {
		t.Fatalf("expected deadline error")
	}
	select {
	case <-cancelled:
	case <-time.After(2 * time.Second):
		t.Fatalf("running task was not cancelled")
	}
}

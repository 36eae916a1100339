package syncer

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"
)

// Task is one unit of work on a KeyedQueue.
type Task func(ctx context.Context)

type lane struct {
	tasks   []Task
	running bool
}

// KeyedQueue runs tasks one at a time per key, in submission order. Lanes for
// different keys run concurrently. A panicking task is logged and the lane
// moves on to the next task.
type KeyedQueue struct {
	log    *zap.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu      sync.Mutex
	idle    *sync.Cond
	lanes   map[string]*lane
	pending int
	closed  bool
}

// NewKeyedQueue returns an empty queue.
func NewKeyedQueue(logger *zap.Logger) *KeyedQueue {
	if logger == nil {
		logger = zap.NewNop()
	}
	ctx, cancel := context.WithCancel(context.Background())
	q := &KeyedQueue{
		log:    logger,
		ctx:    ctx,
		cancel: cancel,
		lanes:  make(map[string]*lane),
	}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit appends task to the lane of key. It reports false after Close.
func (q *KeyedQueue) Submit(key string, task Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	l, ok := q.lanes[key]
	if !ok {
		l = &lane{}
		q.lanes[key] = l
	}
	l.tasks = append(l.tasks, task)
	q.pending++
	if !l.running {
		l.running = true
		go q.drain(key, l)
	}
	return true
}

// Pending returns the number of queued and running tasks.
func (q *KeyedQueue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pending
}

func (q *KeyedQueue) drain(key string, l *lane) {
	for {
		q.mu.Lock()
		if len(l.tasks) == 0 {
			l.running = false
			delete(q.lanes, key)
			q.mu.Unlock()
			return
		}
		task := l.tasks[0]
		l.tasks = l.tasks[1:]
		q.mu.Unlock()

		q.run(key, task)

		q.mu.Lock()
		q.pending--
		if q.pending == 0 {
			q.idle.Broadcast()
		}
		q.mu.Unlock()
	}
}

func (q *KeyedQueue) run(key string, task Task) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("sync task panicked", zap.String("key", key), zap.String("panic", fmt.Sprint(r)))
		}
	}()
	task(q.ctx)
}

// Flush blocks until every submitted task has finished.
func (q *KeyedQueue) Flush() {
	q.mu.Lock()
	for q.pending > 0 {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Close stops accepting tasks and waits for queued ones. When ctx ends first
// the context handed to running tasks is cancelled.
func (q *KeyedQueue) Close(ctx context.Context) error {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.Flush()
		close(done)
	}()
	select {
	case <-done:
		q.cancel()
		return nil
	case <-ctx.Done():
		q.cancel()
		return ctx.Err()
	}
}

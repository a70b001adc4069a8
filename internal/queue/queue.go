// Package queue holds records between the simulation loop and the writers
// that persist them.
package queue

import "sync"

// Queue is a thread-safe FIFO. With a limit it keeps only the newest items,
// counting everything it discards.
type Queue[T any] struct {
	mu      sync.Mutex
	items   []T
	limit   int
	dropped uint64
}

// New creates an unbounded queue.
func New[T any]() *Queue[T] {
	return &Queue[T]{}
}

// NewBounded creates a queue holding at most limit items. A limit <= 0
// means unbounded.
func NewBounded[T any](limit int) *Queue[T] {
	return &Queue[T]{limit: max(limit, 0)}
}

// Push appends items and returns how many of the oldest were dropped.
func (q *Queue[T]) Push(items ...T) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(q.items, items...)
	return q.trimFront()
}

// Requeue puts items that failed to be written back in front of anything
// pushed since they were drained. If that overflows the limit, the oldest
// go first, which are the requeued ones.
func (q *Queue[T]) Requeue(items []T) int {
	if len(items) == 0 {
		return 0
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items = append(append(make([]T, 0, len(items)+len(q.items)), items...), q.items...)
	return q.trimFront()
}

func (q *Queue[T]) trimFront() int {
	if q.limit == 0 || len(q.items) <= q.limit {
		return 0
	}
	n := len(q.items) - q.limit
	q.items = append(q.items[:0], q.items[n:]...)
	q.dropped += uint64(n)
	return n
}

// Drain returns every queued item in order and leaves the queue empty.
func (q *Queue[T]) Drain() []T {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := q.items
	q.items = nil
	return out
}

func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped is the total number of items discarded to respect the limit.
func (q *Queue[T]) Dropped() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}

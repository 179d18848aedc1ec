// Package queue provides an unbounded FIFO used to decouple a single fast
// producer from slower consumers without ever blocking the producer.
package queue

import "sync"

// Queue is a thread-safe FIFO ring that doubles its capacity when it reaches
// 70% full. Send never blocks; Receive blocks until an item is available or
// the queue is closed.
type Queue[T any] struct {
	mu     sync.Mutex
	cond   *sync.Cond
	ring   []T
	head   int
	count  int
	closed bool

	sent      int64
	delivered int64
	resizes   int
	peak      int
}

// New creates a queue with the given initial capacity.
func New[T any](initialCapacity int) *Queue[T] {
	if initialCapacity < 1 {
		initialCapacity = 1
	}
	q := &Queue[T]{ring: make([]T, initialCapacity)}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Send appends an item. Returns false if the queue is closed.
func (q *Queue[T]) Send(item T) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return false
	}

	threshold := len(q.ring) * 70 / 100
	if threshold < 1 {
		threshold = 1
	}
	if q.count+1 >= threshold {
		q.grow()
	}

	q.ring[(q.head+q.count)%len(q.ring)] = item
	q.count++
	q.sent++
	if q.count > q.peak {
		q.peak = q.count
	}

	q.cond.Signal()
	return true
}

// Receive removes the oldest item, blocking while the queue is empty and open.
// Items sent before Close are still delivered; ok is false once the queue is
// closed and drained.
func (q *Queue[T]) Receive() (item T, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for q.count == 0 && !q.closed {
		q.cond.Wait()
	}
	if q.count == 0 {
		return item, false
	}
	return q.pop(), true
}

// Close stops accepting items and wakes blocked receivers. Items already
// queued remain receivable.
func (q *Queue[T]) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.cond.Broadcast()
}

// Discard closes the queue and drops every pending item.
func (q *Queue[T]) Discard() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	dropped := q.count
	var zero T
	for i := range q.ring {
		q.ring[i] = zero
	}
	q.head, q.count = 0, 0
	q.closed = true
	q.cond.Broadcast()
	return dropped
}

// Len returns the number of pending items.
func (q *Queue[T]) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.count
}

// Stats describes queue usage.
type Stats struct {
	Pending   int
	Capacity  int
	Peak      int
	Sent      int64
	Delivered int64
	Resizes   int
}

// Stats returns a point-in-time view of the queue.
func (q *Queue[T]) Stats() Stats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Stats{
		Pending:   q.count,
		Capacity:  len(q.ring),
		Peak:      q.peak,
		Sent:      q.sent,
		Delivered: q.delivered,
		Resizes:   q.resizes,
	}
}

// pop must be called with the lock held and count > 0.
func (q *Queue[T]) pop() T {
	var zero T
	item := q.ring[q.head]
	q.ring[q.head] = zero
	q.head = (q.head + 1) % len(q.ring)
	q.count--
	q.delivered++
	return item
}

// grow doubles the ring, unwrapping pending items to the front.
func (q *Queue[T]) grow() {
	next := make([]T, len(q.ring)*2)
	if q.count > 0 {
		end := q.head + q.count
		if end <= len(q.ring) {
			copy(next, q.ring[q.head:end])
		} else {
			n := copy(next, q.ring[q.head:])
			copy(next[n:], q.ring[:end-len(q.ring)])
		}
	}
	q.ring = next
	q.head = 0
	q.resizes++
}

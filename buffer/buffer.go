// Package buffer provides the lock-protected ring buffer that decouples
// signal producers from the pipeline consumers. One buffer instance is used
// per signal kind; producers push concurrently and a single consumer drains
// in FIFO order.
package buffer

import (
	"sync"
	"sync/atomic"

	"github.com/tidewatch/tidewatch/signal"
)

// Policy selects the behavior when a push arrives at a full buffer.
type Policy string

const (
	// PolicyReject fails the push with signal.ErrCapacityExceeded.
	PolicyReject Policy = "reject"
	// PolicyDropOldest evicts the oldest buffered element to make room.
	PolicyDropOldest Policy = "drop-oldest"
)

// ParsePolicy maps a configuration string to a Policy, defaulting to reject.
func ParsePolicy(s string) Policy {
	if s == string(PolicyDropOldest) {
		return PolicyDropOldest
	}
	return PolicyReject
}

// Stats holds the buffer's self-observability counters. All fields are
// updated atomically and safe to read while the buffer is in use.
type Stats struct {
	Pushed  atomic.Int64
	Dropped atomic.Int64
}

// Ring is a bounded FIFO ring buffer safe for many producers and one
// consumer.
type Ring[T any] struct {
	mu       sync.Mutex
	elems    []T
	head     int
	size     int
	capacity int
	policy   Policy
	stats    Stats
}

// NewRing creates a ring buffer with the given capacity and backpressure
// policy. Capacity must be at least 1.
func NewRing[T any](capacity int, policy Policy) *Ring[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &Ring[T]{
		elems:    make([]T, capacity),
		capacity: capacity,
		policy:   policy,
	}
}

// Push appends v. Under the reject policy a full buffer returns
// signal.ErrCapacityExceeded and v is not accepted; under drop-oldest the
// oldest element is evicted and counted as dropped.
func (r *Ring[T]) Push(v T) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.size == r.capacity {
		if r.policy == PolicyReject {
			r.stats.Dropped.Add(1)
			return signal.ErrCapacityExceeded
		}
		// drop-oldest: advance head over the evicted element
		var zero T
		r.elems[r.head] = zero
		r.head = (r.head + 1) % r.capacity
		r.size--
		r.stats.Dropped.Add(1)
	}

	r.elems[(r.head+r.size)%r.capacity] = v
	r.size++
	r.stats.Pushed.Add(1)
	return nil
}

// Drain removes and returns up to max buffered elements in FIFO order.
// max <= 0 drains everything.
func (r *Ring[T]) Drain(max int) []T {
	r.mu.Lock()
	defer r.mu.Unlock()

	n := r.size
	if max > 0 && max < n {
		n = max
	}
	if n == 0 {
		return nil
	}

	out := make([]T, n)
	var zero T
	for i := 0; i < n; i++ {
		out[i] = r.elems[r.head]
		r.elems[r.head] = zero
		r.head = (r.head + 1) % r.capacity
	}
	r.size -= n
	return out
}

// Len returns the number of buffered elements.
func (r *Ring[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.size
}

// Stats returns the buffer's counters.
func (r *Ring[T]) Stats() *Stats {
	return &r.stats
}

// Package ring provides a generic, thread-safe bounded FIFO buffer.
//
// When the buffer is full the oldest item is evicted to make room for the
// newest one. Statistics are always collected for observability.
package ring

import (
	"fmt"
	"sync"
)

// Ring is a fixed-capacity FIFO buffer parameterized by item type T.
// Writes never block; once full, each write evicts the oldest item.
type Ring[T any] struct {
	mu       sync.RWMutex
	items    []T
	head     int // index of the oldest item
	size     int
	capacity int

	writes    uint64
	evictions uint64
}

// New creates a ring with the given capacity.
func New[T any](capacity int) (*Ring[T], error) {
	if capacity <= 0 {
		return nil, fmt.Errorf("ring: capacity must be positive, got %d", capacity)
	}
	return &Ring[T]{
		items:    make([]T, capacity),
		capacity: capacity,
	}, nil
}

// Push appends an item, evicting the oldest item if the ring is full.
// It reports whether an eviction occurred.
func (r *Ring[T]) Push(item T) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.writes++
	if r.size == r.capacity {
		r.items[r.head] = item
		r.head = (r.head + 1) % r.capacity
		r.evictions++
		return true
	}

	r.items[(r.head+r.size)%r.capacity] = item
	r.size++
	return false
}

// Snapshot returns the buffered items in FIFO order (oldest first).
func (r *Ring[T]) Snapshot() []T {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]T, r.size)
	for i := 0; i < r.size; i++ {
		out[i] = r.items[(r.head+i)%r.capacity]
	}
	return out
}

// Len returns the current number of buffered items.
func (r *Ring[T]) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.size
}

// Cap returns the maximum number of items the ring can hold.
func (r *Ring[T]) Cap() int {
	return r.capacity
}

// Clear removes all buffered items.
func (r *Ring[T]) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	var zero T
	for i := range r.items {
		r.items[i] = zero
	}
	r.head = 0
	r.size = 0
}

// Stats reports lifetime write and eviction counts.
func (r *Ring[T]) Stats() (writes, evictions uint64) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.writes, r.evictions
}

// Package ringbuffer provides a fixed-capacity circular buffer that
// overwrites its oldest element when full.
package ringbuffer

import (
	"sync"
)

// RingBuffer is a bounded FIFO with overwrite-oldest eviction.
// head is the next write slot, tail the oldest element.
type RingBuffer[T any] struct {
	mu         sync.RWMutex
	buffer     []T
	capacity   int
	head       int
	tail       int
	count      int
	overwrites uint64
}

// New creates a ring buffer holding at most capacity items
func New[T any](capacity int) *RingBuffer[T] {
	if capacity < 1 {
		capacity = 1
	}
	return &RingBuffer[T]{
		buffer:   make([]T, capacity),
		capacity: capacity,
	}
}

// Add inserts an item, evicting the oldest one if the buffer is full.
// It reports whether an eviction happened.
func (rb *RingBuffer[T]) Add(item T) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.buffer[rb.head] = item
	rb.head = (rb.head + 1) % rb.capacity

	if rb.count == rb.capacity {
		// Full: the slot just written was the oldest, move tail past it
		rb.tail = (rb.tail + 1) % rb.capacity
		rb.overwrites++
		return true
	}

	rb.count++
	return false
}

// Items returns the buffered items from oldest to newest
func (rb *RingBuffer[T]) Items() []T {
	rb.mu.RLock()
	defer rb.mu.RUnlock()

	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.tail+i)%rb.capacity]
	}
	return items
}

// Drain returns all items from oldest to newest and empties the buffer
func (rb *RingBuffer[T]) Drain() []T {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	items := make([]T, rb.count)
	for i := 0; i < rb.count; i++ {
		items[i] = rb.buffer[(rb.tail+i)%rb.capacity]
	}
	rb.reset()
	return items
}

// Clear empties the buffer and releases references held by the backing store
func (rb *RingBuffer[T]) Clear() {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.reset()
}

func (rb *RingBuffer[T]) reset() {
	var zero T
	for i := range rb.buffer {
		rb.buffer[i] = zero
	}
	rb.head = 0
	rb.tail = 0
	rb.count = 0
}

// Len returns the number of buffered items
func (rb *RingBuffer[T]) Len() int {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.count
}

// Cap returns the fixed capacity
func (rb *RingBuffer[T]) Cap() int {
	return rb.capacity
}

// Overwrites returns how many items were evicted since creation
func (rb *RingBuffer[T]) Overwrites() uint64 {
	rb.mu.RLock()
	defer rb.mu.RUnlock()
	return rb.overwrites
}

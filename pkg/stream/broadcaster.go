// Package stream fans values out to in-process subscribers.
package stream

import (
	"sync"
	"sync/atomic"
)

// Broadcaster delivers published values to every subscriber without blocking
// the publisher. A subscriber whose buffer is full misses the value.
type Broadcaster[T any] struct {
	mu      sync.RWMutex
	subs    map[uint64]chan T
	nextID  uint64
	closed  bool
	dropped atomic.Uint64
}

// NewBroadcaster creates an empty broadcaster
func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subs: make(map[uint64]chan T),
	}
}

// Subscribe registers a subscriber with the given channel buffer.
// The returned cancel func unregisters and closes the channel.
func (b *Broadcaster[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
}

// Publish sends v to all subscribers
func (b *Broadcaster[T]) Publish(v T) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- v:
		default:
			// Subscriber is not keeping up
			b.dropped.Add(1)
		}
	}
}

// Subscribers returns the number of active subscribers
func (b *Broadcaster[T]) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Dropped returns how many deliveries were skipped
func (b *Broadcaster[T]) Dropped() uint64 {
	return b.dropped.Load()
}

// Close closes every subscriber channel; later publishes are ignored
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		close(ch)
		delete(b.subs, id)
	}
}

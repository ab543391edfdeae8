// Package events provides a small fan-out bus for wallet notifications.
package events

import "sync"

// Bus delivers published values to every subscriber. Slow subscribers do
// not block publishing: when a subscriber's buffer is full the value is
// dropped for that subscriber.
type Bus[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	closed bool
	done   chan struct{}
}

// NewBus builds an open bus.
func NewBus[T any]() *Bus[T] {
	return &Bus[T]{
		subs: make(map[chan T]struct{}),
		done: make(chan struct{}),
	}
}

// Subscribe registers a buffered channel that receives every subsequent
// publish until Unsubscribe or Close.
func (b *Bus[T]) Subscribe() chan T {
	ch := make(chan T, 16)
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.subs[ch] = struct{}{}
	}
	return ch
}

// Unsubscribe removes a channel; it is safe to call twice.
func (b *Bus[T]) Unsubscribe(ch chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, ch)
}

// Publish delivers msg to every subscriber without blocking.
func (b *Bus[T]) Publish(msg T) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for ch := range b.subs {
		select {
		case ch <- msg:
		default:
		}
	}
}

// Close stops delivery. Subscribed channels are not closed; Done unblocks.
func (b *Bus[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.done)
	b.subs = make(map[chan T]struct{})
}

// Done is closed when the bus is.
func (b *Bus[T]) Done() <-chan struct{} { return b.done }

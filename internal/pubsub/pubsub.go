// Package pubsub provides typed fan-out topics for cross-component events.
package pubsub

import "sync"

const defaultBuffer = 16

// Topic delivers published values to every current subscriber. Publish never
// blocks: a subscriber whose buffer is full misses the value.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	next   int
	closed bool
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a receive channel and a cancel func that unregisters and
// closes it. Cancel is safe to call more than once.
func (t *Topic[T]) Subscribe() (<-chan T, func()) {
	return t.SubscribeBuffered(defaultBuffer)
}

func (t *Topic[T]) SubscribeBuffered(size int) (<-chan T, func()) {
	ch := make(chan T, size)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		close(ch)
		return ch, func() {}
	}
	id := t.next
	t.next++
	t.subs[id] = ch

	return ch, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		if c, ok := t.subs[id]; ok {
			delete(t.subs, id)
			close(c)
		}
	}
}

// Publish sends v to every subscriber and reports how many received it.
func (t *Topic[T]) Publish(v T) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	n := 0
	for _, ch := range t.subs {
		select {
		case ch <- v:
			n++
		default:
		}
	}
	return n
}

// Len returns the number of live subscribers.
func (t *Topic[T]) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close closes every subscriber channel. Later subscribers get a closed channel.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, ch := range t.subs {
		delete(t.subs, id)
		close(ch)
	}
}

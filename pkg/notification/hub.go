package notification

import (
	"context"
	"sync"
)

// Hub fans out values of type T to all active subscribers. Publishing
// never blocks: a subscriber whose buffer is full misses the value.
// Side-effect consumers must therefore treat delivery as best-effort;
// anything that must not be lost belongs in a store, not on the hub.
type Hub[T any] struct {
	mu     sync.RWMutex
	subs   map[*Subscription[T]]struct{}
	buffer int
	closed bool
}

// Subscription is one consumer's feed from a Hub.
type Subscription[T any] struct {
	ch     chan T
	hub    *Hub[T]
	closed bool
	mu     sync.Mutex
}

// C returns the receive channel. It is closed when the subscription or
// the hub closes.
func (s *Subscription[T]) C() <-chan T {
	return s.ch
}

// Close detaches the subscription and closes its channel. Idempotent.
func (s *Subscription[T]) Close() {
	s.hub.detach(s)
}

func (s *Subscription[T]) shut() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		close(s.ch)
		s.closed = true
	}
}

func (s *Subscription[T]) offer(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- v:
	default:
		// Full buffer: drop rather than block the publisher.
	}
}

// NewHub creates a hub whose subscribers buffer up to buffer values;
// a minimum of 1 keeps publishes non-blocking.
func NewHub[T any](buffer int) *Hub[T] {
	return &Hub[T]{
		subs:   make(map[*Subscription[T]]struct{}),
		buffer: max(buffer, 1),
	}
}

// Subscribe attaches a new consumer. The subscription detaches itself
// when ctx is cancelled. Subscribing to a closed hub returns an
// already-closed subscription.
func (h *Hub[T]) Subscribe(ctx context.Context) *Subscription[T] {
	h.mu.Lock()
	defer h.mu.Unlock()

	sub := &Subscription[T]{ch: make(chan T, h.buffer), hub: h}
	if h.closed {
		sub.shut()
		return sub
	}
	h.subs[sub] = struct{}{}

	if ctx.Done() != nil {
		go func() {
			<-ctx.Done()
			h.detach(sub)
		}()
	}
	return sub
}

// Publish delivers v to every active subscriber without blocking.
func (h *Hub[T]) Publish(v T) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if h.closed {
		return
	}
	for sub := range h.subs {
		sub.offer(v)
	}
}

// Close shuts the hub and every subscription. Idempotent.
func (h *Hub[T]) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return
	}
	h.closed = true
	for sub := range h.subs {
		sub.shut()
	}
	clear(h.subs)
}

func (h *Hub[T]) detach(sub *Subscription[T]) {
	h.mu.Lock()
	delete(h.subs, sub)
	h.mu.Unlock()
	sub.shut()
}

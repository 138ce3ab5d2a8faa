package crdt

import (
	"sync"
	"sync/atomic"
)

var subscriptionSeq atomic.Uint64

// Subscription is the handle returned by every Observe call.
type Subscription struct {
	id    uint64
	alive atomic.Bool
}

// ID returns the unique id of the subscription.
func (s *Subscription) ID() uint64 {
	return s.id
}

// Active reports whether the callback is still attached.
func (s *Subscription) Active() bool {
	return s != nil && s.alive.Load()
}

type handler[E any] struct {
	sub *Subscription
	fn  func(E)
}

// handlers is a subscriber table. Dispatch iterates a snapshot and checks
// liveness right before every call, so a callback removed during dispatch
// never runs again.
type handlers[E any] struct {
	mu   sync.Mutex
	list []handler[E]
}

func (h *handlers[E]) add(fn func(E)) *Subscription {
	sub := &Subscription{id: subscriptionSeq.Add(1)}
	sub.alive.Store(true)
	h.mu.Lock()
	h.list = append(h.list, handler[E]{sub: sub, fn: fn})
	h.mu.Unlock()
	return sub
}

func (h *handlers[E]) remove(sub *Subscription) bool {
	if sub == nil {
		return false
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, e := range h.list {
		if e.sub == sub {
			sub.alive.Store(false)
			h.list = append(h.list[:i:i], h.list[i+1:]...)
			return true
		}
	}
	return false
}

func (h *handlers[E]) len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.list)
}

func (h *handlers[E]) call(e E) {
	h.mu.Lock()
	snapshot := append([]handler[E](nil), h.list...)
	h.mu.Unlock()
	for _, entry := range snapshot {
		if entry.sub.alive.Load() {
			entry.fn(e)
		}
	}
}

// Package notify delivers dirty-batch notifications from the redraw throttler
// to renderer subscribers. It is a small synchronous pub-sub bus so the
// renderer never has to poll the store.
package notify

import (
	"log"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/probescope/probescope/internal/target"
)

// DirtyBatch names the targets that received new data since the previous
// refresh tick. One DirtyBatch covers all dirty targets of a tick; there is
// never one notification per capture.
type DirtyBatch struct {
	Targets []target.Target
	Tick    uint64
	At      time.Time
}

// Handler is a function that handles a dirty-batch notification.
type Handler func(DirtyBatch)

// subscription represents one registered handler.
type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous pub-sub bus for dirty-batch notifications.
type Bus struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID atomic.Uint64
}

// NewBus creates a new bus.
func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a handler. Returns a subscription ID for Unsubscribe.
func (b *Bus) Subscribe(handler Handler) uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID.Add(1)
	b.subs = append(b.subs, subscription{id: id, handler: handler})
	return id
}

// Unsubscribe removes a subscription by ID.
// Returns true if the subscription was found and removed.
func (b *Bus) Unsubscribe(id uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, sub := range b.subs {
		if sub.id == id {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return true
		}
	}
	return false
}

// Publish dispatches a dirty batch to all handlers in registration order.
// If a handler panics, the panic is logged, recovered, and publishing
// continues to the remaining handlers.
func (b *Bus) Publish(batch DirtyBatch) {
	b.mu.RLock()
	subs := make([]subscription, len(b.subs))
	copy(subs, b.subs)
	b.mu.RUnlock()

	for _, sub := range subs {
		b.safeCall(sub.handler, batch)
	}
}

// safeCall invokes a handler and recovers from any panics so one misbehaving
// renderer cannot block delivery to the others.
func (b *Bus) safeCall(handler Handler, batch DirtyBatch) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("ERROR: dirty-batch handler panicked at tick %d: %v\n%s",
				batch.Tick, r, debug.Stack())
		}
	}()
	handler(batch)
}

// SubscriptionCount returns the number of active subscriptions.
func (b *Bus) SubscriptionCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}

// Package events provides the in-process event bus that decouples the
// connectivity monitor, the offline queue and the sync coordinator.
package events

import (
	"fmt"
	"sync"
	"time"

	"github.com/kimhsiao/catalogsync/internal/logging"
)

// Type identifies an event.
type Type string

const (
	// Connectivity transitions
	Online  Type = "connectivity.online"
	Offline Type = "connectivity.offline"

	// Offline queue
	QueueChanged Type = "queue.changed"

	// Sync lifecycle
	SyncStarted      Type = "sync.started"
	SyncCompleted    Type = "sync.completed"
	CacheInvalidated Type = "cache.invalidated"

	// User-facing notifications
	Notification Type = "notification"
)

// Event is a single published occurrence.
type Event struct {
	Type Type                   `json:"type"`
	Data map[string]interface{} `json:"data,omitempty"`
	Time time.Time              `json:"time"`
}

// Handler receives events. Handlers run synchronously on the publishing
// goroutine and must not block for long.
type Handler func(Event)

type subscription struct {
	id      uint64
	handler Handler
}

// Bus is a synchronous publish/subscribe dispatcher. A nil *Bus is valid and
// drops everything.
type Bus struct {
	mu     sync.RWMutex
	nextID uint64
	byType map[Type][]subscription
	all    []subscription
}

// NewBus creates an empty Bus.
func NewBus() *Bus {
	return &Bus{byType: make(map[Type][]subscription)}
}

// Subscribe registers h for events of type t and returns a function that
// removes the subscription.
func (b *Bus) Subscribe(t Type, h Handler) func() {
	if b == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.byType[t] = append(b.byType[t], subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.byType[t] = without(b.byType[t], id)
	}
}

// SubscribeAll registers h for every event type.
func (b *Bus) SubscribeAll(h Handler) func() {
	if b == nil {
		return func() {}
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.all = append(b.all, subscription{id: id, handler: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.all = without(b.all, id)
	}
}

// Publish delivers an event to type subscribers first, then to catch-all
// subscribers, in subscription order. A panicking handler is logged and
// does not stop delivery to the others.
func (b *Bus) Publish(t Type, data map[string]interface{}) {
	if b == nil {
		return
	}

	b.mu.RLock()
	targets := make([]subscription, 0, len(b.byType[t])+len(b.all))
	targets = append(targets, b.byType[t]...)
	targets = append(targets, b.all...)
	b.mu.RUnlock()

	ev := Event{Type: t, Data: data, Time: time.Now().UTC()}
	for _, s := range targets {
		deliver(s.handler, ev)
	}
}

func deliver(h Handler, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("Event handler panicked", fmt.Errorf("%v", r),
				map[string]interface{}{"event": string(ev.Type)})
		}
	}()
	h(ev)
}

func without(subs []subscription, id uint64) []subscription {
	out := subs[:0:0]
	for _, s := range subs {
		if s.id != id {
			out = append(out, s)
		}
	}
	return out
}

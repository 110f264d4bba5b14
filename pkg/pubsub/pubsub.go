// Package pubsub provides an instance-scoped change bus. It is the fan-out
// mechanism the graph and the view layer ride to notify
// subscribers about record and connection changes.
//
// It is grounded on the same listener-registry shape as a simple event
// dispatcher, but deliberately holds no package-level state: two
// independent cache instances in the same process must never cross-notify
// each other, so every component that needs a bus constructs its own with
// New.
package pubsub

import "sync"

// Handler receives a batch of changed keys whenever a Flush fires.
type Handler func(keys []string)

// Bus is a synchronous, instance-scoped change notifier. The engine has no
// microtask queue to defer into, so Bus batches changed keys across one
// external call and delivers them with an explicit Flush at the end of that
// call — the idiomatic Go stand-in for "notify on next microtask".
type Bus struct {
	mu       sync.Mutex
	handlers map[int]Handler
	nextID   int
	pending  map[string]struct{}
}

// New returns an empty Bus.
func New() *Bus {
	return &Bus{
		handlers: make(map[int]Handler),
		pending:  make(map[string]struct{}),
	}
}

// Subscription unsubscribes its handler when Cancel is called.
type Subscription struct {
	bus *Bus
	id  int
}

// Cancel removes the handler permanently. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s == nil || s.bus == nil {
		return
	}
	s.bus.mu.Lock()
	delete(s.bus.handlers, s.id)
	s.bus.mu.Unlock()
}

// Subscribe registers fn to be called with the set of changed keys on every
// Flush that includes at least one of them. Use Subscription.Cancel to stop
// receiving notifications.
func (b *Bus) Subscribe(fn Handler) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	id := b.nextID
	b.nextID++
	b.handlers[id] = fn
	return &Subscription{bus: b, id: id}
}

// Mark records key as changed. It does not notify by itself — call Flush
// once the triggering operation (such as a batch of graph writes) has
// finished applying all of its changes.
func (b *Bus) Mark(key string) {
	b.mu.Lock()
	b.pending[key] = struct{}{}
	b.mu.Unlock()
}

// MarkAll records every key in keys as changed.
func (b *Bus) MarkAll(keys []string) {
	if len(keys) == 0 {
		return
	}
	b.mu.Lock()
	for _, k := range keys {
		b.pending[k] = struct{}{}
	}
	b.mu.Unlock()
}

// Flush delivers the accumulated set of changed keys to every subscribed
// handler, then clears it. A no-op when nothing changed since the last
// Flush. Handlers run synchronously and in registration order so callers
// observing the graph mid-flush see a consistent, serialized view.
func (b *Bus) Flush() {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return
	}

	keys := make([]string, 0, len(b.pending))
	for k := range b.pending {
		keys = append(keys, k)
	}
	b.pending = make(map[string]struct{})

	handlers := make([]Handler, 0, len(b.handlers))
	for id := 0; id < b.nextID; id++ {
		if h, ok := b.handlers[id]; ok {
			handlers = append(handlers, h)
		}
	}
	b.mu.Unlock()

	for _, h := range handlers {
		h(keys)
	}
}

// HandlerCount reports how many handlers are currently subscribed. Mostly
// useful in tests asserting that Cancel actually unsubscribed.
func (b *Bus) HandlerCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.handlers)
}

// Package events provides the synchronous publish/subscribe bus that
// decouples the operations core from its observers (GUI, charts, the
// daemon's SSE bridge). Event types are defined by the packages that emit
// them; anything with a Name is publishable.
package events

import "sync"

// Event is implemented by every event published on the Bus. Name returns a
// stable dotted identifier such as "calibration.started"; it doubles as the
// SSE event name in the daemon.
type Event interface {
	Name() string
}

// Handler receives published events. Delivery is synchronous on the
// publishing goroutine, so handlers must not block; hand the event off to a
// channel if real work is needed.
type Handler func(Event)

// Bus delivers events to subscribers in subscription order.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscription
}

type subscription struct {
	id      int
	handler Handler
}

// Subscription identifies a subscriber so it can be removed again.
type Subscription int

func NewBus() *Bus { return &Bus{} }

// Subscribe registers a handler for all events. Handlers are called in the
// order they were subscribed.
func (b *Bus) Subscribe(h Handler) Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	b.subs = append(b.subs, subscription{id: b.nextID, handler: h})
	return Subscription(b.nextID)
}

// Unsubscribe removes a previously registered handler. Unknown
// subscriptions are ignored.
func (b *Bus) Unsubscribe(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i, sub := range b.subs {
		if sub.id == int(s) {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			return
		}
	}
}

// Publish delivers the event to every subscriber, synchronously, in
// subscription order. Publishing on a nil bus is a no-op so components can
// run without observers attached.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	handlers := make([]Handler, len(b.subs))
	for i, sub := range b.subs {
		handlers[i] = sub.handler
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(e)
	}
}

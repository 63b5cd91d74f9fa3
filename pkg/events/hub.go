package events

import (
	"encoding/json"
	"sync"
)

// Hub fans Messages out to channel subscribers. Unlike the Bus it is
// asynchronous and lossy: a subscriber that cannot keep up misses messages
// instead of stalling the publisher. The daemon uses one Hub to feed its SSE
// clients.
type Hub struct {
	mu   sync.RWMutex
	subs map[chan Message]struct{}
}

func NewHub() *Hub { return &Hub{subs: make(map[chan Message]struct{})} }

func (h *Hub) Subscribe() chan Message {
	ch := make(chan Message, 16)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan Message) {
	h.mu.Lock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
	h.mu.Unlock()
}

func (h *Hub) PublishMessage(name string, payload any) {
	if h == nil {
		return
	}
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	msg := Message{Name: name, Data: b}
	h.mu.RLock()
	for ch := range h.subs {
		// Non-blocking send; drop if subscriber is slow
		select {
		case ch <- msg:
		default:
		}
	}
	h.mu.RUnlock()
}

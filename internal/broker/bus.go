package broker

import (
	"encoding/json"
	"sync"
)

// Message is one notification on the shared bus. Origin is the scheme://host
// of the page that produced it.
type Message struct {
	Origin string
	Data   json.RawMessage
}

// Bus is the process-wide message channel that bridge pages and redirect
// handoffs publish on. Every listener sees every message, so listeners must
// filter strictly.
type Bus struct {
	mu        sync.RWMutex
	next      uint64
	listeners map[uint64]func(Message)
}

// Subscription is a registered bus listener.
type Subscription struct {
	bus  *Bus
	id   uint64
	once sync.Once
}

func NewBus() *Bus {
	return &Bus{listeners: make(map[uint64]func(Message))}
}

// Subscribe registers fn. fn runs on the publisher's goroutine.
func (b *Bus) Subscribe(fn func(Message)) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.next++
	b.listeners[b.next] = fn
	return &Subscription{bus: b, id: b.next}
}

// Close deregisters the listener. Safe to call more than once and from
// inside the listener itself.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.mu.Lock()
		delete(s.bus.listeners, s.id)
		s.bus.mu.Unlock()
	})
}

// Publish delivers m to every listener registered at the time of the call.
func (b *Bus) Publish(m Message) {
	b.mu.RLock()
	fns := make([]func(Message), 0, len(b.listeners))
	for _, fn := range b.listeners {
		fns = append(fns, fn)
	}
	b.mu.RUnlock()

	for _, fn := range fns {
		fn(m)
	}
}

// PublishPayload marshals p and publishes it with the given origin.
func (b *Bus) PublishPayload(origin string, p MessagePayload) error {
	data, err := json.Marshal(p)
	if err != nil {
		return err
	}
	b.Publish(Message{Origin: origin, Data: data})
	return nil
}

// Listeners returns the number of registered listeners.
func (b *Bus) Listeners() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.listeners)
}

package events

import (
	"sync"
)

// Message pairs a topic with the payload delivered under it.
type Message struct {
	Event   Event
	Payload any
}

type subscriber struct {
	ch     chan Message
	topics map[Event]struct{}
}

func (s *subscriber) wants(e Event) bool {
	_, ok := s.topics[e]
	return ok
}

// Bus is a lightweight in-process broker. A subscriber names the topics it
// wants and receives all of them merged on a single channel. Publishing
// never blocks: a subscriber whose buffer is full misses the message.
type Bus struct {
	mu     sync.RWMutex
	subs   map[*subscriber]struct{}
	closed bool
}

// NewBus creates an event bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[*subscriber]struct{})}
}

// Subscribe registers a listener for one or more topics and returns the
// delivery channel plus an unsubscribe function. Unsubscribing closes the
// channel.
func (b *Bus) Subscribe(buffer int, topics ...Event) (<-chan Message, func()) {
	sub := &subscriber{
		ch:     make(chan Message, buffer),
		topics: make(map[Event]struct{}, len(topics)),
	}
	for _, e := range topics {
		sub.topics[e] = struct{}{}
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return sub.ch, func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	unsub := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; !ok {
			return // already unsubscribed, or the bus closed first
		}
		delete(b.subs, sub)
		close(sub.ch)
	}
	return sub.ch, unsub
}

// Publish fans the payload out to every subscriber of e.
func (b *Bus) Publish(e Event, payload any) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return
	}
	for sub := range b.subs {
		if !sub.wants(e) {
			continue
		}
		select {
		case sub.ch <- Message{Event: e, Payload: payload}:
		default:
			// full buffer: drop rather than stall the publisher
		}
	}
}

// Close shuts the bus down, closing every subscriber channel.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
}

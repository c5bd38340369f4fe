// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package relayclient

import (
	"sync"

	"github.com/bureau-foundation/beacon/lib/ref"
)

// Topic selects which events a listener receives.
type Topic int

const (
	// EventInvite fires for every room the delta reports as invited.
	EventInvite Topic = iota + 1

	// EventMessage fires once per message event id.
	EventMessage
)

func (t Topic) String() string {
	switch t {
	case EventInvite:
		return "invite"
	case EventMessage:
		return "message"
	default:
		return "unknown"
	}
}

// Event is delivered to listeners. It is one of [InviteEvent] or
// [MessageEvent].
type Event interface {
	Topic() Topic
	isEvent()
}

// InviteEvent reports an invitation into a room.
type InviteEvent struct {
	RoomID  ref.RoomID
	Members []ref.UserID
}

// MessageEvent reports a message in a room.
type MessageEvent struct {
	RoomID  ref.RoomID
	Message Message
}

func (InviteEvent) Topic() Topic  { return EventInvite }
func (MessageEvent) Topic() Topic { return EventMessage }
func (InviteEvent) isEvent()      {}
func (MessageEvent) isEvent()     {}

// Listener receives events. It runs on the sync goroutine.
type Listener func(Event)

// Subscription identifies a registered listener.
type Subscription struct {
	topic Topic
	id    uint64
}

// Topic returns the subscription's topic.
func (s Subscription) Topic() Topic { return s.topic }

// Dispatcher holds listeners per topic and delivers events to them in
// subscription order. The zero value is ready to use. Client embeds
// one; fakes of the client can too.
type Dispatcher struct {
	mu        sync.Mutex
	listeners map[Topic]map[uint64]Listener
	order     map[Topic][]uint64
	next      uint64
}

// Subscribe registers listener for topic.
func (d *Dispatcher) Subscribe(topic Topic, listener Listener) Subscription {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.listeners == nil {
		d.listeners = make(map[Topic]map[uint64]Listener)
		d.order = make(map[Topic][]uint64)
	}
	d.next++
	subscription := Subscription{topic: topic, id: d.next}
	if d.listeners[topic] == nil {
		d.listeners[topic] = make(map[uint64]Listener)
	}
	d.listeners[topic][subscription.id] = listener
	d.order[topic] = append(d.order[topic], subscription.id)
	return subscription
}

// Unsubscribe removes one listener. Unknown subscriptions are ignored.
func (d *Dispatcher) Unsubscribe(subscription Subscription) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners[subscription.topic], subscription.id)
	order := d.order[subscription.topic]
	for i, id := range order {
		if id == subscription.id {
			d.order[subscription.topic] = append(order[:i:i], order[i+1:]...)
			break
		}
	}
}

// UnsubscribeAll removes every listener of topic.
func (d *Dispatcher) UnsubscribeAll(topic Topic) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.listeners, topic)
	delete(d.order, topic)
}

// ListenerCount returns the number of listeners registered for topic.
func (d *Dispatcher) ListenerCount(topic Topic) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.listeners[topic])
}

// Emit delivers events to the listeners registered at the time each
// event is delivered, in subscription order. Listeners may subscribe
// and unsubscribe from inside a callback.
func (d *Dispatcher) Emit(events ...Event) {
	for _, event := range events {
		d.mu.Lock()
		topic := event.Topic()
		listeners := make([]Listener, 0, len(d.order[topic]))
		for _, id := range d.order[topic] {
			listeners = append(listeners, d.listeners[topic][id])
		}
		d.mu.Unlock()
		for _, listener := range listeners {
			listener(event)
		}
	}
}

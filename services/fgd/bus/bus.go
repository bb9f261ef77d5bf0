// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package bus implements the typed sync-lifecycle event bus.
//
// # Description
//
// The bus decouples producers (orchestrator stages) from consumers
// (monitoring, audit logging, progress reporting). Delivery is synchronous
// to local in-process subscribers and best-effort to an optional distributed
// sink for cross-process consumers. Events are fire-and-forget; the bus
// never retries, and delivery failures never propagate back to publishers.
//
// # Failure Semantics
//
// A panicking handler must not crash the publisher. Each handler invocation
// is isolated; panics are recovered and logged with the subscription ID.
//
// # Thread Safety
//
// All methods are safe for concurrent use.
package bus

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// Handler consumes a single event. Handlers run synchronously on the
// publisher's goroutine and should return quickly.
type Handler func(datatypes.Event)

// Sink receives every published event for cross-process distribution.
//
// Implementations are best-effort: errors are logged and dropped, and no
// at-least-once guarantee exists. A message-queue based implementation with
// consumer offsets can be substituted later without touching publishers.
type Sink interface {
	Publish(datatypes.Event) error
}

// subscription pairs a handler with the event type it listens for.
type subscription struct {
	id      string
	typ     datatypes.EventType
	handler Handler
}

// Bus is the in-process event bus.
type Bus struct {
	mu   sync.RWMutex
	subs map[datatypes.EventType][]subscription
	// byID makes Unsubscribe O(1) to locate.
	byID map[string]datatypes.EventType
	sink Sink
}

// New creates an event bus. sink may be nil for purely local delivery.
func New(sink Sink) *Bus {
	return &Bus{
		subs: make(map[datatypes.EventType][]subscription),
		byID: make(map[string]datatypes.EventType),
		sink: sink,
	}
}

// Subscribe registers a handler for one event type and returns the
// subscription ID used for Unsubscribe.
func (b *Bus) Subscribe(t datatypes.EventType, h Handler) string {
	id := uuid.NewString()

	b.mu.Lock()
	b.subs[t] = append(b.subs[t], subscription{id: id, typ: t, handler: h})
	b.byID[id] = t
	b.mu.Unlock()

	return id
}

// Unsubscribe removes a subscription. Unknown IDs are a no-op.
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.byID[id]
	if !ok {
		return
	}
	delete(b.byID, id)

	subs := b.subs[t]
	for i, s := range subs {
		if s.id == id {
			b.subs[t] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}

// Publish delivers the event to all local subscribers synchronously, then
// pushes it to the distributed sink.
//
// Handler panics are recovered and logged; sink errors are logged and
// dropped. Publish never returns an error to the caller.
func (b *Bus) Publish(ev datatypes.Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs[ev.Type]...)
	sink := b.sink
	b.mu.RUnlock()

	for _, s := range subs {
		b.deliver(s, ev)
	}

	if sink != nil {
		if err := sink.Publish(ev); err != nil {
			slog.Warn("Event sink publish failed",
				"event_type", ev.Type,
				"correlation_id", ev.CorrelationID,
				"error", err,
			)
		}
	}
}

// deliver invokes one handler with panic isolation.
func (b *Bus) deliver(s subscription, ev datatypes.Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Event handler panicked",
				"subscription_id", s.id,
				"event_type", ev.Type,
				"panic", r,
			)
		}
	}()
	s.handler(ev)
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package bus

import (
	"errors"
	"sync"
	"testing"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// recordingSink collects events pushed to the distributed channel.
type recordingSink struct {
	mu     sync.Mutex
	events []datatypes.Event
	err    error
}

func (s *recordingSink) Publish(ev datatypes.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, ev)
	return nil
}

func (s *recordingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestBus_DeliversToMatchingSubscribers(t *testing.T) {
	b := New(nil)

	var started, completed int
	b.Subscribe(datatypes.EventSyncStarted, func(ev datatypes.Event) { started++ })
	b.Subscribe(datatypes.EventSyncCompleted, func(ev datatypes.Event) { completed++ })

	b.Publish(datatypes.NewEvent(datatypes.EventSyncStarted, "corr-1", "fabric-1", nil))
	b.Publish(datatypes.NewEvent(datatypes.EventSyncStarted, "corr-2", "fabric-1", nil))

	if started != 2 {
		t.Errorf("Expected 2 sync.started deliveries, got %d", started)
	}
	if completed != 0 {
		t.Errorf("Expected 0 sync.completed deliveries, got %d", completed)
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New(nil)

	var calls int
	id := b.Subscribe(datatypes.EventFileProcessed, func(ev datatypes.Event) { calls++ })

	b.Publish(datatypes.NewEvent(datatypes.EventFileProcessed, "", "fabric-1", nil))
	b.Unsubscribe(id)
	b.Publish(datatypes.NewEvent(datatypes.EventFileProcessed, "", "fabric-1", nil))

	if calls != 1 {
		t.Errorf("Expected 1 delivery after unsubscribe, got %d", calls)
	}

	// Unknown IDs are a no-op.
	b.Unsubscribe("not-a-subscription")
}

func TestBus_HandlerPanicDoesNotCrashPublisher(t *testing.T) {
	b := New(nil)

	var survived int
	b.Subscribe(datatypes.EventSyncFailed, func(ev datatypes.Event) {
		panic("handler bug")
	})
	b.Subscribe(datatypes.EventSyncFailed, func(ev datatypes.Event) { survived++ })

	b.Publish(datatypes.NewEvent(datatypes.EventSyncFailed, "", "fabric-1", nil))

	if survived != 1 {
		t.Errorf("Expected the second handler to still run, got %d calls", survived)
	}
}

func TestBus_SinkReceivesAllEvents(t *testing.T) {
	sink := &recordingSink{}
	b := New(sink)

	b.Publish(datatypes.NewEvent(datatypes.EventSyncStarted, "", "fabric-1", nil))
	b.Publish(datatypes.NewEvent(datatypes.EventFileFailed, "", "fabric-1", nil))

	if sink.count() != 2 {
		t.Errorf("Expected sink to receive 2 events, got %d", sink.count())
	}
}

func TestBus_SinkErrorIsSwallowed(t *testing.T) {
	sink := &recordingSink{err: errors.New("redis down")}
	b := New(sink)

	var local int
	b.Subscribe(datatypes.EventSyncStarted, func(ev datatypes.Event) { local++ })

	// Must not panic or block local delivery.
	b.Publish(datatypes.NewEvent(datatypes.EventSyncStarted, "", "fabric-1", nil))

	if local != 1 {
		t.Errorf("Expected local delivery despite sink failure, got %d", local)
	}
}

func TestBus_ConcurrentPublishAndSubscribe(t *testing.T) {
	b := New(nil)

	var mu sync.Mutex
	total := 0
	b.Subscribe(datatypes.EventFileProcessed, func(ev datatypes.Event) {
		mu.Lock()
		total++
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				b.Publish(datatypes.NewEvent(datatypes.EventFileProcessed, "", "fabric-1", nil))
			}
		}()
	}
	wg.Wait()

	if total != 400 {
		t.Errorf("Expected 400 deliveries, got %d", total)
	}
}

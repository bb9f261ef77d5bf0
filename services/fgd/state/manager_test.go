// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"testing"
	"time"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// newTestManager returns a manager over an in-memory store.
func newTestManager(t *testing.T) *Manager {
	t.Helper()
	store, err := OpenInMemoryStore()
	if err != nil {
		t.Fatalf("Failed to open in-memory store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return NewManager(store)
}

func newTestOperation(fabricID string) *datatypes.SyncOperation {
	return &datatypes.SyncOperation{
		ID:        "sync-" + fabricID + "-1",
		FabricID:  fabricID,
		Trigger:   datatypes.TriggerManual,
		State:     datatypes.StatePending,
		StartedAt: time.Now(),
		Attempt:   1,
	}
}

func TestManager_RegisterAndCurrentState(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-1")

	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	s, err := m.CurrentState(op.ID)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if s != datatypes.StatePending {
		t.Errorf("Expected PENDING, got %s", s)
	}
}

func TestManager_TransitionPersistsAndAudits(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-2")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	if err := m.TransitionTo(op, datatypes.StateInitializing, map[string]string{"trigger": "manual"}); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}
	if err := m.TransitionTo(op, datatypes.StateValidating, nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	// Reload from the store to confirm persistence.
	loaded, err := m.GetOperation(op.ID)
	if err != nil {
		t.Fatalf("GetOperation failed: %v", err)
	}
	if loaded.State != datatypes.StateValidating {
		t.Errorf("Expected persisted state VALIDATING, got %s", loaded.State)
	}

	history, err := m.History("fabric-2", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected 2 transitions, got %d", len(history))
	}

	// Most-recent-first ordering.
	if history[0].ToState != datatypes.StateValidating {
		t.Errorf("Expected newest transition first, got %s", history[0].ToState)
	}
	if history[1].ToState != datatypes.StateInitializing {
		t.Errorf("Expected oldest transition last, got %s", history[1].ToState)
	}
	if history[1].Context["trigger"] != "manual" {
		t.Errorf("Expected transition context to round-trip, got %v", history[1].Context)
	}
}

func TestManager_RejectsIllegalTransition(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-3")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	err := m.TransitionTo(op, datatypes.StateSyncing, nil)
	if err == nil {
		t.Fatal("Expected PENDING -> SYNCING to be rejected")
	}
	if datatypes.CodeOf(err) != datatypes.CodeIllegalTransition {
		t.Errorf("Expected code %s, got %s", datatypes.CodeIllegalTransition, datatypes.CodeOf(err))
	}

	// Operation must be left untouched.
	if op.State != datatypes.StatePending {
		t.Errorf("Expected operation state unchanged, got %s", op.State)
	}
	if history, _ := m.History("fabric-3", 0); len(history) != 0 {
		t.Errorf("Expected no audit rows for rejected transition, got %d", len(history))
	}
}

func TestManager_EveryRecordedTransitionIsLegal(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-4")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}

	steps := []datatypes.SyncState{
		datatypes.StateInitializing,
		datatypes.StateValidating,
		datatypes.StateDiscovering,
		datatypes.StateProcessing,
		datatypes.StateRetrying,
		datatypes.StateProcessing,
		datatypes.StateSyncing,
		datatypes.StateReconciling,
		datatypes.StateCompleted,
	}
	for _, s := range steps {
		if err := m.TransitionTo(op, s, nil); err != nil {
			t.Fatalf("Transition to %s failed: %v", s, err)
		}
	}

	history, err := m.History("fabric-4", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	for _, tx := range history {
		if !CanTransition(tx.FromState, tx.ToState) {
			t.Errorf("Recorded transition %s -> %s is not in the allowed table",
				tx.FromState, tx.ToState)
		}
	}
	if !op.EndedAt.After(op.StartedAt) {
		t.Error("Expected EndedAt to be set on terminal transition")
	}
}

func TestManager_HistoryLimit(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-5")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_ = m.TransitionTo(op, datatypes.StateInitializing, nil)
	_ = m.TransitionTo(op, datatypes.StateValidating, nil)
	_ = m.TransitionTo(op, datatypes.StateDiscovering, nil)

	history, err := m.History("fabric-5", 2)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("Expected limit to cap results at 2, got %d", len(history))
	}
	if history[0].ToState != datatypes.StateDiscovering {
		t.Errorf("Expected newest first with limit, got %s", history[0].ToState)
	}
}

func TestManager_TerminalOperationsLeaveTheCache(t *testing.T) {
	m := newTestManager(t)
	op := newTestOperation("fabric-7")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := m.TransitionTo(op, datatypes.StateCancelled, nil); err != nil {
		t.Fatalf("Transition failed: %v", err)
	}

	m.mu.RLock()
	_, cached := m.current[op.ID]
	m.mu.RUnlock()
	if cached {
		t.Error("Expected the terminal operation to be evicted from the cache")
	}

	// The store still answers for it.
	s, err := m.CurrentState(op.ID)
	if err != nil {
		t.Fatalf("CurrentState failed: %v", err)
	}
	if s != datatypes.StateCancelled {
		t.Errorf("Expected CANCELLED from the store, got %s", s)
	}
}

func TestManager_CurrentFabricState(t *testing.T) {
	m := newTestManager(t)

	if _, ok, err := m.CurrentFabricState("never-synced"); err != nil || ok {
		t.Errorf("Expected no state for unknown fabric, got ok=%v err=%v", ok, err)
	}

	op := newTestOperation("fabric-6")
	if err := m.Register(op); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	_ = m.TransitionTo(op, datatypes.StateInitializing, nil)

	s, ok, err := m.CurrentFabricState("fabric-6")
	if err != nil {
		t.Fatalf("CurrentFabricState failed: %v", err)
	}
	if !ok || s != datatypes.StateInitializing {
		t.Errorf("Expected INITIALIZING, got ok=%v state=%s", ok, s)
	}
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"log/slog"
	"sync"
	"time"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// State Manager
// =============================================================================

// Manager validates and applies sync state transitions, persisting every
// applied edge.
//
// # Description
//
// Manager is the only component allowed to change a SyncOperation's State
// field. It checks each requested edge against the allowed-transition table
// before applying it, writes the updated operation and an audit
// StateTransition to the store, and keeps a small in-memory cache of current
// states for non-blocking status reads.
//
// # Thread Safety
//
// All methods are safe for concurrent use. The per-operation mutation rule
// (only the owning orchestrator goroutine calls TransitionTo for a given
// sync) is a caller contract, not enforced here.
type Manager struct {
	store *Store
	mu    sync.RWMutex
	// current caches sync_id -> state for cheap status reads.
	current map[string]datatypes.SyncState
}

// NewManager creates a state manager over an open store.
func NewManager(store *Store) *Manager {
	return &Manager{
		store:   store,
		current: make(map[string]datatypes.SyncState),
	}
}

// Register persists a freshly created operation and seeds the state cache.
//
// The operation must be in StatePending; Register is the only path that
// does not require an existing from-state.
func (m *Manager) Register(op *datatypes.SyncOperation) error {
	if err := m.store.SaveOperation(op); err != nil {
		return err
	}

	m.mu.Lock()
	m.current[op.ID] = op.State
	m.mu.Unlock()
	return nil
}

// CurrentState returns the cached state for a sync operation, falling back
// to the store when the process restarted since the operation began.
func (m *Manager) CurrentState(syncID string) (datatypes.SyncState, error) {
	m.mu.RLock()
	s, ok := m.current[syncID]
	m.mu.RUnlock()
	if ok {
		return s, nil
	}

	op, err := m.store.GetOperation(syncID)
	if err != nil {
		return "", err
	}
	return op.State, nil
}

// CurrentFabricState returns the state of the fabric's most recent
// operation, or StatePending=false semantics via ok when the fabric has
// never synced.
func (m *Manager) CurrentFabricState(fabricID string) (datatypes.SyncState, bool, error) {
	op, err := m.store.CurrentOperation(fabricID)
	if err != nil {
		return "", false, err
	}
	if op == nil {
		return "", false, nil
	}
	return op.State, true, nil
}

// TransitionTo validates and applies a state change for op, persisting the
// updated operation and appending an audit transition.
//
// # Inputs
//
//   - op: The operation to mutate. Caller must own it.
//   - to: Target state.
//   - context: Optional contextual payload recorded on the transition.
//
// # Outputs
//
//   - error: CodeIllegalTransition if the edge is not in the table,
//     CodeStore if persistence fails. The operation is left unchanged on
//     error.
func (m *Manager) TransitionTo(op *datatypes.SyncOperation, to datatypes.SyncState, context map[string]string) error {
	from := op.State
	if err := ValidateTransition(from, to); err != nil {
		slog.Error("Rejected illegal state transition",
			"sync_id", op.ID,
			"fabric_id", op.FabricID,
			"from", from,
			"to", to,
		)
		return err
	}

	now := time.Now()
	op.State = to
	if to.IsTerminal() {
		op.EndedAt = now
	}

	if err := m.store.SaveOperation(op); err != nil {
		op.State = from
		op.EndedAt = time.Time{}
		return err
	}

	tx := datatypes.StateTransition{
		SyncID:    op.ID,
		FabricID:  op.FabricID,
		FromState: from,
		ToState:   to,
		Timestamp: now,
		Context:   context,
	}
	if err := m.store.AppendTransition(tx); err != nil {
		// The operation record already moved; losing one audit row is
		// preferable to leaving the operation stuck in its old state.
		slog.Error("Failed to append state transition audit record",
			"sync_id", op.ID, "error", err)
	}

	m.mu.Lock()
	if to.IsTerminal() {
		// Terminal operations are served from the store; keeping them
		// cached would grow the map for the life of the process.
		delete(m.current, op.ID)
	} else {
		m.current[op.ID] = to
	}
	m.mu.Unlock()

	slog.Debug("Applied state transition",
		"sync_id", op.ID,
		"fabric_id", op.FabricID,
		"from", from,
		"to", to,
	)
	return nil
}

// History returns the fabric's transition log, most-recent-first.
func (m *Manager) History(fabricID string, limit int) ([]datatypes.StateTransition, error) {
	return m.store.TransitionHistory(fabricID, limit)
}

// GetOperation loads a persisted operation by ID.
func (m *Manager) GetOperation(syncID string) (*datatypes.SyncOperation, error) {
	return m.store.GetOperation(syncID)
}

// ListCurrentOperations returns the most recent operation of every fabric.
func (m *Manager) ListCurrentOperations() ([]*datatypes.SyncOperation, error) {
	return m.store.ListCurrentOperations()
}

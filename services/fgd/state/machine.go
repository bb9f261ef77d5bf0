// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package state implements the sync lifecycle state machine and its
// durable persistence.
//
// # Description
//
// The state machine is the single source of truth for "what stage is a sync
// in" and "what stage was it in when the process crashed". Every applied
// transition is appended to an embedded BadgerDB store so that a restarted
// process can report the last known stage of any operation.
//
// Illegal transitions fail loudly with CodeIllegalTransition; they are never
// silently coerced.
package state

import (
	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// Transition Table
// =============================================================================

// stageOrder is the strict happy-path sequence of stages.
var stageOrder = []datatypes.SyncState{
	datatypes.StatePending,
	datatypes.StateInitializing,
	datatypes.StateValidating,
	datatypes.StateDiscovering,
	datatypes.StateProcessing,
	datatypes.StateSyncing,
	datatypes.StateReconciling,
	datatypes.StateCompleted,
}

// transitions is the allowed-transition table.
//
// Beyond the happy path:
//   - FAILED, RETRYING, and CANCELLED are reachable from every non-terminal
//     state.
//   - RETRYING returns to any stage between INITIALIZING and RECONCILING so
//     the orchestrator can re-enter the stage that failed.
var transitions = buildTransitionTable()

func buildTransitionTable() map[datatypes.SyncState]map[datatypes.SyncState]bool {
	table := make(map[datatypes.SyncState]map[datatypes.SyncState]bool)

	allow := func(from, to datatypes.SyncState) {
		if table[from] == nil {
			table[from] = make(map[datatypes.SyncState]bool)
		}
		table[from][to] = true
	}

	// Happy path edges.
	for i := 0; i < len(stageOrder)-1; i++ {
		allow(stageOrder[i], stageOrder[i+1])
	}

	// FAILED, RETRYING, CANCELLED from any non-terminal state.
	nonTerminal := []datatypes.SyncState{
		datatypes.StatePending,
		datatypes.StateInitializing,
		datatypes.StateValidating,
		datatypes.StateDiscovering,
		datatypes.StateProcessing,
		datatypes.StateSyncing,
		datatypes.StateReconciling,
		datatypes.StateRetrying,
	}
	for _, from := range nonTerminal {
		allow(from, datatypes.StateFailed)
		allow(from, datatypes.StateCancelled)
		if from != datatypes.StateRetrying {
			allow(from, datatypes.StateRetrying)
		}
	}

	// RETRYING re-enters the stage that failed.
	for _, to := range stageOrder[1 : len(stageOrder)-1] {
		allow(datatypes.StateRetrying, to)
	}

	return table
}

// CanTransition reports whether the edge (from, to) appears in the
// allowed-transition table.
func CanTransition(from, to datatypes.SyncState) bool {
	return transitions[from][to]
}

// ValidateTransition returns a CodeIllegalTransition error when the edge is
// not allowed, nil otherwise.
func ValidateTransition(from, to datatypes.SyncState) error {
	if CanTransition(from, to) {
		return nil
	}
	return datatypes.NewError(datatypes.CodeIllegalTransition,
		"illegal state transition "+string(from)+" -> "+string(to))
}

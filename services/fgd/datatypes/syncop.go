// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package datatypes defines the core data model for the FGD sync service.
//
// # Description
//
// This package contains the types shared across the sync orchestrator,
// state manager, ingestion pipeline, and HTTP handlers:
//   - SyncOperation: one end-to-end sync attempt for a fabric
//   - SyncState: the finite-state sync lifecycle
//   - StateTransition: append-only audit record of a state change
//   - FileRecord / FileResult: per-file ingestion outcomes
//   - Event: typed messages on the event bus
//   - Error codes and the structured error envelope
//
// # Thread Safety
//
// Types in this package are plain data. A SyncOperation is mutated only by
// the orchestrator goroutine that owns it; readers must use the snapshot
// accessors on the orchestrator rather than sharing pointers.
package datatypes

import (
	"time"
)

// =============================================================================
// Sync Lifecycle States
// =============================================================================

// SyncState is a stage in the sync lifecycle state machine.
//
// The happy path is:
//
//	PENDING → INITIALIZING → VALIDATING → DISCOVERING → PROCESSING →
//	SYNCING → RECONCILING → COMPLETED
//
// FAILED and RETRYING are reachable from any non-terminal state.
// CANCELLED is reached cooperatively at the next safe checkpoint.
type SyncState string

const (
	// StatePending means the operation is created but not yet running.
	StatePending SyncState = "PENDING"

	// StateInitializing means the orchestrator is acquiring the fabric
	// lock and preparing the directory structure.
	StateInitializing SyncState = "INITIALIZING"

	// StateValidating means the directory layout is being validated.
	StateValidating SyncState = "VALIDATING"

	// StateDiscovering means raw files are being enumerated.
	StateDiscovering SyncState = "DISCOVERING"

	// StateProcessing means the ingestion pipeline is running.
	StateProcessing SyncState = "PROCESSING"

	// StateSyncing means managed files are being pushed to the remote
	// repository.
	StateSyncing SyncState = "SYNCING"

	// StateReconciling means desired and actual state are being compared.
	StateReconciling SyncState = "RECONCILING"

	// StateCompleted is the successful terminal state.
	StateCompleted SyncState = "COMPLETED"

	// StateFailed is the unsuccessful terminal state.
	StateFailed SyncState = "FAILED"

	// StateRetrying means a transient error occurred and the operation is
	// waiting out a backoff delay before re-entering the failed stage.
	StateRetrying SyncState = "RETRYING"

	// StateCancelled is the terminal state reached after a cooperative
	// cancellation request was observed at a checkpoint.
	StateCancelled SyncState = "CANCELLED"
)

// IsTerminal reports whether the state ends the operation.
func (s SyncState) IsTerminal() bool {
	switch s {
	case StateCompleted, StateFailed, StateCancelled:
		return true
	default:
		return false
	}
}

// =============================================================================
// Trigger Reasons
// =============================================================================

// TriggerReason records why a sync was requested.
type TriggerReason string

const (
	TriggerManual    TriggerReason = "manual"
	TriggerWebhook   TriggerReason = "webhook"
	TriggerScheduled TriggerReason = "scheduled"
	TriggerCreation  TriggerReason = "creation"
)

// Valid reports whether the reason is one of the known triggers.
func (t TriggerReason) Valid() bool {
	switch t {
	case TriggerManual, TriggerWebhook, TriggerScheduled, TriggerCreation:
		return true
	default:
		return false
	}
}

// =============================================================================
// Sync Operation
// =============================================================================

// SyncProgress holds per-stage progress counters for a sync operation.
type SyncProgress struct {
	// FilesDiscovered is the number of raw files found during discovery.
	FilesDiscovered int `json:"files_discovered"`

	// FilesProcessed is the number of raw files fully ingested.
	FilesProcessed int `json:"files_processed"`

	// FilesFailed is the number of raw files that produced at least one
	// document error.
	FilesFailed int `json:"files_failed"`

	// DocumentsExtracted is the total YAML documents parsed across all files.
	DocumentsExtracted int `json:"documents_extracted"`

	// FilesSynced is the number of managed files pushed to the remote.
	FilesSynced int `json:"files_synced"`
}

// SyncOperation is one end-to-end execution of the sync workflow for a
// fabric.
//
// # Description
//
// Created when a sync is requested and mutated by the owning orchestrator
// goroutine as stages complete. At most one non-terminal SyncOperation may
// exist per fabric at a time; a second request is rejected with
// CodeSyncInProgress, never queued.
//
// # Fields
//
//   - ID: unique operation identifier (UUID)
//   - FabricID: the fabric whose directory tree is synchronized
//   - Trigger: why the sync was requested
//   - State: current lifecycle state
//   - StartedAt / EndedAt: wall-clock bounds (EndedAt zero while running)
//   - Attempt: 1-based retry attempt counter
//   - Progress: per-stage counters
//   - Errors / Warnings: accumulated, never silently dropped
//   - Options: free-form per-sync options supplied by the caller
type SyncOperation struct {
	ID       string        `json:"id"`
	FabricID string        `json:"fabric_id"`
	Trigger  TriggerReason `json:"trigger"`
	State    SyncState     `json:"state"`

	StartedAt time.Time `json:"started_at"`
	EndedAt   time.Time `json:"ended_at,omitempty"`

	Attempt  int          `json:"attempt"`
	Progress SyncProgress `json:"progress"`

	// Files records every raw file the operation discovered, with its
	// processing outcome filled in as ingestion proceeds.
	Files []FileRecord `json:"files,omitempty"`

	Errors   []OperationError `json:"errors,omitempty"`
	Warnings []string         `json:"warnings,omitempty"`

	Options map[string]string `json:"options,omitempty"`
}

// OperationError is a single error recorded on a SyncOperation.
type OperationError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Path    string    `json:"path,omitempty"`
	Stage   SyncState `json:"stage,omitempty"`
}

// Clone returns a deep copy suitable for returning to status readers while
// the owning goroutine keeps mutating the original.
func (op *SyncOperation) Clone() *SyncOperation {
	cp := *op
	cp.Files = append([]FileRecord(nil), op.Files...)
	cp.Errors = append([]OperationError(nil), op.Errors...)
	cp.Warnings = append([]string(nil), op.Warnings...)
	if op.Options != nil {
		cp.Options = make(map[string]string, len(op.Options))
		for k, v := range op.Options {
			cp.Options[k] = v
		}
	}
	return &cp
}

// =============================================================================
// State Transitions
// =============================================================================

// StateTransition is an append-only audit record of a SyncOperation moving
// between states.
//
// Transitions are written by the state manager on every applied edge and are
// never mutated or deleted.
type StateTransition struct {
	SyncID    string            `json:"sync_id"`
	FabricID  string            `json:"fabric_id"`
	FromState SyncState         `json:"from_state"`
	ToState   SyncState         `json:"to_state"`
	Timestamp time.Time         `json:"timestamp"`
	Context   map[string]string `json:"context,omitempty"`
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// Event Taxonomy
// =============================================================================

// EventType identifies a sync-lifecycle event on the bus.
//
// The taxonomy is a fixed set of strings; consumers must not invent new
// types outside this list.
type EventType string

const (
	EventSyncStarted   EventType = "sync.started"
	EventSyncCompleted EventType = "sync.completed"
	EventSyncFailed    EventType = "sync.failed"

	EventDirectoryInitialized EventType = "directory.initialized"
	EventDirectoryValidated   EventType = "directory.validated"
	EventDirectoryRepaired    EventType = "directory.repaired"

	EventFilesDiscovered EventType = "files.discovered"
	EventFileProcessed   EventType = "file.processed"
	EventFileFailed      EventType = "file.failed"
)

// Event is a typed, fire-and-forget message on the event bus.
//
// Events are not retried by the bus itself; retry is the orchestrator's
// responsibility. CorrelationID ties every event to the SyncOperation that
// produced it.
type Event struct {
	Type          EventType         `json:"type"`
	CorrelationID string            `json:"correlation_id"`
	FabricID      string            `json:"fabric_id"`
	Payload       map[string]string `json:"payload,omitempty"`
	Timestamp     time.Time         `json:"timestamp"`
}

// NewEvent builds an event with a timestamp and a generated correlation ID
// when none is supplied.
func NewEvent(t EventType, correlationID, fabricID string, payload map[string]string) Event {
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	return Event{
		Type:          t,
		CorrelationID: correlationID,
		FabricID:      fabricID,
		Payload:       payload,
		Timestamp:     time.Now(),
	}
}

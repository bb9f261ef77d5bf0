// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import "time"

// =============================================================================
// File Processing Results
// =============================================================================

// FileStatus summarizes the outcome of processing one raw file.
type FileStatus string

const (
	// FileStatusSuccess means every document in the file was ingested.
	FileStatusSuccess FileStatus = "success"

	// FileStatusPartial means at least one document was ingested and at
	// least one document failed validation. Partial success is explicitly
	// allowed; a file is never discarded because one document is bad.
	FileStatusPartial FileStatus = "partial"

	// FileStatusFailed means no document in the file was ingested.
	FileStatusFailed FileStatus = "failed"
)

// DocumentError records a validation failure for one YAML document within a
// multi-document file. Index is the zero-based document position.
type DocumentError struct {
	Index   int       `json:"index"`
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// FileResult is the outcome of ProcessFile for a single raw file.
type FileResult struct {
	// Path is the raw file that was processed.
	Path string `json:"path"`

	// Status is success, partial, or failed.
	Status FileStatus `json:"status"`

	// DocumentsExtracted counts every YAML document parsed from the file,
	// valid or not.
	DocumentsExtracted int `json:"documents_extracted"`

	// TargetFiles lists the managed/<kind>/ files the valid documents were
	// written to, in document order.
	TargetFiles []string `json:"target_files,omitempty"`

	// Errors holds one entry per invalid document.
	Errors []DocumentError `json:"errors,omitempty"`
}

// FileRecord tracks one discovered raw file across the lifetime of a
// SyncOperation.
//
// Created during discovery, updated as ingestion proceeds, and immutable
// once the owning operation reaches a terminal state.
type FileRecord struct {
	SyncID       string     `json:"sync_id"`
	Path         string     `json:"path"`
	Kinds        []string   `json:"kinds,omitempty"`
	Documents    int        `json:"documents"`
	Result       FileResult `json:"result"`
	DiscoveredAt time.Time  `json:"discovered_at"`
	ProcessedAt  time.Time  `json:"processed_at,omitempty"`
}

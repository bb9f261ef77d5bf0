// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package datatypes

import (
	"errors"
	"fmt"
)

// =============================================================================
// Error Code Namespace
// =============================================================================

// ErrorCode is a stable string code inside a flat namespace grouped by
// category: validation 1xxx, directory 2xxx, sync 3xxx, remote 4xxx,
// system 5xxx.
type ErrorCode string

const (
	// Validation errors (1xxx). Never retried; surfaced with per-document
	// granularity.
	CodeMalformedYAML   ErrorCode = "FGD-1001"
	CodeMissingField    ErrorCode = "FGD-1002"
	CodeUnsupportedKind ErrorCode = "FGD-1003"
	CodeFileTooLarge    ErrorCode = "FGD-1004"

	// Directory errors (2xxx).
	CodeMissingPath    ErrorCode = "FGD-2001"
	CodeUnreadablePath ErrorCode = "FGD-2002"
	CodeRepairFailed   ErrorCode = "FGD-2003"
	CodeLockTimeout    ErrorCode = "FGD-2004"

	// Sync-state errors (3xxx).
	CodeSyncInProgress    ErrorCode = "FGD-3001"
	CodeSyncTimeout       ErrorCode = "FGD-3002"
	CodeSyncCancelled     ErrorCode = "FGD-3003"
	CodeIllegalTransition ErrorCode = "FGD-3004"
	CodeSyncNotFound      ErrorCode = "FGD-3005"

	// Remote-repository errors (4xxx).
	CodeRemoteConnection ErrorCode = "FGD-4001"
	CodeRemoteAuth       ErrorCode = "FGD-4002"
	CodeRemoteRateLimit  ErrorCode = "FGD-4003"
	CodeRemoteNotFound   ErrorCode = "FGD-4004"
	CodeBreakerOpen      ErrorCode = "FGD-4005"

	// System errors (5xxx). Fatal for the current operation.
	CodeInternal          ErrorCode = "FGD-5001"
	CodeStore             ErrorCode = "FGD-5002"
	CodeWorkerPoolExhaust ErrorCode = "FGD-5003"
)

// =============================================================================
// Coded Errors
// =============================================================================

// CodedError is an error carrying a stable ErrorCode so that callers and
// the retry policy can classify failures without string matching.
type CodedError struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *CodedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is / errors.As.
func (e *CodedError) Unwrap() error { return e.Err }

// NewError builds a CodedError without a cause.
func NewError(code ErrorCode, message string) *CodedError {
	return &CodedError{Code: code, Message: message}
}

// WrapError builds a CodedError around a cause.
func WrapError(code ErrorCode, message string, err error) *CodedError {
	return &CodedError{Code: code, Message: message, Err: err}
}

// CodeOf extracts the ErrorCode from err, walking the wrap chain.
// Returns CodeInternal when no CodedError is present.
func CodeOf(err error) ErrorCode {
	var coded *CodedError
	if errors.As(err, &coded) {
		return coded.Code
	}
	return CodeInternal
}

// IsTransient reports whether err should be retried with backoff.
//
// Only network-shaped failures qualify: remote connection errors, rate
// limiting, and sync timeouts. Validation, directory, auth, not-found, and
// system errors propagate immediately as terminal failures.
func IsTransient(err error) bool {
	switch CodeOf(err) {
	case CodeRemoteConnection, CodeRemoteRateLimit, CodeSyncTimeout:
		return true
	default:
		return false
	}
}

// =============================================================================
// HTTP Error Envelope
// =============================================================================

// ErrorEnvelope is the structured error body returned by the HTTP API.
type ErrorEnvelope struct {
	Code          ErrorCode `json:"code"`
	Message       string    `json:"message"`
	CorrelationID string    `json:"correlation_id,omitempty"`
}

// Envelope converts an error into the wire envelope, preserving the code
// when err is a CodedError.
func Envelope(err error, correlationID string) ErrorEnvelope {
	return ErrorEnvelope{
		Code:          CodeOf(err),
		Message:       err.Error(),
		CorrelationID: correlationID,
	}
}

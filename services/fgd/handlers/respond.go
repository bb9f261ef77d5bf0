// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package handlers implements the HTTP API over the sync orchestrator and
// directory manager.
package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
	"github.com/afewell-hh/fgd-sync/services/fgd/middleware"
)

// httpStatus maps error codes to HTTP statuses. Unknown codes fall back
// to 500.
func httpStatus(code datatypes.ErrorCode) int {
	switch code {
	case datatypes.CodeMalformedYAML, datatypes.CodeMissingField,
		datatypes.CodeUnsupportedKind, datatypes.CodeFileTooLarge:
		return http.StatusBadRequest
	case datatypes.CodeSyncNotFound, datatypes.CodeRemoteNotFound,
		datatypes.CodeMissingPath:
		return http.StatusNotFound
	case datatypes.CodeSyncInProgress, datatypes.CodeIllegalTransition:
		return http.StatusConflict
	case datatypes.CodeLockTimeout:
		return http.StatusLocked
	case datatypes.CodeRemoteAuth:
		return http.StatusUnauthorized
	case datatypes.CodeRemoteRateLimit:
		return http.StatusTooManyRequests
	case datatypes.CodeBreakerOpen, datatypes.CodeWorkerPoolExhaust:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondError writes the structured error envelope.
func respondError(c *gin.Context, err error) {
	code := datatypes.CodeOf(err)
	c.JSON(httpStatus(code), datatypes.Envelope(err, middleware.CorrelationID(c)))
}

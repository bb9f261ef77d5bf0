// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// correlationKey is the gin-context key for the request correlation ID.
const correlationKey = "fgd_correlation_id"

// correlationHeader is accepted inbound and always set outbound.
const correlationHeader = "X-Correlation-ID"

// CorrelationMiddleware assigns every request a correlation ID, honoring
// one supplied by the caller. The ID appears in error envelopes and in the
// response headers so callers can tie logs together.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(correlationHeader)
		if id == "" {
			id = uuid.NewString()
		}
		c.Set(correlationKey, id)
		c.Header(correlationHeader, id)
		c.Next()
	}
}

// CorrelationID returns the request's correlation ID, or "" outside the
// middleware chain.
func CorrelationID(c *gin.Context) string {
	return c.GetString(correlationKey)
}

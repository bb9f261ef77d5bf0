// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package middleware provides HTTP middleware for the sync service.
//
// # Authentication Flow
//
// The auth middleware extracts a bearer token from the Authorization
// header and compares it against the configured static token using a
// constant-time comparison.
//
// # Default Behavior
//
// With no token configured every request is allowed, so the service works
// out of the box on a trusted network. Deployments exposed beyond that set
// FGD_AUTH_TOKEN and every /v1 request must carry it.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// AuthMiddleware enforces the static bearer token. An empty token disables
// enforcement.
func AuthMiddleware(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorEnvelope{
				Code:          datatypes.CodeRemoteAuth,
				Message:       "missing bearer token",
				CorrelationID: CorrelationID(c),
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, datatypes.ErrorEnvelope{
				Code:          datatypes.CodeRemoteAuth,
				Message:       "invalid bearer token",
				CorrelationID: CorrelationID(c),
			})
			return
		}
		c.Next()
	}
}

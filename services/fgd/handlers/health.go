// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"net/http"
	"os"
	"path/filepath"

	"github.com/gin-gonic/gin"

	"github.com/afewell-hh/fgd-sync/services/fgd/orchestrator"
	"github.com/afewell-hh/fgd-sync/services/fgd/state"
)

// HealthCheck reports component health: the state store must answer a
// read and the GitOps root must be writable. A degraded component flips
// the response to 503 so load balancers stop routing syncs here.
//
// GET /health
func HealthCheck(st *state.Store, gitopsRoot string, o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		checks := gin.H{}
		healthy := true

		if _, err := st.ListCurrentOperations(); err != nil {
			checks["store"] = err.Error()
			healthy = false
		} else {
			checks["store"] = "ok"
		}

		probe := filepath.Join(gitopsRoot, ".fgd-health")
		if err := os.WriteFile(probe, []byte("ok"), 0640); err != nil {
			checks["gitops_root"] = err.Error()
			healthy = false
		} else {
			os.Remove(probe)
			checks["gitops_root"] = "ok"
		}

		checks["breaker"] = string(o.Breaker().State())

		status := "ok"
		code := http.StatusOK
		if !healthy {
			status = "degraded"
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, gin.H{"status": status, "checks": checks})
	}
}

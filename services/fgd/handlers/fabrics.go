// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/afewell-hh/fgd-sync/services/fgd/directory"
	"github.com/afewell-hh/fgd-sync/services/fgd/lock"
)

// ValidateStructure reports a fabric's directory-tree health without
// changing anything on disk.
//
// GET /v1/fabrics/:fabricId/structure
func ValidateStructure(dirs *directory.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		result := dirs.ValidateStructure(c.Param("fabricId"))
		c.JSON(http.StatusOK, result)
	}
}

// InitializeStructure creates the fabric's directory tree. Idempotent:
// an already-initialized fabric returns its validation result unchanged.
//
// POST /v1/fabrics/:fabricId/structure
func InitializeStructure(dirs *directory.Manager, locks *lock.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		fabricID := c.Param("fabricId")

		if err := locks.Acquire(c.Request.Context(), fabricID, "initialize structure"); err != nil {
			respondError(c, err)
			return
		}
		defer func() {
			if err := locks.Release(fabricID); err != nil {
				slog.Warn("Failed to release fabric lock", "fabric_id", fabricID, "error", err)
			}
		}()

		result, err := dirs.InitializeStructure(fabricID)
		if err != nil {
			respondError(c, err)
			return
		}

		slog.Info("Fabric structure initialized", "fabric_id", fabricID)
		c.JSON(http.StatusCreated, result)
	}
}

// RepairStructure validates and then fixes every auto-repairable issue.
// Issues needing a human come back in the response untouched.
//
// POST /v1/fabrics/:fabricId/structure/repair
func RepairStructure(dirs *directory.Manager, locks *lock.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		fabricID := c.Param("fabricId")

		if err := locks.Acquire(c.Request.Context(), fabricID, "repair structure"); err != nil {
			respondError(c, err)
			return
		}
		defer func() {
			if err := locks.Release(fabricID); err != nil {
				slog.Warn("Failed to release fabric lock", "fabric_id", fabricID, "error", err)
			}
		}()

		before := dirs.ValidateStructure(fabricID)
		remaining, err := dirs.RepairStructure(fabricID, before.Issues)
		if err != nil {
			respondError(c, err)
			return
		}
		after := dirs.ValidateStructure(fabricID)

		slog.Info("Fabric structure repaired",
			"fabric_id", fabricID,
			"repaired", len(before.Issues)-len(remaining),
			"remaining", len(remaining))
		c.JSON(http.StatusOK, gin.H{
			"result":           after,
			"remaining_issues": remaining,
		})
	}
}

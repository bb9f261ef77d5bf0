// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
	"github.com/afewell-hh/fgd-sync/services/fgd/orchestrator"
)

// StartSyncRequest is the trigger-sync request body.
type StartSyncRequest struct {
	Trigger string            `json:"trigger" binding:"required,oneof=manual webhook scheduled creation"`
	Options map[string]string `json:"options"`
}

// StartSync triggers a sync for a fabric.
//
// POST /v1/fabrics/:fabricId/syncs
//
// Returns 202 with the sync ID and a status-polling URL. A fabric with a
// sync already in flight gets 409 carrying the active sync's ID.
func StartSync(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		fabricID := c.Param("fabricId")

		var req StartSyncRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, datatypes.WrapError(datatypes.CodeMissingField,
				"invalid request body", err))
			return
		}

		syncID, err := o.StartSync(c.Request.Context(), fabricID,
			datatypes.TriggerReason(req.Trigger), req.Options)
		if err != nil {
			var conflict *orchestrator.ConflictError
			if errors.As(err, &conflict) {
				c.JSON(http.StatusConflict, gin.H{
					"code":           datatypes.CodeSyncInProgress,
					"message":        err.Error(),
					"active_sync_id": conflict.ActiveSyncID,
				})
				return
			}
			respondError(c, err)
			return
		}

		slog.Info("Sync accepted", "sync_id", syncID, "fabric_id", fabricID)
		c.JSON(http.StatusAccepted, gin.H{
			"sync_id":    syncID,
			"status_url": "/v1/syncs/" + syncID,
		})
	}
}

// GetSync returns a non-blocking snapshot of one sync operation.
//
// GET /v1/syncs/:syncId
func GetSync(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		op, err := o.GetSyncStatus(c.Param("syncId"))
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, op)
	}
}

// ListSyncs returns the most recent sync of every fabric.
//
// GET /v1/syncs
func ListSyncs(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		ops, err := o.ListSyncs()
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"syncs": ops})
	}
}

// CancelSync requests cooperative cancellation and returns the freshest
// snapshot it can get; the caller polls for CANCELLED.
//
// DELETE /v1/syncs/:syncId
func CancelSync(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		syncID := c.Param("syncId")
		if err := o.CancelSync(syncID); err != nil {
			respondError(c, err)
			return
		}

		op, err := o.GetSyncStatus(syncID)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusAccepted, gin.H{
			"sync_id": syncID,
			"state":   op.State,
		})
	}
}

// GetHistory returns a fabric's state-transition audit log,
// most-recent-first. `limit` query parameter caps the row count.
//
// GET /v1/fabrics/:fabricId/history
func GetHistory(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		limit := 0
		if raw := c.Query("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 0 {
				respondError(c, datatypes.NewError(datatypes.CodeMissingField,
					"limit must be a non-negative integer"))
				return
			}
			limit = n
		}

		history, err := o.History(c.Param("fabricId"), limit)
		if err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"transitions": history})
	}
}

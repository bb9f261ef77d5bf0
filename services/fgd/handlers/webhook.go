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
	"sort"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"

	"github.com/afewell-hh/fgd-sync/pkg/validation"
	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
	"github.com/afewell-hh/fgd-sync/services/fgd/orchestrator"
)

// =============================================================================
// Shared Validator Instance
// =============================================================================

// webhookValidate is the validator instance for webhook payloads.
// Initialized in init() with custom validators.
var webhookValidate *validator.Validate

func init() {
	webhookValidate = validator.New()
	_ = webhookValidate.RegisterValidation("repopath", validateRepoPath)
}

// validateRepoPath checks that a changed-file path is safe to map to a
// fabric: no traversal segments, no absolute paths.
func validateRepoPath(fl validator.FieldLevel) bool {
	path := fl.Field().String()
	if path == "" || strings.HasPrefix(path, "/") {
		return false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return false
		}
	}
	return true
}

// =============================================================================
// Webhook Payload Types
// =============================================================================

// PushCommit is one commit in a push webhook payload. Only the file path
// lists are consumed; the remote repository is the source of truth for
// content.
type PushCommit struct {
	ID       string   `json:"id" validate:"required"`
	Added    []string `json:"added" validate:"dive,repopath"`
	Modified []string `json:"modified" validate:"dive,repopath"`
	Removed  []string `json:"removed" validate:"dive,repopath"`
}

// PushEvent is the subset of a GitHub push webhook the service consumes.
// Repository paths are laid out as <fabric-id>/..., so the first segment
// of every changed path names the fabric to resync.
type PushEvent struct {
	Ref        string       `json:"ref" validate:"required"`
	Repository struct {
		FullName string `json:"full_name" validate:"required"`
	} `json:"repository"`
	Commits []PushCommit `json:"commits" validate:"dive"`
}

// Validate validates the payload using tags and custom validators. Call
// after binding the JSON body.
func (e *PushEvent) Validate() error {
	return webhookValidate.Struct(e)
}

// Fabrics returns the sorted, deduplicated fabric IDs named by the first
// path segment of every changed file. Paths whose first segment is not a
// valid fabric ID are skipped.
func (e *PushEvent) Fabrics() []string {
	seen := map[string]bool{}
	collect := func(paths []string) {
		for _, p := range paths {
			seg, _, _ := strings.Cut(p, "/")
			if validation.ValidateFabricID(seg) == nil {
				seen[seg] = true
			}
		}
	}
	for _, c := range e.Commits {
		collect(c.Added)
		collect(c.Modified)
		collect(c.Removed)
	}

	fabrics := make([]string, 0, len(seen))
	for id := range seen {
		fabrics = append(fabrics, id)
	}
	sort.Strings(fabrics)
	return fabrics
}

// =============================================================================
// Handler
// =============================================================================

// GitHubWebhook accepts a push event and triggers a sync for every fabric
// whose files the push touched.
//
// POST /v1/webhooks/github
//
// Returns 202 with the started sync IDs per fabric. A fabric with a sync
// already in flight is reported as skipped rather than failing the whole
// webhook, since delivery retries would re-trigger the remaining fabrics
// anyway.
func GitHubWebhook(o *orchestrator.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		var event PushEvent
		if err := c.ShouldBindJSON(&event); err != nil {
			respondError(c, datatypes.WrapError(datatypes.CodeMissingField,
				"invalid webhook payload", err))
			return
		}
		if err := event.Validate(); err != nil {
			respondError(c, datatypes.WrapError(datatypes.CodeMissingField,
				"invalid webhook payload", err))
			return
		}

		started := map[string]string{}
		var skipped []string
		for _, fabricID := range event.Fabrics() {
			syncID, err := o.StartSync(c.Request.Context(), fabricID,
				datatypes.TriggerWebhook, map[string]string{
					"ref":        event.Ref,
					"repository": event.Repository.FullName,
				})
			if err != nil {
				if errors.Is(err, orchestrator.ErrSyncInProgress) {
					skipped = append(skipped, fabricID)
					continue
				}
				respondError(c, err)
				return
			}
			started[fabricID] = syncID
		}

		slog.Info("Webhook processed",
			"repository", event.Repository.FullName,
			"ref", event.Ref,
			"started", len(started),
			"skipped", len(skipped))

		c.JSON(http.StatusAccepted, gin.H{
			"syncs":   started,
			"skipped": skipped,
		})
	}
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"context"
	"log/slog"
)

// =============================================================================
// Reconciliation
// =============================================================================

// ReconcileInput is what a strategy gets to work with: the managed files
// the fabric believes exist (repo-relative paths) and the files the remote
// actually has under the fabric prefix.
type ReconcileInput struct {
	FabricID string
	Desired  []string
	Actual   []string
}

// ReconcileOutcome summarizes a reconciliation pass.
type ReconcileOutcome struct {
	InSync       bool
	MissingOnGit []string
	UnknownOnGit []string
}

// ReconcileStrategy decides how desired and actual state converge. The
// merge algorithm is intentionally pluggable; deployments choose a
// strategy per fabric.
type ReconcileStrategy interface {
	Name() string
	Reconcile(ctx context.Context, input ReconcileInput) (ReconcileOutcome, error)
}

// NoopStrategy observes drift without acting on it. It is the default:
// the sync stage already pushed managed files, so reconciliation only
// reports what differs.
type NoopStrategy struct{}

var _ ReconcileStrategy = NoopStrategy{}

func (NoopStrategy) Name() string { return "noop" }

// Reconcile diffs the desired and actual listings and records the result.
func (NoopStrategy) Reconcile(_ context.Context, input ReconcileInput) (ReconcileOutcome, error) {
	actual := make(map[string]bool, len(input.Actual))
	for _, p := range input.Actual {
		actual[p] = true
	}
	desired := make(map[string]bool, len(input.Desired))
	for _, p := range input.Desired {
		desired[p] = true
	}

	var outcome ReconcileOutcome
	for _, p := range input.Desired {
		if !actual[p] {
			outcome.MissingOnGit = append(outcome.MissingOnGit, p)
		}
	}
	for _, p := range input.Actual {
		if !desired[p] {
			outcome.UnknownOnGit = append(outcome.UnknownOnGit, p)
		}
	}
	outcome.InSync = len(outcome.MissingOnGit) == 0 && len(outcome.UnknownOnGit) == 0

	if !outcome.InSync {
		slog.Warn("Reconciliation detected drift",
			"fabric_id", input.FabricID,
			"missing_on_git", len(outcome.MissingOnGit),
			"unknown_on_git", len(outcome.UnknownOnGit))
	}
	return outcome, nil
}

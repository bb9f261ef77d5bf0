// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"testing"
	"time"
)

func TestBackoffDelayGrowsAndCaps(t *testing.T) {
	p := BackoffPolicy{
		InitialDelay: time.Second,
		Factor:       2,
		MaxDelay:     10 * time.Second,
		MaxAttempts:  6,
	}

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{4, 8 * time.Second},
		{5, 10 * time.Second}, // capped
		{6, 10 * time.Second},
	}
	for _, tt := range tests {
		if got := p.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffExhausted(t *testing.T) {
	p := BackoffPolicy{InitialDelay: time.Second, Factor: 2, MaxDelay: time.Minute, MaxAttempts: 3}

	if p.Exhausted(1) || p.Exhausted(2) {
		t.Error("attempts below MaxAttempts should not be exhausted")
	}
	if !p.Exhausted(3) {
		t.Error("attempt 3 of 3 should be the last")
	}
}

func TestReconcileNoopDetectsDrift(t *testing.T) {
	outcome, err := NoopStrategy{}.Reconcile(t.Context(), ReconcileInput{
		FabricID: "fabric-a",
		Desired:  []string{"a.yaml", "b.yaml"},
		Actual:   []string{"b.yaml", "c.yaml"},
	})
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if outcome.InSync {
		t.Error("drifted listings reported as in sync")
	}
	if len(outcome.MissingOnGit) != 1 || outcome.MissingOnGit[0] != "a.yaml" {
		t.Errorf("MissingOnGit = %v", outcome.MissingOnGit)
	}
	if len(outcome.UnknownOnGit) != 1 || outcome.UnknownOnGit[0] != "c.yaml" {
		t.Errorf("UnknownOnGit = %v", outcome.UnknownOnGit)
	}
}

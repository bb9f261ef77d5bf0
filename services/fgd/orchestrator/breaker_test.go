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

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

func TestBreakerOpensAtThreshold(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 3, ResetTimeout: time.Hour})

	for i := 0; i < 2; i++ {
		b.RecordFailure()
		if err := b.Allow(); err != nil {
			t.Fatalf("breaker opened after %d failures, threshold is 3", i+1)
		}
	}

	b.RecordFailure()
	err := b.Allow()
	if err == nil {
		t.Fatal("breaker should be open after 3 consecutive failures")
	}
	if code := datatypes.CodeOf(err); code != datatypes.CodeBreakerOpen {
		t.Errorf("code = %s, want %s", code, datatypes.CodeBreakerOpen)
	}
}

func TestBreakerSuccessResetsCount(t *testing.T) {
	b := NewBreaker(BreakerConfig{FailureThreshold: 2, ResetTimeout: time.Hour})

	b.RecordFailure()
	b.RecordSuccess()
	b.RecordFailure()

	if err := b.Allow(); err != nil {
		t.Error("non-consecutive failures should not open the breaker")
	}
}

func TestBreakerHalfOpenProbe(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Fatal("breaker should be open")
	}

	// Reset timeout elapses: exactly one probe is admitted.
	now = now.Add(2 * time.Minute)
	if b.State() != BreakerHalfOpen {
		t.Fatal("breaker should be half-open after the reset timeout")
	}
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}
	if err := b.Allow(); err == nil {
		t.Error("second call during probe should be rejected")
	}

	// Successful probe closes the circuit.
	b.RecordSuccess()
	if b.State() != BreakerClosed {
		t.Errorf("state = %s, want closed after successful probe", b.State())
	}
}

func TestBreakerFailedProbeReopens(t *testing.T) {
	now := time.Now()
	b := NewBreaker(BreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.now = func() time.Time { return now }

	b.RecordFailure()
	now = now.Add(2 * time.Minute)
	if err := b.Allow(); err != nil {
		t.Fatalf("probe should be admitted: %v", err)
	}

	b.RecordFailure()
	if b.State() != BreakerOpen {
		t.Errorf("state = %s, want open after failed probe", b.State())
	}
}

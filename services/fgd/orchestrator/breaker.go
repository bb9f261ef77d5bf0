// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"log/slog"
	"sync"
	"time"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// Circuit Breaker
// =============================================================================

// BreakerState is the circuit breaker position.
type BreakerState string

const (
	// BreakerClosed passes calls through and counts failures.
	BreakerClosed BreakerState = "closed"

	// BreakerOpen rejects calls immediately with CodeBreakerOpen.
	BreakerOpen BreakerState = "open"

	// BreakerHalfOpen lets one probe call through after the reset timeout.
	BreakerHalfOpen BreakerState = "half-open"
)

// BreakerConfig tunes the breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5.
	FailureThreshold int

	// ResetTimeout is how long the breaker stays open before probing.
	// Default: 30s.
	ResetTimeout time.Duration
}

// Breaker protects the remote repository from being hammered while it is
// failing. Consecutive failures open it; after ResetTimeout one probe is
// allowed, and its outcome closes or re-opens the circuit.
//
// # Thread Safety
//
// Safe for concurrent use.
type Breaker struct {
	config BreakerConfig

	mu       sync.Mutex
	state    BreakerState
	failures int
	openedAt time.Time
	probing  bool

	now func() time.Time
}

// NewBreaker creates a closed breaker.
func NewBreaker(config BreakerConfig) *Breaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 5
	}
	if config.ResetTimeout <= 0 {
		config.ResetTimeout = 30 * time.Second
	}
	return &Breaker{
		config: config,
		state:  BreakerClosed,
		now:    time.Now,
	}
}

// State returns the current position, advancing open to half-open when the
// reset timeout has elapsed.
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()
	return b.state
}

func (b *Breaker) advanceLocked() {
	if b.state == BreakerOpen && b.now().Sub(b.openedAt) >= b.config.ResetTimeout {
		b.state = BreakerHalfOpen
		b.probing = false
	}
}

// Allow reports whether a call may proceed. When open it returns a
// CodeBreakerOpen error; half-open admits exactly one probe at a time.
func (b *Breaker) Allow() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceLocked()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerHalfOpen:
		if b.probing {
			return datatypes.NewError(datatypes.CodeBreakerOpen,
				"circuit breaker is half-open with a probe in flight")
		}
		b.probing = true
		return nil
	default:
		return datatypes.NewError(datatypes.CodeBreakerOpen,
			"circuit breaker is open, remote calls suspended")
	}
}

// RecordSuccess resets failure counting and closes a half-open circuit.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == BreakerHalfOpen {
		slog.Info("Circuit breaker closed after successful probe")
	}
	b.state = BreakerClosed
	b.failures = 0
	b.probing = false
}

// RecordFailure counts one failure; reaching the threshold, or failing the
// half-open probe, opens the circuit.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failures++
	if b.state == BreakerHalfOpen || b.failures >= b.config.FailureThreshold {
		if b.state != BreakerOpen {
			slog.Warn("Circuit breaker opened",
				"consecutive_failures", b.failures,
				"reset_timeout", b.config.ResetTimeout)
		}
		b.state = BreakerOpen
		b.openedAt = b.now()
		b.probing = false
	}
}

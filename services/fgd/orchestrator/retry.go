// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package orchestrator

import (
	"time"
)

// BackoffPolicy computes retry delays for transient stage failures.
//
// Delays grow geometrically from InitialDelay by Factor per attempt, capped
// at MaxDelay. MaxAttempts bounds total tries of one stage: the first run
// counts as attempt 1, so MaxAttempts=3 means at most two retries.
type BackoffPolicy struct {
	InitialDelay time.Duration
	Factor       float64
	MaxDelay     time.Duration
	MaxAttempts  int
}

// DefaultBackoffPolicy returns the production retry defaults.
func DefaultBackoffPolicy() BackoffPolicy {
	return BackoffPolicy{
		InitialDelay: 2 * time.Second,
		Factor:       2.0,
		MaxDelay:     60 * time.Second,
		MaxAttempts:  3,
	}
}

// Delay returns the backoff before retry of the given 1-based attempt.
// Delay(1) is the wait after the first failure.
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	d := float64(p.InitialDelay)
	for i := 1; i < attempt; i++ {
		d *= p.Factor
		if d >= float64(p.MaxDelay) {
			return p.MaxDelay
		}
	}
	if d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}

// Exhausted reports whether another try is allowed after the given 1-based
// attempt failed.
func (p BackoffPolicy) Exhausted(attempt int) bool {
	return attempt >= p.MaxAttempts
}

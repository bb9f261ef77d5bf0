// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package lock provides per-fabric exclusive directory locks.
//
// # Description
//
// Any structural mutation of a fabric's GitOps directory tree must happen
// under an exclusive, timeout-bounded lock so that two concurrent syncs
// cannot corrupt the same tree. Locks are advisory file locks (flock(2) on
// Unix, LockFileEx on Windows) on a lock file inside the fabric's `.hnp/`
// metadata directory, so any cohabiting process on the same GitOps volume
// participates in the same exclusion.
//
// Each lock carries a JSON info record (PID, holder, expiry) for debugging
// and stale-lock detection: a lock whose owning process is gone or whose TTL
// has expired is reclaimed automatically.
//
// # Thread Safety
//
// Manager is safe for concurrent use from multiple goroutines.
package lock

import (
	"errors"
	"fmt"
	"os"
	"time"
)

// ErrFabricLocked is returned when another holder owns the fabric lock.
var ErrFabricLocked = errors.New("fabric is locked")

// ErrLockNotHeld is returned by Release when this manager does not hold
// the lock.
var ErrLockNotHeld = errors.New("lock not held by this manager")

// FileLocker abstracts platform-specific file locking.
//
// Unix uses syscall.Flock, Windows uses LockFileEx. Implementations must be
// non-blocking: Lock returns ErrFabricLocked immediately when the file is
// already locked by another process.
type FileLocker interface {
	// Lock acquires an exclusive non-blocking lock on the file.
	Lock(f *os.File) error

	// Unlock releases the lock. Safe to call on an unlocked file.
	Unlock(f *os.File) error
}

// Info is the JSON record written next to an acquired lock.
type Info struct {
	FabricID string    `json:"fabric_id"`
	PID      int       `json:"pid"`
	Holder   string    `json:"holder"`
	Reason   string    `json:"reason,omitempty"`
	LockedAt time.Time `json:"locked_at"`
	// ExpiresAt bounds the lock lifetime. A live process refreshes it; a
	// crashed one leaves it behind for stale-lock reclamation.
	ExpiresAt time.Time `json:"expires_at"`
}

// IsExpired reports whether the lock's TTL has elapsed.
func (i *Info) IsExpired() bool {
	return time.Now().After(i.ExpiresAt)
}

// HeldError wraps ErrFabricLocked with holder details.
type HeldError struct {
	FabricID string
	Holder   *Info
}

// Error implements the error interface.
func (e *HeldError) Error() string {
	if e.Holder != nil {
		return fmt.Sprintf("fabric %s is locked by pid %d (%s) until %s",
			e.FabricID, e.Holder.PID, e.Holder.Holder,
			e.Holder.ExpiresAt.Format(time.RFC3339))
	}
	return fmt.Sprintf("fabric %s is locked", e.FabricID)
}

// Unwrap lets errors.Is(err, ErrFabricLocked) work.
func (e *HeldError) Unwrap() error { return ErrFabricLocked }

// IsProcessAlive checks whether a process with the given PID still exists.
// Used for stale-lock detection.
func IsProcessAlive(pid int) bool {
	return isProcessAlive(pid)
}

// newFileLocker creates a platform-appropriate FileLocker.
func newFileLocker() FileLocker {
	return newPlatformLocker()
}

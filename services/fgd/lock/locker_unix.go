// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build unix

package lock

import (
	"os"
	"syscall"
)

// UnixFileLocker implements FileLocker using flock(2).
//
// Locks are advisory, process-scoped, and released on file close or process
// exit.
type UnixFileLocker struct{}

// Lock acquires an exclusive lock with LOCK_EX|LOCK_NB.
func (l *UnixFileLocker) Lock(f *os.File) error {
	err := syscall.Flock(int(f.Fd()), syscall.LOCK_EX|syscall.LOCK_NB)
	if err != nil {
		if err == syscall.EWOULDBLOCK {
			return ErrFabricLocked
		}
		return err
	}
	return nil
}

// Unlock releases the lock with LOCK_UN.
func (l *UnixFileLocker) Unlock(f *os.File) error {
	return syscall.Flock(int(f.Fd()), syscall.LOCK_UN)
}

// isProcessAlive sends signal 0, which checks existence without side
// effects.
func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return process.Signal(syscall.Signal(0)) == nil
}

// newPlatformLocker returns the Unix locker.
func newPlatformLocker() FileLocker {
	return &UnixFileLocker{}
}

// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

//go:build windows

package lock

import (
	"os"
)

// WindowsFileLocker implements FileLocker for Windows.
//
// The service deploys on Linux hosts alongside the NetBox plugin; the
// Windows path exists so the tree builds for local development.
// TODO: implement with golang.org/x/sys/windows.LockFileEx once a Windows
// deployment target exists.
type WindowsFileLocker struct{}

// Lock is a no-op on Windows (see type comment).
func (l *WindowsFileLocker) Lock(f *os.File) error {
	return nil
}

// Unlock is a no-op on Windows (see type comment).
func (l *WindowsFileLocker) Unlock(f *os.File) error {
	return nil
}

// isProcessAlive always reports false on Windows, which makes every lock
// eligible for stale reclamation there.
func isProcessAlive(pid int) bool {
	return false
}

// newPlatformLocker returns the Windows locker.
func newPlatformLocker() FileLocker {
	return &WindowsFileLocker{}
}

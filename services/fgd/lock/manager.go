// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package lock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// Manager
// =============================================================================

// ManagerConfig configures the fabric lock manager.
type ManagerConfig struct {
	// GitOpsRoot is the directory containing one subtree per fabric.
	GitOpsRoot string

	// Holder identifies this process in lock info files. Defaults to
	// "fgd-sync".
	Holder string

	// DefaultTTL bounds the lifetime of an acquired lock. A crashed holder
	// leaves an expired lock behind for reclamation. Default: 5 minutes.
	DefaultTTL time.Duration

	// AcquireTimeout bounds how long Acquire waits for a contended lock.
	// Default: 30 seconds.
	AcquireTimeout time.Duration
}

// Manager acquires and releases per-fabric directory locks.
//
// # Description
//
// One lock file exists per fabric at `<root>/<fabric>/.hnp/fabric.lock`.
// Acquire is timeout-bounded: it retries a non-blocking flock until it
// succeeds, the context is cancelled, or the acquire timeout elapses.
// An fsnotify watcher on lock files wakes contending waiters early when a
// holder releases.
//
// # Thread Safety
//
// All public methods are safe for concurrent use.
type Manager struct {
	root           string
	holder         string
	defaultTTL     time.Duration
	acquireTimeout time.Duration
	locker         FileLocker

	mu    sync.Mutex
	held  map[string]*lockEntry
	watch *fsnotify.Watcher
	// waiters are channels poked when any watched lock file changes.
	waiters map[chan struct{}]struct{}
	done    chan struct{}
}

// lockEntry tracks one lock held by this manager.
type lockEntry struct {
	fabricID string
	file     *os.File
	lockPath string
	infoPath string
	info     *Info
}

// NewManager creates a lock manager rooted at the GitOps directory.
func NewManager(cfg ManagerConfig) (*Manager, error) {
	if cfg.GitOpsRoot == "" {
		return nil, errors.New("gitops root is required")
	}
	if cfg.Holder == "" {
		cfg.Holder = "fgd-sync"
	}
	if cfg.DefaultTTL == 0 {
		cfg.DefaultTTL = 5 * time.Minute
	}
	if cfg.AcquireTimeout == 0 {
		cfg.AcquireTimeout = 30 * time.Second
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating lock watcher: %w", err)
	}

	m := &Manager{
		root:           cfg.GitOpsRoot,
		holder:         cfg.Holder,
		defaultTTL:     cfg.DefaultTTL,
		acquireTimeout: cfg.AcquireTimeout,
		locker:         newFileLocker(),
		held:           make(map[string]*lockEntry),
		watch:          watcher,
		waiters:        make(map[chan struct{}]struct{}),
		done:           make(chan struct{}),
	}
	go m.watchLoop()
	return m, nil
}

// Close releases all held locks and stops the watcher.
func (m *Manager) Close() error {
	m.mu.Lock()
	for id, entry := range m.held {
		m.releaseEntry(id, entry)
	}
	m.mu.Unlock()

	close(m.done)
	return m.watch.Close()
}

// lockDir returns the fabric's `.hnp` metadata directory.
func (m *Manager) lockDir(fabricID string) string {
	return filepath.Join(m.root, fabricID, ".hnp")
}

// =============================================================================
// Acquire / Release
// =============================================================================

// Acquire takes the exclusive lock for a fabric, waiting up to the
// configured acquire timeout.
//
// # Inputs
//
//   - ctx: Cancels the wait early.
//   - fabricID: The fabric to lock.
//   - reason: Recorded in the lock info file for debugging.
//
// # Outputs
//
//   - error: CodeLockTimeout when the wait deadline passes, ctx.Err() when
//     cancelled, other errors on I/O failure. Re-acquiring a lock this
//     manager already holds refreshes its TTL and succeeds.
func (m *Manager) Acquire(ctx context.Context, fabricID, reason string) error {
	deadline := time.NewTimer(m.acquireTimeout)
	defer deadline.Stop()

	wake := make(chan struct{}, 1)
	m.addWaiter(wake)
	defer m.removeWaiter(wake)

	for {
		err := m.tryAcquire(fabricID, reason)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrFabricLocked) {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline.C:
			return datatypes.WrapError(datatypes.CodeLockTimeout,
				"timed out waiting for fabric lock "+fabricID, err)
		case <-wake:
			// A lock file changed somewhere; retry immediately.
		case <-time.After(250 * time.Millisecond):
			// Fallback poll in case the release happened before we
			// registered the watch.
		}
	}
}

// TryAcquire attempts the lock once without waiting.
func (m *Manager) TryAcquire(fabricID, reason string) error {
	return m.tryAcquire(fabricID, reason)
}

// tryAcquire performs a single non-blocking acquisition attempt.
func (m *Manager) tryAcquire(fabricID, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Re-entrant acquire refreshes the TTL.
	if entry, ok := m.held[fabricID]; ok {
		entry.info.Reason = reason
		entry.info.ExpiresAt = time.Now().Add(m.defaultTTL)
		_ = m.writeInfo(entry.infoPath, entry.info)
		return nil
	}

	dir := m.lockDir(fabricID)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("creating lock directory %s: %w", dir, err)
	}
	lockPath := filepath.Join(dir, "fabric.lock")
	infoPath := filepath.Join(dir, "fabric.lock.json")

	// Reclaim stale locks left by crashed holders.
	if existing, err := m.readInfo(infoPath); err == nil && existing != nil {
		if existing.IsExpired() || !IsProcessAlive(existing.PID) {
			slog.Info("Reclaiming stale fabric lock",
				"fabric_id", fabricID,
				"old_pid", existing.PID,
				"expired", existing.IsExpired())
			_ = os.Remove(infoPath)
		}
	}

	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0640)
	if err != nil {
		return fmt.Errorf("opening lock file %s: %w", lockPath, err)
	}

	if err := m.locker.Lock(f); err != nil {
		f.Close()
		if errors.Is(err, ErrFabricLocked) {
			holder, _ := m.readInfo(infoPath)
			return &HeldError{FabricID: fabricID, Holder: holder}
		}
		return fmt.Errorf("locking fabric %s: %w", fabricID, err)
	}

	now := time.Now()
	info := &Info{
		FabricID:  fabricID,
		PID:       os.Getpid(),
		Holder:    m.holder,
		Reason:    reason,
		LockedAt:  now,
		ExpiresAt: now.Add(m.defaultTTL),
	}
	if err := m.writeInfo(infoPath, info); err != nil {
		m.locker.Unlock(f)
		f.Close()
		return fmt.Errorf("writing lock info: %w", err)
	}

	if err := m.watch.Add(dir); err != nil {
		slog.Debug("Failed to watch lock directory", "dir", dir, "error", err)
	}

	m.held[fabricID] = &lockEntry{
		fabricID: fabricID,
		file:     f,
		lockPath: lockPath,
		infoPath: infoPath,
		info:     info,
	}

	slog.Debug("Acquired fabric lock",
		"fabric_id", fabricID,
		"reason", reason,
		"expires_at", info.ExpiresAt.Format(time.RFC3339))
	return nil
}

// Release drops the fabric lock held by this manager.
func (m *Manager) Release(fabricID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.held[fabricID]
	if !ok {
		return ErrLockNotHeld
	}
	return m.releaseEntry(fabricID, entry)
}

// releaseEntry must be called with mu held.
func (m *Manager) releaseEntry(fabricID string, entry *lockEntry) error {
	if err := m.locker.Unlock(entry.file); err != nil {
		slog.Warn("Failed to unlock fabric lock file",
			"fabric_id", fabricID, "error", err)
	}
	entry.file.Close()

	if err := os.Remove(entry.infoPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock info file",
			"path", entry.infoPath, "error", err)
	}
	if err := os.Remove(entry.lockPath); err != nil && !os.IsNotExist(err) {
		slog.Warn("Failed to remove lock file",
			"path", entry.lockPath, "error", err)
	}

	delete(m.held, fabricID)
	slog.Debug("Released fabric lock", "fabric_id", fabricID)
	return nil
}

// Holder reports the current lock info for a fabric, whether held by this
// manager or another process. Returns nil when unlocked.
func (m *Manager) Holder(fabricID string) (*Info, error) {
	m.mu.Lock()
	if entry, ok := m.held[fabricID]; ok {
		info := *entry.info
		m.mu.Unlock()
		return &info, nil
	}
	m.mu.Unlock()

	info, err := m.readInfo(filepath.Join(m.lockDir(fabricID), "fabric.lock.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return info, nil
}

// =============================================================================
// Internals
// =============================================================================

// watchLoop turns fsnotify events on lock directories into waiter wake-ups.
func (m *Manager) watchLoop() {
	for {
		select {
		case <-m.done:
			return
		case ev, ok := <-m.watch.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Remove|fsnotify.Write|fsnotify.Create) != 0 {
				m.wakeWaiters()
			}
		case err, ok := <-m.watch.Errors:
			if !ok {
				return
			}
			slog.Debug("Lock watcher error", "error", err)
		}
	}
}

func (m *Manager) addWaiter(ch chan struct{}) {
	m.mu.Lock()
	m.waiters[ch] = struct{}{}
	m.mu.Unlock()
}

func (m *Manager) removeWaiter(ch chan struct{}) {
	m.mu.Lock()
	delete(m.waiters, ch)
	m.mu.Unlock()
}

func (m *Manager) wakeWaiters() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for ch := range m.waiters {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (m *Manager) readInfo(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var info Info
	if err := json.Unmarshal(data, &info); err != nil {
		return nil, fmt.Errorf("parsing lock info %s: %w", path, err)
	}
	return &info, nil
}

func (m *Manager) writeInfo(path string, info *Info) error {
	data, err := json.MarshalIndent(info, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0640)
}

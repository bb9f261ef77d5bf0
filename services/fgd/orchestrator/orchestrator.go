// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package orchestrator drives sync operations through their lifecycle.
//
// # Description
//
// The orchestrator is the only component that advances a SyncOperation
// through the stage sequence INITIALIZING → VALIDATING → DISCOVERING →
// PROCESSING → SYNCING → RECONCILING → COMPLETED. It enforces the
// one-sync-per-fabric rule through an in-process registry plus the on-disk
// fabric lock, retries transient stage failures with exponential backoff,
// and trips a circuit breaker when the remote repository fails repeatedly.
//
// # Concurrency
//
// Each sync runs on its own goroutine; a weighted semaphore bounds how
// many run at once. Exactly one goroutine mutates a SyncOperation; status
// reads get deep clones. Cancellation is cooperative: CancelSync cancels
// the sync's context, and the run loop observes it at stage and file
// checkpoints.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/semaphore"

	"github.com/afewell-hh/fgd-sync/pkg/validation"
	"github.com/afewell-hh/fgd-sync/services/fgd/bus"
	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
	"github.com/afewell-hh/fgd-sync/services/fgd/directory"
	"github.com/afewell-hh/fgd-sync/services/fgd/gitremote"
	"github.com/afewell-hh/fgd-sync/services/fgd/ingest"
	"github.com/afewell-hh/fgd-sync/services/fgd/lock"
	"github.com/afewell-hh/fgd-sync/services/fgd/state"
)

var tracer = otel.Tracer("fgd.orchestrator")

// =============================================================================
// Errors
// =============================================================================

// ErrSyncInProgress is the sentinel under every per-fabric conflict.
var ErrSyncInProgress = errors.New("sync already in progress for fabric")

// ConflictError carries the active sync's ID so callers can point at it.
type ConflictError struct {
	FabricID     string
	ActiveSyncID string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("fabric %s already has active sync %s", e.FabricID, e.ActiveSyncID)
}

func (e *ConflictError) Unwrap() error { return ErrSyncInProgress }

// =============================================================================
// Configuration
// =============================================================================

// Config tunes the orchestrator.
type Config struct {
	// SyncTimeout bounds one whole sync operation. Default: 10m.
	SyncTimeout time.Duration

	// MaxConcurrentSyncs bounds how many fabrics sync at once. Default: 4.
	MaxConcurrentSyncs int

	// AutoRepair lets the VALIDATING stage fix auto-repairable structural
	// issues instead of failing.
	AutoRepair bool

	// Backoff is the transient-failure retry policy.
	Backoff BackoffPolicy

	// Breaker tunes the remote circuit breaker.
	Breaker BreakerConfig
}

func applyConfigDefaults(cfg Config) Config {
	if cfg.SyncTimeout <= 0 {
		cfg.SyncTimeout = 10 * time.Minute
	}
	if cfg.MaxConcurrentSyncs <= 0 {
		cfg.MaxConcurrentSyncs = 4
	}
	def := DefaultBackoffPolicy()
	if cfg.Backoff.MaxAttempts <= 0 {
		cfg.Backoff.MaxAttempts = def.MaxAttempts
	}
	if cfg.Backoff.InitialDelay <= 0 {
		cfg.Backoff.InitialDelay = def.InitialDelay
	}
	if cfg.Backoff.Factor <= 1 {
		cfg.Backoff.Factor = def.Factor
	}
	if cfg.Backoff.MaxDelay <= 0 {
		cfg.Backoff.MaxDelay = def.MaxDelay
	}
	return cfg
}

// =============================================================================
// Orchestrator
// =============================================================================

// activeSync is the registry entry for one running operation.
type activeSync struct {
	mu sync.Mutex
	op *datatypes.SyncOperation

	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}

	// discovered carries file paths from DISCOVERING into PROCESSING;
	// desired carries repo paths from SYNCING into RECONCILING.
	discovered []string
	desired    []string
}

// Orchestrator coordinates all components of the sync workflow.
type Orchestrator struct {
	config   Config
	state    *state.Manager
	locks    *lock.Manager
	dirs     *directory.Manager
	pipeline *ingest.Pipeline
	remote   gitremote.Client
	events   *bus.Bus
	strategy ReconcileStrategy
	breaker  *Breaker
	sem      *semaphore.Weighted

	mu       sync.Mutex
	byFabric map[string]*activeSync
	bySyncID map[string]*activeSync
}

// New wires an orchestrator. remote may be nil, which turns the SYNCING
// and RECONCILING stages into recorded no-ops for offline deployments.
func New(cfg Config, st *state.Manager, locks *lock.Manager, dirs *directory.Manager,
	pipeline *ingest.Pipeline, remote gitremote.Client, events *bus.Bus,
	strategy ReconcileStrategy) *Orchestrator {

	cfg = applyConfigDefaults(cfg)
	if strategy == nil {
		strategy = NoopStrategy{}
	}
	return &Orchestrator{
		config:   cfg,
		state:    st,
		locks:    locks,
		dirs:     dirs,
		pipeline: pipeline,
		remote:   remote,
		events:   events,
		strategy: strategy,
		breaker:  NewBreaker(cfg.Breaker),
		sem:      semaphore.NewWeighted(int64(cfg.MaxConcurrentSyncs)),
		byFabric: make(map[string]*activeSync),
		bySyncID: make(map[string]*activeSync),
	}
}

// Breaker exposes the circuit breaker, mainly for health reporting.
func (o *Orchestrator) Breaker() *Breaker { return o.breaker }

// =============================================================================
// Public Operations
// =============================================================================

// StartSync requests a sync for a fabric and returns immediately with the
// new sync ID. A fabric with a non-terminal sync gets a CodeSyncInProgress
// error carrying the active sync's ID; requests are never queued.
func (o *Orchestrator) StartSync(ctx context.Context, fabricID string, trigger datatypes.TriggerReason, options map[string]string) (string, error) {
	_, span := tracer.Start(ctx, "Orchestrator.StartSync")
	defer span.End()
	span.SetAttributes(
		attribute.String("fgd.fabric_id", fabricID),
		attribute.String("fgd.trigger", string(trigger)))

	if err := validation.ValidateFabricID(fabricID); err != nil {
		return "", datatypes.WrapError(datatypes.CodeMissingField, "invalid fabric id", err)
	}
	if !trigger.Valid() {
		return "", datatypes.NewError(datatypes.CodeMissingField,
			"unknown trigger reason "+string(trigger))
	}

	op := &datatypes.SyncOperation{
		ID:        uuid.NewString(),
		FabricID:  fabricID,
		Trigger:   trigger,
		State:     datatypes.StatePending,
		StartedAt: time.Now(),
		Attempt:   1,
		Options:   options,
	}

	as := &activeSync{op: op, done: make(chan struct{})}

	o.mu.Lock()
	if existing, ok := o.byFabric[fabricID]; ok {
		activeID := existing.snapshot().ID
		o.mu.Unlock()
		return "", datatypes.WrapError(datatypes.CodeSyncInProgress,
			"rejecting concurrent sync request",
			&ConflictError{FabricID: fabricID, ActiveSyncID: activeID})
	}
	o.byFabric[fabricID] = as
	o.bySyncID[op.ID] = as
	o.mu.Unlock()

	if err := o.state.Register(op); err != nil {
		o.unregister(as)
		return "", err
	}

	slog.Info("Sync requested",
		"sync_id", op.ID, "fabric_id", fabricID, "trigger", trigger)
	o.publish(datatypes.EventSyncStarted, op, map[string]string{
		"trigger": string(trigger),
	})

	go o.run(as)
	return op.ID, nil
}

// GetSyncStatus returns a point-in-time snapshot of an operation. Running
// operations come from the in-process registry; finished ones from the
// durable store. Never blocks on a running sync.
func (o *Orchestrator) GetSyncStatus(syncID string) (*datatypes.SyncOperation, error) {
	o.mu.Lock()
	as, ok := o.bySyncID[syncID]
	o.mu.Unlock()
	if ok {
		return as.snapshot(), nil
	}
	return o.state.GetOperation(syncID)
}

// ListSyncs returns the most recent operation of every fabric, with live
// snapshots substituted for fabrics currently syncing.
func (o *Orchestrator) ListSyncs() ([]*datatypes.SyncOperation, error) {
	ops, err := o.state.ListCurrentOperations()
	if err != nil {
		return nil, err
	}
	for i, op := range ops {
		o.mu.Lock()
		as, ok := o.bySyncID[op.ID]
		o.mu.Unlock()
		if ok {
			ops[i] = as.snapshot()
		}
	}
	return ops, nil
}

// History returns a fabric's transition audit log, most-recent-first.
func (o *Orchestrator) History(fabricID string, limit int) ([]datatypes.StateTransition, error) {
	return o.state.History(fabricID, limit)
}

// CancelSync requests cooperative cancellation of a running sync. The
// operation reaches CANCELLED at its next checkpoint, not instantly.
// Cancelling a finished sync is an error.
func (o *Orchestrator) CancelSync(syncID string) error {
	o.mu.Lock()
	as, ok := o.bySyncID[syncID]
	o.mu.Unlock()

	if !ok {
		op, err := o.state.GetOperation(syncID)
		if err != nil {
			return err
		}
		return datatypes.NewError(datatypes.CodeIllegalTransition,
			"sync "+syncID+" already reached terminal state "+string(op.State))
	}

	as.cancelled.Store(true)
	as.mu.Lock()
	cancelFn := as.cancel
	as.mu.Unlock()
	if cancelFn != nil {
		cancelFn()
	}
	slog.Info("Sync cancellation requested", "sync_id", syncID)
	return nil
}

// Wait blocks until a running sync finishes. Unknown IDs return at once.
// Test and shutdown helper.
func (o *Orchestrator) Wait(syncID string) {
	o.mu.Lock()
	as, ok := o.bySyncID[syncID]
	o.mu.Unlock()
	if ok {
		<-as.done
	}
}

// =============================================================================
// Run Loop
// =============================================================================

// stages is the happy-path sequence the run loop walks.
var stages = []datatypes.SyncState{
	datatypes.StateInitializing,
	datatypes.StateValidating,
	datatypes.StateDiscovering,
	datatypes.StateProcessing,
	datatypes.StateSyncing,
	datatypes.StateReconciling,
}

func (o *Orchestrator) run(as *activeSync) {
	defer close(as.done)
	defer o.unregister(as)

	ctx, cancel := context.WithTimeout(context.Background(), o.config.SyncTimeout)
	defer cancel()
	as.mu.Lock()
	as.cancel = cancel
	as.mu.Unlock()
	// A cancellation that arrived before the assignment above found a nil
	// cancel func. Honor it now so the semaphore wait is interrupted.
	if as.cancelled.Load() {
		cancel()
	}

	op := as.op

	if err := o.sem.Acquire(ctx, 1); err != nil {
		if as.cancelled.Load() {
			o.finish(as, datatypes.StateCancelled, map[string]string{
				"reason": "cancelled by caller",
			})
			o.publish(datatypes.EventSyncFailed, op, map[string]string{
				"state": string(datatypes.StateCancelled),
			})
			return
		}
		o.fail(as, datatypes.WrapError(datatypes.CodeWorkerPoolExhaust,
			"waiting for a sync slot", err))
		return
	}
	defer o.sem.Release(1)

	lockHeld := false
	defer func() {
		if lockHeld {
			if err := o.locks.Release(op.FabricID); err != nil {
				slog.Warn("Failed to release fabric lock",
					"fabric_id", op.FabricID, "error", err)
			}
		}
	}()

	for _, stage := range stages {
		err := o.runStage(ctx, as, stage, &lockHeld)
		if err == nil {
			continue
		}

		if as.cancelled.Load() {
			o.finish(as, datatypes.StateCancelled, map[string]string{
				"reason": "cancelled by caller",
			})
			o.publish(datatypes.EventSyncFailed, op, map[string]string{
				"state": string(datatypes.StateCancelled),
			})
			return
		}
		if errors.Is(err, context.DeadlineExceeded) {
			err = datatypes.WrapError(datatypes.CodeSyncTimeout,
				fmt.Sprintf("sync exceeded %s", o.config.SyncTimeout), err)
		}
		o.fail(as, err)
		return
	}

	o.finish(as, datatypes.StateCompleted, nil)
	o.publish(datatypes.EventSyncCompleted, op, map[string]string{
		"files_processed": strconv.Itoa(op.Progress.FilesProcessed),
		"files_synced":    strconv.Itoa(op.Progress.FilesSynced),
	})
	slog.Info("Sync completed",
		"sync_id", op.ID, "fabric_id", op.FabricID,
		"files_processed", op.Progress.FilesProcessed,
		"files_synced", op.Progress.FilesSynced)
}

// runStage executes one stage with transient-failure retries. Terminal
// errors and exhausted retries propagate to the caller.
func (o *Orchestrator) runStage(ctx context.Context, as *activeSync, stage datatypes.SyncState, lockHeld *bool) error {
	op := as.op
	for {
		if err := o.transition(as, stage, nil); err != nil {
			return err
		}

		err := o.execStage(ctx, as, stage, lockHeld)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		attempt := as.snapshot().Attempt
		if !datatypes.IsTransient(err) || o.config.Backoff.Exhausted(attempt) {
			o.recordError(as, stage, err)
			return err
		}

		delay := o.config.Backoff.Delay(attempt)
		slog.Warn("Stage failed with transient error, retrying",
			"sync_id", op.ID, "stage", stage,
			"attempt", attempt, "delay", delay, "error", err)

		if terr := o.transition(as, datatypes.StateRetrying, map[string]string{
			"stage":   string(stage),
			"attempt": strconv.Itoa(attempt),
			"error":   err.Error(),
		}); terr != nil {
			return terr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}

		as.mu.Lock()
		op.Attempt++
		as.mu.Unlock()
	}
}

// execStage dispatches one stage body.
func (o *Orchestrator) execStage(ctx context.Context, as *activeSync, stage datatypes.SyncState, lockHeld *bool) error {
	ctx, span := tracer.Start(ctx, "Orchestrator.stage."+string(stage))
	defer span.End()
	span.SetAttributes(attribute.String("fgd.sync_id", as.op.ID))

	switch stage {
	case datatypes.StateInitializing:
		return o.stageInitialize(ctx, as, lockHeld)
	case datatypes.StateValidating:
		return o.stageValidate(as)
	case datatypes.StateDiscovering:
		return o.stageDiscover(as)
	case datatypes.StateProcessing:
		return o.stageProcess(ctx, as)
	case datatypes.StateSyncing:
		return o.stageSync(ctx, as)
	case datatypes.StateReconciling:
		return o.stageReconcile(ctx, as)
	default:
		return datatypes.NewError(datatypes.CodeInternal, "unknown stage "+string(stage))
	}
}

// =============================================================================
// Stage Bodies
// =============================================================================

func (o *Orchestrator) stageInitialize(ctx context.Context, as *activeSync, lockHeld *bool) error {
	op := as.op

	if !*lockHeld {
		if err := o.locks.Acquire(ctx, op.FabricID, "sync "+op.ID); err != nil {
			return err
		}
		*lockHeld = true
	}

	// First sync of a fabric lays the directory tree down.
	if _, err := os.Stat(o.dirs.RawDir(op.FabricID)); os.IsNotExist(err) {
		if _, err := o.dirs.InitializeStructure(op.FabricID); err != nil {
			return err
		}
		o.publish(datatypes.EventDirectoryInitialized, op, nil)
	}
	return nil
}

func (o *Orchestrator) stageValidate(as *activeSync) error {
	op := as.op

	result := o.dirs.ValidateStructure(op.FabricID)
	repairTried := false
	if !result.IsValid && o.config.AutoRepair {
		repairTried = true
		remaining, err := o.dirs.RepairStructure(op.FabricID, result.Issues)
		if err != nil {
			return err
		}
		o.publish(datatypes.EventDirectoryRepaired, op, map[string]string{
			"repaired":  strconv.Itoa(len(result.Issues) - len(remaining)),
			"remaining": strconv.Itoa(len(remaining)),
		})
		result = o.dirs.ValidateStructure(op.FabricID)
	}

	as.mu.Lock()
	for _, issue := range result.Issues {
		if issue.Severity == directory.SeverityWarning {
			op.Warnings = append(op.Warnings, issue.Path+": "+issue.Message)
		}
	}
	as.mu.Unlock()

	if !result.IsValid {
		code := structureErrorCode(result.Issues)
		if repairTried {
			code = datatypes.CodeRepairFailed
		}
		return datatypes.NewError(code,
			fmt.Sprintf("fabric %s structure invalid with %d issues",
				op.FabricID, len(result.Issues)))
	}
	o.publish(datatypes.EventDirectoryValidated, op, nil)
	return nil
}

// structureErrorCode classifies a failed structure check when no repair was
// attempted: an error issue repair could not fix is an access problem, a
// repairable one means the layout is missing pieces.
func structureErrorCode(issues []directory.Issue) datatypes.ErrorCode {
	code := datatypes.CodeMissingPath
	for _, issue := range issues {
		if issue.Severity == directory.SeverityError && !issue.AutoRepairable {
			return datatypes.CodeUnreadablePath
		}
	}
	return code
}

func (o *Orchestrator) stageDiscover(as *activeSync) error {
	op := as.op

	files, err := o.pipeline.DiscoverFiles(op.FabricID)
	if err != nil {
		return err
	}

	as.mu.Lock()
	as.discovered = files
	op.Progress.FilesDiscovered = len(files)
	now := time.Now()
	op.Files = make([]datatypes.FileRecord, len(files))
	for i, f := range files {
		op.Files[i] = datatypes.FileRecord{
			SyncID:       op.ID,
			Path:         f,
			DiscoveredAt: now,
		}
	}
	as.mu.Unlock()

	o.publish(datatypes.EventFilesDiscovered, op, map[string]string{
		"count": strconv.Itoa(len(files)),
	})
	return nil
}

func (o *Orchestrator) stageProcess(ctx context.Context, as *activeSync) error {
	op := as.op

	as.mu.Lock()
	files := as.discovered
	as.mu.Unlock()
	if len(files) == 0 {
		return nil
	}

	batch, err := o.pipeline.ProcessBatch(ctx, files, ingest.Context{
		SyncID:   op.ID,
		FabricID: op.FabricID,
	})
	if err != nil {
		return err
	}

	as.mu.Lock()
	op.Progress.FilesProcessed = batch.FilesProcessed
	op.Progress.FilesFailed = batch.FilesFailed
	op.Progress.DocumentsExtracted = batch.DocumentsExtracted
	records := make(map[string]*datatypes.FileRecord, len(op.Files))
	for i := range op.Files {
		records[op.Files[i].Path] = &op.Files[i]
	}
	for _, r := range batch.Results {
		if rec, ok := records[r.Path]; ok {
			rec.Result = r
			rec.Documents = r.DocumentsExtracted
			rec.Kinds = kindsOf(r.TargetFiles)
			rec.ProcessedAt = time.Now()
		}
		for _, e := range r.Errors {
			op.Errors = append(op.Errors, datatypes.OperationError{
				Code:    e.Code,
				Message: fmt.Sprintf("document %d: %s", e.Index, e.Message),
				Path:    r.Path,
				Stage:   datatypes.StateProcessing,
			})
		}
		if r.Status == datatypes.FileStatusPartial {
			op.Warnings = append(op.Warnings,
				fmt.Sprintf("%s: partially ingested, %d documents rejected",
					r.Path, len(r.Errors)))
		}
	}
	as.mu.Unlock()
	return nil
}

// kindsOf derives the distinct resource kinds from managed target paths,
// which are laid out as managed/<kind>/<name>.yaml.
func kindsOf(targets []string) []string {
	seen := make(map[string]bool, len(targets))
	var kinds []string
	for _, t := range targets {
		kind := filepath.Base(filepath.Dir(t))
		if !seen[kind] {
			seen[kind] = true
			kinds = append(kinds, kind)
		}
	}
	sort.Strings(kinds)
	return kinds
}

func (o *Orchestrator) stageSync(ctx context.Context, as *activeSync) error {
	op := as.op

	if o.remote == nil {
		as.mu.Lock()
		op.Warnings = append(op.Warnings, "no remote repository configured, push skipped")
		as.mu.Unlock()
		return nil
	}

	managedRoot := o.dirs.ManagedDir(op.FabricID)
	var desired []string

	err := filepath.WalkDir(managedRoot, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if cerr := ctx.Err(); cerr != nil {
			return cerr
		}

		rel, err := filepath.Rel(managedRoot, path)
		if err != nil {
			return err
		}
		repoPath := op.FabricID + "/managed/" + filepath.ToSlash(rel)

		content, err := os.ReadFile(path)
		if err != nil {
			return datatypes.WrapError(datatypes.CodeUnreadablePath, "read "+path, err)
		}

		message := fmt.Sprintf("fgd-sync %s: update %s", op.FabricID, repoPath)
		if rerr := o.remoteCall(func() error {
			return o.remote.CreateOrUpdateFile(ctx, repoPath, content, message)
		}); rerr != nil {
			return rerr
		}

		desired = append(desired, repoPath)
		as.mu.Lock()
		op.Progress.FilesSynced++
		as.mu.Unlock()
		return nil
	})
	if err != nil {
		return err
	}

	as.mu.Lock()
	as.desired = desired
	as.mu.Unlock()
	return nil
}

func (o *Orchestrator) stageReconcile(ctx context.Context, as *activeSync) error {
	op := as.op

	if o.remote == nil {
		return nil
	}

	as.mu.Lock()
	desired := as.desired
	as.mu.Unlock()

	// List actual remote state kind by kind so the comparison stays within
	// the fabric's managed prefix.
	kinds := make(map[string]bool)
	for _, p := range desired {
		rel := strings.TrimPrefix(p, op.FabricID+"/managed/")
		if i := strings.IndexByte(rel, '/'); i > 0 {
			kinds[rel[:i]] = true
		}
	}

	var actual []string
	for kind := range kinds {
		var files []gitremote.RemoteFile
		err := o.remoteCall(func() error {
			var gerr error
			files, gerr = o.remote.GetFiles(ctx, op.FabricID+"/managed/"+kind, "")
			return gerr
		})
		if err != nil {
			if datatypes.CodeOf(err) == datatypes.CodeRemoteNotFound {
				continue
			}
			return err
		}
		for _, f := range files {
			actual = append(actual, f.Path)
		}
	}

	outcome, err := o.strategy.Reconcile(ctx, ReconcileInput{
		FabricID: op.FabricID,
		Desired:  desired,
		Actual:   actual,
	})
	if err != nil {
		return err
	}

	if !outcome.InSync {
		as.mu.Lock()
		op.Warnings = append(op.Warnings, fmt.Sprintf(
			"reconcile (%s): %d missing on git, %d unknown on git",
			o.strategy.Name(), len(outcome.MissingOnGit), len(outcome.UnknownOnGit)))
		as.mu.Unlock()
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// remoteCall routes one remote operation through the circuit breaker.
func (o *Orchestrator) remoteCall(fn func() error) error {
	if err := o.breaker.Allow(); err != nil {
		return err
	}
	err := fn()
	if err != nil {
		o.breaker.RecordFailure()
		return err
	}
	o.breaker.RecordSuccess()
	return nil
}

func (o *Orchestrator) transition(as *activeSync, to datatypes.SyncState, txContext map[string]string) error {
	as.mu.Lock()
	defer as.mu.Unlock()
	return o.state.TransitionTo(as.op, to, txContext)
}

// recordError appends the failure to the operation before it goes terminal.
func (o *Orchestrator) recordError(as *activeSync, stage datatypes.SyncState, err error) {
	as.mu.Lock()
	as.op.Errors = append(as.op.Errors, datatypes.OperationError{
		Code:    datatypes.CodeOf(err),
		Message: err.Error(),
		Stage:   stage,
	})
	as.mu.Unlock()
}

// fail drives the operation to FAILED and emits sync.failed.
func (o *Orchestrator) fail(as *activeSync, err error) {
	op := as.op
	slog.Error("Sync failed",
		"sync_id", op.ID, "fabric_id", op.FabricID,
		"code", datatypes.CodeOf(err), "error", err)

	o.finish(as, datatypes.StateFailed, map[string]string{
		"error": err.Error(),
	})
	o.publish(datatypes.EventSyncFailed, op, map[string]string{
		"code":  string(datatypes.CodeOf(err)),
		"error": err.Error(),
	})
}

// finish applies the terminal transition, tolerating nothing but logging
// everything: a sync that cannot persist its terminal state still leaves
// the registry so the fabric is not wedged.
func (o *Orchestrator) finish(as *activeSync, terminal datatypes.SyncState, txContext map[string]string) {
	if err := o.transition(as, terminal, txContext); err != nil {
		slog.Error("Failed to persist terminal state",
			"sync_id", as.op.ID, "state", terminal, "error", err)
	}
}

func (o *Orchestrator) unregister(as *activeSync) {
	o.mu.Lock()
	delete(o.byFabric, as.op.FabricID)
	delete(o.bySyncID, as.op.ID)
	o.mu.Unlock()
}

func (o *Orchestrator) publish(t datatypes.EventType, op *datatypes.SyncOperation, payload map[string]string) {
	if o.events == nil {
		return
	}
	o.events.Publish(datatypes.NewEvent(t, op.ID, op.FabricID, payload))
}

// snapshot returns a deep clone safe to hand outside the run loop.
func (as *activeSync) snapshot() *datatypes.SyncOperation {
	as.mu.Lock()
	defer as.mu.Unlock()
	return as.op.Clone()
}

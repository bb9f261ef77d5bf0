// Copyright (C) 2026 Hedgehog
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package state

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/afewell-hh/fgd-sync/services/fgd/datatypes"
)

// =============================================================================
// Badger Store
// =============================================================================

// Key layout:
//
//	op/<sync_id>                    -> SyncOperation (JSON)
//	fabric/<fabric_id>/current      -> sync_id of the most recent operation
//	tx/<fabric_id>/<seq(8B BE)>     -> StateTransition (JSON), append-only
//	txseq/<fabric_id>               -> last used sequence number
const (
	opPrefix     = "op/"
	fabricPrefix = "fabric/"
	txPrefix     = "tx/"
	txSeqPrefix  = "txseq/"
)

// StoreConfig configures the embedded state store.
type StoreConfig struct {
	// Path is the directory for BadgerDB files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode for tests.
	InMemory bool

	// SyncWrites enables synchronous writes. Transitions must survive a
	// crash, so production keeps this on.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *slog.Logger
}

// DefaultStoreConfig returns production defaults: durable writes at the
// given path.
func DefaultStoreConfig(path string) StoreConfig {
	return StoreConfig{Path: path, SyncWrites: true}
}

// Store persists sync operations and their transition history in BadgerDB.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Store struct {
	db *badger.DB
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// OpenStore opens the embedded store, creating the directory if needed.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Store: The opened store. Caller must call Close() when done.
//   - error: Non-nil if the path is invalid or the database cannot open.
func OpenStore(cfg StoreConfig) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent state store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create state store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)

	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open state store: %w", err)
	}
	return &Store{db: db}, nil
}

// OpenInMemoryStore opens a throwaway store for tests.
func OpenInMemoryStore() (*Store, error) {
	return OpenStore(StoreConfig{InMemory: true})
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// =============================================================================
// Operations
// =============================================================================

// SaveOperation upserts a SyncOperation and points the fabric's current
// marker at it.
func (s *Store) SaveOperation(op *datatypes.SyncOperation) error {
	data, err := json.Marshal(op)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeStore, "marshal operation", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(opPrefix+op.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(fabricPrefix+op.FabricID+"/current"), []byte(op.ID))
	})
	if err != nil {
		return datatypes.WrapError(datatypes.CodeStore, "save operation", err)
	}
	return nil
}

// GetOperation loads a SyncOperation by ID. Returns CodeSyncNotFound when
// the ID is unknown.
func (s *Store) GetOperation(syncID string) (*datatypes.SyncOperation, error) {
	var op datatypes.SyncOperation
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(opPrefix + syncID))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &op)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, datatypes.NewError(datatypes.CodeSyncNotFound, "unknown sync id "+syncID)
	}
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeStore, "load operation", err)
	}
	return &op, nil
}

// CurrentOperation loads the most recent SyncOperation for a fabric.
// Returns nil, nil when the fabric has never synced.
func (s *Store) CurrentOperation(fabricID string) (*datatypes.SyncOperation, error) {
	var syncID string
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(fabricPrefix + fabricID + "/current"))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			syncID = string(val)
			return nil
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeStore, "load current marker", err)
	}
	return s.GetOperation(syncID)
}

// ListCurrentOperations loads every fabric's most recent SyncOperation.
func (s *Store) ListCurrentOperations() ([]*datatypes.SyncOperation, error) {
	var syncIDs []string
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(fabricPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := it.Item().Value(func(val []byte) error {
				syncIDs = append(syncIDs, string(val))
				return nil
			}); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeStore, "list current markers", err)
	}

	ops := make([]*datatypes.SyncOperation, 0, len(syncIDs))
	for _, id := range syncIDs {
		op, err := s.GetOperation(id)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

// AppendTransition appends a StateTransition to the fabric's audit log.
// Entries are never mutated or deleted.
func (s *Store) AppendTransition(tx datatypes.StateTransition) error {
	data, err := json.Marshal(tx)
	if err != nil {
		return datatypes.WrapError(datatypes.CodeStore, "marshal transition", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		seq, err := nextSeq(txn, tx.FabricID)
		if err != nil {
			return err
		}

		key := make([]byte, 0, len(txPrefix)+len(tx.FabricID)+9)
		key = append(key, txPrefix...)
		key = append(key, tx.FabricID...)
		key = append(key, '/')
		key = binary.BigEndian.AppendUint64(key, seq)

		return txn.Set(key, data)
	})
	if err != nil {
		return datatypes.WrapError(datatypes.CodeStore, "append transition", err)
	}
	return nil
}

// nextSeq increments and returns the per-fabric transition sequence inside
// the caller's transaction.
func nextSeq(txn *badger.Txn, fabricID string) (uint64, error) {
	key := []byte(txSeqPrefix + fabricID)

	var seq uint64
	item, err := txn.Get(key)
	switch {
	case errors.Is(err, badger.ErrKeyNotFound):
		seq = 0
	case err != nil:
		return 0, err
	default:
		if err := item.Value(func(val []byte) error {
			if len(val) == 8 {
				seq = binary.BigEndian.Uint64(val)
			}
			return nil
		}); err != nil {
			return 0, err
		}
	}

	seq++
	buf := binary.BigEndian.AppendUint64(nil, seq)
	return seq, txn.Set(key, buf)
}

// TransitionHistory returns the fabric's transitions most-recent-first,
// up to limit entries. A limit of 0 returns everything.
func (s *Store) TransitionHistory(fabricID string, limit int) ([]datatypes.StateTransition, error) {
	prefix := []byte(txPrefix + fabricID + "/")
	var history []datatypes.StateTransition

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration starts from the key just past the prefix range.
		seek := append(append([]byte{}, prefix...), 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			if limit > 0 && len(history) >= limit {
				break
			}
			var tx datatypes.StateTransition
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &tx)
			}); err != nil {
				return err
			}
			history = append(history, tx)
		}
		return nil
	})
	if err != nil {
		return nil, datatypes.WrapError(datatypes.CodeStore, "read transition history", err)
	}
	return history, nil
}

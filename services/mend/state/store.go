// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package state persists the agent's polling position across restarts.
//
// The state lives in an embedded BadgerDB so the agent does not re-process
// issues it already handled after a crash or redeploy.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"
)

// stateKey is the single key holding the serialized poll state.
var stateKey = []byte("agent/poll_state")

// PollState records how far the agent has read the issue tracker.
type PollState struct {
	// Cursor is the lower bound for the next poll query. Issues created
	// before it are never fetched again.
	Cursor time.Time `json:"cursor"`

	// Seen holds issue keys the agent already processed. Issues in this
	// set are skipped even when a poll returns them again.
	Seen map[string]bool `json:"seen"`
}

// NewPollState returns an empty state anchored at now.
func NewPollState(now time.Time) *PollState {
	return &PollState{
		Cursor: now.UTC(),
		Seen:   make(map[string]bool),
	}
}

// MarkSeen records that an issue has been processed.
func (s *PollState) MarkSeen(key string) {
	if s.Seen == nil {
		s.Seen = make(map[string]bool)
	}
	s.Seen[key] = true
}

// HasSeen reports whether an issue was already processed.
func (s *PollState) HasSeen(key string) bool {
	return s.Seen[key]
}

// Store persists PollState in BadgerDB.
//
// Thread Safety: Store is safe for concurrent use.
type Store struct {
	db     *badger.DB
	logger *slog.Logger
}

// Config holds configuration for opening a state store.
type Config struct {
	// Path is the directory for database files. Required unless InMemory.
	Path string

	// InMemory enables in-memory mode for testing.
	InMemory bool

	// Logger is the logger for store operations. slog.Default() when nil.
	Logger *slog.Logger
}

// Open creates the state store.
//
// Inputs:
//
//	cfg - Store configuration.
//
// Outputs:
//
//	*Store - The store. Caller must Close() when done.
//	error - Non-nil if the database cannot be opened.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("state: path is required for persistent store")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("state: create directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(true)
	opts = opts.WithNumVersionsToKeep(1)
	opts = opts.WithLogger(&badgerLogger{logger: logger})

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("state: open database: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Load reads the persisted poll state.
//
// A missing or corrupt record yields a fresh state anchored at the current
// time rather than an error. Losing the cursor only means old issues are
// ignored, which is the safe direction.
//
// Outputs:
//
//	*PollState - Never nil on a nil error.
//	error - Non-nil only on a database failure.
func (s *Store) Load() (*PollState, error) {
	var raw []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(stateKey)
		if err != nil {
			return err
		}
		raw, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		s.logger.Info("no poll state found, starting fresh")
		return NewPollState(time.Now()), nil
	}
	if err != nil {
		return nil, fmt.Errorf("state: load: %w", err)
	}

	var state PollState
	if err := json.Unmarshal(raw, &state); err != nil {
		s.logger.Warn("poll state is corrupt, starting fresh", slog.Any("error", err))
		return NewPollState(time.Now()), nil
	}
	if state.Seen == nil {
		state.Seen = make(map[string]bool)
	}
	return &state, nil
}

// Save writes the poll state.
func (s *Store) Save(state *PollState) error {
	if state == nil {
		return errors.New("state: cannot save nil state")
	}
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("state: marshal: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(stateKey, raw)
	})
	if err != nil {
		return fmt.Errorf("state: save: %w", err)
	}
	return nil
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
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Copyright (C) 2026 Kodiak Security Labs (engineering@kodiaksec.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package archive persists engine-owned scan reports in BadgerDB.
//
// # Description
//
// Gap reports and cascade reports are derived artifacts the engine
// owns. The archive keeps an append-only history of them so the UI
// collaborator can fetch a prior report without re-scanning, and so a
// report survives process restarts. Upstream domain data is never
// written here; collaborators own their own stores.
//
// Keys are "report/<kind>/<generation padded to 20 digits>", so a
// prefix scan in reverse key order walks reports newest-generation
// first.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/KodiakSec/KodiakCore/services/riskengine/domain"
)

// Config holds configuration for the report archive.
type Config struct {
	// Path is the directory for BadgerDB files. Required unless
	// InMemory is true.
	Path string

	// InMemory enables in-memory mode with no disk persistence.
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. If nil, Badger
	// logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns production defaults: durable synchronous
// writes at the given path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// Entry is one archived report.
type Entry struct {
	// Kind is the report kind ("consistency", "cascade").
	Kind string `json:"kind"`

	// Generation is the model generation the report was computed from.
	Generation uint64 `json:"generation"`

	// StoredAtMilli is when the report was archived (Unix ms, UTC).
	StoredAtMilli int64 `json:"stored_at_milli"`

	// Payload is the JSON-encoded report.
	Payload json.RawMessage `json:"payload"`
}

// Archive is a BadgerDB-backed report history.
//
// # Thread Safety
//
// Safe for concurrent use; BadgerDB transactions provide isolation.
type Archive struct {
	db  *badger.DB
	log *slog.Logger
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

// Open creates an archive with the given configuration. Caller must
// Close it when done.
func Open(cfg Config) (*Archive, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent archive")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create archive dir: %w", err)
		}
		opts = badger.DefaultOptions(cfg.Path).WithSyncWrites(cfg.SyncWrites)
	}
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Archive{db: db, log: log}, nil
}

// Close releases the underlying database.
func (a *Archive) Close() error {
	return a.db.Close()
}

// key builds the storage key for one report.
func key(kind string, generation uint64) []byte {
	return fmt.Appendf(nil, "report/%s/%020d", kind, generation)
}

func prefix(kind string) []byte {
	return fmt.Appendf(nil, "report/%s/", kind)
}

// Put archives a report. The payload is JSON-encoded; archiving the
// same kind and generation twice overwrites, which is harmless because
// scans are deterministic per generation.
func (a *Archive) Put(kind string, generation uint64, report any) error {
	if kind == "" {
		return fmt.Errorf("%w: report kind is required", domain.ErrInvalidInput)
	}
	payload, err := json.Marshal(report)
	if err != nil {
		return fmt.Errorf("encode %s report: %w", kind, err)
	}
	entry := Entry{
		Kind:          kind,
		Generation:    generation,
		StoredAtMilli: time.Now().UnixMilli(),
		Payload:       payload,
	}
	raw, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("encode archive entry: %w", err)
	}
	err = a.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(kind, generation), raw)
	})
	if err != nil {
		return fmt.Errorf("archive %s report at generation %d: %w", kind, generation, err)
	}
	a.log.Debug("report archived", "kind", kind, "generation", generation)
	return nil
}

// Latest returns the newest archived report of a kind, by generation.
func (a *Archive) Latest(kind string) (*Entry, error) {
	var entry *Entry
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix(kind)
		it := txn.NewIterator(opts)
		defer it.Close()

		// Reverse iteration needs a seek key past the prefix range.
		seek := append(prefix(kind), 0xff)
		it.Seek(seek)
		if !it.ValidForPrefix(prefix(kind)) {
			return fmt.Errorf("%w: no %s report archived", domain.ErrNotFound, kind)
		}
		return it.Item().Value(func(val []byte) error {
			entry = &Entry{}
			return json.Unmarshal(val, entry)
		})
	})
	if err != nil {
		return nil, err
	}
	return entry, nil
}

// List returns up to limit archived reports of a kind, newest
// generation first.
func (a *Archive) List(kind string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 10
	}
	var entries []Entry
	err := a.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		opts.Prefix = prefix(kind)
		it := txn.NewIterator(opts)
		defer it.Close()

		seek := append(prefix(kind), 0xff)
		for it.Seek(seek); it.ValidForPrefix(prefix(kind)) && len(entries) < limit; it.Next() {
			var entry Entry
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &entry)
			})
			if err != nil {
				return err
			}
			entries = append(entries, entry)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return entries, nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package badgerstore wraps BadgerDB with the small transactional surface
// the service needs. The exact-tier cache, the escalation queue, the
// status store, and the usage aggregates all share one DB instance.
package badgerstore

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	badger "github.com/dgraph-io/badger/v4"
)

// Config controls how the database is opened.
type Config struct {
	// Dir is the on-disk location. Empty means in-memory.
	Dir string

	// SyncWrites forces fsync on every write. Slower, safer.
	SyncWrites bool

	// GCInterval is how often the value-log garbage collector runs.
	// Zero disables background GC.
	GCInterval time.Duration
}

// DefaultConfig returns a Config suitable for the service: on-disk,
// async writes, hourly value-log GC.
func DefaultConfig(dir string) Config {
	return Config{Dir: dir, SyncWrites: false, GCInterval: time.Hour}
}

// DB wraps a badger.DB with context-aware transaction helpers.
//
// Thread Safety: Safe for concurrent use; Badger handles its own locking.
type DB struct {
	db     *badger.DB
	stopGC chan struct{}
}

// OpenDB opens (or creates) the database described by cfg.
//
// Outputs:
//   - *DB: Open handle. Callers own Close.
//   - error: Badger open failure (e.g. lock held, bad permissions).
func OpenDB(cfg Config) (*DB, error) {
	opts := badger.DefaultOptions(cfg.Dir).
		WithLogger(nil).
		WithSyncWrites(cfg.SyncWrites)
	if cfg.Dir == "" {
		opts = opts.WithInMemory(true)
	}

	bdb, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger at %q: %w", cfg.Dir, err)
	}

	d := &DB{db: bdb, stopGC: make(chan struct{})}
	if cfg.GCInterval > 0 && cfg.Dir != "" {
		go d.runGC(cfg.GCInterval)
	}
	return d, nil
}

// Badger exposes the underlying handle for iterator-heavy callers.
func (d *DB) Badger() *badger.DB { return d.db }

// WithTxn runs fn inside a read-write transaction, honoring ctx.
func (d *DB) WithTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.Update(fn)
}

// WithReadTxn runs fn inside a read-only transaction, honoring ctx.
func (d *DB) WithReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return d.db.View(fn)
}

// Close stops background GC and closes the database.
func (d *DB) Close() error {
	close(d.stopGC)
	return d.db.Close()
}

func (d *DB) runGC(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-d.stopGC:
			return
		case <-ticker.C:
			// Badger asks for repeated calls until it reports nothing
			// left to collect.
			for {
				if err := d.db.RunValueLogGC(0.5); err != nil {
					if err != badger.ErrNoRewrite {
						slog.Debug("badger value log GC", slog.Any("error", err))
					}
					break
				}
			}
		}
	}
}

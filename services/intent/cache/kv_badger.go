// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"errors"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

// ErrMiss is returned by both cache tiers on lookup misses.
var ErrMiss = errors.New("cache miss")

// KVStore is the exact-tier backing store.
type KVStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Clear(ctx context.Context, prefix string) error
}

// BadgerKV implements KVStore over the shared Badger database, using
// Badger's native TTL for expiry.
//
// Thread Safety: Safe for concurrent use.
type BadgerKV struct {
	db *badgerstore.DB
}

// NewBadgerKV wraps db.
func NewBadgerKV(db *badgerstore.DB) *BadgerKV {
	return &BadgerKV{db: db}
}

func (s *BadgerKV) Get(ctx context.Context, key string) ([]byte, error) {
	var out []byte
	err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrMiss
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			out = append([]byte(nil), val...)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *BadgerKV) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		entry := badger.NewEntry([]byte(key), val)
		if ttl > 0 {
			entry = entry.WithTTL(ttl)
		}
		return txn.SetEntry(entry)
	})
}

func (s *BadgerKV) Delete(ctx context.Context, key string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
}

// Clear removes every key under prefix.
func (s *BadgerKV) Clear(ctx context.Context, prefix string) error {
	return s.db.WithTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pfx := []byte(prefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			key := it.Item().KeyCopy(nil)
			if err := txn.Delete(key); err != nil {
				return err
			}
		}
		return nil
	})
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package status tracks the lifecycle of escalated requests. States move
// monotonically QUEUED -> PROCESSING -> {COMPLETED | FAILED}; records
// expire one hour after their last update.
package status

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

// DefaultTTL is how long a record survives after its last update.
const DefaultTTL = time.Hour

const keyPrefix = "status:"

// ErrInvalidTransition rejects state regressions.
var ErrInvalidTransition = errors.New("invalid status transition")

// Store persists request statuses in Badger, degrading to an in-process
// map when the store is unavailable.
//
// Thread Safety: Safe for concurrent use. Updates are read-modify-write
// inside one transaction; readers never observe partial updates.
type Store struct {
	db  *badgerstore.DB // nil means memory-only
	ttl time.Duration

	degraded atomic.Bool

	memMu sync.Mutex
	mem   map[string]memRecord
}

type memRecord struct {
	status    model.RequestStatus
	expiresAt time.Time
}

// NewStore creates a Store over db. A nil db runs memory-only from the
// start. ttl of 0 uses DefaultTTL.
func NewStore(db *badgerstore.DB, ttl time.Duration) *Store {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Store{db: db, ttl: ttl, mem: make(map[string]memRecord)}
}

// Degraded reports whether the store fell back to in-process mode.
func (s *Store) Degraded() bool { return s.degraded.Load() }

// Create inserts a fresh QUEUED record for requestID.
func (s *Store) Create(ctx context.Context, requestID string) error {
	now := time.Now()
	st := model.RequestStatus{
		RequestID: requestID,
		State:     model.StateQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}
	return s.put(ctx, st)
}

// Get fetches a record. Expired or unknown records report found=false.
func (s *Store) Get(ctx context.Context, requestID string) (*model.RequestStatus, bool) {
	if s.db != nil && !s.degraded.Load() {
		var st model.RequestStatus
		err := s.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
			item, err := txn.Get([]byte(keyPrefix + requestID))
			if err != nil {
				return err
			}
			return item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			})
		})
		switch {
		case err == nil:
			return &st, true
		case errors.Is(err, badger.ErrKeyNotFound):
			return nil, false
		default:
			s.degrade(err)
		}
	}

	s.memMu.Lock()
	defer s.memMu.Unlock()
	rec, ok := s.mem[requestID]
	if !ok || time.Now().After(rec.expiresAt) {
		delete(s.mem, requestID)
		return nil, false
	}
	st := rec.status
	return &st, true
}

// MarkProcessing transitions a record to PROCESSING.
func (s *Store) MarkProcessing(ctx context.Context, requestID string) error {
	return s.transition(ctx, requestID, model.StateProcessing, func(st *model.RequestStatus) {
		st.Message = ""
	})
}

// Complete transitions a record to COMPLETED with its final result.
func (s *Store) Complete(ctx context.Context, requestID string, result *model.ClassificationResult, usage *model.Usage) error {
	return s.transition(ctx, requestID, model.StateCompleted, func(st *model.RequestStatus) {
		st.Result = result
		st.Usage = usage
	})
}

// Fail transitions a record to FAILED with a user-presentable message.
func (s *Store) Fail(ctx context.Context, requestID, message string) error {
	return s.transition(ctx, requestID, model.StateFailed, func(st *model.RequestStatus) {
		st.Message = message
	})
}

// transition applies a monotonic state change plus mutate atomically.
func (s *Store) transition(ctx context.Context, requestID string, next model.RequestState, mutate func(*model.RequestStatus)) error {
	if s.db != nil && !s.degraded.Load() {
		err := s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			key := []byte(keyPrefix + requestID)
			item, err := txn.Get(key)
			if err != nil {
				return err
			}
			var st model.RequestStatus
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &st)
			}); err != nil {
				return err
			}
			if !st.State.CanTransition(next) {
				return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, st.State, next)
			}
			st.State = next
			st.UpdatedAt = time.Now()
			mutate(&st)

			data, err := json.Marshal(st)
			if err != nil {
				return err
			}
			return txn.SetEntry(badger.NewEntry(key, data).WithTTL(s.ttl))
		})
		if err == nil || errors.Is(err, ErrInvalidTransition) || errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		s.degrade(err)
	}

	s.memMu.Lock()
	defer s.memMu.Unlock()
	rec, ok := s.mem[requestID]
	if !ok || time.Now().After(rec.expiresAt) {
		return badger.ErrKeyNotFound
	}
	if !rec.status.State.CanTransition(next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, rec.status.State, next)
	}
	rec.status.State = next
	rec.status.UpdatedAt = time.Now()
	mutate(&rec.status)
	rec.expiresAt = time.Now().Add(s.ttl)
	s.mem[requestID] = rec
	return nil
}

func (s *Store) put(ctx context.Context, st model.RequestStatus) error {
	if s.db != nil && !s.degraded.Load() {
		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		err = s.db.WithTxn(ctx, func(txn *badger.Txn) error {
			return txn.SetEntry(badger.NewEntry([]byte(keyPrefix+st.RequestID), data).WithTTL(s.ttl))
		})
		if err == nil {
			return nil
		}
		s.degrade(err)
	}

	s.memMu.Lock()
	defer s.memMu.Unlock()
	s.mem[st.RequestID] = memRecord{status: st, expiresAt: time.Now().Add(s.ttl)}
	return nil
}

func (s *Store) degrade(err error) {
	if s.degraded.CompareAndSwap(false, true) {
		slog.Error("status store unreachable; degrading to in-process map",
			slog.Any("error", err))
	}
}

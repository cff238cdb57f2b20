// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package queue implements the persisted escalation queue for ambiguous
// queries, plus the worker pool that drains it. Messages are ordered by
// priority, then FIFO within a priority. Failed messages retry with
// exponential delay and a priority bump; exhausted messages move to the
// dead-letter set.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/status"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

const (
	pendingPrefix = "queue:ambiguous:"
	deadPrefix    = "queue:dead:"

	// DefaultMaxRetries is the attempt ceiling before dead-lettering.
	DefaultMaxRetries = 3
	// DefaultRetryDelay is the base retry backoff; attempt n waits
	// DefaultRetryDelay * 2^(n-1).
	DefaultRetryDelay = 5 * time.Second
	// DefaultMaxSize bounds pending depth; Enqueue fails past it.
	DefaultMaxSize = 1000
)

// ErrQueueFull is returned by Enqueue when the pending set is at capacity.
var ErrQueueFull = errors.New("escalation queue full")

var (
	queueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "chatnshop",
		Subsystem: "queue",
		Name:      "depth",
		Help:      "Pending escalation messages.",
	})
	queueEnqueued = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "queue",
		Name:      "enqueued_total",
		Help:      "Messages enqueued by priority.",
	}, []string{"priority"})
	queueRetries = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "queue",
		Name:      "retries_total",
		Help:      "Messages re-enqueued after a retryable failure.",
	})
	queueDeadLettered = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "queue",
		Name:      "dead_lettered_total",
		Help:      "Messages moved to the dead-letter set.",
	})
)

// Options tune the queue. Zero values take the documented defaults.
type Options struct {
	MaxRetries int
	RetryDelay time.Duration
	MaxSize    int
}

func (o *Options) fill() {
	if o.MaxRetries <= 0 {
		o.MaxRetries = DefaultMaxRetries
	}
	if o.RetryDelay <= 0 {
		o.RetryDelay = DefaultRetryDelay
	}
	if o.MaxSize <= 0 {
		o.MaxSize = DefaultMaxSize
	}
}

// Queue is the Badger-persisted priority queue.
//
// Description:
//
//	Pending keys sort as (priority, ready-time, request ID), so a raw
//	key iteration yields priority order with FIFO inside each priority.
//	Dequeue claims by deleting inside the read-modify-write transaction;
//	a claimed message exists only in its worker until acked or nacked.
//
// Thread Safety: Safe for concurrent use. Badger transactions provide
// the claim atomicity; conflicting claims retry.
type Queue struct {
	db     *badgerstore.DB
	status *status.Store
	opts   Options

	// wake is a best-effort doorbell for the worker pool.
	wake chan struct{}
}

// New creates a Queue over db. status may be nil (no lifecycle records).
func New(db *badgerstore.DB, st *status.Store, opts Options) *Queue {
	opts.fill()
	return &Queue{
		db:     db,
		status: st,
		opts:   opts,
		wake:   make(chan struct{}, 1),
	}
}

// pendingKey encodes priority then ready-time so lexicographic key order
// is drain order.
func pendingKey(p model.Priority, readyAt time.Time, requestID string) []byte {
	return []byte(fmt.Sprintf("%s%02d:%020d:%s", pendingPrefix, p, readyAt.UnixNano(), requestID))
}

func deadKey(t time.Time, requestID string) []byte {
	return []byte(fmt.Sprintf("%s%020d:%s", deadPrefix, t.UnixNano(), requestID))
}

// readyAtFromKey parses the ready-time segment out of a pending key.
func readyAtFromKey(key []byte) (time.Time, bool) {
	parts := strings.SplitN(strings.TrimPrefix(string(key), pendingPrefix), ":", 3)
	if len(parts) != 3 {
		return time.Time{}, false
	}
	nanos, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(0, nanos), true
}

// Enqueue persists a new escalation message and creates its QUEUED
// status record. Returns the generated request ID.
func (q *Queue) Enqueue(ctx context.Context, payload model.QueuePayload, priority model.Priority) (string, error) {
	requestID := uuid.NewString()
	now := time.Now()
	msg := model.QueueMessage{
		RequestID: requestID,
		CreatedAt: now,
		Priority:  priority,
		Payload:   payload,
	}

	depth, err := q.Depth(ctx)
	if err != nil {
		return "", err
	}
	if depth >= q.opts.MaxSize {
		return "", ErrQueueFull
	}

	if err := q.put(ctx, msg, now); err != nil {
		return "", err
	}
	if q.status != nil {
		if err := q.status.Create(ctx, requestID); err != nil {
			slog.Warn("status record create failed",
				slog.String("request_id", requestID), slog.Any("error", err))
		}
	}

	queueEnqueued.WithLabelValues(strconv.Itoa(int(priority))).Inc()
	queueDepth.Inc()
	q.ring()
	return requestID, nil
}

// Dequeue claims the highest-priority ready message. Returns found=false
// when nothing is ready.
func (q *Queue) Dequeue(ctx context.Context) (*model.QueueMessage, bool, error) {
	var msg *model.QueueMessage
	now := time.Now()

	err := q.db.WithTxn(ctx, func(txn *badger.Txn) error {
		msg = nil
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		pfx := []byte(pendingPrefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			item := it.Item()
			readyAt, ok := readyAtFromKey(item.Key())
			if !ok {
				continue
			}
			if readyAt.After(now) {
				// Backoff not elapsed; later keys in this priority are
				// even later, but a lower priority may still be ready.
				continue
			}

			var m model.QueueMessage
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				slog.Warn("dropping undecodable queue message",
					slog.String("key", string(item.Key())), slog.Any("error", err))
				return txn.Delete(item.KeyCopy(nil))
			}
			if err := txn.Delete(item.KeyCopy(nil)); err != nil {
				return err
			}
			msg = &m
			return nil
		}
		return nil
	})
	if err != nil {
		// Claim races surface as transaction conflicts; the caller polls.
		if errors.Is(err, badger.ErrConflict) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if msg == nil {
		return nil, false, nil
	}
	queueDepth.Dec()
	return msg, true, nil
}

// Nack records a failed attempt. The message retries after
// RetryDelay * 2^(attempt-1) with a bumped priority, or moves to the
// dead-letter set once attempts are exhausted.
func (q *Queue) Nack(ctx context.Context, msg model.QueueMessage, cause string) error {
	msg.AttemptCount++
	msg.LastError = cause

	if msg.AttemptCount > q.opts.MaxRetries {
		return q.deadLetter(ctx, msg)
	}

	delay := time.Duration(float64(q.opts.RetryDelay) * math.Pow(2, float64(msg.AttemptCount-1)))
	msg.Priority = msg.Priority.Bump()
	if err := q.put(ctx, msg, time.Now().Add(delay)); err != nil {
		return err
	}

	queueRetries.Inc()
	queueDepth.Inc()
	slog.Info("escalation retry scheduled",
		slog.String("request_id", msg.RequestID),
		slog.Int("attempt", msg.AttemptCount),
		slog.Duration("delay", delay))
	return nil
}

func (q *Queue) deadLetter(ctx context.Context, msg model.QueueMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	err = q.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(deadKey(time.Now(), msg.RequestID), data)
	})
	if err != nil {
		return err
	}

	if q.status != nil {
		_ = q.status.Fail(ctx, msg.RequestID,
			"we could not process your request; please try rephrasing")
	}
	queueDeadLettered.Inc()
	slog.Error("escalation dead-lettered",
		slog.String("request_id", msg.RequestID),
		slog.Int("attempts", msg.AttemptCount),
		slog.String("last_error", msg.LastError))
	return nil
}

func (q *Queue) put(ctx context.Context, msg model.QueueMessage, readyAt time.Time) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return q.db.WithTxn(ctx, func(txn *badger.Txn) error {
		return txn.Set(pendingKey(msg.Priority, readyAt, msg.RequestID), data)
	})
}

// Depth counts pending messages, including ones still in retry backoff.
func (q *Queue) Depth(ctx context.Context) (int, error) {
	n := 0
	err := q.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		pfx := []byte(pendingPrefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			n++
		}
		return nil
	})
	return n, err
}

// DeadLetters returns up to limit dead-lettered messages, oldest first.
func (q *Queue) DeadLetters(ctx context.Context, limit int) ([]model.QueueMessage, error) {
	var out []model.QueueMessage
	err := q.db.WithReadTxn(ctx, func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		pfx := []byte(deadPrefix)
		for it.Seek(pfx); it.ValidForPrefix(pfx); it.Next() {
			if limit > 0 && len(out) >= limit {
				return nil
			}
			var m model.QueueMessage
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &m)
			}); err != nil {
				continue
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

// Wake exposes the doorbell channel for the worker pool.
func (q *Queue) Wake() <-chan struct{} { return q.wake }

func (q *Queue) ring() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

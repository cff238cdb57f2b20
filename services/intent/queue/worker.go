// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package queue

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/status"
)

// DefaultWorkers is the pool size when Options leave it unset.
const DefaultWorkers = 4

// pollInterval bounds how stale a sleeping worker can be when the
// doorbell is missed or a retry backoff elapses.
const pollInterval = time.Second

// Handler processes one claimed message. A nil error with a result means
// the escalation resolved (possibly via a degraded source recorded in
// the result). Errors whose chain satisfies Retryable() true are nacked
// for retry; anything else fails the request permanently.
type Handler interface {
	Handle(ctx context.Context, msg model.QueueMessage) (*model.ClassificationResult, *model.Usage, error)
}

// ResultSink receives completed classifications, typically the response
// cache.
type ResultSink interface {
	Set(ctx context.Context, query string, result model.ClassificationResult)
}

// Pool drains the queue with a fixed set of workers.
//
// Thread Safety: Run is single-shot; everything else the pool touches is
// concurrency-safe by its own contract.
type Pool struct {
	queue   *Queue
	status  *status.Store
	handler Handler
	sink    ResultSink
	workers int
}

// NewPool wires a worker pool. sink may be nil; workers <= 0 takes
// DefaultWorkers.
func NewPool(q *Queue, st *status.Store, h Handler, sink ResultSink, workers int) *Pool {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	return &Pool{queue: q, status: st, handler: h, sink: sink, workers: workers}
}

// Run blocks until ctx is cancelled and every worker has drained its
// in-flight message.
func (p *Pool) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < p.workers; i++ {
		worker := i
		g.Go(func() error {
			p.loop(ctx, worker)
			return nil
		})
	}
	return g.Wait()
}

func (p *Pool) loop(ctx context.Context, worker int) {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		msg, ok, err := p.queue.Dequeue(ctx)
		if err != nil {
			slog.Error("queue dequeue failed",
				slog.Int("worker", worker), slog.Any("error", err))
		}
		if ok {
			p.process(ctx, *msg)
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-p.queue.Wake():
		case <-ticker.C:
		}
	}
}

func (p *Pool) process(ctx context.Context, msg model.QueueMessage) {
	if p.status != nil {
		if err := p.status.MarkProcessing(ctx, msg.RequestID); err != nil &&
			!errors.Is(err, status.ErrInvalidTransition) {
			slog.Warn("status transition failed",
				slog.String("request_id", msg.RequestID), slog.Any("error", err))
		}
	}

	result, usage, err := p.handler.Handle(ctx, msg)
	if err != nil {
		if isRetryable(err) {
			if nackErr := p.queue.Nack(ctx, msg, err.Error()); nackErr != nil {
				slog.Error("queue nack failed",
					slog.String("request_id", msg.RequestID), slog.Any("error", nackErr))
			}
			return
		}
		if p.status != nil {
			_ = p.status.Fail(ctx, msg.RequestID, err.Error())
		}
		slog.Error("escalation failed permanently",
			slog.String("request_id", msg.RequestID), slog.Any("error", err))
		return
	}

	result.RequestID = msg.RequestID
	if p.sink != nil {
		p.sink.Set(ctx, msg.Payload.Query, *result)
	}
	if p.status != nil {
		if err := p.status.Complete(ctx, msg.RequestID, result, usage); err != nil {
			slog.Warn("status complete failed",
				slog.String("request_id", msg.RequestID), slog.Any("error", err))
		}
	}
}

// isRetryable walks the chain for a Retryable() marker.
func isRetryable(err error) bool {
	var r interface{ Retryable() bool }
	return errors.As(err, &r) && r.Retryable()
}

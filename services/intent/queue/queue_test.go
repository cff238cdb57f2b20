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
	"testing"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/status"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
)

func openQueue(t *testing.T, opts Options) (*Queue, *status.Store) {
	t.Helper()
	db, err := badgerstore.OpenDB(badgerstore.Config{Dir: ""})
	if err != nil {
		t.Fatalf("opening in-memory badger: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	st := status.NewStore(db, 0)
	return New(db, st, opts), st
}

func TestQueue_EnqueueCreatesStatusRecord(t *testing.T) {
	q, st := openQueue(t, Options{})
	ctx := context.Background()

	id, err := q.Enqueue(ctx, model.QueuePayload{Query: "vague query"}, model.PriorityNormal)
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if id == "" {
		t.Fatal("empty request id")
	}

	rec, ok := st.Get(ctx, id)
	if !ok || rec.State != model.StateQueued {
		t.Errorf("status record = %+v, ok=%v", rec, ok)
	}

	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Errorf("depth = %d (err %v), want 1", depth, err)
	}
}

func TestQueue_FIFOWithinPriority(t *testing.T) {
	q, _ := openQueue(t, Options{})
	ctx := context.Background()

	first, _ := q.Enqueue(ctx, model.QueuePayload{Query: "first"}, model.PriorityNormal)
	second, _ := q.Enqueue(ctx, model.QueuePayload{Query: "second"}, model.PriorityNormal)
	third, _ := q.Enqueue(ctx, model.QueuePayload{Query: "third"}, model.PriorityNormal)

	for i, want := range []string{first, second, third} {
		msg, ok, err := q.Dequeue(ctx)
		if err != nil || !ok {
			t.Fatalf("dequeue %d: ok=%v err=%v", i, ok, err)
		}
		if msg.RequestID != want {
			t.Errorf("dequeue %d = %s, want %s", i, msg.RequestID, want)
		}
	}
}

func TestQueue_HigherPriorityDrainsFirst(t *testing.T) {
	q, _ := openQueue(t, Options{})
	ctx := context.Background()

	low, _ := q.Enqueue(ctx, model.QueuePayload{Query: "low"}, model.PriorityLow)
	high, _ := q.Enqueue(ctx, model.QueuePayload{Query: "high"}, model.PriorityHigh)
	normal, _ := q.Enqueue(ctx, model.QueuePayload{Query: "normal"}, model.PriorityNormal)

	for i, want := range []string{high, normal, low} {
		msg, ok, _ := q.Dequeue(ctx)
		if !ok || msg.RequestID != want {
			t.Fatalf("dequeue %d: got %v, want %s", i, msg, want)
		}
	}
}

func TestQueue_DequeueEmptyReturnsNotFound(t *testing.T) {
	q, _ := openQueue(t, Options{})
	msg, ok, err := q.Dequeue(context.Background())
	if err != nil {
		t.Fatalf("Dequeue: %v", err)
	}
	if ok || msg != nil {
		t.Errorf("empty queue returned %+v", msg)
	}
}

func TestQueue_NackSchedulesRetryWithBackoffAndBump(t *testing.T) {
	q, _ := openQueue(t, Options{RetryDelay: 30 * time.Millisecond})
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, model.QueuePayload{Query: "retry me"}, model.PriorityLow)
	msg, ok, _ := q.Dequeue(ctx)
	if !ok {
		t.Fatal("dequeue failed")
	}

	if err := q.Nack(ctx, *msg, "upstream timeout"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	// Backoff not yet elapsed.
	if _, ok, _ := q.Dequeue(ctx); ok {
		t.Error("message became ready before its backoff elapsed")
	}

	time.Sleep(50 * time.Millisecond)
	retried, ok, _ := q.Dequeue(ctx)
	if !ok {
		t.Fatal("message not ready after backoff")
	}
	if retried.RequestID != id {
		t.Errorf("request id = %s, want %s", retried.RequestID, id)
	}
	if retried.AttemptCount != 1 {
		t.Errorf("attempt count = %d, want 1", retried.AttemptCount)
	}
	if retried.Priority != model.PriorityNormal {
		t.Errorf("priority = %d, want bumped to normal", retried.Priority)
	}
	if retried.LastError != "upstream timeout" {
		t.Errorf("last error = %q", retried.LastError)
	}
}

func TestQueue_ExhaustedRetriesDeadLetter(t *testing.T) {
	q, st := openQueue(t, Options{MaxRetries: 3, RetryDelay: time.Millisecond})
	ctx := context.Background()

	id, _ := q.Enqueue(ctx, model.QueuePayload{Query: "doomed"}, model.PriorityNormal)
	msg, _, _ := q.Dequeue(ctx)
	msg.AttemptCount = 2 // two failures already recorded

	// The third failure lands exactly at the retry ceiling and must
	// still be retried, not dead-lettered.
	if err := q.Nack(ctx, *msg, "still failing"); err != nil {
		t.Fatalf("Nack: %v", err)
	}
	if depth, _ := q.Depth(ctx); depth != 1 {
		t.Fatalf("depth = %d; the final allowed retry was dead-lettered", depth)
	}

	time.Sleep(20 * time.Millisecond)
	msg, ok, _ := q.Dequeue(ctx)
	if !ok {
		t.Fatal("final retry not ready after backoff")
	}
	if msg.AttemptCount != 3 {
		t.Fatalf("attempt count = %d, want 3", msg.AttemptCount)
	}

	// The failure past the ceiling exhausts the budget.
	if err := q.Nack(ctx, *msg, "still failing"); err != nil {
		t.Fatalf("Nack: %v", err)
	}

	depth, _ := q.Depth(ctx)
	if depth != 0 {
		t.Errorf("depth = %d, want 0 after dead-letter", depth)
	}

	dead, err := q.DeadLetters(ctx, 10)
	if err != nil {
		t.Fatalf("DeadLetters: %v", err)
	}
	if len(dead) != 1 || dead[0].RequestID != id {
		t.Fatalf("dead letters = %+v", dead)
	}
	if dead[0].AttemptCount != 4 {
		t.Errorf("attempt count = %d, want 4", dead[0].AttemptCount)
	}

	rec, ok := st.Get(ctx, id)
	if !ok || rec.State != model.StateFailed {
		t.Errorf("status = %+v, want FAILED", rec)
	}
}

func TestQueue_FullRejectsEnqueue(t *testing.T) {
	q, _ := openQueue(t, Options{MaxSize: 1})
	ctx := context.Background()

	if _, err := q.Enqueue(ctx, model.QueuePayload{Query: "first"}, model.PriorityNormal); err != nil {
		t.Fatalf("first enqueue: %v", err)
	}
	if _, err := q.Enqueue(ctx, model.QueuePayload{Query: "second"}, model.PriorityNormal); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueue_EnqueueRingsDoorbell(t *testing.T) {
	q, _ := openQueue(t, Options{})
	if _, err := q.Enqueue(context.Background(), model.QueuePayload{Query: "wake up"}, model.PriorityNormal); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	select {
	case <-q.Wake():
	default:
		t.Error("doorbell not rung on enqueue")
	}
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package costmonitor guards LLM spend: an outbound sliding-window rate
// limiter, per-call usage accounting with daily and monthly aggregates,
// and a scheduled spike detector over the daily series.
package costmonitor

import (
	"sync"
	"time"
)

// Default outbound budget: 60 calls in any 60-second window.
const (
	DefaultRateLimit  = 60
	DefaultRateWindow = time.Minute
)

// Limiter is a sliding-window rate limiter over call timestamps.
//
// Description:
//
//	Keeps the timestamps of calls inside the current window; a call is
//	allowed while fewer than limit timestamps remain unexpired. When
//	denied, AllowWait reports how long until the oldest call ages out.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type Limiter struct {
	mu     sync.Mutex
	limit  int
	window time.Duration
	calls  []int64 // Unix milliseconds
	now    func() time.Time
}

// NewLimiter creates a limiter. Non-positive inputs take the defaults.
func NewLimiter(limit int, window time.Duration) *Limiter {
	if limit <= 0 {
		limit = DefaultRateLimit
	}
	if window <= 0 {
		window = DefaultRateWindow
	}
	return &Limiter{limit: limit, window: window, now: time.Now}
}

// AllowWait checks the window, recording the call when allowed. When
// denied it returns the wait until the next slot opens.
func (l *Limiter) AllowWait() (bool, time.Duration) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now().UnixMilli()
	windowStart := now - l.window.Milliseconds()

	pruned := l.calls[:0]
	for _, ts := range l.calls {
		if ts > windowStart {
			pruned = append(pruned, ts)
		}
	}
	l.calls = pruned

	if len(l.calls) >= l.limit {
		oldest := l.calls[0]
		retryAfter := time.Duration(oldest+l.window.Milliseconds()-now) * time.Millisecond
		return false, retryAfter
	}

	l.calls = append(l.calls, now)
	return true, 0
}

// Allow is the boolean form used as the consumer's rate gate.
func (l *Limiter) Allow() bool {
	ok, _ := l.AllowWait()
	return ok
}

// InFlight reports how many calls currently occupy the window.
func (l *Limiter) InFlight() int {
	l.mu.Lock()
	defer l.mu.Unlock()

	windowStart := l.now().UnixMilli() - l.window.Milliseconds()
	n := 0
	for _, ts := range l.calls {
		if ts > windowStart {
			n++
		}
	}
	return n
}

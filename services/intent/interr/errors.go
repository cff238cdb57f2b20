// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package interr classifies upstream failures into a closed kind set and
// turns them into user-presentable guidance, threshold alerts, and
// degraded fallback responses.
package interr

import (
	"errors"
	"fmt"
	"time"
)

// Kind is the failure taxonomy for upstream (LLM provider) errors.
type Kind string

const (
	KindTimeout       Kind = "timeout"
	KindRateLimit     Kind = "rate_limit"
	KindServerError   Kind = "server_error"
	KindAuth          Kind = "auth"
	KindContextLength Kind = "context_length"
	KindUnknown       Kind = "unknown"
)

// retryable marks which kinds are worth another attempt. Auth failures
// and oversized prompts will not fix themselves.
var retryable = map[Kind]bool{
	KindTimeout:     true,
	KindRateLimit:   true,
	KindServerError: true,
	KindUnknown:     true,
}

// Retryable reports whether errors of this kind may succeed on retry.
func (k Kind) Retryable() bool { return retryable[k] }

// Error wraps an upstream failure with its classified kind.
type Error struct {
	Kind Kind
	Err  error

	// RetryAfter is the provider-suggested wait, when one was given
	// (Retry-After on 429 responses). Zero otherwise.
	RetryAfter time.Duration
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %v", e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Retryable satisfies the queue's retry probe.
func (e *Error) Retryable() bool { return e.Kind.Retryable() }

// New wraps err as kind.
func New(kind Kind, err error) *Error {
	return &Error{Kind: kind, Err: err}
}

// KindOf extracts the kind from an error chain, defaulting to unknown.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

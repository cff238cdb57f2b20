// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package interr

import (
	"errors"
	"time"
)

// Guidance is the user-presentable handling for one failure kind.
type Guidance struct {
	UserMessage       string   `json:"user_message"`
	RetryRecommended  bool     `json:"retry_recommended"`
	RetryAfterSeconds int      `json:"retry_after_seconds,omitempty"`
	Suggestions       []string `json:"suggestions,omitempty"`
}

var guidanceByKind = map[Kind]Guidance{
	KindTimeout: {
		UserMessage:       "That took longer than expected. Please try again.",
		RetryRecommended:  true,
		RetryAfterSeconds: 5,
	},
	KindRateLimit: {
		UserMessage:       "We're handling a lot of requests right now. Please try again in a moment.",
		RetryRecommended:  true,
		RetryAfterSeconds: 30,
	},
	KindServerError: {
		UserMessage:       "Something went wrong on our side. Please try again shortly.",
		RetryRecommended:  true,
		RetryAfterSeconds: 10,
	},
	KindAuth: {
		UserMessage:      "We couldn't complete that request. Our team has been notified.",
		RetryRecommended: false,
		Suggestions: []string{
			"Try a simpler phrasing of your request",
			"Browse categories directly while we fix this",
		},
	},
	KindContextLength: {
		UserMessage:      "That message is too long for us to process.",
		RetryRecommended: false,
		Suggestions: []string{
			"Shorten your message to the essentials",
			"Split your request into separate messages",
		},
	},
	KindUnknown: {
		UserMessage:       "We hit an unexpected problem. Please try again.",
		RetryRecommended:  true,
		RetryAfterSeconds: 10,
	},
}

// Handle maps err to its guidance. A provider-supplied Retry-After
// overrides the per-kind default wait.
func Handle(err error) Guidance {
	kind := KindOf(err)
	g := guidanceByKind[kind]

	var e *Error
	if errors.As(err, &e) && e.RetryAfter > 0 {
		g.RetryAfterSeconds = int(e.RetryAfter / time.Second)
		if g.RetryAfterSeconds < 1 {
			g.RetryAfterSeconds = 1
		}
	}
	return g
}

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
	"context"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// FallbackCache is the relaxed-threshold cache lookup consulted when the
// LLM has failed for good.
type FallbackCache interface {
	GetFallback(ctx context.Context, query string) (*model.ClassificationResult, bool)
}

// clarifyingQuestions is the generic clarification set served when no
// degraded answer exists.
var clarifyingQuestions = []string{
	"Are you looking for a specific product?",
	"Do you want to check on an existing order?",
	"Would you like help with a return or refund?",
	"Should I connect you with a support agent?",
}

// FallbackManager produces a degraded answer after LLM retries are
// exhausted: a relaxed-threshold cache hit if one exists, otherwise an
// UNCLEAR result asking the user to clarify.
type FallbackManager struct {
	cache FallbackCache // may be nil
}

// NewFallbackManager creates a manager. cache may be nil.
func NewFallbackManager(cache FallbackCache) *FallbackManager {
	return &FallbackManager{cache: cache}
}

// Resolve returns the best available degraded result for query. cause
// is the failure that forced the fallback; its guidance rides along on
// the clarification result.
func (f *FallbackManager) Resolve(ctx context.Context, query string, cause error) model.ClassificationResult {
	if f.cache != nil {
		if res, ok := f.cache.GetFallback(ctx, query); ok {
			out := *res
			out.Source = model.SourceCache
			out.FallbackSource = "cache"
			return out
		}
	}

	g := Handle(cause)
	return model.ClassificationResult{
		ActionCode:            model.FallbackAction,
		Confidence:            0.1,
		Status:                model.StatusUnclear,
		Source:                model.SourceFallback,
		MatchedKeywords:       []string{},
		RequiresClarification: true,
		ClarifyingQuestions:   clarifyingQuestions,
		UserMessage:           g.UserMessage,
		RetryRecommended:      g.RetryRecommended,
		Suggestions:           g.Suggestions,
	}
}

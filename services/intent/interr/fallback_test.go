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
	"errors"
	"testing"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

type fakeFallbackCache struct {
	hits map[string]model.ClassificationResult
}

func (c *fakeFallbackCache) GetFallback(ctx context.Context, query string) (*model.ClassificationResult, bool) {
	if res, ok := c.hits[query]; ok {
		return &res, true
	}
	return nil, false
}

func TestFallbackManager_ServesRelaxedCacheHit(t *testing.T) {
	cache := &fakeFallbackCache{hits: map[string]model.ClassificationResult{
		"track my order": {
			ActionCode: "TRACK_SHIPMENT",
			Confidence: 0.91,
			Status:     model.StatusConfidentBlended,
		},
	}}
	f := NewFallbackManager(cache)

	res := f.Resolve(context.Background(), "track my order", New(KindServerError, errors.New("500")))
	if res.ActionCode != "TRACK_SHIPMENT" || res.Confidence != 0.91 {
		t.Errorf("result = %+v", res)
	}
	if res.Source != model.SourceCache || res.FallbackSource != "cache" {
		t.Errorf("provenance = %s / %s", res.Source, res.FallbackSource)
	}
}

func TestFallbackManager_AsksForClarificationOnMiss(t *testing.T) {
	f := NewFallbackManager(&fakeFallbackCache{})

	res := f.Resolve(context.Background(), "no idea", New(KindTimeout, errors.New("deadline")))
	if res.ActionCode != model.FallbackAction || res.Confidence != 0.1 {
		t.Errorf("result = %+v", res)
	}
	if res.Source != model.SourceFallback || !res.RequiresClarification {
		t.Errorf("result = %+v", res)
	}
	if len(res.ClarifyingQuestions) != 4 {
		t.Errorf("questions = %v", res.ClarifyingQuestions)
	}
	// The timeout's guidance rides along.
	if res.UserMessage == "" || !res.RetryRecommended {
		t.Errorf("guidance = %q retry=%v, want the timeout guidance", res.UserMessage, res.RetryRecommended)
	}
}

func TestFallbackManager_CarriesNonRetryableGuidance(t *testing.T) {
	f := NewFallbackManager(nil)

	res := f.Resolve(context.Background(), "anything", New(KindAuth, errors.New("401")))
	if res.RetryRecommended {
		t.Error("auth failures must not recommend a retry")
	}
	if len(res.Suggestions) == 0 {
		t.Errorf("suggestions = %v, want the auth suggestions", res.Suggestions)
	}
}

func TestFallbackManager_NilCache(t *testing.T) {
	res := NewFallbackManager(nil).Resolve(context.Background(), "anything", errors.New("boom"))
	if res.ActionCode != model.FallbackAction || !res.RequiresClarification {
		t.Errorf("result = %+v", res)
	}
}

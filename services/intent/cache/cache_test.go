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
	"fmt"
	"testing"
	"time"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

// fakeEmbedder maps normalized queries to fixed unit vectors so semantic
// similarity is deterministic in tests.
type fakeEmbedder struct {
	vectors map[string][]float32
}

func (f *fakeEmbedder) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	if v, ok := f.vectors[query]; ok {
		return v, nil
	}
	return []float32{0, 0, 1}, nil
}

func goodResult(code model.ActionCode, conf float64) model.ClassificationResult {
	return model.ClassificationResult{
		ActionCode: code,
		Confidence: conf,
		Status:     model.StatusLLMClassification,
		Source:     model.SourceLLM,
	}
}

func TestCache_ExactHitOnNormalizedQuery(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{})
	ctx := context.Background()

	c.Set(ctx, "Find RED Nike shoes!", goodResult("SEARCH_PRODUCT", 0.9))

	// Different surface form, same normalized query.
	res, ok := c.Get(ctx, "find red nike shoes")
	if !ok {
		t.Fatal("want exact hit after normalization")
	}
	if res.ActionCode != "SEARCH_PRODUCT" || res.Confidence != 0.9 {
		t.Errorf("result = %+v", res)
	}

	if _, ok := c.Get(ctx, "completely different query"); ok {
		t.Error("unrelated query should miss")
	}
}

func TestCache_SetGates(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{})
	ctx := context.Background()

	// Below the confidence floor: not cached.
	c.Set(ctx, "show me blue running shoes", goodResult("SEARCH_PRODUCT", 0.69))
	if _, ok := c.Get(ctx, "show me blue running shoes"); ok {
		t.Error("low-confidence result must not be cached")
	}

	// Too few tokens: not cached.
	c.Set(ctx, "blue shoes", goodResult("SEARCH_PRODUCT", 0.95))
	if _, ok := c.Get(ctx, "blue shoes"); ok {
		t.Error("short query must not be cached")
	}

	// Clears both gates.
	c.Set(ctx, "show me blue running shoes", goodResult("SEARCH_PRODUCT", 0.70))
	if _, ok := c.Get(ctx, "show me blue running shoes"); !ok {
		t.Error("result at the confidence floor with enough tokens should cache")
	}
}

func TestCache_EntryExpiry(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{TTL: time.Nanosecond})
	ctx := context.Background()

	c.Set(ctx, "show me blue running shoes", goodResult("SEARCH_PRODUCT", 0.9))
	time.Sleep(time.Millisecond)
	if _, ok := c.Get(ctx, "show me blue running shoes"); ok {
		t.Error("expired entry served")
	}
}

func TestCache_SemanticTierThresholds(t *testing.T) {
	embed := &fakeEmbedder{vectors: map[string][]float32{
		"show me red nike sneakers":  {1, 0, 0},
		"red nike sneakers please":   {0.96, 0.28, 0},    // cos 0.96
		"any red sneakers from nike": {0.92, 0.3919, 0},  // cos 0.92
		"something else entirely":    {0, 1, 0},          // cos 0
	}}
	c := New(nil, nil, embed, normalize.New(0), Options{})
	ctx := context.Background()

	c.Set(ctx, "show me red nike sneakers", goodResult("SEARCH_PRODUCT", 0.9))

	// 0.96 clears the normal 0.95 threshold.
	if _, ok := c.Get(ctx, "red nike sneakers please"); !ok {
		t.Error("cosine 0.96 should hit at the 0.95 threshold")
	}

	// 0.92 misses Get but clears the relaxed 0.90 fallback threshold.
	if _, ok := c.Get(ctx, "any red sneakers from nike"); ok {
		t.Error("cosine 0.92 should miss at the 0.95 threshold")
	}
	if _, ok := c.GetFallback(ctx, "any red sneakers from nike"); !ok {
		t.Error("cosine 0.92 should hit at the relaxed 0.90 threshold")
	}

	// Orthogonal misses both.
	if _, ok := c.GetFallback(ctx, "something else entirely"); ok {
		t.Error("dissimilar query should miss both thresholds")
	}
}

func TestCache_MemoryTierEvictsLRU(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{MaxSize: 2})
	ctx := context.Background()

	c.Set(ctx, "first long cached query", goodResult("A", 0.9))
	c.Set(ctx, "second long cached query", goodResult("B", 0.9))
	// Touch the first so the second becomes the LRU victim.
	if _, ok := c.Get(ctx, "first long cached query"); !ok {
		t.Fatal("first entry missing before eviction")
	}
	c.Set(ctx, "third long cached query", goodResult("C", 0.9))

	if _, ok := c.Get(ctx, "first long cached query"); !ok {
		t.Error("recently used entry was evicted")
	}
	if _, ok := c.Get(ctx, "second long cached query"); ok {
		t.Error("least recently used entry survived")
	}
	if _, ok := c.Get(ctx, "third long cached query"); !ok {
		t.Error("new entry missing")
	}
}

func TestCache_Invalidate(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{})
	ctx := context.Background()

	c.Set(ctx, "show me blue running shoes", goodResult("SEARCH_PRODUCT", 0.9))
	c.Invalidate(ctx, "Show me BLUE running shoes")
	if _, ok := c.Get(ctx, "show me blue running shoes"); ok {
		t.Error("invalidated entry served")
	}
}

func TestCache_SnapshotStats(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{})
	ctx := context.Background()

	c.Set(ctx, "show me blue running shoes", goodResult("SEARCH_PRODUCT", 0.9))
	for i := 0; i < 3; i++ {
		c.Get(ctx, "show me blue running shoes")
	}
	c.Get(ctx, "never cached query")

	stats := c.Snapshot(10)
	if stats.Hits != 3 || stats.Misses != 1 {
		t.Errorf("hits=%d misses=%d, want 3/1", stats.Hits, stats.Misses)
	}
	if stats.Degraded {
		t.Error("in-process cache should not report degraded")
	}
	if len(stats.TopQueries) != 1 || stats.TopQueries[0].Hits != 3 {
		t.Errorf("top queries = %+v", stats.TopQueries)
	}
}

func TestCache_SnapshotTopKOrdering(t *testing.T) {
	c := New(nil, nil, nil, normalize.New(0), Options{})
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		q := fmt.Sprintf("cached query number %d", i)
		c.Set(ctx, q, goodResult("A", 0.9))
		for j := 0; j <= i; j++ {
			c.Get(ctx, q)
		}
	}

	stats := c.Snapshot(3)
	if len(stats.TopQueries) != 3 {
		t.Fatalf("topK = %d, want 3", len(stats.TopQueries))
	}
	if stats.TopQueries[0].Hits != 5 || stats.TopQueries[2].Hits != 3 {
		t.Errorf("ordering wrong: %+v", stats.TopQueries)
	}
}

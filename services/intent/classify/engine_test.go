// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/config"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

type fakeKeywords struct {
	cands []model.Candidate
}

func (f *fakeKeywords) Search(query string, topN int) []model.Candidate {
	return f.cands
}

type spyEmbedder struct {
	cands []model.Candidate
	calls int
}

func (s *spyEmbedder) Search(ctx context.Context, query string, topN int) []model.Candidate {
	s.calls++
	return s.cands
}

func (s *spyEmbedder) Available() bool { return true }

type fakeCache struct {
	result *model.ClassificationResult
	calls  int
}

func (f *fakeCache) Get(ctx context.Context, query string) (*model.ClassificationResult, bool) {
	f.calls++
	if f.result == nil {
		return nil, false
	}
	res := *f.result
	return &res, true
}

type fakeQueue struct {
	payload  model.QueuePayload
	priority model.Priority
	calls    int
	err      error
}

func (f *fakeQueue) Enqueue(ctx context.Context, payload model.QueuePayload, priority model.Priority) (string, error) {
	f.calls++
	f.payload = payload
	f.priority = priority
	if f.err != nil {
		return "", f.err
	}
	return "req-123", nil
}

type spyReview struct {
	outcomes []GateOutcome
}

func (s *spyReview) Record(query string, outcome GateOutcome, top []model.Candidate) {
	s.outcomes = append(s.outcomes, outcome)
}

func defaultManager() *config.Manager {
	return config.NewManager(config.Default())
}

func noLLMManager(t *testing.T) *config.Manager {
	t.Helper()
	cfg, err := config.Parse([]byte(`{
		"active_variant": "B",
		"rules": {"rule_sets": {"B": {
			"kw_weight": 0.6, "emb_weight": 0.4,
			"priority_threshold": 0.85,
			"confidence_threshold": 0.6, "gap_threshold": 0.15,
			"use_embedding": true, "use_llm": false
		}}}
	}`))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	return config.NewManager(cfg)
}

func TestEngine_RejectsEmptyInput(t *testing.T) {
	e := NewEngine(&fakeKeywords{}, nil, nil, nil, defaultManager(), nil)
	for _, q := range []string{"", "   ", "\t\n"} {
		if _, err := e.Classify(context.Background(), q); !errors.Is(err, ErrEmptyInput) {
			t.Errorf("Classify(%q) err = %v, want ErrEmptyInput", q, err)
		}
	}
}

func TestEngine_RejectsOverlongInput(t *testing.T) {
	e := NewEngine(&fakeKeywords{}, nil, nil, nil, defaultManager(), nil)
	long := strings.Repeat("a", MaxQueryLength+1)
	if _, err := e.Classify(context.Background(), long); !errors.Is(err, ErrQueryTooLong) {
		t.Errorf("err = %v, want ErrQueryTooLong", err)
	}
}

func TestEngine_LengthLimitCountsRunesNotBytes(t *testing.T) {
	e := NewEngine(&fakeKeywords{}, nil, nil, nil, defaultManager(), nil)

	// 300 three-byte runes: 900 bytes but well under the character cap.
	ok := strings.Repeat("衣", 300)
	if _, err := e.Classify(context.Background(), ok); errors.Is(err, ErrQueryTooLong) {
		t.Errorf("Classify rejected a %d-rune query", 300)
	}

	over := strings.Repeat("衣", MaxQueryLength+1)
	if _, err := e.Classify(context.Background(), over); !errors.Is(err, ErrQueryTooLong) {
		t.Errorf("err = %v, want ErrQueryTooLong at %d runes", err, MaxQueryLength+1)
	}
}

func TestEngine_PriorityShortCircuitSkipsEmbedding(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{{
		ActionCode: "ADD_TO_CART", Score: 0.9,
		Source: model.SourceKeyword, MatchType: model.MatchExact, MatchedText: "add to cart",
	}}}
	emb := &spyEmbedder{}
	e := NewEngine(kw, emb, nil, nil, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "add to cart")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusConfidentKeyword {
		t.Errorf("status = %s, want CONFIDENT_KEYWORD", res.Status)
	}
	if res.ActionCode != "ADD_TO_CART" || res.Confidence != 0.9 {
		t.Errorf("result = %+v", res)
	}
	if emb.calls != 0 {
		t.Errorf("embedding searched %d times; short-circuit must skip it", emb.calls)
	}
	if len(res.MatchedKeywords) != 1 || res.MatchedKeywords[0] != "add to cart" {
		t.Errorf("matched keywords = %v", res.MatchedKeywords)
	}
}

func TestEngine_ConfidentBlended(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "ORDER_STATUS", Score: 0.8, Source: model.SourceKeyword},
	}}
	emb := &spyEmbedder{cands: []model.Candidate{
		{ActionCode: "ORDER_STATUS", Score: 0.8, Source: model.SourceEmbedding},
	}}
	e := NewEngine(kw, emb, nil, nil, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "where is my order")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusConfidentBlended {
		t.Errorf("status = %s, want CONFIDENT_BLENDED", res.Status)
	}
	// 0.6*0.8 + 0.4*0.8 + 0.05 consensus.
	if !approx(res.Confidence, 0.85) {
		t.Errorf("confidence = %v, want 0.85", res.Confidence)
	}
	if emb.calls != 1 {
		t.Errorf("embedding calls = %d, want 1", emb.calls)
	}
}

func TestEngine_EmptyEmbeddingRenormalizesKeywordWeight(t *testing.T) {
	// Keyword 0.7 alone must carry full weight, not be diluted to 0.42.
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "VIEW_CART", Score: 0.7, Source: model.SourceKeyword},
	}}
	emb := &spyEmbedder{} // returns nothing
	e := NewEngine(kw, emb, nil, nil, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "open my cart")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusConfidentBlended {
		t.Errorf("status = %s, want CONFIDENT_BLENDED", res.Status)
	}
	if !approx(res.Confidence, 0.7) {
		t.Errorf("confidence = %v, want renormalized 0.7", res.Confidence)
	}
}

func TestEngine_CacheConsultedBeforeQueue(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "SEARCH_PRODUCT", Score: 0.4, Source: model.SourceKeyword},
	}}
	cached := &model.ClassificationResult{
		ActionCode: "SEARCH_PRODUCT", Confidence: 0.92,
		Status: model.StatusLLMClassification, Source: model.SourceLLM,
	}
	cache := &fakeCache{result: cached}
	queue := &fakeQueue{}
	e := NewEngine(kw, &spyEmbedder{}, cache, queue, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "something vague")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Source != model.SourceCache {
		t.Errorf("source = %s, want cache", res.Source)
	}
	if res.ActionCode != "SEARCH_PRODUCT" || res.Confidence != 0.92 {
		t.Errorf("result = %+v", res)
	}
	if queue.calls != 0 {
		t.Errorf("queue called %d times despite cache hit", queue.calls)
	}
}

func TestEngine_AmbiguousEnqueuesAtNormalPriority(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "RETURN_ITEM", Score: 0.7, Source: model.SourceKeyword},
		{ActionCode: "EXCHANGE_ITEM", Score: 0.65, Source: model.SourceKeyword},
	}}
	queue := &fakeQueue{}
	review := &spyReview{}
	e := NewEngine(kw, &spyEmbedder{}, &fakeCache{}, queue, defaultManager(), review)

	res, err := e.Classify(context.Background(), "send this back for a different one")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusQueuedForLLM {
		t.Errorf("status = %s, want QUEUED_FOR_LLM", res.Status)
	}
	if res.RequestID != "req-123" {
		t.Errorf("request id = %q", res.RequestID)
	}
	if queue.priority != model.PriorityNormal {
		t.Errorf("priority = %d, want normal for ambiguous", queue.priority)
	}
	if queue.payload.RuleBasedHint == nil || queue.payload.RuleBasedHint.ActionCode != "RETURN_ITEM" {
		t.Errorf("rule-based hint = %+v", queue.payload.RuleBasedHint)
	}
	if len(review.outcomes) != 1 || review.outcomes[0] != GateAmbiguous {
		t.Errorf("review outcomes = %v, want one AMBIGUOUS", review.outcomes)
	}
}

func TestEngine_UnclearEnqueuesAtLowPriority(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "SEARCH_PRODUCT", Score: 0.3, Source: model.SourceKeyword},
	}}
	queue := &fakeQueue{}
	e := NewEngine(kw, &spyEmbedder{}, &fakeCache{}, queue, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "hmm maybe something")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusQueuedForLLM {
		t.Errorf("status = %s, want QUEUED_FOR_LLM", res.Status)
	}
	if queue.priority != model.PriorityLow {
		t.Errorf("priority = %d, want low for unclear", queue.priority)
	}
}

func TestEngine_EnqueueFailureSurfacesTypedError(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "SEARCH_PRODUCT", Score: 0.3, Source: model.SourceKeyword},
	}}
	queue := &fakeQueue{err: errors.New("badger: disk full")}
	e := NewEngine(kw, &spyEmbedder{}, &fakeCache{}, queue, defaultManager(), nil)

	_, err := e.Classify(context.Background(), "hmm maybe something")
	if !errors.Is(err, ErrEnqueueFailed) {
		t.Errorf("err = %v, want ErrEnqueueFailed", err)
	}
}

func TestEngine_NoQueueFallsBack(t *testing.T) {
	kw := &fakeKeywords{cands: []model.Candidate{
		{ActionCode: "SEARCH_PRODUCT", Score: 0.4, Source: model.SourceKeyword},
	}}
	e := NewEngine(kw, &spyEmbedder{}, &fakeCache{}, nil, defaultManager(), nil)

	res, err := e.Classify(context.Background(), "something vague")
	if err != nil {
		t.Fatalf("Classify: %v", err)
	}
	if res.Status != model.StatusFallbackKeyword {
		t.Errorf("status = %s, want FALLBACK_KEYWORD with queue absent", res.Status)
	}
}

func TestEngine_LLMDisabledFallbackLadder(t *testing.T) {
	t.Run("embedding signal first", func(t *testing.T) {
		kw := &fakeKeywords{cands: []model.Candidate{
			{ActionCode: "A", Score: 0.2, Source: model.SourceKeyword},
		}}
		emb := &spyEmbedder{cands: []model.Candidate{
			{ActionCode: "B", Score: 0.5, Source: model.SourceEmbedding},
		}}
		e := NewEngine(kw, emb, nil, nil, noLLMManager(t), nil)
		res, err := e.Classify(context.Background(), "vague query")
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if res.Status != model.StatusFallbackEmbedding || res.ActionCode != "B" {
			t.Errorf("result = %+v, want FALLBACK_EMBEDDING on B", res)
		}
	})

	t.Run("keyword signal second", func(t *testing.T) {
		kw := &fakeKeywords{cands: []model.Candidate{
			{ActionCode: "A", Score: 0.4, Source: model.SourceKeyword},
		}}
		e := NewEngine(kw, &spyEmbedder{}, nil, nil, noLLMManager(t), nil)
		res, err := e.Classify(context.Background(), "vague query")
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if res.Status != model.StatusFallbackKeyword || res.ActionCode != "A" {
			t.Errorf("result = %+v, want FALLBACK_KEYWORD on A", res)
		}
	})

	t.Run("generic default last", func(t *testing.T) {
		kw := &fakeKeywords{cands: []model.Candidate{
			{ActionCode: "A", Score: 0.2, Source: model.SourceKeyword},
		}}
		e := NewEngine(kw, &spyEmbedder{}, nil, nil, noLLMManager(t), nil)
		res, err := e.Classify(context.Background(), "vague query")
		if err != nil {
			t.Fatalf("Classify: %v", err)
		}
		if res.Status != model.StatusFallbackGeneric {
			t.Errorf("status = %s, want FALLBACK_GENERIC", res.Status)
		}
		if res.ActionCode != model.FallbackAction || res.Confidence != 0.1 {
			t.Errorf("result = %+v", res)
		}
	})
}

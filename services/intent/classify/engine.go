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
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/config"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// Input limits enforced at the engine boundary.
const (
	MaxQueryLength = 500
	defaultTopK    = 5
)

// fallbackFloor is the minimum score a weak candidate needs to be
// surfaced through the FALLBACK_EMBEDDING / FALLBACK_KEYWORD paths when
// the LLM is disabled.
const fallbackFloor = 0.3

// Typed input errors; the HTTP adapter maps these to 422.
var (
	ErrEmptyInput    = errors.New("query is empty")
	ErrQueryTooLong  = fmt.Errorf("query exceeds %d characters", MaxQueryLength)
	ErrEnqueueFailed = errors.New("escalation enqueue failed")
)

// KeywordSearcher is the rule-based first stage.
type KeywordSearcher interface {
	Search(query string, topN int) []model.Candidate
}

// EmbeddingSearcher is the semantic second stage. An unavailable matcher
// returns empty results; the engine then runs keyword-only.
type EmbeddingSearcher interface {
	Search(ctx context.Context, query string, topN int) []model.Candidate
	Available() bool
}

// ResponseCache is the two-tier response cache consulted before enqueuing
// an escalation.
type ResponseCache interface {
	Get(ctx context.Context, query string) (*model.ClassificationResult, bool)
}

// Escalator enqueues ambiguous queries for asynchronous LLM handling.
type Escalator interface {
	Enqueue(ctx context.Context, payload model.QueuePayload, priority model.Priority) (string, error)
}

// ReviewRecorder receives ambiguous and unclear outcomes for offline
// analysis. Implementations must be non-blocking and never fail the
// request.
type ReviewRecorder interface {
	Record(query string, outcome GateOutcome, top []model.Candidate)
}

// Engine is the request-path state machine.
//
// Description:
//
//	NORMALIZE -> KEYWORD -> (priority short-circuit) -> EMBEDDING ->
//	BLEND -> GATE -> {emit | cache lookup | enqueue}. The engine reads
//	one config snapshot at entry; an A/B switch mid-request never mixes
//	weights. Deterministic throughout: no result depends on map
//	iteration order.
//
// Thread Safety: Safe for concurrent use; per-request state stays on the
// stack.
type Engine struct {
	keywords KeywordSearcher
	embedder EmbeddingSearcher
	cache    ResponseCache
	queue    Escalator
	cfg      *config.Manager
	review   ReviewRecorder
}

// NewEngine wires the cascade. cache, queue, and review may be nil; the
// engine degrades to fallback responses instead of escalating.
func NewEngine(kw KeywordSearcher, emb EmbeddingSearcher, cache ResponseCache,
	queue Escalator, cfg *config.Manager, review ReviewRecorder) *Engine {
	return &Engine{
		keywords: kw,
		embedder: emb,
		cache:    cache,
		queue:    queue,
		cfg:      cfg,
		review:   review,
	}
}

// Classify runs the full cascade for one utterance.
//
// Inputs:
//   - ctx: Request context; only I/O stages (embedding encode, cache,
//     enqueue) observe cancellation.
//   - query: Raw user utterance.
//
// Outputs:
//   - model.ClassificationResult: Always user-presentable; escalations
//     carry RequestID and StatusQueuedForLLM.
//   - error: Only ErrEmptyInput / ErrQueryTooLong for rejected input, or
//     ErrEnqueueFailed when escalation is required but the queue is down.
func (e *Engine) Classify(ctx context.Context, query string) (model.ClassificationResult, error) {
	start := time.Now()
	defer func() { classifyDuration.Observe(time.Since(start).Seconds()) }()

	ctx, span := otel.Tracer("chatnshop/classify").Start(ctx, "engine.classify")
	defer span.End()

	trimmed := strings.TrimSpace(query)
	if trimmed == "" {
		return model.ClassificationResult{}, ErrEmptyInput
	}
	if utf8.RuneCountInString(query) > MaxQueryLength {
		return model.ClassificationResult{}, ErrQueryTooLong
	}

	// One snapshot per request.
	variant := e.cfg.Active()
	span.SetAttributes(attribute.String("variant", variant.Name))

	kwCands := e.keywords.Search(query, defaultTopK)

	// Priority short-circuit: a strong keyword hit skips embedding work.
	if len(kwCands) > 0 && kwCands[0].Score >= variant.PriorityThreshold {
		shortCircuitTotal.Inc()
		res := resultFrom(kwCands[0], model.StatusConfidentKeyword, kwCands)
		e.count(res.Status, variant.Name)
		return res, nil
	}

	kwWeight, embWeight := variant.KwWeight, variant.EmbWeight
	var embCands []model.Candidate
	if variant.UseEmbedding && e.embedder != nil {
		embCands = e.embedder.Search(ctx, query, defaultTopK)
	}
	if len(embCands) == 0 {
		// Keyword-only request: renormalize so keyword carries full weight.
		kwWeight, embWeight = 1, 0
	}

	blended := Blend(kwCands, embCands, kwWeight, embWeight)
	outcome := Gate(blended, variant.ConfidenceThreshold, variant.GapThreshold)
	gateOutcomesTotal.WithLabelValues(string(outcome)).Inc()
	span.SetAttributes(attribute.String("gate", string(outcome)))

	if outcome == GateConfident {
		res := resultFrom(blended[0], model.StatusConfidentBlended, kwCands)
		e.count(res.Status, variant.Name)
		return res, nil
	}

	if e.review != nil {
		e.review.Record(trimmed, outcome, topN(blended, 3))
	}

	if !variant.UseLLM {
		res := e.fallback(kwCands, embCands)
		e.count(res.Status, variant.Name)
		return res, nil
	}

	// Cache before queue: an earlier LLM answer for a similar utterance
	// settles the request synchronously.
	if e.cache != nil {
		if cached, ok := e.cache.Get(ctx, query); ok {
			res := *cached
			res.Source = model.SourceCache
			e.count(res.Status, variant.Name)
			return res, nil
		}
	}

	if e.queue == nil {
		res := e.fallback(kwCands, embCands)
		e.count(res.Status, variant.Name)
		return res, nil
	}

	payload := model.QueuePayload{Query: query}
	if len(blended) > 0 {
		hint := blended[0]
		payload.RuleBasedHint = &hint
	}
	priority := model.PriorityNormal
	if outcome == GateUnclear {
		priority = model.PriorityLow
	}

	requestID, err := e.queue.Enqueue(ctx, payload, priority)
	if err != nil {
		slog.Error("escalation enqueue failed", slog.Any("error", err))
		return model.ClassificationResult{}, fmt.Errorf("%w: %v", ErrEnqueueFailed, err)
	}
	escalationsTotal.Inc()

	res := model.ClassificationResult{
		Status:    model.StatusQueuedForLLM,
		RequestID: requestID,
		Source:    model.SourceBlended,
	}
	e.count(res.Status, variant.Name)
	return res, nil
}

// fallback is the degraded ladder used when the LLM path is disabled or
// unreachable: a weak embedding signal, then a weak keyword signal, then
// the generic product-search default.
func (e *Engine) fallback(kwCands, embCands []model.Candidate) model.ClassificationResult {
	if len(embCands) > 0 && embCands[0].Score >= fallbackFloor {
		return resultFrom(embCands[0], model.StatusFallbackEmbedding, kwCands)
	}
	if len(kwCands) > 0 && kwCands[0].Score >= fallbackFloor {
		return resultFrom(kwCands[0], model.StatusFallbackKeyword, kwCands)
	}
	return model.ClassificationResult{
		ActionCode: model.FallbackAction,
		Confidence: 0.1,
		Status:     model.StatusFallbackGeneric,
		Source:     model.SourceFallback,
	}
}

func (e *Engine) count(status model.Status, variant string) {
	classificationsTotal.WithLabelValues(string(status), variant).Inc()
}

// resultFrom builds a result around a winning candidate, collecting the
// keyword texts that matched its action code.
func resultFrom(winner model.Candidate, status model.Status, kwCands []model.Candidate) model.ClassificationResult {
	var matched []string
	for _, c := range kwCands {
		if c.ActionCode == winner.ActionCode && c.MatchedText != "" {
			matched = append(matched, c.MatchedText)
		}
	}
	if winner.MatchedText != "" && len(matched) == 0 {
		matched = append(matched, winner.MatchedText)
	}
	return model.ClassificationResult{
		ActionCode:      winner.ActionCode,
		Confidence:      winner.Score,
		Status:          status,
		MatchedKeywords: matched,
		Source:          winner.Source,
	}
}

func topN(cands []model.Candidate, n int) []model.Candidate {
	if len(cands) > n {
		return cands[:n]
	}
	return cands
}

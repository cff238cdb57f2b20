// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package model defines the core value types shared by the classification
// pipeline: action codes, scoring candidates, classification results,
// extracted entities, queue messages, and request status records.
//
// Everything here is a plain value type. Ownership is per-request: a request
// owns its Candidate slice and ClassificationResult exclusively; nothing in
// this package is shared mutable state.
package model

import "time"

// ActionCode is a label from the closed e-commerce intent vocabulary
// (e.g. "ADD_TO_CART"). The set of valid codes is loaded once at startup
// from the taxonomy and is immutable for the lifetime of a config variant.
type ActionCode string

// FallbackAction is the action code returned when nothing else matched.
const FallbackAction ActionCode = "SEARCH_PRODUCT"

// Source identifies which stage of the pipeline produced a candidate.
type Source string

const (
	SourceKeyword   Source = "keyword"
	SourceEmbedding Source = "embedding"
	SourceBlended   Source = "blended"
	SourceFallback  Source = "fallback"
	SourceLLM       Source = "llm"
	SourceCache     Source = "cache"
)

// MatchType identifies how a keyword pattern matched a segment.
// Rank order for tie-breaking: exact > regex > partial.
type MatchType string

const (
	MatchExact   MatchType = "exact"
	MatchRegex   MatchType = "regex"
	MatchPartial MatchType = "partial"
)

// rank maps match types to their tie-break rank. Higher wins.
var matchRank = map[MatchType]int{
	MatchExact:   3,
	MatchRegex:   2,
	MatchPartial: 1,
}

// Rank returns the tie-break rank of a match type. Unknown types rank 0.
func (m MatchType) Rank() int { return matchRank[m] }

// Status is the outcome classification attached to a ClassificationResult.
type Status string

const (
	StatusConfidentKeyword  Status = "CONFIDENT_KEYWORD"
	StatusConfidentBlended  Status = "CONFIDENT_BLENDED"
	StatusQueuedForLLM      Status = "QUEUED_FOR_LLM"
	StatusLLMClassification Status = "LLM_CLASSIFICATION"
	StatusFallbackEmbedding Status = "FALLBACK_EMBEDDING"
	StatusFallbackKeyword   Status = "FALLBACK_KEYWORD"
	StatusFallbackGeneric   Status = "FALLBACK_GENERIC"
	StatusUnclear           Status = "UNCLEAR"
	StatusErrorInvalidInput Status = "ERROR_INVALID_INPUT"
	StatusErrorInternal     Status = "ERROR_INTERNAL"
)

// ComponentScores records the per-matcher scores that fed a blended
// candidate. Present only on candidates with SourceBlended.
type ComponentScores struct {
	Keyword   float64 `json:"keyword"`
	Embedding float64 `json:"embedding"`
}

// Candidate is an intermediate scoring record flowing between pipeline
// stages. Score is always within [0, 1].
type Candidate struct {
	ActionCode      ActionCode       `json:"action_code"`
	Score           float64          `json:"score"`
	Source          Source           `json:"source"`
	MatchType       MatchType        `json:"match_type,omitempty"`
	MatchedText     string           `json:"matched_text,omitempty"`
	ComponentScores *ComponentScores `json:"component_scores,omitempty"`
}

// MaxComponent returns the larger of the two component scores, or Score
// when no component breakdown is recorded. Used for blended tie-breaking.
func (c Candidate) MaxComponent() float64 {
	if c.ComponentScores == nil {
		return c.Score
	}
	if c.ComponentScores.Keyword > c.ComponentScores.Embedding {
		return c.ComponentScores.Keyword
	}
	return c.ComponentScores.Embedding
}

// ClassificationResult is the final output for a classification request.
type ClassificationResult struct {
	ActionCode      ActionCode `json:"action_code"`
	Confidence      float64    `json:"confidence_score"`
	Status          Status     `json:"status"`
	MatchedKeywords []string   `json:"matched_keywords"`
	Entities        *Entities  `json:"entities,omitempty"`
	Source          Source     `json:"source"`
	RequestID       string     `json:"request_id,omitempty"`

	// RequiresClarification is set on UNCLEAR fallbacks together with
	// ClarifyingQuestions.
	RequiresClarification bool     `json:"requires_clarification,omitempty"`
	ClarifyingQuestions   []string `json:"clarifying_questions,omitempty"`

	// FallbackSource records where a degraded answer came from
	// (e.g. "cache" when the LLM failed but a semantic hit rescued it).
	FallbackSource string `json:"fallback_source,omitempty"`

	// UserMessage, RetryRecommended, and Suggestions carry the
	// user-facing guidance for the failure that forced a fallback.
	UserMessage      string   `json:"user_message,omitempty"`
	RetryRecommended bool     `json:"retry_recommended,omitempty"`
	Suggestions      []string `json:"suggestions,omitempty"`

	// Reasoning carries the model's free-text rationale on LLM results.
	Reasoning string `json:"reasoning,omitempty"`
}

// PriceRange is an extracted price constraint. When both bounds are
// present, Min <= Max; bounds are never negative.
type PriceRange struct {
	Min      *float64 `json:"min,omitempty"`
	Max      *float64 `json:"max,omitempty"`
	Currency string   `json:"currency,omitempty"`
}

// Entities holds the structured fields extracted from an utterance.
type Entities struct {
	ProductType string      `json:"product_type,omitempty"`
	Category    string      `json:"category,omitempty"`
	Brand       string      `json:"brand,omitempty"`
	Color       string      `json:"color,omitempty"`
	Size        string      `json:"size,omitempty"`
	PriceRange  *PriceRange `json:"price_range,omitempty"`
}

// Empty reports whether no entity field carries a value.
func (e *Entities) Empty() bool {
	if e == nil {
		return true
	}
	return e.ProductType == "" && e.Category == "" && e.Brand == "" &&
		e.Color == "" && e.Size == "" && e.PriceRange == nil
}

// Priority orders escalation messages in the queue. Lower drains first.
type Priority int

const (
	PriorityHigh   Priority = 1
	PriorityNormal Priority = 5
	PriorityLow    Priority = 10
)

// Bump returns the next-higher priority, used when a message is retried.
func (p Priority) Bump() Priority {
	switch p {
	case PriorityLow:
		return PriorityNormal
	case PriorityNormal:
		return PriorityHigh
	default:
		return PriorityHigh
	}
}

// QueuePayload is the classification work carried by a queue message.
type QueuePayload struct {
	Query string `json:"query"`

	// RuleBasedHint is the best rule-based candidate at enqueue time,
	// forwarded to the LLM prompt as a hint.
	RuleBasedHint *Candidate `json:"rule_based_hint,omitempty"`

	// ContextSnapshot carries recent session context lines, newest last.
	ContextSnapshot []string `json:"context_snapshot,omitempty"`
}

// QueueMessage is one escalation unit in the ambiguous-input queue.
type QueueMessage struct {
	RequestID    string       `json:"request_id"`
	CreatedAt    time.Time    `json:"created_at"`
	Priority     Priority     `json:"priority"`
	Payload      QueuePayload `json:"payload"`
	AttemptCount int          `json:"attempt_count"`
	LastError    string       `json:"last_error,omitempty"`
}

// RequestState is the lifecycle state of an escalated request.
// Transitions are monotonic: QUEUED -> PROCESSING -> {COMPLETED | FAILED}.
type RequestState string

const (
	StateQueued     RequestState = "QUEUED"
	StateProcessing RequestState = "PROCESSING"
	StateCompleted  RequestState = "COMPLETED"
	StateFailed     RequestState = "FAILED"
)

// rank orders request states for monotonicity checks.
var stateRank = map[RequestState]int{
	StateQueued:     1,
	StateProcessing: 2,
	StateCompleted:  3,
	StateFailed:     3,
}

// CanTransition reports whether moving from s to next respects the
// monotonic lifecycle.
func (s RequestState) CanTransition(next RequestState) bool {
	return stateRank[next] > stateRank[s]
}

// Usage records token and cost accounting for one LLM call.
type Usage struct {
	PromptTokens     int     `json:"prompt_tokens"`
	CompletionTokens int     `json:"completion_tokens"`
	Cost             float64 `json:"cost"`
}

// RequestStatus is the pollable status record for an escalated request.
type RequestStatus struct {
	RequestID string                `json:"request_id"`
	State     RequestState          `json:"state"`
	Message   string                `json:"message,omitempty"`
	Result    *ClassificationResult `json:"result,omitempty"`
	Usage     *Usage                `json:"usage,omitempty"`
	CreatedAt time.Time             `json:"created_at"`
	UpdatedAt time.Time             `json:"updated_at"`
}

// LLMResult is the parsed payload of a successful LLM classification.
type LLMResult struct {
	ActionCode ActionCode `json:"action_code"`
	Confidence float64    `json:"confidence"`
	Entities   *Entities  `json:"entities,omitempty"`
	Reasoning  string     `json:"reasoning,omitempty"`
	Usage      Usage      `json:"-"`
	Model      string     `json:"-"`
}

// Clamp01 bounds v to the closed interval [0, 1].
func Clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

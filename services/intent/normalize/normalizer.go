// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package normalize canonicalizes user utterances for the matchers. All
// downstream scoring (keyword, embedding, cache keys) operates on the
// output of this package, so normalization must be pure and idempotent.
package normalize

import (
	"container/list"
	"strings"
	"sync"
	"unicode"
)

// DefaultCacheSize bounds the normalizer's result cache.
const DefaultCacheSize = 256

// Result is the canonical form of one utterance.
type Result struct {
	// Normalized is the folded, symbol-expanded, punctuation-free string.
	Normalized string

	// Tokens are maximal word-character runs of Normalized, in order.
	Tokens []string

	// Segments are conjunction- and punctuation-delimited clauses of the
	// utterance, each individually normalized. Empty segments are dropped.
	Segments []string
}

// symbolExpansions maps symbols to their spelled-out form. Applied before
// punctuation stripping so "$50" becomes "dollar 50".
var symbolExpansions = strings.NewReplacer(
	"&", " and ",
	"+", " plus ",
	"@", " at ",
	"#", " hash ",
	"$", " dollar ",
	"%", " percent ",
)

// strippedPunct is removed entirely; segment boundaries are recorded first.
const strippedPunct = "!?.,;:'\""

// Normalizer canonicalizes text with a bounded LRU over results.
//
// Description:
//
//	normalize is on the hot path of every request (and every cache
//	lookup), so results are memoized. The cache is keyed by the raw
//	input string; entries are evicted least-recently-used.
//
// Thread Safety: Safe for concurrent use via sync.Mutex.
type Normalizer struct {
	mu      sync.Mutex
	entries map[string]*list.Element
	order   *list.List // front = most recent
	maxSize int
}

type cacheEntry struct {
	key    string
	result Result
}

// New creates a Normalizer with the given cache capacity. Capacities
// below DefaultCacheSize are raised to it.
func New(cacheSize int) *Normalizer {
	if cacheSize < DefaultCacheSize {
		cacheSize = DefaultCacheSize
	}
	return &Normalizer{
		entries: make(map[string]*list.Element, cacheSize),
		order:   list.New(),
		maxSize: cacheSize,
	}
}

// Normalize canonicalizes text, returning the cached result when the same
// raw input was seen before.
func (n *Normalizer) Normalize(text string) Result {
	n.mu.Lock()
	if el, ok := n.entries[text]; ok {
		n.order.MoveToFront(el)
		res := el.Value.(*cacheEntry).result
		n.mu.Unlock()
		return res
	}
	n.mu.Unlock()

	res := normalize(text)

	n.mu.Lock()
	defer n.mu.Unlock()
	if _, ok := n.entries[text]; !ok {
		n.entries[text] = n.order.PushFront(&cacheEntry{key: text, result: res})
		if n.order.Len() > n.maxSize {
			oldest := n.order.Back()
			n.order.Remove(oldest)
			delete(n.entries, oldest.Value.(*cacheEntry).key)
		}
	}
	return res
}

// String returns only the normalized form of text.
func (n *Normalizer) String(text string) string {
	return n.Normalize(text).Normalized
}

// normalize is the pure canonicalization pipeline.
func normalize(text string) Result {
	// Segment boundaries come from the punctuation present in the raw
	// input; record clauses before any stripping happens.
	clauses := splitClauses(text)

	normalized := normalizeString(text)

	var segments []string
	for _, clause := range clauses {
		for _, seg := range splitOnAnd(normalizeString(clause)) {
			if seg != "" {
				segments = append(segments, seg)
			}
		}
	}

	return Result{
		Normalized: normalized,
		Tokens:     Tokenize(normalized),
		Segments:   segments,
	}
}

// normalizeString folds case, expands symbols, strips punctuation, and
// collapses whitespace.
func normalizeString(s string) string {
	s = strings.ToLower(s)
	s = symbolExpansions.Replace(s)

	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		switch {
		case strings.ContainsRune(strippedPunct, r):
			// dropped
		case r == '-' || r == '_':
			b.WriteRune(' ')
		default:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// Tokenize splits a normalized string into maximal word-character runs.
func Tokenize(s string) []string {
	var tokens []string
	start := -1
	for i, r := range s {
		if isWordChar(r) {
			if start < 0 {
				start = i
			}
			continue
		}
		if start >= 0 {
			tokens = append(tokens, s[start:i])
			start = -1
		}
	}
	if start >= 0 {
		tokens = append(tokens, s[start:])
	}
	return tokens
}

func isWordChar(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// splitClauses splits raw text on sentence punctuation.
func splitClauses(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case '!', '?', '.', ',', ';', ':':
			return true
		}
		return false
	})
}

// splitOnAnd splits a normalized clause on the standalone word "and".
func splitOnAnd(clause string) []string {
	words := strings.Fields(clause)
	var segments []string
	var current []string
	for _, w := range words {
		if w == "and" {
			if len(current) > 0 {
				segments = append(segments, strings.Join(current, " "))
				current = current[:0]
			}
			continue
		}
		current = append(current, w)
	}
	if len(current) > 0 {
		segments = append(segments, strings.Join(current, " "))
	}
	return segments
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package embedding implements the semantic second stage of the cascade:
// queries are encoded and scored by cosine similarity against reference
// vectors derived from each action code's example phrases.
package embedding

import (
	"container/list"
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/taxonomy"
)

// DefaultQueryCacheSize bounds the per-query embedding cache.
const DefaultQueryCacheSize = 512

// Matcher scores queries against precomputed reference embeddings.
//
// Description:
//
//	One unit-length reference vector exists per action code, the
//	L2-normalized mean of its example-phrase encodings. Warmup encodes
//	the corpus in parallel; an optional RefStore persists the result so
//	restarts with an unchanged taxonomy skip re-encoding. The first
//	Search triggers warmup lazily and blocks on it. If warmup fails the
//	matcher reports unavailable and returns empty results; the decision
//	engine then runs keyword-only.
//
// Thread Safety: Safe for concurrent use. References are immutable after
// warmup; the query cache is mutex-guarded.
type Matcher struct {
	encoder Encoder
	norm    *normalize.Normalizer
	tax     *taxonomy.Taxonomy
	store   RefStore // optional

	warmOnce sync.Once
	warmErr  error
	warmed   atomic.Bool

	// refs is written once during warmup, then read-only.
	refs  map[model.ActionCode][]float32
	codes []model.ActionCode

	cacheMu    sync.Mutex
	cacheEnt   map[string]*list.Element
	cacheOrder *list.List
	cacheMax   int
}

type queryCacheEntry struct {
	key string
	vec []float32
}

// NewMatcher creates a Matcher. store may be nil to disable persistence.
func NewMatcher(encoder Encoder, norm *normalize.Normalizer, tax *taxonomy.Taxonomy, store RefStore) *Matcher {
	return &Matcher{
		encoder:    encoder,
		norm:       norm,
		tax:        tax,
		store:      store,
		cacheEnt:   make(map[string]*list.Element, DefaultQueryCacheSize),
		cacheOrder: list.New(),
		cacheMax:   DefaultQueryCacheSize,
	}
}

// Available reports whether the matcher warmed successfully and can score.
func (m *Matcher) Available() bool { return m.warmed.Load() }

// Warm builds (or loads) the reference embeddings. Idempotent; safe to
// call from a startup goroutine and again lazily from Search.
func (m *Matcher) Warm(ctx context.Context) error {
	m.warmOnce.Do(func() {
		start := time.Now()
		m.warmErr = m.buildReferences(ctx)
		if m.warmErr != nil {
			slog.Warn("embedding matcher warmup failed; continuing keyword-only",
				slog.Any("error", m.warmErr))
			return
		}
		m.warmed.Store(true)
		slog.Info("embedding matcher warmed",
			slog.Int("action_codes", len(m.refs)),
			slog.Duration("elapsed", time.Since(start)))
	})
	return m.warmErr
}

// buildReferences computes one unit vector per action code.
func (m *Matcher) buildReferences(ctx context.Context) error {
	phrasesByCode := make(map[string][]string, m.tax.Len())
	for _, code := range m.tax.ActionCodes() {
		def := m.tax.Lookup(code)
		if def != nil && len(def.ExamplePhrases) > 0 {
			phrasesByCode[string(code)] = def.ExamplePhrases
		}
	}
	if len(phrasesByCode) == 0 {
		return fmt.Errorf("taxonomy has no example phrases")
	}

	hash := CorpusHash(phrasesByCode)

	if m.store != nil {
		if cached, err := m.store.Load(ctx, hash); err == nil {
			m.adoptReferences(cached)
			slog.Info("reference embeddings loaded from cache",
				slog.String("corpus", shortHash(hash)),
				slog.Int("action_codes", len(cached)))
			return nil
		}
	}

	refs := make(map[string][]float32, len(phrasesByCode))
	var refsMu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	sem := semaphore.NewWeighted(int64(runtime.GOMAXPROCS(0)))
	for code, phrases := range phrasesByCode {
		code, phrases := code, phrases
		g.Go(func() error {
			if err := sem.Acquire(gctx, 1); err != nil {
				return err
			}
			defer sem.Release(1)

			ref, err := m.encodeMean(gctx, phrases)
			if err != nil {
				return fmt.Errorf("encode references for %s: %w", code, err)
			}
			refsMu.Lock()
			refs[code] = ref
			refsMu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	m.adoptReferences(refs)

	if m.store != nil {
		if err := m.store.Save(ctx, hash, refs); err != nil {
			slog.Warn("persisting reference embeddings failed",
				slog.String("corpus", shortHash(hash)),
				slog.Any("error", err))
		}
	}
	return nil
}

// encodeMean encodes phrases, averages them, and normalizes to unit length.
func (m *Matcher) encodeMean(ctx context.Context, phrases []string) ([]float32, error) {
	dim := m.encoder.Dimension()
	mean := make([]float64, dim)
	for _, phrase := range phrases {
		vec, err := m.encoder.Encode(ctx, m.norm.String(phrase))
		if err != nil {
			return nil, err
		}
		for i, x := range vec {
			mean[i] += float64(x)
		}
	}
	ref := make([]float32, dim)
	n := float64(len(phrases))
	for i := range mean {
		ref[i] = float32(mean[i] / n)
	}
	normalizeVec(ref)
	return ref, nil
}

func (m *Matcher) adoptReferences(refs map[string][]float32) {
	m.refs = make(map[model.ActionCode][]float32, len(refs))
	m.codes = m.codes[:0]
	for code, vec := range refs {
		m.refs[model.ActionCode(code)] = vec
		m.codes = append(m.codes, model.ActionCode(code))
	}
	sort.Slice(m.codes, func(i, j int) bool { return m.codes[i] < m.codes[j] })
}

// Search encodes the query and returns the top-N action codes by cosine
// similarity, rescaled from [-1,1] to [0,1].
//
// The first call blocks on warmup. When the encoder is unavailable the
// result is empty and Available() reports false.
func (m *Matcher) Search(ctx context.Context, query string, topN int) []model.Candidate {
	if err := m.Warm(ctx); err != nil {
		return nil
	}

	normalized := m.norm.String(query)
	if len(normalized) < 2 {
		return nil
	}

	qvec, err := m.EmbedQuery(ctx, query)
	if err != nil {
		slog.Warn("query embedding failed", slog.Any("error", err))
		return nil
	}

	candidates := make([]model.Candidate, 0, len(m.codes))
	for _, code := range m.codes {
		sim := dotProduct(qvec, m.refs[code])
		score := model.Clamp01((sim + 1) / 2)
		candidates = append(candidates, model.Candidate{
			ActionCode: code,
			Score:      score,
			Source:     model.SourceEmbedding,
		})
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		if candidates[i].Score != candidates[j].Score {
			return candidates[i].Score > candidates[j].Score
		}
		return candidates[i].ActionCode < candidates[j].ActionCode
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// EmbedQuery returns the unit-length embedding of query, memoized by
// normalized form in a bounded LRU.
func (m *Matcher) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	key := m.norm.String(query)

	m.cacheMu.Lock()
	if el, ok := m.cacheEnt[key]; ok {
		m.cacheOrder.MoveToFront(el)
		vec := el.Value.(*queryCacheEntry).vec
		m.cacheMu.Unlock()
		return vec, nil
	}
	m.cacheMu.Unlock()

	vec, err := m.encoder.Encode(ctx, key)
	if err != nil {
		return nil, err
	}
	vec = append([]float32(nil), vec...)
	normalizeVec(vec)

	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	if _, ok := m.cacheEnt[key]; !ok {
		m.cacheEnt[key] = m.cacheOrder.PushFront(&queryCacheEntry{key: key, vec: vec})
		if m.cacheOrder.Len() > m.cacheMax {
			oldest := m.cacheOrder.Back()
			m.cacheOrder.Remove(oldest)
			delete(m.cacheEnt, oldest.Value.(*queryCacheEntry).key)
		}
	}
	return vec, nil
}

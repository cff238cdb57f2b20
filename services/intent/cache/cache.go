// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cache implements the two-tier response cache: exact lookups on
// the normalized query against a key-value store, then semantic lookups
// against a vector index of cached query embeddings. When the external
// stores are unreachable the cache degrades to a bounded in-process tier
// with the same semantics.
package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

// exactKeyPrefix namespaces exact-tier keys in the shared KV store.
const exactKeyPrefix = "cache:exact:"

var (
	cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "cache",
		Name:      "lookups_total",
		Help:      "Cache lookups by outcome and tier.",
	}, []string{"outcome", "tier"})

	cacheLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatnshop",
		Subsystem: "cache",
		Name:      "lookup_duration_seconds",
		Help:      "Cache lookup latency across both tiers.",
		Buckets:   []float64{.0001, .0005, .001, .005, .01, .05, .1, .5},
	})
)

// QueryEmbedder supplies unit-length query embeddings for the semantic
// tier. Typically the embedding matcher, sharing its query cache.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
}

// Options tune the cache. Zero values take the documented defaults.
type Options struct {
	TTL                         time.Duration // default 24h
	MaxSize                     int           // default 10000 (in-process tier)
	MinConfidence               float64       // default 0.70
	MinQueryTokens              int           // default 3
	SimilarityThreshold         float64       // default 0.95
	FallbackSimilarityThreshold float64       // default 0.90
}

func (o *Options) fill() {
	if o.TTL <= 0 {
		o.TTL = 24 * time.Hour
	}
	if o.MaxSize <= 0 {
		o.MaxSize = 10000
	}
	if o.MinConfidence <= 0 {
		o.MinConfidence = 0.70
	}
	if o.MinQueryTokens <= 0 {
		o.MinQueryTokens = 3
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = 0.95
	}
	if o.FallbackSimilarityThreshold <= 0 {
		o.FallbackSimilarityThreshold = 0.90
	}
}

// Entry is the stored cache record. Owned by the cache; only HitCount
// changes after insertion.
type Entry struct {
	NormalizedQuery string                     `json:"normalized_query"`
	Result          model.ClassificationResult `json:"result"`
	StoredAt        time.Time                  `json:"stored_at"`
	ExpiresAt       time.Time                  `json:"expires_at"`
	HitCount        int64                      `json:"hit_count"`
}

// Cache is the two-tier response cache.
//
// Thread Safety: Safe for concurrent use.
type Cache struct {
	kv    KVStore       // optional external exact tier
	vec   VectorIndex   // optional external semantic tier
	embed QueryEmbedder // optional; nil disables the semantic tier
	norm  *normalize.Normalizer
	opts  Options

	degraded atomic.Bool
	mem      *memoryTier

	statsMu   sync.Mutex
	hits      int64
	misses    int64
	hitCounts map[string]int64
}

// New creates the cache. kv, vec, and embed may each be nil; missing
// pieces disable their tier, with the in-process tier always available.
func New(kv KVStore, vec VectorIndex, embed QueryEmbedder, norm *normalize.Normalizer, opts Options) *Cache {
	opts.fill()
	memCap := opts.MaxSize
	if kv != nil && memCap > 1024 {
		// The in-process tier is only a degradation net when an external
		// store exists; keep it small.
		memCap = 1024
	}
	return &Cache{
		kv:        kv,
		vec:       vec,
		embed:     embed,
		norm:      norm,
		opts:      opts,
		mem:       newMemoryTier(memCap),
		hitCounts: make(map[string]int64),
	}
}

// Degraded reports whether the cache has fallen back to in-process mode.
func (c *Cache) Degraded() bool { return c.degraded.Load() }

// Get looks up query with the normal similarity threshold.
func (c *Cache) Get(ctx context.Context, query string) (*model.ClassificationResult, bool) {
	return c.get(ctx, query, c.opts.SimilarityThreshold)
}

// GetFallback looks up query with the relaxed threshold used when the
// LLM has failed and any plausible cached answer beats a shrug.
func (c *Cache) GetFallback(ctx context.Context, query string) (*model.ClassificationResult, bool) {
	return c.get(ctx, query, c.opts.FallbackSimilarityThreshold)
}

func (c *Cache) get(ctx context.Context, query string, minCosine float64) (*model.ClassificationResult, bool) {
	start := time.Now()
	defer func() { cacheLatency.Observe(time.Since(start).Seconds()) }()

	normalized := c.norm.String(query)
	if normalized == "" {
		return nil, false
	}
	key := exactKey(normalized)

	// Exact tier.
	if entry, ok := c.exactGet(ctx, key, normalized); ok {
		c.recordHit(normalized, "exact")
		res := entry.Result
		return &res, true
	}

	// Semantic tier.
	if entry, ok := c.semanticGet(ctx, normalized, minCosine); ok {
		c.recordHit(entry.NormalizedQuery, "semantic")
		res := entry.Result
		return &res, true
	}

	c.statsMu.Lock()
	c.misses++
	c.statsMu.Unlock()
	cacheLookups.WithLabelValues("miss", "none").Inc()
	return nil, false
}

func (c *Cache) exactGet(ctx context.Context, key, normalized string) (*Entry, bool) {
	if c.kv != nil && !c.degraded.Load() {
		data, err := c.kv.Get(ctx, key)
		switch {
		case err == nil:
			entry, ok := decodeEntry(data)
			if !ok {
				return nil, false
			}
			if entry.expired() {
				// Opportunistic cleanup.
				_ = c.kv.Delete(ctx, key)
				return nil, false
			}
			entry.HitCount++
			if enc, err := json.Marshal(entry); err == nil {
				_ = c.kv.Set(ctx, key, enc, time.Until(entry.ExpiresAt))
			}
			return entry, true
		case errors.Is(err, ErrMiss):
			return nil, false
		default:
			c.degrade(err)
		}
	}
	return c.mem.getExact(normalized)
}

func (c *Cache) semanticGet(ctx context.Context, normalized string, minCosine float64) (*Entry, bool) {
	if c.embed == nil {
		return nil, false
	}
	qvec, err := c.embed.EmbedQuery(ctx, normalized)
	if err != nil {
		return nil, false
	}

	if c.vec != nil && !c.degraded.Load() {
		payload, _, err := c.vec.Search(ctx, qvec, minCosine)
		switch {
		case err == nil:
			if entry, ok := decodeEntry(payload); ok && !entry.expired() {
				return entry, true
			}
		case errors.Is(err, ErrMiss):
			// fall through to the in-process tier
		default:
			slog.Warn("semantic tier search failed", slog.Any("error", err))
		}
	}
	return c.mem.getSemantic(qvec, minCosine)
}

// Set stores a result when it clears the confidence and length gates.
func (c *Cache) Set(ctx context.Context, query string, result model.ClassificationResult) {
	if result.Confidence < c.opts.MinConfidence {
		return
	}
	res := c.norm.Normalize(query)
	if len(res.Tokens) < c.opts.MinQueryTokens {
		return
	}
	normalized := res.Normalized

	now := time.Now()
	entry := Entry{
		NormalizedQuery: normalized,
		Result:          result,
		StoredAt:        now,
		ExpiresAt:       now.Add(c.opts.TTL),
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return
	}

	var qvec []float32
	if c.embed != nil {
		if v, err := c.embed.EmbedQuery(ctx, normalized); err == nil {
			qvec = v
		}
	}

	stored := false
	if c.kv != nil && !c.degraded.Load() {
		if err := c.kv.Set(ctx, exactKey(normalized), data, c.opts.TTL); err != nil {
			c.degrade(err)
		} else {
			stored = true
		}
	}
	if c.vec != nil && !c.degraded.Load() && qvec != nil {
		if err := c.vec.Insert(ctx, normalized, qvec, data); err != nil {
			slog.Warn("semantic tier insert failed", slog.Any("error", err))
		}
	}
	if !stored {
		c.mem.set(normalized, qvec, entry)
	}
}

// Invalidate removes any entry for query from every tier.
func (c *Cache) Invalidate(ctx context.Context, query string) {
	normalized := c.norm.String(query)
	if c.kv != nil {
		_ = c.kv.Delete(ctx, exactKey(normalized))
	}
	if c.vec != nil {
		_ = c.vec.Delete(ctx, normalized)
	}
	c.mem.delete(normalized)
}

// Clear empties every tier.
func (c *Cache) Clear(ctx context.Context) {
	if c.kv != nil {
		_ = c.kv.Clear(ctx, exactKeyPrefix)
	}
	if c.vec != nil {
		_ = c.vec.Clear(ctx)
	}
	c.mem.clear()

	c.statsMu.Lock()
	c.hitCounts = make(map[string]int64)
	c.statsMu.Unlock()
}

func (c *Cache) degrade(err error) {
	if c.degraded.CompareAndSwap(false, true) {
		slog.Error("cache store unreachable; degrading to in-process tier",
			slog.Any("error", err))
	}
}

func (c *Cache) recordHit(normalized, tier string) {
	cacheLookups.WithLabelValues("hit", tier).Inc()
	c.statsMu.Lock()
	c.hits++
	c.hitCounts[normalized]++
	c.statsMu.Unlock()
}

// QueryHits pairs a cached query with its cumulative hit count.
type QueryHits struct {
	Query string `json:"query"`
	Hits  int64  `json:"hits"`
}

// Stats is the snapshot served by the cache stats endpoint.
type Stats struct {
	Hits       int64       `json:"hits"`
	Misses     int64       `json:"misses"`
	Degraded   bool        `json:"degraded"`
	MemEntries int         `json:"mem_entries"`
	TopQueries []QueryHits `json:"top_queries"`
}

// Snapshot returns cumulative stats with the top-K queries by hit count.
func (c *Cache) Snapshot(topK int) Stats {
	c.statsMu.Lock()
	defer c.statsMu.Unlock()

	top := make([]QueryHits, 0, len(c.hitCounts))
	for q, h := range c.hitCounts {
		top = append(top, QueryHits{Query: q, Hits: h})
	}
	sort.Slice(top, func(i, j int) bool {
		if top[i].Hits != top[j].Hits {
			return top[i].Hits > top[j].Hits
		}
		return top[i].Query < top[j].Query
	})
	if topK > 0 && len(top) > topK {
		top = top[:topK]
	}

	return Stats{
		Hits:       c.hits,
		Misses:     c.misses,
		Degraded:   c.degraded.Load(),
		MemEntries: c.mem.len(),
		TopQueries: top,
	}
}

func (e *Entry) expired() bool {
	return !e.ExpiresAt.IsZero() && time.Now().After(e.ExpiresAt)
}

func decodeEntry(data []byte) (*Entry, bool) {
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false
	}
	return &entry, true
}

func exactKey(normalized string) string {
	sum := sha256.Sum256([]byte(normalized))
	return exactKeyPrefix + hex.EncodeToString(sum[:])
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package intent assembles the intent-classification service: the
// keyword/embedding cascade, response cache, escalation queue with its
// LLM workers, request status tracking, cost guards, and the HTTP
// surface over all of it.
//
// Every external dependency is optional. A missing store or provider
// disables its stage and the cascade degrades to the stages that remain;
// only the embedded keyword dictionary is required to serve traffic.
package intent

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"golang.org/x/sync/errgroup"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/cache"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/classify"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/config"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/costmonitor"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/embedding"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/entities"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/interr"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/keyword"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/llmclient"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/queue"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/status"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/storage/badgerstore"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/taxonomy"
)

// ServiceConfig carries everything NewService needs. Empty strings
// disable the optional pieces they configure.
type ServiceConfig struct {
	DataDir      string // Badger directory; empty runs in-memory
	KeywordsDir  string // extra keyword dictionaries; empty uses embedded
	TaxonomyPath string // empty uses the embedded taxonomy
	ConfigPath   string // variant config file; empty uses defaults
	VersionsDir  string // where replaced configs are backed up
	ReviewLog    string // ambiguous-query review log; empty disables

	EmbeddingURL   string // encoder base URL; empty disables embeddings
	EmbeddingModel string
	EmbeddingDim   int

	WeaviateScheme string // empty disables the external semantic tier
	WeaviateHost   string

	OpenAIKey     string // empty disables LLM escalation workers
	OpenAIBaseURL string

	InfluxURL    string // empty disables the usage sink
	InfluxToken  string
	InfluxOrg    string
	InfluxBucket string

	AlertWebhook string // empty keeps alerts log-only

	Workers      int
	LLMRateLimit int
	QueueMaxSize int
	CacheMaxSize int
	SpikeFactor  float64

	MaxRetries        int           // queue attempt ceiling
	RetryDelay        time.Duration // queue base retry backoff
	MessageTTL        time.Duration // status record TTL
	CacheTTL          time.Duration
	CacheSimilarity   float64 // semantic-tier cosine threshold
	MaxCostPerRequest float64 // USD ceiling per LLM call

	// Override carries environment-driven tuning applied to every
	// variant of the loaded configuration.
	Override config.Override
}

// Service owns every component for one running instance.
type Service struct {
	Taxonomy *taxonomy.Taxonomy
	Config   *config.Manager
	Engine   *classify.Engine
	Cache    *cache.Cache
	Queue    *queue.Queue
	Status   *status.Store
	Tracker  *costmonitor.Tracker
	Limiter  *costmonitor.Limiter

	db        *badgerstore.DB
	embedder  *embedding.Matcher
	pool      *queue.Pool
	watcher   *config.Watcher
	spike     *costmonitor.SpikeDetector
	reviewLog *classify.FileReviewLog
	influx    influxdb2.Client

	startedAt time.Time
}

// NewService wires the full pipeline from cfg.
//
// Description:
//
//	Hard failures are limited to broken required inputs (taxonomy,
//	keyword dictionaries, variant config). Store and provider outages
//	log a warning and disable their stage instead.
func NewService(ctx context.Context, cfg ServiceConfig) (*Service, error) {
	s := &Service{startedAt: time.Now()}

	tax, err := loadTaxonomy(cfg.TaxonomyPath)
	if err != nil {
		return nil, fmt.Errorf("loading taxonomy: %w", err)
	}
	s.Taxonomy = tax

	norm := normalize.New(0)

	appCfg, err := loadVariantConfig(cfg.ConfigPath)
	if err != nil {
		return nil, fmt.Errorf("loading variant config: %w", err)
	}
	if appCfg, err = appCfg.Apply(cfg.Override); err != nil {
		return nil, fmt.Errorf("applying config overrides: %w", err)
	}
	s.Config = config.NewManager(appCfg)
	if cfg.ConfigPath != "" {
		s.watcher = config.NewWatcher(s.Config, cfg.ConfigPath, cfg.VersionsDir)
	}

	kw, err := keyword.LoadDir(cfg.KeywordsDir, taxonomy.DefaultKeywordsJSON(), norm)
	if err != nil {
		return nil, fmt.Errorf("loading keyword dictionaries: %w", err)
	}

	if db, err := badgerstore.OpenDB(badgerstore.DefaultConfig(cfg.DataDir)); err != nil {
		slog.Warn("badger unavailable; persistence disabled", slog.Any("error", err))
	} else {
		s.db = db
	}

	if cfg.EmbeddingURL != "" {
		enc := embedding.NewHTTPEncoder(cfg.EmbeddingURL, cfg.EmbeddingModel, cfg.EmbeddingDim)
		var refs embedding.RefStore
		if s.db != nil {
			refs = embedding.NewBadgerRefStore(s.db, 0)
		}
		s.embedder = embedding.NewMatcher(enc, norm, tax, refs)
	}

	var vec cache.VectorIndex
	if cfg.WeaviateHost != "" {
		idx, err := cache.NewWeaviateIndex(ctx, cfg.WeaviateScheme, cfg.WeaviateHost)
		if err != nil {
			slog.Warn("weaviate unavailable; semantic cache tier disabled", slog.Any("error", err))
		} else {
			vec = idx
		}
	}
	var kv cache.KVStore
	if s.db != nil {
		kv = cache.NewBadgerKV(s.db)
	}
	var embedQ cache.QueryEmbedder
	if s.embedder != nil {
		embedQ = s.embedder
	}
	s.Cache = cache.New(kv, vec, embedQ, norm, cache.Options{
		TTL:                 cfg.CacheTTL,
		MaxSize:             cfg.CacheMaxSize,
		SimilarityThreshold: cfg.CacheSimilarity,
	})

	s.Status = status.NewStore(s.db, cfg.MessageTTL)

	if s.db != nil {
		s.Queue = queue.New(s.db, s.Status, queue.Options{
			MaxRetries: cfg.MaxRetries,
			RetryDelay: cfg.RetryDelay,
			MaxSize:    cfg.QueueMaxSize,
		})
	}

	s.Limiter = costmonitor.NewLimiter(cfg.LLMRateLimit, 0)
	if cfg.InfluxURL != "" {
		client, write := costmonitor.NewInfluxWriter(cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket)
		s.influx = client
		s.Tracker = costmonitor.NewTracker(s.db, write)
	} else {
		s.Tracker = costmonitor.NewTracker(s.db, nil)
	}

	var alertSink interr.AlertSink
	if cfg.AlertWebhook != "" {
		alertSink = interr.NewWebhookSink(cfg.AlertWebhook)
	}
	alerter := interr.NewAlerter(alertSink)
	fallback := interr.NewFallbackManager(s.Cache)

	if s.Queue != nil && cfg.OpenAIKey != "" {
		client := llmclient.NewClient([]byte(cfg.OpenAIKey), tax.ActionCodes(), llmclient.Options{
			BaseURL: cfg.OpenAIBaseURL,
			Model:   s.Config.Active().LLMModel,
			MaxCost: cfg.MaxCostPerRequest,
		})
		consumer := llmclient.NewConsumer(client, s.Config, s.Limiter, s.Tracker,
			alerter, fallback, entities.NewExtractor(norm))
		s.pool = queue.NewPool(s.Queue, s.Status, consumer, s.Cache, cfg.Workers)
	}

	s.spike = costmonitor.NewSpikeDetector(s.Tracker, nil, cfg.SpikeFactor)

	var review classify.ReviewRecorder
	if cfg.ReviewLog != "" {
		log, err := classify.NewFileReviewLog(cfg.ReviewLog)
		if err != nil {
			slog.Warn("review log unavailable", slog.Any("error", err))
		} else {
			s.reviewLog = log
			review = log
		}
	}

	var emb classify.EmbeddingSearcher
	if s.embedder != nil {
		emb = s.embedder
	}
	var esc classify.Escalator
	if s.Queue != nil {
		esc = s.Queue
	}
	s.Engine = classify.NewEngine(kw, emb, s.Cache, esc, s.Config, review)

	slog.Info("intent service assembled",
		slog.Int("action_codes", tax.Len()),
		slog.Bool("persistence", s.db != nil),
		slog.Bool("embeddings", s.embedder != nil),
		slog.Bool("llm_workers", s.pool != nil))
	return s, nil
}

// Warm builds the embedding reference set. Safe to call in a background
// goroutine; failures leave the embedding stage unavailable.
func (s *Service) Warm(ctx context.Context) {
	if s.embedder == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("embedding warmup panicked", slog.Any("panic", r))
		}
	}()
	if err := s.embedder.Warm(ctx); err != nil {
		slog.Warn("embedding warmup failed; running keyword-only", slog.Any("error", err))
	}
}

// Run starts the background loops (config watcher, workers, spike
// schedule) and blocks until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	if err := s.spike.Start(ctx); err != nil {
		return fmt.Errorf("starting spike detector: %w", err)
	}
	defer s.spike.Stop()

	g, ctx := errgroup.WithContext(ctx)
	if s.watcher != nil {
		g.Go(func() error { return s.watcher.Run(ctx) })
	}
	if s.pool != nil {
		g.Go(func() error { return s.pool.Run(ctx) })
	}
	g.Go(func() error {
		<-ctx.Done()
		return nil
	})
	return g.Wait()
}

// Ready reports whether the service can answer classification requests.
func (s *Service) Ready() bool {
	return s.Engine != nil
}

// Uptime reports how long the service has been assembled.
func (s *Service) Uptime() time.Duration { return time.Since(s.startedAt) }

// EmbeddingAvailable reports whether the embedding stage is warm.
func (s *Service) EmbeddingAvailable() bool {
	return s.embedder != nil && s.embedder.Available()
}

// Close releases every held resource.
func (s *Service) Close() error {
	if s.reviewLog != nil {
		_ = s.reviewLog.Close()
	}
	if s.influx != nil {
		s.influx.Close()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func loadTaxonomy(path string) (*taxonomy.Taxonomy, error) {
	if path == "" {
		return taxonomy.LoadDefault()
	}
	return taxonomy.LoadFile(path)
}

func loadVariantConfig(path string) (*config.Config, error) {
	if path == "" {
		return config.Default(), nil
	}
	if _, err := os.Stat(path); err != nil {
		slog.Warn("variant config missing; using defaults", slog.String("path", path))
		return config.Default(), nil
	}
	return config.ParseFile(path)
}

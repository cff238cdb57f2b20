// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Command intentd starts the intent classification API server.
//
// The server classifies shopper utterances into a closed action
// vocabulary through a keyword/embedding cascade, escalating ambiguous
// queries to an LLM worker pool behind a persisted priority queue.
//
// Usage:
//
//	go run ./cmd/intentd
//	go run ./cmd/intentd -port 9090 -data-dir /var/lib/intentd
//
// With embeddings (Ollama-compatible encoder):
//
//	EMBEDDING_BASE_URL=http://localhost:11434 go run ./cmd/intentd
//
// With LLM escalation:
//
//	OPENAI_API_KEY=sk-... go run ./cmd/intentd
//
// Example requests:
//
//	# Classify an utterance
//	curl -X POST http://localhost:8080/v1/intent/classify \
//	  -H "Content-Type: application/json" \
//	  -d '{"text": "add blue nike shoes to my cart"}'
//
//	# Poll an escalated request
//	curl http://localhost:8080/v1/intent/status/<request_id>
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mattn/go-isatty"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/config"
)

// Exit codes: 0 clean shutdown, 1 startup validation failed, 2 a fatal
// dependency was unavailable.
const (
	exitOK = iota
	exitBadConfig
	exitDependency
)

func main() {
	os.Exit(run())
}

func run() int {
	port := flag.Int("port", 8080, "Port to listen on")
	debug := flag.Bool("debug", false, "Enable debug mode")
	dataDir := flag.String("data-dir", envOr("INTENT_DATA_DIR", "data/intentd"), "Badger data directory (empty for in-memory)")
	keywordsDir := flag.String("keywords-dir", envOr("KEYWORDS_DIR", ""), "Directory of extra keyword dictionaries")
	taxonomyPath := flag.String("taxonomy", envOr("TAXONOMY_PATH", ""), "Taxonomy YAML (empty uses embedded)")
	configPath := flag.String("config", envOr("INTENT_CONFIG_PATH", ""), "Variant config JSON (empty uses defaults)")
	versionsDir := flag.String("config-versions-dir", envOr("INTENT_CONFIG_VERSIONS_DIR", "data/config_versions"), "Backup directory for replaced configs")
	reviewLog := flag.String("review-log", envOr("REVIEW_LOG_PATH", ""), "Ambiguous-query review log (empty disables)")
	workers := flag.Int("workers", envOrInt("QUEUE_WORKERS", 0), "LLM worker pool size")
	httpRate := flag.Float64("http-rate", envOrFloat("HTTP_RATE_LIMIT", 0), "HTTP requests per second (0 disables throttling)")
	flag.Parse()

	if *debug {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := setupTracing(rootCtx, *debug)
	if err != nil {
		slog.Error("tracing setup failed", slog.Any("error", err))
		return exitDependency
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			slog.Warn("trace exporter shutdown incomplete", slog.Any("error", err))
		}
	}()

	svcCfg, err := serviceConfigFromEnv()
	if err != nil {
		slog.Error("invalid configuration", slog.Any("error", err))
		return exitBadConfig
	}
	svcCfg.DataDir = *dataDir
	svcCfg.KeywordsDir = *keywordsDir
	svcCfg.TaxonomyPath = *taxonomyPath
	svcCfg.ConfigPath = *configPath
	svcCfg.VersionsDir = *versionsDir
	svcCfg.ReviewLog = *reviewLog
	svcCfg.Workers = *workers

	svc, err := intent.NewService(rootCtx, svcCfg)
	if err != nil {
		slog.Error("service assembly failed", slog.Any("error", err))
		return exitBadConfig
	}
	defer func() {
		if err := svc.Close(); err != nil {
			slog.Warn("shutdown cleanup failed", slog.Any("error", err))
		}
	}()

	// Embedding warmup runs in the background: the keyword stage serves
	// traffic immediately while references are encoded.
	go func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				slog.Error("warmup goroutine panicked",
					slog.Any("panic", r),
					slog.String("stack", string(buf[:n])))
			}
		}()
		warmCtx, cancel := context.WithTimeout(rootCtx, 2*time.Minute)
		defer cancel()
		svc.Warm(warmCtx)
	}()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(otelgin.Middleware("chatnshop-intent"))
	if *debug {
		router.Use(gin.Logger())
	}
	router.Use(intent.ThrottleMiddleware(*httpRate, 0))

	handlers := intent.NewHandlers(svc)
	v1 := router.Group("/v1")
	intent.RegisterRoutes(v1, handlers)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	printBanner(*port)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", *port),
		Handler: router,
	}

	errCh := make(chan error, 2)
	go func() { errCh <- svc.Run(rootCtx) }()
	go func() {
		slog.Info("starting intent server", slog.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-rootCtx.Done():
		slog.Info("shutting down intent server")
	case err := <-errCh:
		slog.Error("fatal runtime error", slog.Any("error", err))
		shutdown(srv)
		return exitDependency
	}

	shutdown(srv)
	return exitOK
}

func shutdown(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		slog.Warn("server shutdown incomplete", slog.Any("error", err))
	}
}

// serviceConfigFromEnv reads the operational environment variables.
func serviceConfigFromEnv() (intent.ServiceConfig, error) {
	cfg := intent.ServiceConfig{
		EmbeddingURL:   os.Getenv("EMBEDDING_BASE_URL"),
		EmbeddingModel: envOr("EMBEDDING_MODEL", "nomic-embed-text"),
		EmbeddingDim:   envOrInt("EMBEDDING_DIMENSION", 0),

		WeaviateScheme: envOr("WEAVIATE_SCHEME", "http"),
		WeaviateHost:   os.Getenv("WEAVIATE_HOST"),

		OpenAIKey:     os.Getenv("OPENAI_API_KEY"),
		OpenAIBaseURL: os.Getenv("OPENAI_BASE_URL"),

		InfluxURL:    os.Getenv("INFLUX_URL"),
		InfluxToken:  os.Getenv("INFLUX_TOKEN"),
		InfluxOrg:    os.Getenv("INFLUX_ORG"),
		InfluxBucket: os.Getenv("INFLUX_BUCKET"),

		AlertWebhook: os.Getenv("ESCALATION_WEBHOOK_URL"),

		LLMRateLimit: envOrInt("RATE_LIMIT_MAX_CALLS", 0),
		QueueMaxSize: envOrInt("QUEUE_MAX_SIZE", 0),
		CacheMaxSize: envOrInt("LLM_CACHE_MAX_SIZE", 0),
		SpikeFactor:  envOrFloat("COST_SPIKE_FACTOR", 0),

		MaxRetries:        envOrInt("MAX_RETRIES", 0),
		RetryDelay:        envOrDuration("RETRY_DELAY", 0),
		MessageTTL:        envOrDuration("MESSAGE_TTL", 0),
		CacheTTL:          envOrDuration("LLM_CACHE_TTL", 0),
		CacheSimilarity:   envOrFloat("LLM_CACHE_SIMILARITY_THRESHOLD", 0),
		MaxCostPerRequest: envOrFloat("MAX_COST_PER_REQUEST", 0),
	}

	cfg.Override = config.Override{
		KwWeight:            envFloatPtr("KW_WEIGHT"),
		EmbWeight:           envFloatPtr("EMB_WEIGHT"),
		PriorityThreshold:   envFloatPtr("PRIORITY_THRESHOLD"),
		ConfidenceThreshold: envFloatPtr("CONFIDENCE_THRESHOLD"),
		GapThreshold:        envFloatPtr("GAP_THRESHOLD"),
	}

	// A single weight override would silently break the sum-to-one
	// invariant; require both or neither.
	if (cfg.Override.KwWeight == nil) != (cfg.Override.EmbWeight == nil) {
		return cfg, fmt.Errorf("KW_WEIGHT and EMB_WEIGHT must be set together")
	}
	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
		slog.Warn("ignoring non-integer environment value", slog.String("key", key))
	}
	return fallback
}

func envOrFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
		slog.Warn("ignoring non-numeric environment value", slog.String("key", key))
	}
	return fallback
}

func envOrDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
		// Plain numbers are treated as seconds.
		if secs, err := strconv.Atoi(v); err == nil {
			return time.Duration(secs) * time.Second
		}
		slog.Warn("ignoring unparseable duration", slog.String("key", key))
	}
	return fallback
}

func envFloatPtr(key string) *float64 {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("ignoring non-numeric environment value", slog.String("key", key))
		return nil
	}
	return &f
}

func printBanner(port int) {
	if !isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()) {
		return
	}

	banner := `
╔═══════════════════════════════════════════════════════════════════╗
║                     CHATNSHOP INTENT SERVER                       ║
╠═══════════════════════════════════════════════════════════════════╣
║                                                                   ║
║  Hybrid keyword/embedding intent classification with async LLM    ║
║  escalation for ambiguous queries.                                ║
║                                                                   ║
║  Quick Start:                                                     ║
║  ┌─────────────────────────────────────────────────────────────┐  ║
║  │ # Classify an utterance                                     │  ║
║  │ curl -X POST http://localhost:%-5d/v1/intent/classify \    │  ║
║  │   -H "Content-Type: application/json" \                     │  ║
║  │   -d '{"text": "add blue nike shoes to my cart"}'          │  ║
║  │                                                             │  ║
║  │ # Poll an escalated request                                 │  ║
║  │ curl http://localhost:%-5d/v1/intent/status/<request_id>   │  ║
║  └─────────────────────────────────────────────────────────────┘  ║
║                                                                   ║
║  Endpoints:                                                       ║
║  ├── POST /v1/intent/classify                                     ║
║  ├── GET  /v1/intent/status/:id                                   ║
║  ├── GET  /v1/intent/cache/stats                                  ║
║  ├── GET  /v1/intent/cost/summary                                 ║
║  ├── POST /v1/intent/config/variant                               ║
║  ├── GET  /v1/intent/health, /v1/intent/ready                     ║
║  └── GET  /metrics                                                ║
║                                                                   ║
║  Press Ctrl+C to stop                                             ║
╚═══════════════════════════════════════════════════════════════════╝
`
	fmt.Printf(banner, port, port)
}

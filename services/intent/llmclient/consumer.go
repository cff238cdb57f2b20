// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmclient

import (
	"context"
	"errors"
	"log/slog"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/config"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/entities"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/interr"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// RateGate throttles outbound LLM calls. A denied call is retried by the
// queue after backoff rather than dropped.
type RateGate interface {
	Allow() bool
}

// UsageRecorder receives per-call cost accounting.
type UsageRecorder interface {
	Record(ctx context.Context, modelName string, usage model.Usage)
}

// errThrottled is retryable: the limiter window will roll over.
var errThrottled = interr.New(interr.KindRateLimit, errors.New("outbound rate limit reached"))

// Consumer turns claimed queue messages into classification results. It
// is the worker pool's Handler.
//
// Description:
//
//	Happy path: rate gate, LLM call, entity merge (LLM wins, rules
//	fill), usage accounting. Retryable failures propagate so the queue
//	re-schedules; permanent failures degrade through the fallback
//	manager instead of failing the request outright.
//
// Thread Safety: Safe for concurrent use by multiple workers.
type Consumer struct {
	client    *Client
	cfg       *config.Manager
	gate      RateGate
	usage     UsageRecorder
	alerter   *interr.Alerter
	fallback  *interr.FallbackManager
	extractor *entities.Extractor
}

// NewConsumer wires a Consumer. gate, usage, alerter, and fallback may
// each be nil.
func NewConsumer(client *Client, cfg *config.Manager, gate RateGate, usage UsageRecorder,
	alerter *interr.Alerter, fallback *interr.FallbackManager, extractor *entities.Extractor) *Consumer {
	return &Consumer{
		client:    client,
		cfg:       cfg,
		gate:      gate,
		usage:     usage,
		alerter:   alerter,
		fallback:  fallback,
		extractor: extractor,
	}
}

// Handle implements the worker pool contract.
func (c *Consumer) Handle(ctx context.Context, msg model.QueueMessage) (*model.ClassificationResult, *model.Usage, error) {
	if c.gate != nil && !c.gate.Allow() {
		return nil, nil, errThrottled
	}

	modelOverride := ""
	if c.cfg != nil {
		modelOverride = c.cfg.Active().LLMModel
	}

	llmRes, err := c.client.Classify(ctx, msg.Payload, modelOverride)
	if err != nil {
		if c.alerter != nil {
			c.alerter.Observe(ctx, err)
		}

		var ie *interr.Error
		if errors.As(err, &ie) && ie.Retryable() {
			return nil, nil, err
		}

		// Permanent failure: serve the best degraded answer instead.
		slog.Warn("llm failed permanently; resolving fallback",
			slog.String("request_id", msg.RequestID),
			slog.Any("error", err))
		if c.fallback != nil {
			res := c.fallback.Resolve(ctx, msg.Payload.Query, err)
			return &res, nil, nil
		}
		return nil, nil, err
	}

	if c.usage != nil {
		c.usage.Record(ctx, llmRes.Model, llmRes.Usage)
	}

	var ruleEnt *model.Entities
	if c.extractor != nil {
		ruleEnt = c.extractor.Extract(msg.Payload.Query)
	}

	res := model.ClassificationResult{
		ActionCode:      llmRes.ActionCode,
		Confidence:      llmRes.Confidence,
		Status:          model.StatusLLMClassification,
		Source:          model.SourceLLM,
		MatchedKeywords: []string{},
		Entities:        entities.Merge(llmRes.Entities, ruleEnt),
		Reasoning:       llmRes.Reasoning,
	}
	if llmRes.ActionCode == "UNCLEAR" {
		res.ActionCode = model.FallbackAction
		res.Status = model.StatusUnclear
		res.RequiresClarification = true
		res.ClarifyingQuestions = []string{
			"Could you tell me more about what you're looking for?",
			"Are you shopping for a product or asking about an order?",
		}
	}
	usage := llmRes.Usage
	return &res, &usage, nil
}

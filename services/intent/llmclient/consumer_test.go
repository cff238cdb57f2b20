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
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/entities"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/interr"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

type fakeGate struct{ allow bool }

func (g fakeGate) Allow() bool { return g.allow }

type fakeUsage struct {
	model string
	usage model.Usage
	calls int
}

func (u *fakeUsage) Record(ctx context.Context, modelName string, usage model.Usage) {
	u.model = modelName
	u.usage = usage
	u.calls++
}

func testMessage(query string) model.QueueMessage {
	return model.QueueMessage{
		RequestID: "req-test",
		Payload:   model.QueuePayload{Query: query},
	}
}

func TestConsumer_GateDenialIsRetryable(t *testing.T) {
	c := NewConsumer(nil, nil, fakeGate{allow: false}, nil, nil, nil, nil)
	_, _, err := c.Handle(context.Background(), testMessage("anything"))
	if err == nil {
		t.Fatal("want throttle error")
	}
	var ie *interr.Error
	if !errors.As(err, &ie) || !ie.Retryable() {
		t.Errorf("err = %v, want a retryable rate-limit error", err)
	}
}

func TestConsumer_SuccessMergesEntitiesAndRecordsUsage(t *testing.T) {
	content := `{"action_code":"ADD_TO_CART","confidence":0.9,"entities":{"color":"blue"}}`
	server := chatServer(t, content, nil)
	defer server.Close()

	client := NewClient([]byte("test-key"), testCodes, Options{BaseURL: server.URL, MaxAttempts: 1})
	usage := &fakeUsage{}
	extractor := entities.NewExtractor(normalize.New(0))
	c := NewConsumer(client, nil, fakeGate{allow: true}, usage, nil, nil, extractor)

	res, u, err := c.Handle(context.Background(), testMessage("add nike sneakers to cart"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ActionCode != "ADD_TO_CART" || res.Source != model.SourceLLM || res.Status != model.StatusLLMClassification {
		t.Errorf("result = %+v", res)
	}
	// The LLM's color is kept; rule extraction fills brand and product.
	if res.Entities == nil || res.Entities.Color != "blue" || res.Entities.Brand != "Nike" || res.Entities.ProductType != "sneakers" {
		t.Errorf("entities = %+v", res.Entities)
	}
	if u == nil || u.PromptTokens != 120 {
		t.Errorf("usage = %+v", u)
	}
	if usage.calls != 1 || usage.model != "gpt-4o-mini" || usage.usage.Cost <= 0 {
		t.Errorf("recorder = %+v", usage)
	}
}

func TestConsumer_UnclearAsksForClarification(t *testing.T) {
	server := chatServer(t, `{"action_code":"UNCLEAR","confidence":0.3}`, nil)
	defer server.Close()

	client := NewClient([]byte("test-key"), testCodes, Options{BaseURL: server.URL, MaxAttempts: 1})
	c := NewConsumer(client, nil, nil, nil, nil, nil, nil)

	res, _, err := c.Handle(context.Background(), testMessage("hmm"))
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if res.ActionCode != model.FallbackAction || res.Status != model.StatusUnclear {
		t.Errorf("result = %+v", res)
	}
	if !res.RequiresClarification || len(res.ClarifyingQuestions) == 0 {
		t.Errorf("no clarification in %+v", res)
	}
}

func TestConsumer_PermanentFailureResolvesFallback(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"type":"authentication_error"}}`, http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient([]byte("test-key"), testCodes, Options{BaseURL: server.URL, MaxAttempts: 3})
	usage := &fakeUsage{}
	c := NewConsumer(client, nil, nil, usage, nil, interr.NewFallbackManager(nil), nil)

	res, u, err := c.Handle(context.Background(), testMessage("anything"))
	if err != nil {
		t.Fatalf("Handle should degrade, not fail: %v", err)
	}
	if res.ActionCode != model.FallbackAction || res.Source != model.SourceFallback || res.Confidence != 0.1 {
		t.Errorf("degraded result = %+v", res)
	}
	if !res.RequiresClarification {
		t.Error("degraded result should ask for clarification")
	}
	// Auth guidance: no retry, actionable suggestions instead.
	if res.RetryRecommended || len(res.Suggestions) == 0 || res.UserMessage == "" {
		t.Errorf("guidance = %+v, want the auth-failure guidance attached", res)
	}
	if u != nil {
		t.Errorf("usage = %+v, want nil for a failed call", u)
	}
	if usage.calls != 0 {
		t.Errorf("recorder called %d times on failure", usage.calls)
	}
}

func TestConsumer_RetryableFailurePropagates(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "slow down", http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient([]byte("test-key"), testCodes, Options{BaseURL: server.URL, MaxAttempts: 1})
	c := NewConsumer(client, nil, nil, nil, nil, interr.NewFallbackManager(nil), nil)

	_, _, err := c.Handle(context.Background(), testMessage("anything"))
	if interr.KindOf(err) != interr.KindRateLimit {
		t.Errorf("err = %v, want the rate-limit error back for requeue", err)
	}
}

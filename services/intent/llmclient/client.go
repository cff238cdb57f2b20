// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package llmclient talks to the OpenAI Chat Completions REST API with
// raw net/http: bounded retries with jittered backoff, a per-request
// cost ceiling, and strict JSON parsing of the classification payload.
package llmclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/awnumar/memguard"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/interr"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

const defaultBaseURL = "https://api.openai.com/v1/chat/completions"

const (
	// DefaultMaxAttempts bounds retries within one Classify call.
	DefaultMaxAttempts = 3
	// DefaultTimeout is the per-attempt HTTP timeout.
	DefaultTimeout = 30 * time.Second
	// baseBackoff grows 0.5s, 1s, 2s across attempts, plus jitter.
	baseBackoff = 500 * time.Millisecond
	// maxCompletionTokens caps the response; classifications are tiny.
	maxCompletionTokens = 300
)

var (
	llmCalls = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "chatnshop",
		Subsystem: "llm",
		Name:      "calls_total",
		Help:      "LLM API calls by outcome.",
	}, []string{"outcome"})

	llmLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "chatnshop",
		Subsystem: "llm",
		Name:      "call_duration_seconds",
		Help:      "LLM API call latency including retries.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 10),
	})
)

type chatRequest struct {
	Model          string        `json:"model"`
	Messages       []chatMessage `json:"messages"`
	Temperature    float32       `json:"temperature"`
	MaxTokens      int           `json:"max_tokens,omitempty"`
	ResponseFormat *respFormat   `json:"response_format,omitempty"`
}

type respFormat struct {
	Type string `json:"type"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []chatChoice `json:"choices"`
	Usage   chatUsage    `json:"usage"`
	Error   *apiError    `json:"error,omitempty"`
}

type chatChoice struct {
	Message      chatMessage `json:"message"`
	FinishReason string      `json:"finish_reason"`
}

type chatUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
}

type apiError struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Options configure the client. Zero values take the documented defaults.
type Options struct {
	BaseURL     string
	Model       string
	MaxAttempts int
	Timeout     time.Duration
	MaxCost     float64
}

func (o *Options) fill() {
	if o.BaseURL == "" {
		o.BaseURL = defaultBaseURL
	}
	if o.Model == "" {
		o.Model = "gpt-4o-mini"
	}
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = DefaultMaxAttempts
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.MaxCost <= 0 {
		o.MaxCost = DefaultMaxCostPerRequest
	}
}

// Client calls the Chat Completions API for intent classification.
//
// Description:
//
//	The API key lives in a memguard enclave and is decrypted only for
//	the duration of each request. Each Classify call makes up to
//	MaxAttempts requests; backoff doubles per attempt with 10% jitter.
//	Non-retryable failures (auth, context length, budget) abort
//	immediately.
//
// Thread Safety: Client is safe for concurrent use.
type Client struct {
	httpClient *http.Client
	apiKey     *memguard.Enclave
	opts       Options
	codes      map[model.ActionCode]bool
	codeList   []model.ActionCode
}

// NewClient seals apiKey into an enclave and wipes the caller's copy.
// validCodes is the closed action vocabulary; responses outside it are
// coerced to UNCLEAR.
func NewClient(apiKey []byte, validCodes []model.ActionCode, opts Options) *Client {
	opts.fill()
	codes := make(map[model.ActionCode]bool, len(validCodes))
	for _, c := range validCodes {
		codes[c] = true
	}
	return &Client{
		httpClient: &http.Client{Timeout: opts.Timeout},
		apiKey:     memguard.NewEnclave(apiKey),
		opts:       opts,
		codes:      codes,
		codeList:   append([]model.ActionCode(nil), validCodes...),
	}
}

// Model returns the configured model name.
func (c *Client) Model() string { return c.opts.Model }

// Classify runs one escalated query through the model.
//
// Outputs:
//   - *model.LLMResult: Parsed classification with usage accounting.
//   - error: An *interr.Error on upstream failure, or ErrBudgetExceeded
//     when the projected cost crosses the per-request ceiling.
func (c *Client) Classify(ctx context.Context, payload model.QueuePayload, modelOverride string) (*model.LLMResult, error) {
	start := time.Now()
	defer func() { llmLatency.Observe(time.Since(start).Seconds()) }()

	mdl := c.opts.Model
	if modelOverride != "" {
		mdl = modelOverride
	}

	system, user, err := BuildPrompt(c.codeList, payload)
	if err != nil {
		return nil, err
	}

	promptTokens := EstimateTokens(system) + EstimateTokens(user)
	if err := checkBudget(mdl, promptTokens, maxCompletionTokens, c.opts.MaxCost); err != nil {
		llmCalls.WithLabelValues("budget_rejected").Inc()
		return nil, err
	}

	reqBody, err := json.Marshal(chatRequest{
		Model: mdl,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature:    0,
		MaxTokens:      maxCompletionTokens,
		ResponseFormat: &respFormat{Type: "json_object"},
	})
	if err != nil {
		return nil, fmt.Errorf("llm: marshaling request: %w", err)
	}

	var lastErr error
	for attempt := 1; attempt <= c.opts.MaxAttempts; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return nil, interr.New(interr.KindTimeout, ctx.Err())
			case <-time.After(backoff(attempt - 1)):
			}
		}

		result, err := c.do(ctx, mdl, reqBody)
		if err == nil {
			llmCalls.WithLabelValues("success").Inc()
			return result, nil
		}
		lastErr = err

		var ie *interr.Error
		if errors.As(err, &ie) && !ie.Retryable() {
			llmCalls.WithLabelValues(string(ie.Kind)).Inc()
			return nil, err
		}
		slog.Warn("llm attempt failed",
			slog.Int("attempt", attempt),
			slog.String("model", mdl),
			slog.Any("error", err))
	}

	llmCalls.WithLabelValues("exhausted").Inc()
	return nil, lastErr
}

func (c *Client) do(ctx context.Context, mdl string, reqBody []byte) (*model.LLMResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.opts.BaseURL, bytes.NewReader(reqBody))
	if err != nil {
		return nil, fmt.Errorf("llm: creating HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	key, err := c.apiKey.Open()
	if err != nil {
		return nil, interr.New(interr.KindAuth, fmt.Errorf("llm: opening key enclave: %w", err))
	}
	req.Header.Set("Authorization", "Bearer "+key.String())
	key.Destroy()

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, classifyTransportError(err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, interr.New(interr.KindUnknown, fmt.Errorf("llm: reading response body: %w", err))
	}

	if resp.StatusCode != http.StatusOK {
		return nil, classifyStatusError(resp, bodyBytes)
	}

	var apiResp chatResponse
	if err := json.Unmarshal(bodyBytes, &apiResp); err != nil {
		return nil, interr.New(interr.KindUnknown, fmt.Errorf("llm: parsing response JSON: %w", err))
	}
	if apiResp.Error != nil {
		return nil, classifyAPIError(apiResp.Error)
	}
	if len(apiResp.Choices) == 0 {
		return nil, interr.New(interr.KindUnknown, errors.New("llm: returned no choices"))
	}

	result, err := c.parseContent(apiResp.Choices[0].Message.Content)
	if err != nil {
		return nil, err
	}
	result.Model = mdl
	result.Usage = model.Usage{
		PromptTokens:     apiResp.Usage.PromptTokens,
		CompletionTokens: apiResp.Usage.CompletionTokens,
		Cost:             ActualCost(mdl, apiResp.Usage.PromptTokens, apiResp.Usage.CompletionTokens),
	}
	return result, nil
}

// parseContent decodes the model's JSON payload. Action codes outside
// the closed vocabulary become UNCLEAR at low confidence rather than
// leaking invented codes downstream.
func (c *Client) parseContent(content string) (*model.LLMResult, error) {
	content = strings.TrimSpace(content)
	// Some models wrap JSON in a code fence despite instructions.
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimPrefix(content, "```")
	content = strings.TrimSuffix(content, "```")

	var result model.LLMResult
	if err := json.Unmarshal([]byte(content), &result); err != nil {
		return nil, interr.New(interr.KindUnknown, fmt.Errorf("llm: unparseable classification payload: %w", err))
	}

	result.Confidence = model.Clamp01(result.Confidence)
	if result.ActionCode != "UNCLEAR" && !c.codes[result.ActionCode] {
		slog.Warn("llm returned unknown action code",
			slog.String("action_code", string(result.ActionCode)))
		result.ActionCode = "UNCLEAR"
		result.Confidence = 0.3
	}
	if result.Entities != nil && result.Entities.Empty() {
		result.Entities = nil
	}
	return &result, nil
}

func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return interr.New(interr.KindTimeout, err)
	}
	var ne interface{ Timeout() bool }
	if errors.As(err, &ne) && ne.Timeout() {
		return interr.New(interr.KindTimeout, err)
	}
	return interr.New(interr.KindUnknown, err)
}

func classifyStatusError(resp *http.Response, body []byte) error {
	errBody := fmt.Errorf("llm: API returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		e := interr.New(interr.KindRateLimit, errBody)
		if ra := resp.Header.Get("Retry-After"); ra != "" {
			if secs, err := strconv.Atoi(ra); err == nil {
				e.RetryAfter = time.Duration(secs) * time.Second
			}
		}
		return e
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return interr.New(interr.KindAuth, errBody)
	case resp.StatusCode >= 500:
		return interr.New(interr.KindServerError, errBody)
	case resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("context_length")):
		return interr.New(interr.KindContextLength, errBody)
	default:
		return interr.New(interr.KindUnknown, errBody)
	}
}

func classifyAPIError(e *apiError) error {
	errBody := fmt.Errorf("llm: API error: %s - %s", e.Type, truncate(e.Message, 200))
	switch {
	case e.Code == "context_length_exceeded" || strings.Contains(e.Message, "context length"):
		return interr.New(interr.KindContextLength, errBody)
	case e.Type == "insufficient_quota" || e.Type == "rate_limit_error":
		return interr.New(interr.KindRateLimit, errBody)
	case e.Type == "authentication_error":
		return interr.New(interr.KindAuth, errBody)
	default:
		return interr.New(interr.KindUnknown, errBody)
	}
}

// backoff returns 0.5s * 2^(n-1) with 10% jitter.
func backoff(n int) time.Duration {
	d := baseBackoff << (n - 1)
	jitter := time.Duration(rand.Int63n(int64(d) / 10))
	return d + jitter
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

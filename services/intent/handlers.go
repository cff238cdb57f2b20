// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package intent

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/classify"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// ErrorResponse is the uniform error body for every endpoint.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// ClassifyRequest is the body of POST /v1/intent/classify.
type ClassifyRequest struct {
	Text string `json:"text"`
}

// IntentSummary is the condensed intent object carried by every
// classification response.
type IntentSummary struct {
	ID     string  `json:"id"`
	Score  float64 `json:"score"`
	Source string  `json:"source"`
	Status string  `json:"status"`
}

// ClassifyResponse is the wire shape of POST /v1/intent/classify: the
// full result plus the echoed input and the condensed intent object.
type ClassifyResponse struct {
	model.ClassificationResult
	OriginalText string        `json:"original_text"`
	Intent       IntentSummary `json:"intent"`
}

func newClassifyResponse(text string, res *model.ClassificationResult) ClassifyResponse {
	return ClassifyResponse{
		ClassificationResult: *res,
		OriginalText:         text,
		Intent: IntentSummary{
			ID:     string(res.ActionCode),
			Score:  res.Confidence,
			Source: string(res.Source),
			Status: string(res.Status),
		},
	}
}

// VariantRequest is the body of POST /v1/intent/config/variant.
type VariantRequest struct {
	Variant string `json:"variant"`
}

// HealthResponse is the liveness body.
type HealthResponse struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// ReadyResponse is the readiness body.
type ReadyResponse struct {
	Ready     bool `json:"ready"`
	Embedding bool `json:"embedding_available"`
	Degraded  bool `json:"cache_degraded"`
}

// Handlers exposes the service over HTTP.
type Handlers struct {
	svc *Service
}

// NewHandlers wraps svc.
func NewHandlers(svc *Service) *Handlers {
	return &Handlers{svc: svc}
}

// getOrCreateRequestID returns the propagated request ID, minting one
// when the caller sent none.
func getOrCreateRequestID(c *gin.Context) string {
	if id := c.GetHeader("X-Request-ID"); id != "" {
		return id
	}
	return uuid.NewString()
}

// HandleClassify handles POST /v1/intent/classify.
//
// Description:
//
//	Runs the classification cascade on the submitted query.
//
// Response:
//
//	200 OK: model.ClassificationResult (escalations carry request_id
//	        and status QUEUED_FOR_LLM)
//	422 Unprocessable Entity: Empty query or query over the length cap
//	503 Service Unavailable: Escalation required but the queue is down
//
// Thread Safety: This method is safe for concurrent use.
func (h *Handlers) HandleClassify(c *gin.Context) {
	requestID := getOrCreateRequestID(c)
	logger := slog.With("request_id", requestID, "handler", "HandleClassify")

	var req ClassifyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "body must be JSON with a string \"text\" field",
			Code:  "INVALID_BODY",
		})
		return
	}

	result, err := h.svc.Engine.Classify(c.Request.Context(), req.Text)
	switch {
	case err == nil:
		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(
			attribute.String("intent.action_code", string(result.ActionCode)),
			attribute.Float64("intent.confidence", result.Confidence),
			attribute.String("intent.source", string(result.Source)),
		)
		c.JSON(http.StatusOK, newClassifyResponse(req.Text, &result))
	case errors.Is(err, classify.ErrEmptyInput):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "text must not be empty",
			Code:  "EMPTY_QUERY",
		})
	case errors.Is(err, classify.ErrQueryTooLong):
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: err.Error(),
			Code:  "QUERY_TOO_LONG",
		})
	case errors.Is(err, classify.ErrEnqueueFailed):
		logger.Error("escalation unavailable", slog.Any("error", err))
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: "classification requires escalation but the queue is unavailable",
			Code:  "QUEUE_UNAVAILABLE",
		})
	default:
		logger.Error("classification failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "internal error",
			Code:  string(model.StatusErrorInternal),
		})
	}
}

// HandleStatus handles GET /v1/intent/status/:id.
//
// Response:
//
//	200 OK: model.RequestStatus
//	404 Not Found: Unknown or expired request ID
func (h *Handlers) HandleStatus(c *gin.Context) {
	id := c.Param("id")
	st, ok := h.svc.Status.Get(c.Request.Context(), id)
	if !ok {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: "unknown or expired request id",
			Code:  "STATUS_NOT_FOUND",
		})
		return
	}
	c.JSON(http.StatusOK, st)
}

// HandleHealth handles GET /v1/intent/health. Always 200 while the
// process serves requests.
func (h *Handlers) HandleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:        "ok",
		UptimeSeconds: int64(h.svc.Uptime().Seconds()),
	})
}

// HandleReady handles GET /v1/intent/ready. 503 until the engine can
// serve; the embedding and cache fields report degraded stages.
func (h *Handlers) HandleReady(c *gin.Context) {
	resp := ReadyResponse{
		Ready:     h.svc.Ready(),
		Embedding: h.svc.EmbeddingAvailable(),
		Degraded:  h.svc.Cache.Degraded(),
	}
	code := http.StatusOK
	if !resp.Ready {
		code = http.StatusServiceUnavailable
	}
	c.JSON(code, resp)
}

// HandleCacheStats handles GET /v1/intent/cache/stats.
func (h *Handlers) HandleCacheStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.svc.Cache.Snapshot(10))
}

// HandleCostSummary handles GET /v1/intent/cost/summary.
func (h *Handlers) HandleCostSummary(c *gin.Context) {
	summary, err := h.svc.Tracker.Summarize(c.Request.Context(), 7)
	if err != nil {
		slog.Error("cost summary failed", slog.Any("error", err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: "cost summary unavailable",
			Code:  "COST_SUMMARY_FAILED",
		})
		return
	}
	c.JSON(http.StatusOK, summary)
}

// HandleSwitchVariant handles POST /v1/intent/config/variant.
//
// Description:
//
//	Switches the active scoring variant at runtime. The switch is
//	atomic: in-flight requests finish on the variant they started with.
//
// Response:
//
//	200 OK: {"active": "<name>"}
//	404 Not Found: Unknown variant name
func (h *Handlers) HandleSwitchVariant(c *gin.Context) {
	var req VariantRequest
	if err := c.ShouldBindJSON(&req); err != nil || req.Variant == "" {
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: "body must be JSON with a string \"variant\" field",
			Code:  "INVALID_BODY",
		})
		return
	}

	if err := h.svc.Config.SwitchVariant(req.Variant); err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: err.Error(),
			Code:  "UNKNOWN_VARIANT",
		})
		return
	}
	slog.Info("variant switched", slog.String("variant", req.Variant))
	c.JSON(http.StatusOK, gin.H{"active": req.Variant})
}

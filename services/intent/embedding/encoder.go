// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"time"
)

// DefaultDimension is the native dimension of the default encoder model.
const DefaultDimension = 384

// Encoder produces fixed-dimensional vectors for text.
//
// Encoding must be deterministic within a session for a fixed model: the
// same text always yields the same vector.
type Encoder interface {
	// Encode returns the raw (not yet normalized) embedding of text.
	Encode(ctx context.Context, text string) ([]float32, error)

	// Dimension returns the vector dimension this encoder produces.
	Dimension() int
}

// HTTPEncoder calls an embedding endpoint over HTTP.
//
// Description:
//
//	Speaks the Ollama-style embeddings API: POST {model, prompt} to
//	baseURL/api/embeddings, read {embedding: [...]}. Works against any
//	local embedding server exposing that shape.
//
// Thread Safety: Safe for concurrent use.
type HTTPEncoder struct {
	baseURL   string
	model     string
	dimension int
	client    *http.Client
}

// NewHTTPEncoder creates an encoder client.
//
// Inputs:
//   - baseURL: Embedding server base URL (e.g. "http://localhost:11434").
//   - model: Embedding model name (e.g. "all-minilm").
//   - dimension: Expected vector dimension; 0 uses DefaultDimension.
func NewHTTPEncoder(baseURL, model string, dimension int) *HTTPEncoder {
	if dimension <= 0 {
		dimension = DefaultDimension
	}
	return &HTTPEncoder{
		baseURL:   baseURL,
		model:     model,
		dimension: dimension,
		client:    &http.Client{Timeout: 30 * time.Second},
	}
}

func (e *HTTPEncoder) Dimension() int { return e.dimension }

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float32 `json:"embedding"`
}

// Encode requests an embedding for text.
func (e *HTTPEncoder) Encode(ctx context.Context, text string) ([]float32, error) {
	body, err := json.Marshal(embedRequest{Model: e.model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("marshal embed request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		e.baseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build embed request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embed call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, fmt.Errorf("embed call: status %d: %s", resp.StatusCode, snippet)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("decode embed response: %w", err)
	}
	if len(parsed.Embedding) == 0 {
		return nil, fmt.Errorf("embed call: empty embedding")
	}
	if len(parsed.Embedding) != e.dimension {
		return nil, fmt.Errorf("embed call: dimension %d, want %d",
			len(parsed.Embedding), e.dimension)
	}
	return parsed.Embedding, nil
}

// l2Norm returns the Euclidean norm of v.
func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}

// normalizeVec scales v to unit length in place. Zero vectors are left
// untouched.
func normalizeVec(v []float32) {
	n := l2Norm(v)
	if n == 0 {
		return
	}
	for i := range v {
		v[i] = float32(float64(v[i]) / n)
	}
}

// dotProduct computes the inner product of two equal-length vectors.
// For unit vectors this equals cosine similarity.
func dotProduct(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

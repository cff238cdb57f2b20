// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package cache

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
)

// weaviateClass is the semantic-tier collection name.
const weaviateClass = "CachedQuery"

// VectorIndex is the semantic-tier backing store: cached query embeddings
// searchable by cosine similarity.
type VectorIndex interface {
	Insert(ctx context.Context, normalizedQuery string, vector []float32, payload []byte) error
	Search(ctx context.Context, vector []float32, minCosine float64) ([]byte, float64, error)
	Delete(ctx context.Context, normalizedQuery string) error
	Clear(ctx context.Context) error
}

// WeaviateIndex implements VectorIndex on a Weaviate instance.
//
// Description:
//
//	Objects carry their embedding as a caller-provided vector
//	(vectorizer "none") plus the serialized cache entry as a text
//	property. Object IDs are deterministic UUIDs derived from the
//	normalized query, so re-inserting the same query overwrites.
//
// Thread Safety: Safe for concurrent use.
type WeaviateIndex struct {
	client *weaviate.Client
}

// NewWeaviateIndex connects to host (e.g. "localhost:8080") and ensures
// the collection exists.
func NewWeaviateIndex(ctx context.Context, scheme, host string) (*WeaviateIndex, error) {
	client, err := weaviate.NewClient(weaviate.Config{Scheme: scheme, Host: host})
	if err != nil {
		return nil, fmt.Errorf("weaviate client: %w", err)
	}

	idx := &WeaviateIndex{client: client}
	if err := idx.ensureClass(ctx); err != nil {
		return nil, err
	}
	return idx, nil
}

func (w *WeaviateIndex) ensureClass(ctx context.Context) error {
	exists, err := w.client.Schema().ClassExistenceChecker().
		WithClassName(weaviateClass).Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate schema check: %w", err)
	}
	if exists {
		return nil
	}

	class := &models.Class{
		Class:      weaviateClass,
		Vectorizer: "none",
		Properties: []*models.Property{
			{Name: "normalized", DataType: []string{"text"}},
			{Name: "payload", DataType: []string{"text"}},
		},
	}
	if err := w.client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("weaviate class create: %w", err)
	}
	slog.Info("weaviate collection created", slog.String("class", weaviateClass))
	return nil
}

// objectID derives a stable UUID from the normalized query.
func objectID(normalizedQuery string) strfmt.UUID {
	return strfmt.UUID(uuid.NewSHA1(uuid.NameSpaceOID, []byte(normalizedQuery)).String())
}

func (w *WeaviateIndex) Insert(ctx context.Context, normalizedQuery string, vector []float32, payload []byte) error {
	id := objectID(normalizedQuery)

	// Creator fails on existing IDs; delete first for overwrite semantics.
	_ = w.client.Data().Deleter().WithClassName(weaviateClass).WithID(string(id)).Do(ctx)

	_, err := w.client.Data().Creator().
		WithClassName(weaviateClass).
		WithID(string(id)).
		WithProperties(map[string]any{
			"normalized": normalizedQuery,
			"payload":    string(payload),
		}).
		WithVector(vector).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate insert: %w", err)
	}
	return nil
}

// Search returns the best payload with cosine similarity >= minCosine.
// Weaviate's certainty is (1+cosine)/2; the threshold converts over.
func (w *WeaviateIndex) Search(ctx context.Context, vector []float32, minCosine float64) ([]byte, float64, error) {
	certainty := float32((1 + minCosine) / 2)

	nearVector := w.client.GraphQL().NearVectorArgBuilder().
		WithVector(vector).
		WithCertainty(certainty)

	resp, err := w.client.GraphQL().Get().
		WithClassName(weaviateClass).
		WithFields(
			graphql.Field{Name: "payload"},
			graphql.Field{Name: "_additional", Fields: []graphql.Field{{Name: "certainty"}}},
		).
		WithNearVector(nearVector).
		WithLimit(1).
		Do(ctx)
	if err != nil {
		return nil, 0, fmt.Errorf("weaviate search: %w", err)
	}
	if len(resp.Errors) > 0 {
		return nil, 0, fmt.Errorf("weaviate search: %s", resp.Errors[0].Message)
	}

	payload, cos, ok := extractHit(resp.Data)
	if !ok {
		return nil, 0, ErrMiss
	}
	return payload, cos, nil
}

// extractHit digs the first object out of a GraphQL Get response.
func extractHit(data map[string]models.JSONObject) ([]byte, float64, bool) {
	get, ok := data["Get"].(map[string]any)
	if !ok {
		return nil, 0, false
	}
	objs, ok := get[weaviateClass].([]any)
	if !ok || len(objs) == 0 {
		return nil, 0, false
	}
	obj, ok := objs[0].(map[string]any)
	if !ok {
		return nil, 0, false
	}
	payload, _ := obj["payload"].(string)
	if payload == "" {
		return nil, 0, false
	}

	cos := 0.0
	if add, ok := obj["_additional"].(map[string]any); ok {
		if cert, ok := add["certainty"].(float64); ok {
			cos = cert*2 - 1
		}
	}
	return []byte(payload), cos, true
}

func (w *WeaviateIndex) Delete(ctx context.Context, normalizedQuery string) error {
	err := w.client.Data().Deleter().
		WithClassName(weaviateClass).
		WithID(string(objectID(normalizedQuery))).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate delete: %w", err)
	}
	return nil
}

// Clear removes every cached object.
func (w *WeaviateIndex) Clear(ctx context.Context) error {
	_, err := w.client.Batch().ObjectsBatchDeleter().
		WithClassName(weaviateClass).
		WithWhere(filters.Where().
			WithPath([]string{"normalized"}).
			WithOperator(filters.Like).
			WithValueText("*")).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("weaviate clear: %w", err)
	}
	return nil
}

// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package taxonomy loads the closed e-commerce intent vocabulary: action
// codes grouped into categories, each with example phrases, a priority
// bucket, and entity requirements. The built-in taxonomy is embedded; a
// file on disk can override it.
package taxonomy

import (
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"sort"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

//go:embed taxonomy.yaml
var defaultTaxonomyYAML []byte

//go:embed keywords_default.json
var defaultKeywordsJSON []byte

// DefaultKeywordsJSON returns the embedded default keyword dictionary in
// the on-disk wire format. The keyword matcher falls back to it when no
// dictionary files are configured.
func DefaultKeywordsJSON() []byte { return defaultKeywordsJSON }

// PriorityBucket is the coarse importance class of an intent.
type PriorityBucket string

const (
	BucketCritical PriorityBucket = "CRITICAL"
	BucketHigh     PriorityBucket = "HIGH"
	BucketMedium   PriorityBucket = "MEDIUM"
	BucketLow      PriorityBucket = "LOW"
	BucketFallback PriorityBucket = "FALLBACK"
)

// IntentDefinition bundles one action code with the data the matchers and
// the LLM prompt need.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type IntentDefinition struct {
	ActionCode          model.ActionCode `yaml:"action_code" validate:"required"`
	Description         string           `yaml:"description" validate:"required"`
	Priority            PriorityBucket   `yaml:"priority" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW FALLBACK"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	RequiredEntities    []string         `yaml:"required_entities"`
	OptionalEntities    []string         `yaml:"optional_entities"`
	ExamplePhrases      []string         `yaml:"example_phrases" validate:"min=1,dive,required"`

	// Category is filled in during load from the enclosing category block.
	Category string `yaml:"-"`
}

// Category groups intents under a taxonomy heading.
type Category struct {
	Name    string             `yaml:"name" validate:"required"`
	Intents []IntentDefinition `yaml:"intents" validate:"min=1,dive"`
}

type taxonomyFile struct {
	Categories []Category `yaml:"categories" validate:"min=1,dive"`
}

// Taxonomy is the loaded, immutable intent vocabulary.
//
// Description:
//
//	Holds every intent definition indexed by action code. Built once at
//	startup (or on explicit reload) and then shared read-only across the
//	pipeline: the embedding matcher derives reference vectors from the
//	example phrases, the decision engine checks code validity, and the
//	LLM prompt builder lists the vocabulary.
//
// Thread Safety: Immutable after Load; safe for concurrent readers.
type Taxonomy struct {
	byCode     map[model.ActionCode]*IntentDefinition
	codes      []model.ActionCode // sorted ascending
	categories []Category
}

// Load parses and validates a taxonomy from YAML bytes.
//
// Inputs:
//   - data: YAML in the taxonomy file format.
//
// Outputs:
//   - *Taxonomy: The loaded vocabulary.
//   - error: Parse or validation failure, including duplicate action codes.
func Load(data []byte) (*Taxonomy, error) {
	var file taxonomyFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse taxonomy: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&file); err != nil {
		return nil, fmt.Errorf("validate taxonomy: %w", err)
	}

	t := &Taxonomy{
		byCode:     make(map[model.ActionCode]*IntentDefinition),
		categories: file.Categories,
	}
	for ci := range file.Categories {
		cat := &file.Categories[ci]
		for ii := range cat.Intents {
			def := &cat.Intents[ii]
			def.Category = cat.Name
			if _, dup := t.byCode[def.ActionCode]; dup {
				return nil, fmt.Errorf("duplicate action code %q", def.ActionCode)
			}
			t.byCode[def.ActionCode] = def
			t.codes = append(t.codes, def.ActionCode)
		}
	}
	sort.Slice(t.codes, func(i, j int) bool { return t.codes[i] < t.codes[j] })
	return t, nil
}

// LoadDefault loads the embedded built-in taxonomy.
func LoadDefault() (*Taxonomy, error) {
	return Load(defaultTaxonomyYAML)
}

// LoadFile loads a taxonomy from a YAML file on disk, falling back to the
// embedded default when path is empty.
func LoadFile(path string) (*Taxonomy, error) {
	if path == "" {
		return LoadDefault()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read taxonomy file: %w", err)
	}
	t, err := Load(data)
	if err != nil {
		return nil, err
	}
	slog.Info("taxonomy loaded from file",
		slog.String("path", path),
		slog.Int("action_codes", len(t.codes)))
	return t, nil
}

// Lookup returns the definition for an action code, or nil when the code
// is not part of the vocabulary.
func (t *Taxonomy) Lookup(code model.ActionCode) *IntentDefinition {
	return t.byCode[code]
}

// Contains reports whether code belongs to the vocabulary.
func (t *Taxonomy) Contains(code model.ActionCode) bool {
	_, ok := t.byCode[code]
	return ok
}

// ActionCodes returns all action codes sorted ascending. The returned
// slice is shared; callers must not mutate it.
func (t *Taxonomy) ActionCodes() []model.ActionCode { return t.codes }

// Categories returns the category blocks as loaded.
func (t *Taxonomy) Categories() []Category { return t.categories }

// Len returns the number of action codes in the vocabulary.
func (t *Taxonomy) Len() int { return len(t.codes) }

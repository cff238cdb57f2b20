// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config manages the hot-reloadable classification rule-sets.
// Exactly one named variant is active at a time; the request path reads an
// atomic snapshot once at entry, so an A/B switch mid-flight never yields
// mixed weights within a single request.
package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sync/atomic"

	"github.com/go-playground/validator/v10"
)

// weightEpsilon is the tolerance for kw_weight + emb_weight == 1.
const weightEpsilon = 1e-6

// Variant is one named classification rule-set.
//
// Thread Safety: Immutable once published through Manager; treat as
// read-only.
type Variant struct {
	Name string `json:"name"`

	// KwWeight and EmbWeight blend the two matchers. They must sum to 1.
	KwWeight  float64 `json:"kw_weight" validate:"gte=0,lte=1"`
	EmbWeight float64 `json:"emb_weight" validate:"gte=0,lte=1"`

	// PriorityThreshold short-circuits the cascade: a keyword candidate at
	// or above it skips embedding entirely.
	PriorityThreshold float64 `json:"priority_threshold" validate:"gte=0,lte=1"`

	// ConfidenceThreshold and GapThreshold drive the confidence gate.
	ConfidenceThreshold float64 `json:"confidence_threshold" validate:"gte=0,lte=1"`
	GapThreshold        float64 `json:"gap_threshold" validate:"gte=0,lte=1"`

	UseEmbedding bool   `json:"use_embedding"`
	UseLLM       bool   `json:"use_llm"`
	LLMModel     string `json:"llm_model"`
}

// File is the on-disk configuration shape.
type File struct {
	ActiveVariant string `json:"active_variant" validate:"required"`
	Rules         struct {
		RuleSets map[string]Variant `json:"rule_sets" validate:"min=1"`
	} `json:"rules"`
}

// Config is one validated, immutable configuration snapshot.
type Config struct {
	active   string
	variants map[string]Variant
}

// Active returns the active variant of this snapshot.
func (c *Config) Active() Variant { return c.variants[c.active] }

// ActiveName returns the name of the active variant.
func (c *Config) ActiveName() string { return c.active }

// Variant looks up a named variant.
func (c *Config) Variant(name string) (Variant, bool) {
	v, ok := c.variants[name]
	return v, ok
}

// VariantNames lists the configured variant names.
func (c *Config) VariantNames() []string {
	names := make([]string, 0, len(c.variants))
	for name := range c.variants {
		names = append(names, name)
	}
	return names
}

// Default returns the built-in configuration used when no file is given.
func Default() *Config {
	a := Variant{
		Name:                "A",
		KwWeight:            0.6,
		EmbWeight:           0.4,
		PriorityThreshold:   0.85,
		ConfidenceThreshold: 0.60,
		GapThreshold:        0.15,
		UseEmbedding:        true,
		UseLLM:              true,
		LLMModel:            "gpt-4o-mini",
	}
	return &Config{active: "A", variants: map[string]Variant{"A": a}}
}

// Parse validates raw JSON into a Config.
//
// Outputs:
//   - *Config: The validated snapshot.
//   - error: Malformed JSON, a variant whose weights do not sum to 1
//     within 1e-6, a threshold out of [0,1], or an unknown active variant.
func Parse(data []byte) (*Config, error) {
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	v := validator.New()
	if err := v.Struct(&file); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	variants := make(map[string]Variant, len(file.Rules.RuleSets))
	for name, variant := range file.Rules.RuleSets {
		if variant.Name == "" {
			variant.Name = name
		}
		if err := validateVariant(v, variant); err != nil {
			return nil, fmt.Errorf("variant %q: %w", name, err)
		}
		variants[name] = variant
	}

	if _, ok := variants[file.ActiveVariant]; !ok {
		return nil, fmt.Errorf("active variant %q not found in rule_sets", file.ActiveVariant)
	}
	return &Config{active: file.ActiveVariant, variants: variants}, nil
}

// ParseFile reads and validates a config file.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	return Parse(data)
}

func validateVariant(v *validator.Validate, variant Variant) error {
	if err := v.Struct(&variant); err != nil {
		return err
	}
	if math.Abs(variant.KwWeight+variant.EmbWeight-1.0) > weightEpsilon {
		return fmt.Errorf("kw_weight (%v) + emb_weight (%v) must sum to 1.0",
			variant.KwWeight, variant.EmbWeight)
	}
	return nil
}

// Override carries environment-driven tuning knobs applied on top of a
// loaded configuration. Nil fields leave the variant value untouched.
type Override struct {
	KwWeight            *float64
	EmbWeight           *float64
	PriorityThreshold   *float64
	ConfidenceThreshold *float64
	GapThreshold        *float64
}

func (o Override) empty() bool {
	return o.KwWeight == nil && o.EmbWeight == nil && o.PriorityThreshold == nil &&
		o.ConfidenceThreshold == nil && o.GapThreshold == nil
}

// Apply returns a new snapshot with o applied to every variant. Each
// adjusted variant is re-validated; an override that breaks the weight
// sum or a threshold bound is rejected as a whole.
func (c *Config) Apply(o Override) (*Config, error) {
	if o.empty() {
		return c, nil
	}

	v := validator.New()
	variants := make(map[string]Variant, len(c.variants))
	for name, variant := range c.variants {
		if o.KwWeight != nil {
			variant.KwWeight = *o.KwWeight
		}
		if o.EmbWeight != nil {
			variant.EmbWeight = *o.EmbWeight
		}
		if o.PriorityThreshold != nil {
			variant.PriorityThreshold = *o.PriorityThreshold
		}
		if o.ConfidenceThreshold != nil {
			variant.ConfidenceThreshold = *o.ConfidenceThreshold
		}
		if o.GapThreshold != nil {
			variant.GapThreshold = *o.GapThreshold
		}
		if err := validateVariant(v, variant); err != nil {
			return nil, fmt.Errorf("override on variant %q: %w", name, err)
		}
		variants[name] = variant
	}
	return &Config{active: c.active, variants: variants}, nil
}

// Manager publishes configuration snapshots through an atomic pointer.
//
// Description:
//
//	The request path calls Snapshot() exactly once at entry and carries
//	the returned Variant by value for the rest of the request. Reloads
//	and A/B switches replace the pointer atomically; in-flight requests
//	keep their snapshot.
//
// Thread Safety: Safe for concurrent use.
type Manager struct {
	current atomic.Pointer[Config]
}

// NewManager wraps an initial snapshot.
func NewManager(initial *Config) *Manager {
	m := &Manager{}
	m.current.Store(initial)
	return m
}

// Snapshot returns the current configuration. Callers must not retain it
// across requests.
func (m *Manager) Snapshot() *Config { return m.current.Load() }

// Active is shorthand for Snapshot().Active().
func (m *Manager) Active() Variant { return m.Snapshot().Active() }

// Replace atomically publishes a new snapshot.
func (m *Manager) Replace(cfg *Config) { m.current.Store(cfg) }

// SwitchVariant activates a different variant of the current snapshot.
//
// Outputs:
//   - error: When name is not a configured variant. The active snapshot
//     is left untouched on error.
func (m *Manager) SwitchVariant(name string) error {
	cur := m.current.Load()
	if _, ok := cur.variants[name]; !ok {
		return fmt.Errorf("unknown variant %q", name)
	}
	next := &Config{active: name, variants: cur.variants}
	m.current.Store(next)
	return nil
}

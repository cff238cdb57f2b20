// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package keyword

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

// dictEntry is the wire format of one dictionary record:
// { "ACTION_CODE": { "priority": 1, "keywords": ["..."] } }.
type dictEntry struct {
	Priority int      `json:"priority"`
	Keywords []string `json:"keywords"`
}

// LoadBytes builds a Matcher from a single JSON dictionary.
//
// Inputs:
//   - data: JSON mapping action codes to {priority, keywords}.
//   - norm: Shared normalizer for pattern precomputation.
//
// Outputs:
//   - *Matcher: Compiled matcher.
//   - error: JSON parse failure or no usable entries.
func LoadBytes(data []byte, norm *normalize.Normalizer) (*Matcher, error) {
	entries, err := parseDict(data)
	if err != nil {
		return nil, err
	}
	return newMatcher(entries, norm), nil
}

// LoadDir builds a Matcher from every *.json dictionary in dir. Files that
// fail to parse are skipped with a warning; the matcher starts without
// them. When dir is empty or yields no entries, fallback is used instead.
//
// Outputs:
//   - *Matcher: Compiled matcher over all readable dictionaries.
//   - error: Only when even the fallback dictionary is unusable.
func LoadDir(dir string, fallback []byte, norm *normalize.Normalizer) (*Matcher, error) {
	merged := make(map[model.ActionCode]dictEntry)

	if dir != "" {
		paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
		if err == nil {
			for _, path := range paths {
				data, err := os.ReadFile(path)
				if err != nil {
					slog.Warn("skipping unreadable keyword file",
						slog.String("path", path), slog.Any("error", err))
					continue
				}
				entries, err := parseDict(data)
				if err != nil {
					slog.Warn("skipping malformed keyword file",
						slog.String("path", path), slog.Any("error", err))
					continue
				}
				for code, entry := range entries {
					merged[code] = entry
				}
				slog.Info("keyword dictionary loaded",
					slog.String("path", path), slog.Int("action_codes", len(entries)))
			}
		}
	}

	if len(merged) == 0 {
		entries, err := parseDict(fallback)
		if err != nil {
			return nil, fmt.Errorf("default keyword dictionary: %w", err)
		}
		merged = entries
	}

	m := newMatcher(merged, norm)
	slog.Info("keyword matcher ready",
		slog.Int("action_codes", len(merged)),
		slog.Int("patterns", m.PatternCount()))
	return m, nil
}

// parseDict decodes a dictionary and clamps priorities into 1..9.
func parseDict(data []byte) (map[model.ActionCode]dictEntry, error) {
	var raw map[model.ActionCode]dictEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("parse keyword dictionary: %w", err)
	}
	if len(raw) == 0 {
		return nil, fmt.Errorf("keyword dictionary is empty")
	}
	for code, entry := range raw {
		if entry.Priority < 1 {
			entry.Priority = 1
			raw[code] = entry
		} else if entry.Priority > 9 {
			entry.Priority = 9
			raw[code] = entry
		}
	}
	return raw, nil
}

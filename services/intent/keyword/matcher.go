// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package keyword implements the rule-based first stage of the
// classification cascade: normalized query segments are matched against
// loaded keyword dictionaries and scored by pattern priority.
package keyword

import (
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

// compiledPattern is one keyword pattern, classified at load time as
// either a literal phrase or a regular expression.
type compiledPattern struct {
	// raw is the pattern exactly as it appeared in the dictionary.
	raw string

	// normalized and tokens are precomputed for literal patterns.
	normalized string
	tokens     []string
	tokenSet   map[string]struct{}

	// re is non-nil for regex patterns, compiled case-insensitive.
	re *regexp.Regexp
}

// actionPatterns groups the compiled patterns of one action code with its
// file-local priority (1 highest .. 9 lowest).
type actionPatterns struct {
	code     model.ActionCode
	priority int
	patterns []compiledPattern
}

// Matcher scores queries against the loaded keyword dictionaries.
//
// Description:
//
//	Patterns are compiled once at load. Exact literal matches score
//	1.0/priority, regex matches (matchLen/patternLen)/priority, and
//	token-overlap partials (overlap/|patternTokens|)/priority. Scores
//	aggregate per action code by maximum, never by sum.
//
// Thread Safety: Immutable after construction; safe for concurrent use.
type Matcher struct {
	actions []actionPatterns // sorted by action code for determinism
	norm    *normalize.Normalizer
}

// regexMeta marks a pattern as a regular expression when present.
var regexMeta = []string{`\b`, `.*`, `[`, `]`, `(`, `)`, `|`, `^`, `+`, `?`, `\d`, `\w`, `\s`}

func isRegexPattern(p string) bool {
	for _, m := range regexMeta {
		if strings.Contains(p, m) {
			return true
		}
	}
	return false
}

// newMatcher compiles the loaded dictionary entries. Patterns that fail
// regex compilation are dropped with a warning rather than failing load.
func newMatcher(entries map[model.ActionCode]dictEntry, norm *normalize.Normalizer) *Matcher {
	m := &Matcher{norm: norm}
	for code, entry := range entries {
		ap := actionPatterns{code: code, priority: entry.Priority}
		seen := make(map[string]struct{}, len(entry.Keywords))
		for _, raw := range entry.Keywords {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			dedupKey := strings.ToLower(raw)
			if _, dup := seen[dedupKey]; dup {
				continue
			}
			seen[dedupKey] = struct{}{}

			cp := compiledPattern{raw: raw}
			if isRegexPattern(raw) {
				re, err := regexp.Compile("(?i)" + raw)
				if err != nil {
					slog.Warn("dropping invalid keyword regex",
						slog.String("action_code", string(code)),
						slog.String("pattern", raw),
						slog.Any("error", err))
					continue
				}
				cp.re = re
			} else {
				cp.normalized = norm.String(raw)
				cp.tokens = normalize.Tokenize(cp.normalized)
				cp.tokenSet = make(map[string]struct{}, len(cp.tokens))
				for _, t := range cp.tokens {
					cp.tokenSet[t] = struct{}{}
				}
			}
			ap.patterns = append(ap.patterns, cp)
		}
		if len(ap.patterns) > 0 {
			m.actions = append(m.actions, ap)
		}
	}
	sort.Slice(m.actions, func(i, j int) bool { return m.actions[i].code < m.actions[j].code })
	return m
}

// PatternCount returns the total number of compiled patterns.
func (m *Matcher) PatternCount() int {
	n := 0
	for _, ap := range m.actions {
		n += len(ap.patterns)
	}
	return n
}

// Search scores the query against every dictionary pattern and returns the
// top-N candidates, sorted by score descending.
//
// Inputs:
//   - query: Raw user utterance.
//   - topN: Maximum candidates to return. Non-positive means all.
//
// Outputs:
//   - []model.Candidate: Candidates with Source=keyword, best match per
//     action code, ties broken by match-type rank then action code.
func (m *Matcher) Search(query string, topN int) []model.Candidate {
	res := m.norm.Normalize(query)
	segments := res.Segments
	if len(segments) == 0 {
		if res.Normalized == "" {
			return nil
		}
		segments = []string{res.Normalized}
	}

	segTokens := make([]map[string]struct{}, len(segments))
	for i, seg := range segments {
		toks := normalize.Tokenize(seg)
		segTokens[i] = make(map[string]struct{}, len(toks))
		for _, t := range toks {
			segTokens[i][t] = struct{}{}
		}
	}

	var candidates []model.Candidate
	for _, ap := range m.actions {
		best, ok := m.scoreAction(ap, segments, segTokens)
		if ok {
			candidates = append(candidates, best)
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Score != b.Score {
			return a.Score > b.Score
		}
		if a.MatchType.Rank() != b.MatchType.Rank() {
			return a.MatchType.Rank() > b.MatchType.Rank()
		}
		return a.ActionCode < b.ActionCode
	})

	if topN > 0 && len(candidates) > topN {
		candidates = candidates[:topN]
	}
	return candidates
}

// scoreAction computes the best-scoring match for one action code across
// all its patterns and all query segments.
func (m *Matcher) scoreAction(ap actionPatterns, segments []string, segTokens []map[string]struct{}) (model.Candidate, bool) {
	best := model.Candidate{ActionCode: ap.code, Source: model.SourceKeyword}
	found := false
	priority := float64(ap.priority)

	for _, cp := range ap.patterns {
		for si, seg := range segments {
			score, matchType, matched := scorePattern(cp, seg, segTokens[si], priority)
			if score <= 0 {
				continue
			}
			if !found || betterMatch(score, matchType, best) {
				best.Score = score
				best.MatchType = matchType
				best.MatchedText = matched
				found = true
			}
		}
	}
	return best, found
}

// betterMatch reports whether (score, matchType) beats the current best.
func betterMatch(score float64, mt model.MatchType, cur model.Candidate) bool {
	if score != cur.Score {
		return score > cur.Score
	}
	return mt.Rank() > cur.MatchType.Rank()
}

// scorePattern scores one (pattern, segment) pair.
func scorePattern(cp compiledPattern, segment string, segTokens map[string]struct{}, priority float64) (float64, model.MatchType, string) {
	if cp.re != nil {
		match := cp.re.FindString(segment)
		if match == "" {
			return 0, "", ""
		}
		ratio := float64(len(match)) / float64(len(cp.raw))
		if ratio > 1 {
			ratio = 1
		}
		return ratio / priority, model.MatchRegex, match
	}

	if segment == cp.normalized {
		return 1.0 / priority, model.MatchExact, cp.normalized
	}

	overlap := 0
	for _, t := range cp.tokens {
		if _, ok := segTokens[t]; ok {
			overlap++
		}
	}
	if overlap == 0 || len(cp.tokens) == 0 {
		return 0, "", ""
	}
	return (float64(overlap) / float64(len(cp.tokens))) / priority, model.MatchPartial, cp.normalized
}

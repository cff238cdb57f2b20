// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package classify orchestrates the hybrid cascade: blend keyword and
// embedding candidates, gate on confidence, and decide between an
// immediate answer, a cached answer, and LLM escalation.
package classify

import (
	"sort"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// Blend bonuses. Consensus rewards agreement between both matchers;
// the confidence bonus rewards a near-certain individual signal.
const (
	consensusBonus     = 0.05
	confidenceBonus    = 0.03
	confidenceBonusBar = 0.90
)

// Blend merges keyword and embedding candidates into one ranked list.
//
// Description:
//
//	Candidates merge by action code. Each merged score is
//	kwWeight*k + embWeight*e, plus the consensus bonus when both
//	matchers contributed and the confidence bonus when either component
//	reached 0.90, clamped to [0,1]. When one side is empty the other
//	passes through (still Source=blended) with the missing component
//	recorded as zero.
//
// Inputs:
//   - kw: Keyword candidates (Source=keyword).
//   - emb: Embedding candidates (Source=embedding).
//   - kwWeight, embWeight: Blend weights; callers renormalize when one
//     matcher is out of play.
//
// Outputs:
//   - []model.Candidate: Sorted by score desc, then larger individual
//     component, then action code ascending.
func Blend(kw, emb []model.Candidate, kwWeight, embWeight float64) []model.Candidate {
	type pair struct {
		k, e        float64
		matchType   model.MatchType
		matchedText string
	}
	merged := make(map[model.ActionCode]*pair, len(kw)+len(emb))

	for _, c := range kw {
		p := merged[c.ActionCode]
		if p == nil {
			p = &pair{}
			merged[c.ActionCode] = p
		}
		if c.Score > p.k {
			p.k = c.Score
			p.matchType = c.MatchType
			p.matchedText = c.MatchedText
		}
	}
	for _, c := range emb {
		p := merged[c.ActionCode]
		if p == nil {
			p = &pair{}
			merged[c.ActionCode] = p
		}
		if c.Score > p.e {
			p.e = c.Score
		}
	}

	out := make([]model.Candidate, 0, len(merged))
	for code, p := range merged {
		score := kwWeight*p.k + embWeight*p.e
		if p.k > 0 && p.e > 0 {
			score += consensusBonus
		}
		if p.k >= confidenceBonusBar || p.e >= confidenceBonusBar {
			score += confidenceBonus
		}
		out = append(out, model.Candidate{
			ActionCode:      code,
			Score:           model.Clamp01(score),
			Source:          model.SourceBlended,
			MatchType:       p.matchType,
			MatchedText:     p.matchedText,
			ComponentScores: &model.ComponentScores{Keyword: p.k, Embedding: p.e},
		})
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		mi, mj := out[i].MaxComponent(), out[j].MaxComponent()
		if mi != mj {
			return mi > mj
		}
		return out[i].ActionCode < out[j].ActionCode
	})
	return out
}

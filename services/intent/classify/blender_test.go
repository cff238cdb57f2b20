// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package classify

import (
	"math"
	"testing"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

func kwCand(code model.ActionCode, score float64) model.Candidate {
	return model.Candidate{ActionCode: code, Score: score, Source: model.SourceKeyword}
}

func embCand(code model.ActionCode, score float64) model.Candidate {
	return model.Candidate{ActionCode: code, Score: score, Source: model.SourceEmbedding}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestBlend_WeightedSumWithConsensusBonus(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 0.8)},
		[]model.Candidate{embCand("ADD_TO_CART", 0.75)},
		0.6, 0.4)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	// 0.6*0.8 + 0.4*0.75 = 0.78, + 0.05 consensus.
	if !approx(out[0].Score, 0.83) {
		t.Errorf("score = %v, want 0.83", out[0].Score)
	}
	if out[0].Source != model.SourceBlended {
		t.Errorf("source = %s, want blended", out[0].Source)
	}
	cs := out[0].ComponentScores
	if cs == nil || cs.Keyword != 0.8 || cs.Embedding != 0.75 {
		t.Errorf("component scores = %+v", cs)
	}
}

func TestBlend_ConfidenceBonusAtNinety(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("ORDER_STATUS", 0.9)},
		[]model.Candidate{embCand("ORDER_STATUS", 0.85)},
		0.6, 0.4)
	// 0.54 + 0.34 = 0.88, + 0.05 consensus + 0.03 confidence.
	if !approx(out[0].Score, 0.96) {
		t.Errorf("score = %v, want 0.96", out[0].Score)
	}
}

func TestBlend_NoBonusesForSingleSource(t *testing.T) {
	out := Blend([]model.Candidate{kwCand("VIEW_CART", 0.8)}, nil, 1, 0)
	if !approx(out[0].Score, 0.8) {
		t.Errorf("score = %v, want 0.8 with no bonuses", out[0].Score)
	}
	if out[0].ComponentScores.Embedding != 0 {
		t.Errorf("embedding component = %v, want 0", out[0].ComponentScores.Embedding)
	}
}

func TestBlend_ClampsToOne(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("ADD_TO_CART", 1.0)},
		[]model.Candidate{embCand("ADD_TO_CART", 1.0)},
		0.6, 0.4)
	if out[0].Score != 1.0 {
		t.Errorf("score = %v, want clamped 1.0", out[0].Score)
	}
}

func TestBlend_MergesByActionCode(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("A", 0.7), kwCand("B", 0.5)},
		[]model.Candidate{embCand("B", 0.9), embCand("C", 0.6)},
		0.5, 0.5)
	if len(out) != 3 {
		t.Fatalf("len = %d, want 3", len(out))
	}
	scores := map[model.ActionCode]float64{}
	for _, c := range out {
		scores[c.ActionCode] = c.Score
	}
	// B: 0.25 + 0.45 + 0.05 consensus + 0.03 (emb 0.9 at the bar).
	if !approx(scores["B"], 0.78) {
		t.Errorf("B = %v, want 0.78", scores["B"])
	}
	if !approx(scores["A"], 0.35) || !approx(scores["C"], 0.3) {
		t.Errorf("single-source scores = %v", scores)
	}
	if out[0].ActionCode != "B" {
		t.Errorf("ranking: top = %s, want B", out[0].ActionCode)
	}
}

func TestBlend_DuplicateCodesKeepBestComponent(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("A", 0.4), kwCand("A", 0.7)},
		nil, 1, 0)
	if len(out) != 1 {
		t.Fatalf("len = %d, want 1", len(out))
	}
	if !approx(out[0].Score, 0.7) {
		t.Errorf("score = %v, want best keyword component 0.7", out[0].Score)
	}
}

func TestBlend_TieBreaksByMaxComponentThenCode(t *testing.T) {
	out := Blend(
		[]model.Candidate{kwCand("A", 0.6), kwCand("B", 0.8)},
		[]model.Candidate{embCand("A", 0.6), embCand("B", 0.4)},
		0.5, 0.5)
	// A: 0.6+0.05 = 0.65; B: 0.6+0.05 = 0.65. B's max component 0.8 > 0.6.
	if out[0].ActionCode != "B" {
		t.Errorf("top = %s, want B by larger component", out[0].ActionCode)
	}

	// Identical everything: ascending action code decides.
	out = Blend(
		[]model.Candidate{kwCand("D", 0.5), kwCand("C", 0.5)},
		nil, 1, 0)
	if out[0].ActionCode != "C" {
		t.Errorf("top = %s, want C by action code", out[0].ActionCode)
	}
}

func TestBlend_EmptyInputs(t *testing.T) {
	if out := Blend(nil, nil, 0.6, 0.4); len(out) != 0 {
		t.Errorf("blend of nothing = %+v", out)
	}
}

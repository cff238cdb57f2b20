// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package model

import "testing"

func TestPriority_Bump(t *testing.T) {
	cases := []struct {
		in, want Priority
	}{
		{PriorityLow, PriorityNormal},
		{PriorityNormal, PriorityHigh},
		{PriorityHigh, PriorityHigh},
	}
	for _, tc := range cases {
		if got := tc.in.Bump(); got != tc.want {
			t.Errorf("Bump(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestRequestState_CanTransition(t *testing.T) {
	allowed := []struct{ from, to RequestState }{
		{StateQueued, StateProcessing},
		{StateQueued, StateCompleted},
		{StateQueued, StateFailed},
		{StateProcessing, StateCompleted},
		{StateProcessing, StateFailed},
	}
	for _, tc := range allowed {
		if !tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be allowed", tc.from, tc.to)
		}
	}

	denied := []struct{ from, to RequestState }{
		{StateProcessing, StateQueued},
		{StateCompleted, StateProcessing},
		{StateCompleted, StateFailed},
		{StateFailed, StateCompleted},
		{StateQueued, StateQueued},
	}
	for _, tc := range denied {
		if tc.from.CanTransition(tc.to) {
			t.Errorf("%s -> %s should be denied", tc.from, tc.to)
		}
	}
}

func TestMatchType_Rank(t *testing.T) {
	if MatchExact.Rank() <= MatchRegex.Rank() || MatchRegex.Rank() <= MatchPartial.Rank() {
		t.Errorf("rank order broken: exact=%d regex=%d partial=%d",
			MatchExact.Rank(), MatchRegex.Rank(), MatchPartial.Rank())
	}
	if MatchType("bogus").Rank() != 0 {
		t.Errorf("unknown match type should rank 0")
	}
}

func TestCandidate_MaxComponent(t *testing.T) {
	c := Candidate{Score: 0.8}
	if got := c.MaxComponent(); got != 0.8 {
		t.Errorf("no components: MaxComponent = %v, want Score", got)
	}
	c.ComponentScores = &ComponentScores{Keyword: 0.6, Embedding: 0.9}
	if got := c.MaxComponent(); got != 0.9 {
		t.Errorf("MaxComponent = %v, want 0.9", got)
	}
}

func TestEntities_Empty(t *testing.T) {
	var nilEnt *Entities
	if !nilEnt.Empty() {
		t.Error("nil entities should be empty")
	}
	if !(&Entities{}).Empty() {
		t.Error("zero entities should be empty")
	}
	if (&Entities{Brand: "Nike"}).Empty() {
		t.Error("entities with a brand should not be empty")
	}
	min := 10.0
	if (&Entities{PriceRange: &PriceRange{Min: &min}}).Empty() {
		t.Error("entities with a price range should not be empty")
	}
}

func TestClamp01(t *testing.T) {
	cases := []struct{ in, want float64 }{
		{-0.5, 0}, {0, 0}, {0.42, 0.42}, {1, 1}, {1.08, 1},
	}
	for _, tc := range cases {
		if got := Clamp01(tc.in); got != tc.want {
			t.Errorf("Clamp01(%v) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

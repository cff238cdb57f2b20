// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package entities

import (
	"testing"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

func newExtractor() *Extractor {
	return NewExtractor(normalize.New(0))
}

func TestExtract_FullUtterance(t *testing.T) {
	ent := newExtractor().Extract("nike sneakers in grey size 9 under $50")
	if ent == nil {
		t.Fatal("nothing extracted")
	}
	if ent.Brand != "Nike" {
		t.Errorf("brand = %q, want Nike", ent.Brand)
	}
	if ent.Color != "gray" {
		t.Errorf("color = %q, want gray (canonicalized)", ent.Color)
	}
	if ent.ProductType != "sneakers" || ent.Category != "footwear" {
		t.Errorf("product = %q / %q", ent.ProductType, ent.Category)
	}
	if ent.Size != "9" {
		t.Errorf("size = %q, want 9", ent.Size)
	}
	pr := ent.PriceRange
	if pr == nil || pr.Max == nil || *pr.Max != 50 || pr.Min != nil {
		t.Fatalf("price range = %+v", pr)
	}
	if pr.Currency != "USD" {
		t.Errorf("currency = %q, want USD", pr.Currency)
	}
}

func TestExtract_PriceBounds(t *testing.T) {
	x := newExtractor()

	ent := x.Extract("jackets between $20 and $40")
	if ent == nil || ent.PriceRange == nil {
		t.Fatal("no price range")
	}
	pr := ent.PriceRange
	if pr.Min == nil || *pr.Min != 20 || pr.Max == nil || *pr.Max != 40 {
		t.Errorf("between = %+v", pr)
	}

	ent = x.Extract("laptops over 1000")
	if ent == nil || ent.PriceRange == nil || ent.PriceRange.Min == nil || *ent.PriceRange.Min != 1000 {
		t.Fatalf("over = %+v", ent)
	}
	if ent.PriceRange.Currency != "" {
		t.Errorf("currency = %q, want empty without a symbol", ent.PriceRange.Currency)
	}

	ent = x.Extract("phones at most ₹15000")
	if ent == nil || ent.PriceRange == nil || ent.PriceRange.Max == nil || *ent.PriceRange.Max != 15000 {
		t.Fatalf("at most = %+v", ent)
	}
	if ent.PriceRange.Currency != "INR" {
		t.Errorf("currency = %q, want INR", ent.PriceRange.Currency)
	}

	ent = x.Extract("shoes from 30 to 60")
	if ent == nil || ent.PriceRange == nil {
		t.Fatal("no range for from..to")
	}
	if *ent.PriceRange.Min != 30 || *ent.PriceRange.Max != 60 {
		t.Errorf("from..to = %+v", ent.PriceRange)
	}
}

func TestExtract_WordSizes(t *testing.T) {
	x := newExtractor()

	ent := x.Extract("a large black hoodie")
	if ent == nil || ent.Size != "L" {
		t.Fatalf("entities = %+v, want size L", ent)
	}

	// A bare "l" without a "size" cue is too ambiguous to take.
	ent = x.Extract("l shirts")
	if ent != nil && ent.Size != "" {
		t.Errorf("bare single letter taken as size: %+v", ent)
	}

	// With the cue it is explicit.
	ent = x.Extract("shirts in size L")
	if ent == nil || ent.Size != "L" {
		t.Fatalf("entities = %+v, want size L from cue", ent)
	}
}

func TestExtract_BrandSurfaceForms(t *testing.T) {
	x := newExtractor()
	cases := []struct{ query, want string }{
		{"levis jeans", "Levi's"},
		{"hm dress", "H&M"},
		{"SAMSUNG phone", "Samsung"},
	}
	for _, tc := range cases {
		ent := x.Extract(tc.query)
		if ent == nil || ent.Brand != tc.want {
			t.Errorf("Extract(%q).Brand = %+v, want %s", tc.query, ent, tc.want)
		}
	}
}

func TestExtract_NothingRecognizedReturnsNil(t *testing.T) {
	if ent := newExtractor().Extract("tell me a joke"); ent != nil {
		t.Errorf("extracted from noise: %+v", ent)
	}
}

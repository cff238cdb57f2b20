// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package entities extracts structured shopping fields (product, brand,
// color, size, price range) from utterances with rule-based patterns,
// validates them, and merges rule output with LLM output.
package entities

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
	"github.com/indpro-interns-oct-25/chatNShop/services/intent/normalize"
)

// knownBrands maps lowercase surface forms to canonical brand names.
// Multiple surface forms may share a canonical name.
var knownBrands = map[string]string{
	"nike":    "Nike",
	"adidas":  "Adidas",
	"puma":    "Puma",
	"reebok":  "Reebok",
	"levis":   "Levi's",
	"levi's":  "Levi's",
	"h&m":     "H&M",
	"hm":      "H&M",
	"zara":    "Zara",
	"gucci":   "Gucci",
	"prada":   "Prada",
	"uniqlo":  "Uniqlo",
	"gap":     "Gap",
	"apple":   "Apple",
	"samsung": "Samsung",
	"sony":    "Sony",
	"lg":      "LG",
	"dell":    "Dell",
	"hp":      "HP",
	"lenovo":  "Lenovo",
}

// knownColors maps surface forms to canonical colors. British spellings
// normalize to the American form used by the catalog.
var knownColors = map[string]string{
	"red": "red", "blue": "blue", "green": "green", "black": "black",
	"white": "white", "gray": "gray", "grey": "gray", "yellow": "yellow",
	"pink": "pink", "purple": "purple", "orange": "orange", "brown": "brown",
	"navy": "navy", "beige": "beige", "maroon": "maroon", "teal": "teal",
}

// productTypes is the seed vocabulary of product nouns, mapped to their
// catalog category.
var productTypes = map[string]string{
	"shoes": "footwear", "sneakers": "footwear", "boots": "footwear",
	"sandals": "footwear", "heels": "footwear",
	"shirt": "apparel", "tshirt": "apparel", "t-shirt": "apparel",
	"dress": "apparel", "jeans": "apparel", "jacket": "apparel",
	"hoodie": "apparel", "sweater": "apparel", "shorts": "apparel",
	"skirt": "apparel", "coat": "apparel",
	"phone": "electronics", "laptop": "electronics", "tablet": "electronics",
	"headphones": "electronics", "earbuds": "electronics", "tv": "electronics",
	"camera": "electronics", "speaker": "electronics",
	"watch": "accessories", "bag": "accessories", "backpack": "accessories",
	"wallet": "accessories", "belt": "accessories", "sunglasses": "accessories",
}

// wordSizes are sizes that appear bare, without a "size" prefix.
var wordSizes = map[string]string{
	"small": "S", "medium": "M", "large": "L",
	"xs": "XS", "s": "S", "m": "M", "l": "L",
	"xl": "XL", "xxl": "XXL", "xxxl": "XXXL",
}

var currencySymbols = map[string]string{
	"$": "USD", "₹": "INR", "€": "EUR", "£": "GBP",
}

var (
	sizeRe = regexp.MustCompile(`(?i)\bsize\s+([a-z0-9]+)\b`)

	// amount: optional currency symbol, digits with optional separators.
	amount = `(?:(\$|₹|€|£)\s*)?(\d+(?:[.,]\d+)?)`

	maxPriceRe     = regexp.MustCompile(`(?i)\b(?:under|below|less than|at most|max(?:imum)?)\s+` + amount)
	minPriceRe     = regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?)\s+` + amount)
	betweenPriceRe = regexp.MustCompile(`(?i)\b(?:between|from)\s+` + amount + `\s+(?:and|to|-)\s+` + amount)
)

// Extractor runs the rule-based pass over a normalized utterance.
//
// Thread Safety: Safe for concurrent use; all state is immutable.
type Extractor struct {
	norm *normalize.Normalizer
}

// NewExtractor creates an Extractor sharing the pipeline's normalizer.
func NewExtractor(norm *normalize.Normalizer) *Extractor {
	return &Extractor{norm: norm}
}

// Extract pulls every recognizable entity out of query. Returns nil when
// nothing was found.
func (x *Extractor) Extract(query string) *model.Entities {
	ent := &model.Entities{}

	// Price and explicit sizes match on the raw query: normalization
	// strips the currency symbols and the "size 9" digits keep meaning
	// only next to their keyword.
	ent.PriceRange = extractPrice(query)
	if m := sizeRe.FindStringSubmatch(query); m != nil {
		ent.Size = strings.ToUpper(m[1])
	}

	res := x.norm.Normalize(query)
	for _, tok := range res.Tokens {
		if ent.Brand == "" {
			if canonical, ok := knownBrands[tok]; ok {
				ent.Brand = canonical
				continue
			}
		}
		if ent.Color == "" {
			if canonical, ok := knownColors[tok]; ok {
				ent.Color = canonical
				continue
			}
		}
		if ent.ProductType == "" {
			if category, ok := productTypes[tok]; ok {
				ent.ProductType = tok
				ent.Category = category
				continue
			}
		}
		if ent.Size == "" {
			if s, ok := wordSizes[tok]; ok && len(tok) > 1 {
				// Single letters are too ambiguous without a "size" cue.
				ent.Size = s
			}
		}
	}

	if ent.Empty() {
		return nil
	}
	return ent
}

func extractPrice(query string) *model.PriceRange {
	if m := betweenPriceRe.FindStringSubmatch(query); m != nil {
		lo, okLo := parseAmount(m[2])
		hi, okHi := parseAmount(m[4])
		if okLo && okHi {
			return &model.PriceRange{
				Min:      &lo,
				Max:      &hi,
				Currency: currencyOf(m[1], m[3]),
			}
		}
	}

	pr := &model.PriceRange{}
	if m := maxPriceRe.FindStringSubmatch(query); m != nil {
		if v, ok := parseAmount(m[2]); ok {
			pr.Max = &v
			pr.Currency = currencyOf(m[1])
		}
	}
	if m := minPriceRe.FindStringSubmatch(query); m != nil {
		if v, ok := parseAmount(m[2]); ok {
			pr.Min = &v
			if pr.Currency == "" {
				pr.Currency = currencyOf(m[1])
			}
		}
	}
	if pr.Min == nil && pr.Max == nil {
		return nil
	}
	return pr
}

func parseAmount(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.ReplaceAll(s, ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// currencyOf returns the first recognized symbol's code, if any.
func currencyOf(symbols ...string) string {
	for _, s := range symbols {
		if code, ok := currencySymbols[s]; ok {
			return code
		}
	}
	return ""
}

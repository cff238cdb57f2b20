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
	"fmt"
	"strings"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// maxPrice is the sanity ceiling on any extracted price bound.
const maxPrice = 1_000_000

// Validate normalizes and sanity-checks ent in place, returning
// warnings for anything it had to repair or drop. A nil ent is valid.
func Validate(ent *model.Entities) []string {
	if ent == nil {
		return nil
	}
	var warnings []string

	if ent.Brand != "" {
		if canonical, ok := knownBrands[strings.ToLower(ent.Brand)]; ok {
			ent.Brand = canonical
		}
	}
	if ent.Color != "" {
		if canonical, ok := knownColors[strings.ToLower(ent.Color)]; ok {
			ent.Color = canonical
		}
	}
	if ent.Size != "" {
		ent.Size = strings.ToUpper(strings.TrimSpace(ent.Size))
	}

	if pr := ent.PriceRange; pr != nil {
		if pr.Min != nil && *pr.Min < 0 {
			warnings = append(warnings, "negative minimum price dropped")
			pr.Min = nil
		}
		if pr.Max != nil && *pr.Max < 0 {
			warnings = append(warnings, "negative maximum price dropped")
			pr.Max = nil
		}
		if pr.Min != nil && *pr.Min > maxPrice {
			warnings = append(warnings, fmt.Sprintf("minimum price %.0f above ceiling, dropped", *pr.Min))
			pr.Min = nil
		}
		if pr.Max != nil && *pr.Max > maxPrice {
			warnings = append(warnings, fmt.Sprintf("maximum price %.0f above ceiling, dropped", *pr.Max))
			pr.Max = nil
		}
		if pr.Min != nil && pr.Max != nil && *pr.Min > *pr.Max {
			warnings = append(warnings, "inverted price bounds dropped")
			pr.Min, pr.Max = nil, nil
		}
		if pr.Min == nil && pr.Max == nil {
			ent.PriceRange = nil
		}
	}

	return warnings
}

// Merge combines an LLM extraction with a rule-based one. The LLM wins
// on conflicts; rules fill what the LLM left empty. The merged result is
// validated before return.
func Merge(llm, rule *model.Entities) *model.Entities {
	if llm.Empty() && rule.Empty() {
		return nil
	}

	out := &model.Entities{}
	if llm != nil {
		*out = *llm
	}
	if rule != nil {
		if out.ProductType == "" {
			out.ProductType = rule.ProductType
		}
		if out.Category == "" {
			out.Category = rule.Category
		}
		if out.Brand == "" {
			out.Brand = rule.Brand
		}
		if out.Color == "" {
			out.Color = rule.Color
		}
		if out.Size == "" {
			out.Size = rule.Size
		}
		if out.PriceRange == nil {
			out.PriceRange = rule.PriceRange
		}
	}

	Validate(out)
	if out.Empty() {
		return nil
	}
	return out
}

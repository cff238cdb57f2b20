// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package llmclient

import (
	"errors"
	"fmt"
)

// DefaultMaxCostPerRequest is the per-request budget ceiling in USD.
const DefaultMaxCostPerRequest = 0.01

// ErrBudgetExceeded aborts a call whose estimated cost would cross the
// per-request ceiling. Not retryable: the prompt will not get cheaper.
var ErrBudgetExceeded = errors.New("estimated cost exceeds per-request budget")

// modelPricing is USD per 1K tokens.
type modelPricing struct {
	prompt     float64
	completion float64
}

// pricing covers the models we route classification to. Unknown models
// fall back to the most expensive known rate so the budget guard stays
// conservative.
var pricing = map[string]modelPricing{
	"gpt-4o-mini":   {prompt: 0.00015, completion: 0.0006},
	"gpt-4o":        {prompt: 0.0025, completion: 0.01},
	"gpt-4.1-mini":  {prompt: 0.0004, completion: 0.0016},
	"gpt-3.5-turbo": {prompt: 0.0005, completion: 0.0015},
}

func priceFor(model string) modelPricing {
	if p, ok := pricing[model]; ok {
		return p
	}
	return modelPricing{prompt: 0.0025, completion: 0.01}
}

// EstimateTokens approximates token count from text length. Four
// characters per token tracks English prose closely enough for a
// budget guard.
func EstimateTokens(text string) int {
	n := (len(text) + 3) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}

// EstimateCost projects the USD cost of a call before it is made.
func EstimateCost(model string, promptTokens, maxCompletionTokens int) float64 {
	p := priceFor(model)
	return float64(promptTokens)/1000*p.prompt +
		float64(maxCompletionTokens)/1000*p.completion
}

// ActualCost prices a completed call from its reported usage.
func ActualCost(model string, promptTokens, completionTokens int) float64 {
	p := priceFor(model)
	return float64(promptTokens)/1000*p.prompt +
		float64(completionTokens)/1000*p.completion
}

// checkBudget enforces the per-request ceiling against the projection.
func checkBudget(model string, promptTokens, maxCompletionTokens int, maxCost float64) error {
	est := EstimateCost(model, promptTokens, maxCompletionTokens)
	if est > maxCost {
		return fmt.Errorf("%w: estimated $%.4f, budget $%.4f", ErrBudgetExceeded, est, maxCost)
	}
	return nil
}

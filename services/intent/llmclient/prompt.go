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
	"fmt"
	"strings"

	"github.com/tmc/langchaingo/prompts"

	"github.com/indpro-interns-oct-25/chatNShop/services/intent/model"
)

// PromptVersion tags the prompt pair shipped with this build. Bump it
// whenever the wording changes so logged results stay attributable.
const PromptVersion = "v1"

var systemTemplate = prompts.PromptTemplate{
	TemplateFormat: prompts.TemplateFormatFString,
	Template: `You are an intent classifier for an e-commerce shopping assistant.
Classify the user's message into exactly one action code from this list:

{action_codes}

Respond with ONLY a JSON object, no prose:
{{"action_code": "<code>", "confidence": <0.0-1.0>, "entities": {{"product_type": "", "category": "", "brand": "", "color": "", "size": "", "price_range": null}}, "reasoning": "<one sentence>"}}

Omit entity fields you cannot extract. Confidence reflects how certain
you are that the chosen code is what the user wants.

Examples:
User: "add the blue nike shoes to my cart"
{{"action_code": "ADD_TO_CART", "confidence": 0.95, "entities": {{"product_type": "shoes", "brand": "Nike", "color": "blue"}}, "reasoning": "Explicit add-to-cart request with product details."}}

User: "where is my package"
{{"action_code": "TRACK_ORDER", "confidence": 0.92, "entities": {{}}, "reasoning": "Asking about delivery status of an existing order."}}

User: "hmm not sure maybe something nice"
{{"action_code": "UNCLEAR", "confidence": 0.3, "entities": {{}}, "reasoning": "No identifiable shopping intent."}}`,
	InputVariables: []string{"action_codes"},
}

var userTemplate = prompts.PromptTemplate{
	TemplateFormat: prompts.TemplateFormatFString,
	Template:       `User message: {query}{hint}{context}`,
	InputVariables: []string{"query", "hint", "context"},
}

// BuildPrompt renders the system and user messages for one escalation.
func BuildPrompt(codes []model.ActionCode, payload model.QueuePayload) (system, user string, err error) {
	codeLines := make([]string, 0, len(codes))
	for _, c := range codes {
		codeLines = append(codeLines, "- "+string(c))
	}

	system, err = systemTemplate.Format(map[string]any{
		"action_codes": strings.Join(codeLines, "\n"),
	})
	if err != nil {
		return "", "", fmt.Errorf("render system prompt: %w", err)
	}

	hint := ""
	if payload.RuleBasedHint != nil {
		hint = fmt.Sprintf("\nRule-based hint: %s (score %.2f)",
			payload.RuleBasedHint.ActionCode, payload.RuleBasedHint.Score)
	}
	contextBlock := ""
	if len(payload.ContextSnapshot) > 0 {
		contextBlock = "\nRecent context:\n" + strings.Join(payload.ContextSnapshot, "\n")
	}

	user, err = userTemplate.Format(map[string]any{
		"query":   payload.Query,
		"hint":    hint,
		"context": contextBlock,
	})
	if err != nil {
		return "", "", fmt.Errorf("render user prompt: %w", err)
	}
	return system, user, nil
}

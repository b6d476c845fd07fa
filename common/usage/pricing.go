// Copyright 2025 StroiNadzor
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package usage

import "fmt"

// Backend pricing as of October 2025.
// Prices stored in hundredths of a cent per 1K tokens to avoid floating
// point issues; image generation is priced per image. All prices are USD.

// BackendPricing contains pricing for a backend-model combination.
type BackendPricing struct {
	PromptCostPer1K     int // hundredths of a cent per 1K prompt tokens
	CompletionCostPer1K int // hundredths of a cent per 1K completion tokens
}

// backendPricing maps backend-model combinations to pricing.
var backendPricing = map[string]BackendPricing{
	// x.ai Grok
	"grok-grok-2-1212": {200, 1000}, // $0.002/$0.01 per 1K tokens
	"grok-grok-2-mini": {30, 50},    // $0.0003/$0.0005 per 1K tokens

	// Anthropic Claude
	"claude-claude-sonnet-4-5-20250929": {300, 1500}, // $0.003/$0.015 per 1K tokens
	"claude-claude-3-5-sonnet-20241022": {300, 1500}, // $0.003/$0.015 per 1K tokens
	"claude-claude-3-5-haiku-20241022":  {80, 400},   // $0.0008/$0.004 per 1K tokens

	// Google Gemini
	"gemini-gemini-2.5-flash": {30, 250},   // $0.0003/$0.0025 per 1K tokens
	"gemini-gemini-2.5-pro":   {125, 1000}, // $0.00125/$0.01 per 1K tokens
	"gemini-gemini-2.0-flash": {10, 40},    // $0.0001/$0.0004 per 1K tokens

	// AWS Bedrock (Claude 3.5 Sonnet)
	"bedrock-anthropic.claude-3-5-sonnet-20240620-v1:0": {300, 1500},

	// Default fallback pricing (conservative estimate)
	"default": {300, 1500},
}

// imagePricing maps image model and quality to the per-image price in
// hundredths of a cent.
var imagePricing = map[string]int{
	"dall-e-3-standard": 4000, // $0.04 per 1024x1024 image
	"dall-e-3-hd":       8000, // $0.08 per 1024x1024 image
	"dall-e-2-standard": 2000, // $0.02 per 1024x1024 image
	"default":           4000,
}

// CalculateCost calculates the cost for a completed request in hundredths
// of a cent.
func CalculateCost(backend, model string, promptTokens, completionTokens int) int {
	pricing, ok := GetBackendPricing(backend, model)
	if !ok {
		pricing = backendPricing["default"]
	}

	promptCost := (promptTokens * pricing.PromptCostPer1K) / 1000
	completionCost := (completionTokens * pricing.CompletionCostPer1K) / 1000

	return promptCost + completionCost
}

// EstimateRequestCost estimates the cost of an uncompleted request from its
// prompt length, assuming a typical completion of about 800 tokens. The
// classifier surfaces this estimate in its routing rationale, and the cache
// credits it to tokens-saved on a hit.
func EstimateRequestCost(backend, model string, promptLength int) int {
	// Rough tokenization: ~4 characters per token for mixed Russian text.
	promptTokens := promptLength / 4
	return CalculateCost(backend, model, promptTokens, 800)
}

// ImageCost returns the per-image price in hundredths of a cent.
func ImageCost(model, quality string) int {
	if quality == "" {
		quality = "standard"
	}
	if cost, ok := imagePricing[model+"-"+quality]; ok {
		return cost
	}
	return imagePricing["default"]
}

// GetBackendPricing returns the pricing for a backend-model combination.
func GetBackendPricing(backend, model string) (BackendPricing, bool) {
	pricing, ok := backendPricing[backend+"-"+model]
	return pricing, ok
}

// FormatCostToDollars converts hundredths of a cent to a dollar string
// (e.g. 13500 -> "$1.35").
func FormatCostToDollars(hundredthsOfCent int) string {
	dollars := float64(hundredthsOfCent) / 10000.0
	return fmt.Sprintf("$%.4f", dollars)
}

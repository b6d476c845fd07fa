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

// Package classifier decides which backend should answer a construction
// engineering question. Classification is a pure function over the request
// text and an attachment flag: no I/O, no state, same inputs always yield
// the same decision.
package classifier

import (
	"fmt"
	"sort"
	"strings"

	"stroinadzor/platform/assistant/llm"
	"stroinadzor/platform/common/usage"
)

// RoutingDecision is the classifier's verdict for a single request. It is
// produced once and never modified afterwards.
type RoutingDecision struct {
	Backend        llm.Backend
	Model          string
	Rationale      string
	NeedsWebSearch bool
	NeedsImage     bool

	// EstimatedCost is the projected request cost in hundredths of a cent,
	// derived from the static price table. Observability only, never used
	// for control flow.
	EstimatedCost int
}

// Models per backend used for cost estimation and as the default request
// model. Overridable per request downstream.
const (
	grokModel   = "grok-2-1212"
	claudeModel = "claude-sonnet-4-5-20250929"
	geminiModel = "gemini-2.5-flash"
)

// Classify routes a request to a backend.
//
// An attachment always wins: analysing an uploaded photo or drawing needs
// the vision backend no matter what the text says. Otherwise the text is
// scanned against ordered trigger sets: image-generation verbs first, then
// technical and normative vocabulary, with freshness triggers setting the
// web-search flag on whatever backend was chosen.
func Classify(text string, hasAttachment bool) RoutingDecision {
	lower := strings.ToLower(strings.TrimSpace(text))

	if hasAttachment {
		return RoutingDecision{
			Backend:        llm.BackendGemini,
			Model:          geminiModel,
			Rationale:      "attachment present, routing to vision backend",
			NeedsWebSearch: false,
			EstimatedCost:  usage.EstimateRequestCost("gemini", geminiModel, len(text)),
		}
	}

	if lower == "" {
		return RoutingDecision{
			Backend:       llm.BackendGrok,
			Model:         grokModel,
			Rationale:     "empty request, defaulting to general backend",
			EstimatedCost: usage.EstimateRequestCost("grok", grokModel, 0),
		}
	}

	needsSearch := matchesAny(lower, freshnessTriggers)

	if trigger := firstMatch(lower, imageTriggers); trigger != "" {
		return RoutingDecision{
			Backend:        llm.BackendGrok,
			Model:          grokModel,
			Rationale:      fmt.Sprintf("image generation requested (trigger %q)", trigger),
			NeedsWebSearch: needsSearch,
			NeedsImage:     true,
			EstimatedCost: usage.EstimateRequestCost("grok", grokModel, len(text)) +
				usage.ImageCost("dall-e-3", "standard"),
		}
	}

	if trigger, ok := matchTechnical(lower, text); ok {
		return RoutingDecision{
			Backend:        llm.BackendClaude,
			Model:          claudeModel,
			Rationale:      fmt.Sprintf("technical question (trigger %q)", trigger),
			NeedsWebSearch: needsSearch,
			EstimatedCost:  usage.EstimateRequestCost("claude", claudeModel, len(text)),
		}
	}

	rationale := "general question, routing to default backend"
	if needsSearch {
		rationale = "general question requiring current information, web search enabled"
	}
	return RoutingDecision{
		Backend:        llm.BackendGrok,
		Model:          grokModel,
		Rationale:      rationale,
		NeedsWebSearch: needsSearch,
		EstimatedCost:  usage.EstimateRequestCost("grok", grokModel, len(text)),
	}
}

// ExtractRegulationCodes returns canonicalized regulation citations found
// in the text, deduplicated, in order of appearance. Used to pick retrieval
// collections before dispatch.
func ExtractRegulationCodes(text string) []string {
	type found struct {
		pos  int
		code string
	}
	var matches []found
	for _, p := range regulationCodePatterns {
		for _, loc := range p.re.FindAllStringSubmatchIndex(text, -1) {
			code := p.canon + " " + text[loc[2]:loc[3]]
			if p.canon == "ФЗ" {
				// federal laws cite with a hyphen, "ФЗ-384"
				code = p.canon + "-" + text[loc[2]:loc[3]]
			}
			matches = append(matches, found{pos: loc[0], code: code})
		}
	}
	sort.SliceStable(matches, func(a, b int) bool { return matches[a].pos < matches[b].pos })

	var codes []string
	seen := make(map[string]bool)
	for _, m := range matches {
		if !seen[m.code] {
			seen[m.code] = true
			codes = append(codes, m.code)
		}
	}
	return codes
}

func matchesAny(lower string, triggers []string) bool {
	return firstMatch(lower, triggers) != ""
}

func firstMatch(lower string, triggers []string) string {
	for _, t := range triggers {
		if strings.Contains(lower, t) {
			return t
		}
	}
	return ""
}

// matchTechnical checks keyword substrings against the lower-cased text
// and citation patterns against the original text.
func matchTechnical(lower, original string) (string, bool) {
	if t := firstMatch(lower, technicalKeywords); t != "" {
		return t, true
	}
	for _, re := range technicalPatterns {
		if m := re.FindString(original); m != "" {
			return m, true
		}
	}
	return "", false
}

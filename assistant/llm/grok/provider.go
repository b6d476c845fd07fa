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

// Package grok provides the x.ai Grok backend. Grok serves general
// construction questions and is the only backend with live web search, used
// when the classifier detects a freshness trigger.
package grok

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stroinadzor/platform/assistant/llm"
)

const (
	// DefaultBaseURL is the default x.ai API endpoint.
	DefaultBaseURL = "https://api.x.ai"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 2500

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
)

// Model constants for supported Grok models.
const (
	ModelGrok2     = "grok-2-1212"
	ModelGrok2Mini = "grok-2-mini"

	DefaultModel = ModelGrok2
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for x.ai Grok.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// Config contains configuration for the Grok provider.
type Config struct {
	APIKey  string        // Required: x.ai API key
	BaseURL string        // Optional: API base URL (default: https://api.x.ai)
	Model   string        // Optional: default model (default: grok-2-1212)
	Timeout time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Grok provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("grok API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		baseURL: cfg.BaseURL,
		model:   cfg.Model,
		client:  &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() llm.Backend {
	return llm.BackendGrok
}

// Capabilities returns the features Grok supports.
func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityChat, llm.CapabilityWebSearch}
}

// Complete generates an answer via the chat completions endpoint.
func (p *Provider) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	start := time.Now()

	model := req.Model
	if model == "" {
		model = p.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	temperature := req.Temperature
	if temperature <= 0 {
		temperature = DefaultTemperature
	}

	apiReq := p.buildAPIRequest(req, model, maxTokens, temperature)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGrok, Kind: llm.KindInvalidRequest,
			Message: "failed to marshal request", Cause: err,
		}
	}

	url := p.baseURL + "/v1/chat/completions"
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGrok, Kind: llm.KindInvalidRequest,
			Message: "failed to create request", Cause: err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, transportError(err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var apiResp grokResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGrok, Kind: llm.KindMalformed,
			Message: "failed to decode response", Cause: err,
		}
	}

	if len(apiResp.Choices) == 0 || apiResp.Choices[0].Message.Content == "" {
		return nil, llm.NewProviderError(llm.BackendGrok, llm.KindMalformed, "empty completion")
	}

	return &llm.CompletionResult{
		Content: apiResp.Choices[0].Message.Content,
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.PromptTokens,
			CompletionTokens: apiResp.Usage.CompletionTokens,
			TotalTokens:      apiResp.Usage.TotalTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// buildAPIRequest builds the chat completions request body. Web search is
// requested through x.ai search_parameters when the caller asked for it.
func (p *Provider) buildAPIRequest(req llm.CompletionRequest, model string, maxTokens int, temperature float64) map[string]any {
	messages := make([]map[string]string, 0, len(req.History)+2)
	if req.SystemPrompt != "" {
		messages = append(messages, map[string]string{"role": "system", "content": req.SystemPrompt})
	}
	for _, m := range req.History {
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	apiReq := map[string]any{
		"model":       model,
		"messages":    messages,
		"max_tokens":  maxTokens,
		"temperature": temperature,
	}

	if req.EnableWebSearch {
		apiReq["search_parameters"] = map[string]any{
			"mode":             "auto",
			"return_citations": true,
			"sources":          []map[string]string{{"type": "web"}, {"type": "news"}},
		}
	}

	return apiReq
}

// transportError maps a transport-level failure to a ProviderError.
func transportError(err error) *llm.ProviderError {
	kind := llm.KindUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = llm.KindTimeout
	}
	return &llm.ProviderError{
		Backend: llm.BackendGrok, Kind: kind,
		Message: "request failed", Cause: err,
	}
}

// parseAPIError parses a non-200 API response body.
func parseAPIError(statusCode int, body []byte) *llm.ProviderError {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Code    string `json:"code"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &llm.ProviderError{
		Backend:    llm.BackendGrok,
		Kind:       llm.KindFromStatus(statusCode),
		Message:    message,
		StatusCode: statusCode,
	}
}

// grokResponse is the subset of the chat completions response we consume.
type grokResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

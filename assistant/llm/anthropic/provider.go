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

// Package anthropic provides the Anthropic Claude backend. Claude handles
// technical and normative questions and also serves as the fixed fallback
// for Grok.
package anthropic

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
	// DefaultBaseURL is the default Anthropic API endpoint.
	DefaultBaseURL = "https://api.anthropic.com"

	// DefaultAPIVersion is the Anthropic API version header value.
	DefaultAPIVersion = "2023-06-01"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 2500

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
)

// Model constants for supported Claude models.
const (
	ModelClaudeSonnet45 = "claude-sonnet-4-5-20250929"
	ModelClaude35Sonnet = "claude-3-5-sonnet-20241022"
	ModelClaude35Haiku  = "claude-3-5-haiku-20241022"

	DefaultModel = ModelClaudeSonnet45
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Anthropic Claude.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
}

// Config contains configuration for the Anthropic provider.
type Config struct {
	APIKey     string        // Required: Anthropic API key
	BaseURL    string        // Optional: API base URL (default: https://api.anthropic.com)
	APIVersion string        // Optional: API version (default: 2023-06-01)
	Model      string        // Optional: default model (default: claude-sonnet-4-5)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Anthropic provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.APIVersion == "" {
		cfg.APIVersion = DefaultAPIVersion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = DefaultTimeout
	}

	return &Provider{
		apiKey:     cfg.APIKey,
		baseURL:    cfg.BaseURL,
		apiVersion: cfg.APIVersion,
		model:      cfg.Model,
		client:     &http.Client{Timeout: cfg.Timeout},
	}, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() llm.Backend {
	return llm.BackendClaude
}

// Capabilities returns the features Claude supports.
func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityChat}
}

// Complete generates an answer via the messages endpoint. The system prompt
// is re-wrapped into Anthropic's out-of-band system field; system entries in
// the history are folded into it as well.
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

	system := req.SystemPrompt
	messages := make([]map[string]string, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			if system != "" {
				system += "\n\n"
			}
			system += m.Content
			continue
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	apiReq := map[string]any{
		"model":       model,
		"max_tokens":  maxTokens,
		"temperature": temperature,
		"messages":    messages,
	}
	if system != "" {
		apiReq["system"] = system
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendClaude, Kind: llm.KindInvalidRequest,
			Message: "failed to marshal request", Cause: err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/messages", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendClaude, Kind: llm.KindInvalidRequest,
			Message: "failed to create request", Cause: err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.apiVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := llm.KindUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = llm.KindTimeout
		}
		return nil, &llm.ProviderError{
			Backend: llm.BackendClaude, Kind: kind,
			Message: "request failed", Cause: err,
		}
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, parseAPIError(resp.StatusCode, body)
	}

	var apiResp anthropicResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendClaude, Kind: llm.KindMalformed,
			Message: "failed to decode response", Cause: err,
		}
	}

	content := ""
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			content += block.Text
		}
	}
	if content == "" {
		return nil, llm.NewProviderError(llm.BackendClaude, llm.KindMalformed, "empty completion")
	}

	return &llm.CompletionResult{
		Content: content,
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     apiResp.Usage.InputTokens,
			CompletionTokens: apiResp.Usage.OutputTokens,
			TotalTokens:      apiResp.Usage.InputTokens + apiResp.Usage.OutputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// parseAPIError parses a non-200 API response body.
func parseAPIError(statusCode int, body []byte) *llm.ProviderError {
	var errResp struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	kind := llm.KindFromStatus(statusCode)
	if errResp.Error.Type == "authentication_error" {
		kind = llm.KindAuth
	}

	return &llm.ProviderError{
		Backend:    llm.BackendClaude,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
	}
}

// anthropicResponse is the subset of the messages response we consume.
type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

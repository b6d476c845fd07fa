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

// Package gemini provides the Google Gemini backend. Gemini is the
// vision-capable backend: every request carrying a photo attachment is
// routed here regardless of the question text.
package gemini

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"stroinadzor/platform/assistant/llm"
)

const (
	// DefaultBaseURL is the default Gemini API endpoint.
	DefaultBaseURL = "https://generativelanguage.googleapis.com"

	// DefaultAPIVersion is the Gemini API version.
	DefaultAPIVersion = "v1beta"

	// DefaultTimeout is the default HTTP timeout.
	DefaultTimeout = 120 * time.Second

	// DefaultMaxTokens is the default max output tokens.
	DefaultMaxTokens = 2500

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
)

// Model constants for supported Gemini models.
const (
	ModelGemini25Flash = "gemini-2.5-flash"
	ModelGemini25Pro   = "gemini-2.5-pro"
	ModelGemini2Flash  = "gemini-2.0-flash"

	DefaultModel = ModelGemini25Flash
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.Provider for Google Gemini.
type Provider struct {
	apiKey     string
	baseURL    string
	apiVersion string
	model      string
	client     HTTPClient
}

// Config contains configuration for the Gemini provider.
type Config struct {
	APIKey     string        // Required: Google API key
	BaseURL    string        // Optional: API base URL
	APIVersion string        // Optional: API version (default: v1beta)
	Model      string        // Optional: default model (default: gemini-2.5-flash)
	Timeout    time.Duration // Optional: HTTP timeout (default: 120s)
}

// NewProvider creates a new Gemini provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
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
	return llm.BackendGemini
}

// Capabilities returns the features Gemini supports.
func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityChat, llm.CapabilityVision}
}

// Complete generates an answer via the generateContent endpoint. A photo
// attachment is passed as an inline data part next to the question text.
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

	apiReq := p.buildAPIRequest(req, maxTokens, temperature)

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGemini, Kind: llm.KindInvalidRequest,
			Message: "failed to marshal request", Cause: err,
		}
	}

	url := fmt.Sprintf("%s/%s/models/%s:generateContent?key=%s",
		p.baseURL, p.apiVersion, model, p.apiKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGemini, Kind: llm.KindInvalidRequest,
			Message: "failed to create request", Cause: err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := llm.KindUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = llm.KindTimeout
		}
		return nil, &llm.ProviderError{
			Backend: llm.BackendGemini, Kind: kind,
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

	var apiResp geminiResponse
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendGemini, Kind: llm.KindMalformed,
			Message: "failed to decode response", Cause: err,
		}
	}

	if len(apiResp.Candidates) == 0 || len(apiResp.Candidates[0].Content.Parts) == 0 {
		return nil, llm.NewProviderError(llm.BackendGemini, llm.KindMalformed, "no candidates in response")
	}

	content := ""
	for _, part := range apiResp.Candidates[0].Content.Parts {
		content += part.Text
	}
	if content == "" {
		return nil, llm.NewProviderError(llm.BackendGemini, llm.KindMalformed, "empty completion")
	}

	inputTokens, outputTokens := 0, 0
	if apiResp.UsageMetadata != nil {
		inputTokens = apiResp.UsageMetadata.PromptTokenCount
		outputTokens = apiResp.UsageMetadata.CandidatesTokenCount
	}

	return &llm.CompletionResult{
		Content: content,
		Model:   model,
		Usage: llm.UsageStats{
			PromptTokens:     inputTokens,
			CompletionTokens: outputTokens,
			TotalTokens:      inputTokens + outputTokens,
		},
		Latency: time.Since(start),
	}, nil
}

// buildAPIRequest builds the generateContent request body.
func (p *Provider) buildAPIRequest(req llm.CompletionRequest, maxTokens int, temperature float64) map[string]any {
	contents := make([]map[string]any, 0, len(req.History)+1)
	for _, m := range req.History {
		role := "user"
		if m.Role == llm.RoleAssistant {
			role = "model"
		}
		contents = append(contents, map[string]any{
			"role":  role,
			"parts": []map[string]any{{"text": m.Content}},
		})
	}

	parts := []map[string]any{{"text": req.Prompt}}
	if len(req.Attachment) > 0 {
		mime := req.AttachmentMIME
		if mime == "" {
			mime = "image/jpeg"
		}
		parts = append(parts, map[string]any{
			"inline_data": map[string]any{
				"mime_type": mime,
				"data":      base64.StdEncoding.EncodeToString(req.Attachment),
			},
		})
	}
	contents = append(contents, map[string]any{"role": "user", "parts": parts})

	apiReq := map[string]any{
		"contents": contents,
		"generationConfig": map[string]any{
			"maxOutputTokens": maxTokens,
			"temperature":     temperature,
		},
	}

	if req.SystemPrompt != "" {
		apiReq["systemInstruction"] = map[string]any{
			"parts": []map[string]any{{"text": req.SystemPrompt}},
		}
	}

	return apiReq
}

// parseAPIError parses a non-200 API response body.
func parseAPIError(statusCode int, body []byte) *llm.ProviderError {
	var errResp struct {
		Error struct {
			Code    int    `json:"code"`
			Message string `json:"message"`
			Status  string `json:"status"`
		} `json:"error"`
	}

	message := string(body)
	kind := llm.KindFromStatus(statusCode)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
		switch errResp.Error.Status {
		case "UNAUTHENTICATED", "PERMISSION_DENIED":
			kind = llm.KindAuth
		case "RESOURCE_EXHAUSTED":
			kind = llm.KindRateLimited
		}
	}

	return &llm.ProviderError{
		Backend:    llm.BackendGemini,
		Kind:       kind,
		Message:    message,
		StatusCode: statusCode,
	}
}

// geminiResponse is the subset of the generateContent response we consume.
type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata *struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
	} `json:"usageMetadata,omitempty"`
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

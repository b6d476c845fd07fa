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

// Package dalle provides the OpenAI image-generation backend used by the
// coordinator's image fan-out. Images are requested as base64 payloads so
// the caller gets raw bytes without a second download round-trip.
package dalle

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
	// DefaultBaseURL is the default OpenAI API endpoint.
	DefaultBaseURL = "https://api.openai.com"

	// DefaultTimeout is the default HTTP timeout. Image generation is
	// slow; this is deliberately longer than text-backend timeouts.
	DefaultTimeout = 180 * time.Second

	// DefaultSize is the default image size.
	DefaultSize = "1024x1024"

	// DefaultQuality is the default quality tier.
	DefaultQuality = "standard"
)

// Model constants for supported image models.
const (
	ModelDalle3 = "dall-e-3"
	ModelDalle2 = "dall-e-2"

	DefaultModel = ModelDalle3
)

// HTTPClient is an interface for HTTP client operations (enables testing).
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Provider implements llm.ImageGenerator for OpenAI DALL-E.
type Provider struct {
	apiKey  string
	baseURL string
	model   string
	client  HTTPClient
}

// Config contains configuration for the DALL-E provider.
type Config struct {
	APIKey  string        // Required: OpenAI API key
	BaseURL string        // Optional: API base URL (default: https://api.openai.com)
	Model   string        // Optional: default model (default: dall-e-3)
	Timeout time.Duration // Optional: HTTP timeout (default: 180s)
}

// NewProvider creates a new DALL-E provider instance.
func NewProvider(cfg Config) (*Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai API key is required")
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
	return llm.BackendDalle
}

// GenerateImage renders an image via the images generations endpoint.
func (p *Provider) GenerateImage(ctx context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	start := time.Now()

	if req.Prompt == "" {
		return nil, llm.NewProviderError(llm.BackendDalle, llm.KindInvalidRequest, "empty image prompt")
	}
	size := req.Size
	if size == "" {
		size = DefaultSize
	}
	quality := req.Quality
	if quality == "" {
		quality = DefaultQuality
	}

	apiReq := map[string]any{
		"model":           p.model,
		"prompt":          req.Prompt,
		"n":               1,
		"size":            size,
		"quality":         quality,
		"response_format": "b64_json",
	}

	reqBody, err := json.Marshal(apiReq)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendDalle, Kind: llm.KindInvalidRequest,
			Message: "failed to marshal request", Cause: err,
		}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/images/generations", bytes.NewBuffer(reqBody))
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendDalle, Kind: llm.KindInvalidRequest,
			Message: "failed to create request", Cause: err,
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		kind := llm.KindUnavailable
		if errors.Is(err, context.DeadlineExceeded) {
			kind = llm.KindTimeout
		}
		return nil, &llm.ProviderError{
			Backend: llm.BackendDalle, Kind: kind,
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

	var apiResp struct {
		Data []struct {
			B64JSON       string `json:"b64_json"`
			RevisedPrompt string `json:"revised_prompt"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiResp); err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendDalle, Kind: llm.KindMalformed,
			Message: "failed to decode response", Cause: err,
		}
	}
	if len(apiResp.Data) == 0 || apiResp.Data[0].B64JSON == "" {
		return nil, llm.NewProviderError(llm.BackendDalle, llm.KindMalformed, "no image in response")
	}

	data, err := base64.StdEncoding.DecodeString(apiResp.Data[0].B64JSON)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendDalle, Kind: llm.KindMalformed,
			Message: "invalid base64 image payload", Cause: err,
		}
	}

	return &llm.ImageResult{
		Data:          data,
		MIME:          "image/png",
		RevisedPrompt: apiResp.Data[0].RevisedPrompt,
		Latency:       time.Since(start),
	}, nil
}

// parseAPIError parses a non-200 API response body.
func parseAPIError(statusCode int, body []byte) *llm.ProviderError {
	var errResp struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}

	message := string(body)
	if err := json.Unmarshal(body, &errResp); err == nil && errResp.Error.Message != "" {
		message = errResp.Error.Message
	}

	return &llm.ProviderError{
		Backend:    llm.BackendDalle,
		Kind:       llm.KindFromStatus(statusCode),
		Message:    message,
		StatusCode: statusCode,
	}
}

// SetHTTPClient sets a custom HTTP client for testing.
func (p *Provider) SetHTTPClient(client HTTPClient) {
	p.client = client
}

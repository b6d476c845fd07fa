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

// Package bedrock provides an AWS Bedrock backend for deployments that
// prefer IAM-authenticated model access over direct vendor API keys. It can
// be configured as the secondary backend in any fallback pairing.
package bedrock

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/bedrockruntime"

	"stroinadzor/platform/assistant/llm"
)

const (
	// DefaultRegion is the default AWS region.
	DefaultRegion = "us-east-1"

	// DefaultModel is the default Bedrock model identifier.
	DefaultModel = "anthropic.claude-3-5-sonnet-20240620-v1:0"

	// DefaultMaxTokens is the default max tokens for completions.
	DefaultMaxTokens = 2500

	// DefaultTemperature is the default sampling temperature.
	DefaultTemperature = 0.7
)

// InvokeAPI is the subset of the Bedrock runtime client we use
// (enables testing).
type InvokeAPI interface {
	InvokeModel(ctx context.Context, params *bedrockruntime.InvokeModelInput, optFns ...func(*bedrockruntime.Options)) (*bedrockruntime.InvokeModelOutput, error)
}

// Provider implements llm.Provider for AWS Bedrock (Anthropic model family).
type Provider struct {
	client InvokeAPI
	region string
	model  string
}

// Config contains configuration for the Bedrock provider.
type Config struct {
	Region string // Optional: AWS region (default: us-east-1)
	Model  string // Optional: model ID (default: Claude 3.5 Sonnet on Bedrock)
}

// NewProvider creates a new Bedrock provider. AWS credentials come from the
// default chain (env, shared config, IAM role); a failure to load them is a
// constructor-time error, not a per-request surprise.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Region == "" {
		cfg.Region = DefaultRegion
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.Region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config for Bedrock (region: %s): %w", cfg.Region, err)
	}

	return &Provider{
		client: bedrockruntime.NewFromConfig(awsCfg),
		region: cfg.Region,
		model:  cfg.Model,
	}, nil
}

// Name returns the backend identifier.
func (p *Provider) Name() llm.Backend {
	return llm.BackendBedrock
}

// Capabilities returns the features Bedrock supports.
func (p *Provider) Capabilities() []llm.Capability {
	return []llm.Capability{llm.CapabilityChat}
}

// Complete invokes the model through the Bedrock runtime.
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

	messages := make([]map[string]string, 0, len(req.History)+1)
	for _, m := range req.History {
		if m.Role == llm.RoleSystem {
			continue
		}
		messages = append(messages, map[string]string{"role": string(m.Role), "content": m.Content})
	}
	messages = append(messages, map[string]string{"role": "user", "content": req.Prompt})

	body := map[string]any{
		"anthropic_version": "bedrock-2023-05-31",
		"max_tokens":        maxTokens,
		"temperature":       temperature,
		"messages":          messages,
	}
	if req.SystemPrompt != "" {
		body["system"] = req.SystemPrompt
	}

	bodyJSON, err := json.Marshal(body)
	if err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendBedrock, Kind: llm.KindInvalidRequest,
			Message: "failed to marshal request", Cause: err,
		}
	}

	output, err := p.client.InvokeModel(ctx, &bedrockruntime.InvokeModelInput{
		ModelId:     aws.String(model),
		Body:        bodyJSON,
		ContentType: aws.String("application/json"),
		Accept:      aws.String("application/json"),
	})
	if err != nil {
		return nil, invokeError(err)
	}

	var apiResp struct {
		Content []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
		Usage struct {
			InputTokens  int `json:"input_tokens"`
			OutputTokens int `json:"output_tokens"`
		} `json:"usage"`
	}
	if err := json.Unmarshal(output.Body, &apiResp); err != nil {
		return nil, &llm.ProviderError{
			Backend: llm.BackendBedrock, Kind: llm.KindMalformed,
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
		return nil, llm.NewProviderError(llm.BackendBedrock, llm.KindMalformed, "empty completion")
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

// invokeError maps an InvokeModel error to a ProviderError.
func invokeError(err error) *llm.ProviderError {
	kind := llm.KindUnavailable
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		kind = llm.KindTimeout
	case strings.Contains(err.Error(), "ThrottlingException"):
		kind = llm.KindRateLimited
	case strings.Contains(err.Error(), "AccessDeniedException"),
		strings.Contains(err.Error(), "UnrecognizedClientException"):
		kind = llm.KindAuth
	case strings.Contains(err.Error(), "ValidationException"):
		kind = llm.KindInvalidRequest
	}
	return &llm.ProviderError{
		Backend: llm.BackendBedrock, Kind: kind,
		Message: "invoke failed", Cause: err,
	}
}

// SetClient sets a custom Bedrock client for testing.
func (p *Provider) SetClient(client InvokeAPI) {
	p.client = client
}

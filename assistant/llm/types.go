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

// Package llm defines the unified interface and types for the LLM and
// image-generation backends used by the assistant. Each backend lives in its
// own subpackage and maps its native API shapes into the types defined here;
// nothing backend-specific leaks past this package boundary.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend identifies a configured backend instance for routing purposes.
type Backend string

// Standard backends supported out of the box.
const (
	// BackendGrok is the x.ai Grok chat backend (general questions,
	// optional live web search).
	BackendGrok Backend = "grok"

	// BackendClaude is the Anthropic Claude backend (technical and
	// normative questions).
	BackendClaude Backend = "claude"

	// BackendGemini is the Google Gemini backend (vision analysis of
	// attached photos, plus text).
	BackendGemini Backend = "gemini"

	// BackendDalle is the OpenAI image-generation backend.
	BackendDalle Backend = "dalle"

	// BackendBedrock is the AWS Bedrock reserve backend, used when a
	// deployment prefers IAM-authenticated models over direct API keys.
	BackendBedrock Backend = "bedrock"
)

// Role identifies the author of a conversation message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is a single entry in an ordered conversation history.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// CompletionRequest encapsulates all parameters for a text completion.
// This is the unified request type accepted by every text backend.
type CompletionRequest struct {
	// Prompt is the user's current question.
	Prompt string `json:"prompt"`

	// SystemPrompt sets backend behaviour. Backends that take system
	// instructions out-of-band (Anthropic, Gemini) re-wrap it themselves.
	SystemPrompt string `json:"system_prompt,omitempty"`

	// History is the prior conversation, oldest first, excluding Prompt.
	History []Message `json:"history,omitempty"`

	// MaxTokens limits the response length. 0 means backend default.
	MaxTokens int `json:"max_tokens,omitempty"`

	// Temperature controls randomness. 0 or negative means backend default.
	Temperature float64 `json:"temperature,omitempty"`

	// Model overrides the backend's default model.
	Model string `json:"model,omitempty"`

	// EnableWebSearch asks the backend to ground the answer in live web
	// results. Only Grok honours this; others ignore it.
	EnableWebSearch bool `json:"enable_web_search,omitempty"`

	// Attachment is raw image data for vision analysis, with its MIME
	// type. Only vision-capable backends accept attachments.
	Attachment     []byte `json:"-"`
	AttachmentMIME string `json:"attachment_mime,omitempty"`
}

// CompletionResult contains the normalized result of a text completion.
type CompletionResult struct {
	// Content is the generated answer.
	Content string `json:"content"`

	// Model is the model that actually served the request.
	Model string `json:"model"`

	// Usage contains token accounting for cost tracking.
	Usage UsageStats `json:"usage"`

	// Latency is the wall-clock time of the backend call.
	Latency time.Duration `json:"latency"`
}

// UsageStats tracks token usage for billing and cache savings accounting.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// ImageRequest encapsulates parameters for image generation.
type ImageRequest struct {
	// Prompt describes the image, in English, as extracted from the text
	// backend's answer or synthesized from the user's question.
	Prompt string `json:"prompt"`

	// Size is the requested image size, e.g. "1024x1024".
	Size string `json:"size,omitempty"`

	// Quality is the requested quality tier, e.g. "standard" or "hd".
	Quality string `json:"quality,omitempty"`
}

// ImageResult contains a generated image.
type ImageResult struct {
	// Data is the raw image payload.
	Data []byte `json:"-"`

	// MIME is the payload content type, e.g. "image/png".
	MIME string `json:"mime"`

	// RevisedPrompt is the prompt the backend actually rendered, when the
	// backend reports one.
	RevisedPrompt string `json:"revised_prompt,omitempty"`

	// Latency is the wall-clock time of the generation call.
	Latency time.Duration `json:"latency"`
}

// Capability represents a feature a backend supports. The classifier and
// coordinator use capabilities to validate routing decisions.
type Capability string

const (
	// CapabilityChat indicates support for conversational completion.
	CapabilityChat Capability = "chat"

	// CapabilityWebSearch indicates the backend can ground answers in
	// live web results.
	CapabilityWebSearch Capability = "web_search"

	// CapabilityVision indicates support for image input.
	CapabilityVision Capability = "vision"

	// CapabilityImageGen indicates support for image generation.
	CapabilityImageGen Capability = "image_generation"
)

// ErrorKind is a machine-readable classification of a backend failure. The
// coordinator's fallback decision is driven by the presence of an error, but
// the kind is preserved for logging, metrics, and user-facing messages.
type ErrorKind string

const (
	// KindAuth means the backend rejected our credentials. Fatal for the
	// backend; never retried against the same backend.
	KindAuth ErrorKind = "auth"

	// KindRateLimited means the backend throttled us. Recovered via
	// fallback, never by resubmission to the same backend.
	KindRateLimited ErrorKind = "rate_limited"

	// KindTimeout means the call exceeded its deadline.
	KindTimeout ErrorKind = "timeout"

	// KindMalformed means the backend returned an unusable payload.
	KindMalformed ErrorKind = "malformed_response"

	// KindInvalidRequest means the backend rejected the request shape.
	KindInvalidRequest ErrorKind = "invalid_request"

	// KindUnavailable means the backend is down or unreachable.
	KindUnavailable ErrorKind = "unavailable"
)

// ProviderError is the only error type backends return. It carries the
// failing backend's name and a kind that downstream code can switch on
// instead of matching error text.
type ProviderError struct {
	Backend    Backend   `json:"backend"`
	Kind       ErrorKind `json:"kind"`
	Message    string    `json:"message"`
	StatusCode int       `json:"status_code,omitempty"`
	Cause      error     `json:"-"`
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	if e.StatusCode > 0 {
		return fmt.Sprintf("%s: %s (status %d): %s", e.Backend, e.Kind, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s: %s: %s", e.Backend, e.Kind, e.Message)
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// NewProviderError creates a ProviderError for the given backend and kind.
func NewProviderError(backend Backend, kind ErrorKind, message string) *ProviderError {
	return &ProviderError{Backend: backend, Kind: kind, Message: message}
}

// KindOf extracts the ErrorKind from err. Errors that are not ProviderErrors
// classify as timeout when the context deadline expired and unavailable
// otherwise.
func KindOf(err error) ErrorKind {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnavailable
}

// KindFromStatus maps an HTTP status code to an ErrorKind. Backends share
// this mapping so the taxonomy stays consistent.
func KindFromStatus(status int) ErrorKind {
	switch {
	case status == 401 || status == 403:
		return KindAuth
	case status == 429:
		return KindRateLimited
	case status == 408 || status == 504:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindInvalidRequest
	default:
		return KindUnavailable
	}
}

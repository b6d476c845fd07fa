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

// Package coordinator drives a request through the full answer pipeline:
// cache check, classification, retrieval enrichment, primary backend call,
// single fallback on failure, and concurrent image generation. The fallback
// pairing is fixed at construction and runs at most once per request, only
// after the primary has failed, never after a cache hit.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"stroinadzor/platform/assistant/cache"
	"stroinadzor/platform/assistant/classifier"
	"stroinadzor/platform/assistant/llm"
	"stroinadzor/platform/assistant/rag"
	"stroinadzor/platform/common/usage"
)

// DefaultCallTimeout bounds every single backend call. A timed-out primary
// call triggers fallback the same way any other failure does.
const DefaultCallTimeout = 60 * time.Second

// DefaultImageTimeout bounds image generation, which is much slower than
// text completion.
const DefaultImageTimeout = 180 * time.Second

// UsedBackend reports which path produced the answer text.
type UsedBackend string

const (
	UsedPrimary   UsedBackend = "primary"
	UsedSecondary UsedBackend = "secondary"
	UsedCache     UsedBackend = "cache"
)

// Request is one inbound user question.
type Request struct {
	UserID         string
	Text           string
	History        []llm.Message
	Attachment     []byte
	AttachmentMIME string
}

// Outcome is the terminal result of handling one request. Produced once;
// nothing else persists it.
type Outcome struct {
	Text        string
	UsedBackend UsedBackend
	Backend     llm.Backend
	Decision    classifier.RoutingDecision

	// Model and Usage describe the completion that produced Text. Zero on
	// cache hits and failures.
	Model string
	Usage llm.UsageStats

	// Image is set when image generation was requested and succeeded.
	// ImageErr carries the generation failure otherwise; it never makes
	// the overall outcome a failure.
	Image    *llm.ImageResult
	ImageErr error

	Err error
}

// AllBackendsFailedError aggregates the primary and fallback failures.
type AllBackendsFailedError struct {
	Primary   error
	Secondary error
}

func (e *AllBackendsFailedError) Error() string {
	return fmt.Sprintf("all backends failed: primary: %v; fallback: %v", e.Primary, e.Secondary)
}

// ResponseCache is the cache surface the engine needs.
type ResponseCache interface {
	Lookup(ctx context.Context, fp cache.Fingerprint) (*cache.Entry, bool)
	Put(ctx context.Context, fp cache.Fingerprint, entry cache.Entry) error
}

// Retriever enriches prompts with normative document fragments.
type Retriever interface {
	Search(ctx context.Context, collection, query string) ([]rag.Result, error)
}

// EventRecorder persists per-request analytics. Recording failures never
// affect the outcome.
type EventRecorder interface {
	RecordRequest(event usage.RequestEvent) error
}

// Config holds engine configuration. Providers maps every routable backend
// to its adapter; Fallbacks fixes the secondary backend per primary.
type Config struct {
	Providers map[llm.Backend]llm.Provider
	ImageGen  llm.ImageGenerator

	// Fallbacks is the fixed primary-to-secondary pairing. Defaults pair
	// grok and claude with each other and send gemini failures to claude.
	Fallbacks map[llm.Backend]llm.Backend

	Cache     ResponseCache
	Retriever Retriever
	Recorder  EventRecorder

	// Collection is the retrieval collection searched for technical
	// questions.
	Collection string

	// DisableWebSearch drops the classifier's web-search flag before
	// dispatch. Self-hosted deployments use it to avoid separately billed
	// live search.
	DisableWebSearch bool

	SystemPrompt string
	CallTimeout  time.Duration
	ImageTimeout time.Duration
	Logger       *log.Logger
}

var defaultFallbacks = map[llm.Backend]llm.Backend{
	llm.BackendGrok:   llm.BackendClaude,
	llm.BackendClaude: llm.BackendGrok,
	llm.BackendGemini: llm.BackendClaude,
}

// ResolveFallbacks derives the fallback pairing from the adapters that are
// actually configured. Stock pairings apply when both sides have adapters;
// when a stock secondary is missing, Bedrock substitutes as the reserve,
// which also routes every classifier target in a Bedrock-only deployment.
func ResolveFallbacks(providers map[llm.Backend]llm.Provider) map[llm.Backend]llm.Backend {
	_, hasBedrock := providers[llm.BackendBedrock]
	fallbacks := make(map[llm.Backend]llm.Backend, len(defaultFallbacks)+1)
	for primary, secondary := range defaultFallbacks {
		if _, ok := providers[secondary]; ok {
			fallbacks[primary] = secondary
		} else if hasBedrock {
			fallbacks[primary] = llm.BackendBedrock
		}
	}
	if hasBedrock {
		if _, ok := providers[llm.BackendClaude]; ok {
			fallbacks[llm.BackendBedrock] = llm.BackendClaude
		} else if _, ok := providers[llm.BackendGrok]; ok {
			fallbacks[llm.BackendBedrock] = llm.BackendGrok
		}
	}
	return fallbacks
}

// Engine is safe for concurrent use.
type Engine struct {
	providers    map[llm.Backend]llm.Provider
	imageGen     llm.ImageGenerator
	fallbacks    map[llm.Backend]llm.Backend
	cache        ResponseCache
	retriever    Retriever
	recorder     EventRecorder
	collection   string
	systemPrompt string
	noWebSearch  bool
	callTimeout  time.Duration
	imageTimeout time.Duration
	logger       *log.Logger
}

// New builds an engine. Missing optional collaborators (cache, retriever,
// recorder, image generator) disable the matching pipeline step.
func New(cfg Config) *Engine {
	if cfg.Fallbacks == nil {
		cfg.Fallbacks = defaultFallbacks
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultCallTimeout
	}
	if cfg.ImageTimeout <= 0 {
		cfg.ImageTimeout = DefaultImageTimeout
	}
	if cfg.Collection == "" {
		cfg.Collection = "normative"
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Engine{
		providers:    cfg.Providers,
		imageGen:     cfg.ImageGen,
		fallbacks:    cfg.Fallbacks,
		cache:        cfg.Cache,
		retriever:    cfg.Retriever,
		recorder:     cfg.Recorder,
		collection:   cfg.Collection,
		systemPrompt: cfg.SystemPrompt,
		noWebSearch:  cfg.DisableWebSearch,
		callTimeout:  cfg.CallTimeout,
		imageTimeout: cfg.ImageTimeout,
		logger:       cfg.Logger,
	}
}

type imageOutcome struct {
	result *llm.ImageResult
	err    error
}

// Handle answers one request.
func (e *Engine) Handle(ctx context.Context, req Request) Outcome {
	requestID := uuid.NewString()
	started := time.Now()

	fp := cache.NewFingerprint(req.Text, req.Attachment)
	if e.cache != nil {
		if entry, ok := e.cache.Lookup(ctx, fp); ok {
			e.logger.Printf("[COORD] %s cache hit (hits=%d)", requestID, entry.HitCount)
			outcome := Outcome{
				Text:        entry.Response,
				UsedBackend: UsedCache,
				Backend:     llm.Backend(entry.Backend),
			}
			e.record(requestID, req, outcome, started)
			return outcome
		}
	}

	decision := classifier.Classify(req.Text, len(req.Attachment) > 0)
	e.logger.Printf("[COORD] %s routed to %s: %s", requestID, decision.Backend, decision.Rationale)

	completion := llm.CompletionRequest{
		Prompt:          req.Text,
		SystemPrompt:    e.enrichSystemPrompt(ctx, req.Text, decision),
		History:         req.History,
		Model:           decision.Model,
		EnableWebSearch: decision.NeedsWebSearch && !e.noWebSearch,
		Attachment:      req.Attachment,
		AttachmentMIME:  req.AttachmentMIME,
	}
	if decision.NeedsImage {
		completion.SystemPrompt = withImageInstruction(completion.SystemPrompt)
	}

	result, usedBackend, backend, err := e.complete(ctx, decision.Backend, completion)
	if err != nil {
		outcome := Outcome{UsedBackend: usedBackend, Backend: backend, Decision: decision, Err: err}
		e.record(requestID, req, outcome, started)
		return outcome
	}

	outcome := Outcome{
		Text:        result.Content,
		UsedBackend: usedBackend,
		Backend:     backend,
		Decision:    decision,
		Model:       result.Model,
		Usage:       result.Usage,
	}

	// Image generation overlaps with the cache write; the combined outcome
	// awaits it before returning.
	var imgCh chan imageOutcome
	if decision.NeedsImage && e.imageGen != nil {
		prompt, ok := ExtractImagePrompt(result.Content)
		if !ok {
			prompt = DefaultImagePrompt(req.Text)
		}
		imgCh = make(chan imageOutcome, 1)
		go e.generateImage(ctx, prompt, imgCh)
	}

	if e.cache != nil {
		entry := cache.Entry{
			Response:   result.Content,
			Backend:    string(backend),
			Model:      result.Model,
			TokensUsed: result.Usage.TotalTokens,
		}
		if err := e.cache.Put(ctx, fp, entry); err != nil {
			e.logger.Printf("[COORD] %s cache write failed: %v", requestID, err)
		}
	}

	if imgCh != nil {
		img := <-imgCh
		outcome.Image = img.result
		outcome.ImageErr = img.err
		if img.err != nil {
			e.logger.Printf("[COORD] %s image generation failed: %v", requestID, img.err)
		}
	}

	e.record(requestID, req, outcome, started)
	return outcome
}

// complete runs the primary call and at most one fallback.
func (e *Engine) complete(ctx context.Context, primary llm.Backend, req llm.CompletionRequest) (*llm.CompletionResult, UsedBackend, llm.Backend, error) {
	var primaryErr error
	if provider, ok := e.providers[primary]; ok {
		result, err := e.call(ctx, provider, req)
		if err == nil {
			return result, UsedPrimary, primary, nil
		}
		primaryErr = err
		e.logger.Printf("[COORD] primary %s failed (%s): %v", primary, llm.KindOf(primaryErr), primaryErr)
	} else {
		// A deployment need not carry an adapter for every routable
		// backend. The miss counts as a primary failure so the reserve
		// pairing can still serve the request.
		primaryErr = llm.NewProviderError(primary, llm.KindUnavailable,
			"no adapter configured for backend")
		e.logger.Printf("[COORD] primary %s has no adapter, trying fallback", primary)
	}

	secondary, ok := e.fallbacks[primary]
	if !ok {
		return nil, UsedPrimary, primary, primaryErr
	}
	fallbackProvider, ok := e.providers[secondary]
	if !ok {
		return nil, UsedPrimary, primary, primaryErr
	}

	// The fallback gets the same prompt content; attachments are dropped
	// when the secondary cannot analyse them.
	fallbackReq := req
	fallbackReq.Model = ""
	if !llm.HasCapability(fallbackProvider, llm.CapabilityVision) {
		fallbackReq.Attachment = nil
		fallbackReq.AttachmentMIME = ""
	}

	result, secondaryErr := e.call(ctx, fallbackProvider, fallbackReq)
	if secondaryErr == nil {
		return result, UsedSecondary, secondary, nil
	}
	e.logger.Printf("[COORD] fallback %s failed (%s): %v", secondary, llm.KindOf(secondaryErr), secondaryErr)

	return nil, UsedSecondary, secondary, &AllBackendsFailedError{
		Primary:   primaryErr,
		Secondary: secondaryErr,
	}
}

func (e *Engine) call(ctx context.Context, provider llm.Provider, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.callTimeout)
	defer cancel()
	return provider.Complete(callCtx, req)
}

func (e *Engine) generateImage(ctx context.Context, prompt string, ch chan<- imageOutcome) {
	imgCtx, cancel := context.WithTimeout(ctx, e.imageTimeout)
	defer cancel()
	result, err := e.imageGen.GenerateImage(imgCtx, llm.ImageRequest{Prompt: prompt})
	ch <- imageOutcome{result: result, err: err}
}

// enrichSystemPrompt appends retrieved normative fragments for technical
// questions. Retrieval failures degrade silently.
func (e *Engine) enrichSystemPrompt(ctx context.Context, text string, decision classifier.RoutingDecision) string {
	prompt := e.systemPrompt
	if e.retriever == nil {
		return prompt
	}
	if decision.Backend != llm.BackendClaude && len(classifier.ExtractRegulationCodes(text)) == 0 {
		return prompt
	}

	results, err := e.retriever.Search(ctx, e.collection, text)
	if err != nil {
		e.logger.Printf("[COORD] retrieval failed (continuing without context): %v", err)
		return prompt
	}
	if len(results) == 0 {
		return prompt
	}

	var b strings.Builder
	b.WriteString(prompt)
	b.WriteString("\n\nВыдержки из нормативных документов по теме вопроса:\n")
	for _, r := range results {
		fmt.Fprintf(&b, "\n[%s] %s\n", r.DocumentCode, r.Content)
	}
	return b.String()
}

// withImageInstruction tells the text backend to embed a generation prompt
// in its answer, in the format the extraction patterns expect.
func withImageInstruction(systemPrompt string) string {
	return systemPrompt + `

Пользователь запросил изображение. После текстового ответа добавь блок:
📝 **Промпт для генерации изображения:**
"Detailed English prompt describing a professional technical construction diagram"`
}

func (e *Engine) record(requestID string, req Request, outcome Outcome, started time.Time) {
	if e.recorder == nil {
		return
	}
	event := usage.RequestEvent{
		UserID:           req.UserID,
		RequestID:        requestID,
		Backend:          string(outcome.Backend),
		Model:            outcome.Model,
		Rationale:        outcome.Decision.Rationale,
		UsedFallback:     outcome.UsedBackend == UsedSecondary,
		CacheHit:         outcome.UsedBackend == UsedCache,
		ImageRequested:   outcome.Decision.NeedsImage,
		ImageDelivered:   outcome.Image != nil,
		PromptTokens:     outcome.Usage.PromptTokens,
		CompletionTokens: outcome.Usage.CompletionTokens,
		LatencyMs:        time.Since(started).Milliseconds(),
	}
	if outcome.Err != nil {
		event.ErrorKind = string(llm.KindOf(outcome.Err))
	}
	if err := e.recorder.RecordRequest(event); err != nil {
		e.logger.Printf("[COORD] %s failed to record event: %v", requestID, err)
	}
}

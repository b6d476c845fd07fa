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

package coordinator

import (
	"context"
	"errors"
	"strings"
	"testing"

	"stroinadzor/platform/assistant/cache"
	"stroinadzor/platform/assistant/llm"
	"stroinadzor/platform/assistant/rag"
)

type mockProvider struct {
	name     llm.Backend
	caps     []llm.Capability
	response string
	err      error
	calls    int
	lastReq  llm.CompletionRequest
}

func (m *mockProvider) Name() llm.Backend { return m.name }
func (m *mockProvider) Capabilities() []llm.Capability { return m.caps }

func (m *mockProvider) Complete(_ context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	m.calls++
	m.lastReq = req
	if m.err != nil {
		return nil, m.err
	}
	return &llm.CompletionResult{
		Content: m.response,
		Model:   "mock-model",
		Usage:   llm.UsageStats{PromptTokens: 10, CompletionTokens: 20, TotalTokens: 30},
	}, nil
}

type mockImageGen struct {
	err        error
	calls      int
	lastPrompt string
}

func (m *mockImageGen) Name() llm.Backend { return llm.BackendDalle }

func (m *mockImageGen) GenerateImage(_ context.Context, req llm.ImageRequest) (*llm.ImageResult, error) {
	m.calls++
	m.lastPrompt = req.Prompt
	if m.err != nil {
		return nil, m.err
	}
	return &llm.ImageResult{Data: []byte("png-bytes"), MIME: "image/png"}, nil
}

// fakeCache implements ResponseCache in memory.
type fakeCache struct {
	entries map[string]cache.Entry
	puts    int
}

func newFakeCache() *fakeCache {
	return &fakeCache{entries: make(map[string]cache.Entry)}
}

func (f *fakeCache) Lookup(_ context.Context, fp cache.Fingerprint) (*cache.Entry, bool) {
	entry, ok := f.entries[fp.Key()]
	if !ok {
		return nil, false
	}
	return &entry, true
}

func (f *fakeCache) Put(_ context.Context, fp cache.Fingerprint, entry cache.Entry) error {
	f.puts++
	f.entries[fp.Key()] = entry
	return nil
}

func newTestEngine(grok, claude, gemini *mockProvider, opts Config) *Engine {
	providers := make(map[llm.Backend]llm.Provider)
	if grok != nil {
		providers[llm.BackendGrok] = grok
	}
	if claude != nil {
		providers[llm.BackendClaude] = claude
	}
	if gemini != nil {
		providers[llm.BackendGemini] = gemini
	}
	opts.Providers = providers
	return New(opts)
}

func TestHandlePrimarySuccess(t *testing.T) {
	grok := &mockProvider{name: llm.BackendGrok, response: "привет"}
	claude := &mockProvider{name: llm.BackendClaude, response: "никогда"}
	e := newTestEngine(grok, claude, nil, Config{})

	outcome := e.Handle(context.Background(), Request{UserID: "u1", Text: "как дела"})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if outcome.UsedBackend != UsedPrimary {
		t.Errorf("UsedBackend = %s, want primary", outcome.UsedBackend)
	}
	if outcome.Text != "привет" {
		t.Errorf("Text = %q", outcome.Text)
	}
	if claude.calls != 0 {
		t.Error("fallback must not run when primary succeeds")
	}
}

func TestHandleFallbackOnPrimaryFailure(t *testing.T) {
	grok := &mockProvider{
		name: llm.BackendGrok,
		err:  llm.NewProviderError(llm.BackendGrok, llm.KindAuth, "invalid api key"),
	}
	claude := &mockProvider{name: llm.BackendClaude, response: "запасной ответ"}
	e := newTestEngine(grok, claude, nil, Config{})

	outcome := e.Handle(context.Background(), Request{Text: "вопрос"})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if outcome.UsedBackend != UsedSecondary {
		t.Errorf("UsedBackend = %s, want secondary", outcome.UsedBackend)
	}
	if outcome.Backend != llm.BackendClaude {
		t.Errorf("Backend = %s, want claude", outcome.Backend)
	}
	if outcome.Text != "запасной ответ" {
		t.Errorf("Text = %q", outcome.Text)
	}
	if grok.calls != 1 || claude.calls != 1 {
		t.Errorf("calls: grok=%d claude=%d, want 1/1", grok.calls, claude.calls)
	}
}

func TestResolveFallbacks(t *testing.T) {
	full := map[llm.Backend]llm.Provider{
		llm.BackendGrok:   &mockProvider{name: llm.BackendGrok},
		llm.BackendClaude: &mockProvider{name: llm.BackendClaude},
	}
	fallbacks := ResolveFallbacks(full)
	if fallbacks[llm.BackendGrok] != llm.BackendClaude || fallbacks[llm.BackendClaude] != llm.BackendGrok {
		t.Errorf("unexpected stock pairing %v", fallbacks)
	}
	if _, ok := fallbacks[llm.BackendBedrock]; ok {
		t.Error("bedrock must not appear in the pairing without an adapter")
	}

	// Bedrock substitutes for a missing stock secondary.
	reserve := map[llm.Backend]llm.Provider{
		llm.BackendGrok:    &mockProvider{name: llm.BackendGrok},
		llm.BackendBedrock: &mockProvider{name: llm.BackendBedrock},
	}
	fallbacks = ResolveFallbacks(reserve)
	if fallbacks[llm.BackendGrok] != llm.BackendBedrock {
		t.Errorf("grok fallback = %s, want bedrock", fallbacks[llm.BackendGrok])
	}
	if fallbacks[llm.BackendBedrock] != llm.BackendGrok {
		t.Errorf("bedrock fallback = %s, want grok", fallbacks[llm.BackendBedrock])
	}
}

func TestHandleBedrockOnlyDeployment(t *testing.T) {
	reserve := &mockProvider{name: llm.BackendBedrock, response: "ответ из резерва"}
	providers := map[llm.Backend]llm.Provider{llm.BackendBedrock: reserve}
	e := New(Config{Providers: providers, Fallbacks: ResolveFallbacks(providers)})

	outcome := e.Handle(context.Background(), Request{UserID: "u1", Text: "как дела"})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if outcome.Backend != llm.BackendBedrock {
		t.Errorf("Backend = %s, want bedrock", outcome.Backend)
	}
	if outcome.UsedBackend != UsedSecondary {
		t.Errorf("UsedBackend = %s, want secondary", outcome.UsedBackend)
	}
	if reserve.calls != 1 {
		t.Errorf("reserve calls = %d, want 1", reserve.calls)
	}
	if outcome.Text != "ответ из резерва" {
		t.Errorf("Text = %q", outcome.Text)
	}
}

func TestHandleAllBackendsFailed(t *testing.T) {
	grok := &mockProvider{
		name: llm.BackendGrok,
		err:  llm.NewProviderError(llm.BackendGrok, llm.KindTimeout, "deadline exceeded"),
	}
	claude := &mockProvider{
		name: llm.BackendClaude,
		err:  llm.NewProviderError(llm.BackendClaude, llm.KindRateLimited, "overloaded"),
	}
	c := newFakeCache()
	e := newTestEngine(grok, claude, nil, Config{Cache: c})

	outcome := e.Handle(context.Background(), Request{Text: "вопрос"})

	if outcome.Err == nil {
		t.Fatal("expected error when both backends fail")
	}
	var agg *AllBackendsFailedError
	if !errors.As(outcome.Err, &agg) {
		t.Fatalf("Err type = %T, want AllBackendsFailedError", outcome.Err)
	}
	msg := outcome.Err.Error()
	if !strings.Contains(msg, "deadline exceeded") || !strings.Contains(msg, "overloaded") {
		t.Errorf("aggregate error must name both causes: %q", msg)
	}
	if c.puts != 0 {
		t.Error("no cache entry may be written for a failed request")
	}
	if grok.calls != 1 || claude.calls != 1 {
		t.Errorf("calls: grok=%d claude=%d, want exactly one each", grok.calls, claude.calls)
	}
}

func TestHandleCacheHitSkipsProviders(t *testing.T) {
	grok := &mockProvider{name: llm.BackendGrok, response: "ответ из сети"}
	claude := &mockProvider{name: llm.BackendClaude, response: "другой"}
	c := newFakeCache()
	e := newTestEngine(grok, claude, nil, Config{Cache: c})
	ctx := context.Background()

	first := e.Handle(ctx, Request{Text: "Что такое осадка фундамента?"})
	if first.UsedBackend != UsedPrimary {
		t.Fatalf("first request: UsedBackend = %s", first.UsedBackend)
	}

	// Same question, different case: served from cache, zero backend calls.
	second := e.Handle(ctx, Request{Text: "что такое ОСАДКА фундамента?"})
	if second.UsedBackend != UsedCache {
		t.Fatalf("second request: UsedBackend = %s, want cache", second.UsedBackend)
	}
	if second.Text != "ответ из сети" {
		t.Errorf("Text = %q", second.Text)
	}
	if grok.calls != 1 {
		t.Errorf("grok called %d times, want 1", grok.calls)
	}
	if claude.calls != 0 {
		t.Error("fallback must never run after a cache hit")
	}
}

func TestHandleImageFanOut(t *testing.T) {
	grok := &mockProvider{
		name: llm.BackendGrok,
		response: "Вот схема фундамента.\n📝 **Промпт для генерации изображения:**\n\"Foundation cross-section diagram, blueprint style\"",
	}
	img := &mockImageGen{}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude}, nil, Config{ImageGen: img})

	outcome := e.Handle(context.Background(), Request{Text: "нарисуй схему фундамента"})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if !outcome.Decision.NeedsImage {
		t.Fatal("decision must request an image")
	}
	if outcome.Image == nil {
		t.Fatal("Image must be set on successful generation")
	}
	if img.lastPrompt != "Foundation cross-section diagram, blueprint style" {
		t.Errorf("image prompt = %q, want the extracted one", img.lastPrompt)
	}
}

func TestHandleImageFailureKeepsText(t *testing.T) {
	grok := &mockProvider{name: llm.BackendGrok, response: "Схема описана словами."}
	img := &mockImageGen{err: llm.NewProviderError(llm.BackendDalle, llm.KindUnavailable, "dalle down")}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude}, nil, Config{ImageGen: img})

	outcome := e.Handle(context.Background(), Request{Text: "нарисуй схему фундамента"})

	if outcome.Err != nil {
		t.Fatalf("image failure must not fail the outcome: %v", outcome.Err)
	}
	if outcome.Text == "" {
		t.Error("text answer must survive image failure")
	}
	if outcome.Image != nil {
		t.Error("Image must be empty when generation failed")
	}
	if outcome.ImageErr == nil {
		t.Error("ImageErr must carry the generation failure")
	}
}

func TestHandleImageDefaultPrompt(t *testing.T) {
	// The answer carries no embedded prompt, so one is synthesized from
	// the user's question.
	grok := &mockProvider{name: llm.BackendGrok, response: "Описание без промпта."}
	img := &mockImageGen{}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude}, nil, Config{ImageGen: img})

	e.Handle(context.Background(), Request{Text: "нарисуй схему дренажа"})

	if img.lastPrompt != "Technical construction diagram: нарисуй схему дренажа" {
		t.Errorf("image prompt = %q", img.lastPrompt)
	}
}

func TestHandleAttachmentRoutesToVision(t *testing.T) {
	gemini := &mockProvider{
		name:     llm.BackendGemini,
		caps:     []llm.Capability{llm.CapabilityChat, llm.CapabilityVision},
		response: "на фото трещина",
	}
	grok := &mockProvider{name: llm.BackendGrok, response: "не должен отвечать"}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude, response: "тоже нет"}, gemini, Config{})

	outcome := e.Handle(context.Background(), Request{
		Text:           "что это за дефект",
		Attachment:     []byte("jpeg-bytes"),
		AttachmentMIME: "image/jpeg",
	})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if outcome.Backend != llm.BackendGemini {
		t.Errorf("Backend = %s, want gemini", outcome.Backend)
	}
	if len(gemini.lastReq.Attachment) == 0 {
		t.Error("attachment must reach the vision backend")
	}
	if grok.calls != 0 {
		t.Error("general backend must not be called for attachments")
	}
}

func TestHandleFallbackDropsAttachmentForTextBackend(t *testing.T) {
	gemini := &mockProvider{
		name: llm.BackendGemini,
		caps: []llm.Capability{llm.CapabilityChat, llm.CapabilityVision},
		err:  llm.NewProviderError(llm.BackendGemini, llm.KindUnavailable, "gemini down"),
	}
	claude := &mockProvider{
		name:     llm.BackendClaude,
		caps:     []llm.Capability{llm.CapabilityChat},
		response: "отвечаю без фото",
	}
	e := newTestEngine(nil, claude, gemini, Config{})

	outcome := e.Handle(context.Background(), Request{
		Text:       "что на фото",
		Attachment: []byte("jpeg-bytes"),
	})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if outcome.UsedBackend != UsedSecondary {
		t.Errorf("UsedBackend = %s, want secondary", outcome.UsedBackend)
	}
	if len(claude.lastReq.Attachment) != 0 {
		t.Error("attachment must be dropped for a backend without vision")
	}
}

func TestHandleWebSearchFlagPropagates(t *testing.T) {
	grok := &mockProvider{name: llm.BackendGrok, response: "по состоянию на сегодня"}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude}, nil, Config{})

	e.Handle(context.Background(), Request{Text: "найди свежие новости стройки"})

	if !grok.lastReq.EnableWebSearch {
		t.Error("EnableWebSearch must be set for freshness-triggered requests")
	}
}

func TestHandleWebSearchDisabledByDeployment(t *testing.T) {
	grok := &mockProvider{name: llm.BackendGrok, response: "ответ без поиска"}
	e := newTestEngine(grok, &mockProvider{name: llm.BackendClaude}, nil, Config{DisableWebSearch: true})

	e.Handle(context.Background(), Request{Text: "найди свежие новости стройки"})

	if grok.lastReq.EnableWebSearch {
		t.Error("EnableWebSearch must stay off when the deployment disables live search")
	}
}

type fakeRetriever struct {
	results []rag.Result
	err     error
	calls   int
}

func (f *fakeRetriever) Search(_ context.Context, _, _ string) ([]rag.Result, error) {
	f.calls++
	return f.results, f.err
}

func TestHandleRetrievalEnrichesTechnicalQuestions(t *testing.T) {
	claude := &mockProvider{name: llm.BackendClaude, response: "не менее 40 мм"}
	retriever := &fakeRetriever{results: []rag.Result{
		{DocumentCode: "СП 63.13330.2018", Content: "Защитный слой бетона фундаментов не менее 40 мм.", Score: 0.9},
	}}
	e := newTestEngine(&mockProvider{name: llm.BackendGrok}, claude, nil, Config{
		Retriever:    retriever,
		SystemPrompt: "Ты инженер стройнадзора.",
	})

	outcome := e.Handle(context.Background(), Request{Text: "Какой защитный слой бетона нужен по СП 63?"})

	if outcome.Err != nil {
		t.Fatalf("Err = %v", outcome.Err)
	}
	if retriever.calls != 1 {
		t.Fatalf("retriever called %d times, want 1", retriever.calls)
	}
	if !strings.Contains(claude.lastReq.SystemPrompt, "не менее 40 мм") {
		t.Error("retrieved fragment must be merged into the system prompt")
	}
	if !strings.Contains(claude.lastReq.SystemPrompt, "Ты инженер стройнадзора.") {
		t.Error("base system prompt must be preserved")
	}
}

func TestHandleRetrievalFailureDegradesSilently(t *testing.T) {
	claude := &mockProvider{name: llm.BackendClaude, response: "ответ без контекста"}
	retriever := &fakeRetriever{err: errors.New("store down")}
	e := newTestEngine(&mockProvider{name: llm.BackendGrok}, claude, nil, Config{
		Retriever:    retriever,
		SystemPrompt: "base",
	})

	outcome := e.Handle(context.Background(), Request{Text: "расчёт нагрузки на плиту"})

	if outcome.Err != nil {
		t.Fatalf("retrieval failure must not break the request: %v", outcome.Err)
	}
	if claude.lastReq.SystemPrompt != "base" {
		t.Errorf("SystemPrompt = %q, want untouched base prompt", claude.lastReq.SystemPrompt)
	}
}

func TestExtractImagePrompt(t *testing.T) {
	tests := []struct {
		name string
		text string
		want string
		ok   bool
	}{
		{
			name: "markdown block with quotes",
			text: "Ответ.\n📝 **Промпт для генерации изображения:**\n\"Blueprint of a pile foundation\"",
			want: "Blueprint of a pile foundation",
			ok:   true,
		},
		{
			name: "dalle label without quotes",
			text: "Ответ.\nПромпт для DALL-E:\nSewer manhole layout diagram",
			want: "Sewer manhole layout diagram",
			ok:   true,
		},
		{
			name: "english label",
			text: `Here you go. Image prompt: "Concrete slab reinforcement plan"`,
			want: "Concrete slab reinforcement plan",
			ok:   true,
		},
		{
			name: "no prompt",
			text: "Просто текстовый ответ без промпта.",
			ok:   false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := ExtractImagePrompt(tt.text)
			if ok != tt.ok || got != tt.want {
				t.Errorf("ExtractImagePrompt() = (%q, %v), want (%q, %v)", got, ok, tt.want, tt.ok)
			}
		})
	}
}

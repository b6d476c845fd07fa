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

package assistant

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"stroinadzor/platform/assistant/cache"
	"stroinadzor/platform/assistant/coordinator"
	"stroinadzor/platform/assistant/llm"
	"stroinadzor/platform/assistant/llm/anthropic"
	"stroinadzor/platform/assistant/llm/bedrock"
	"stroinadzor/platform/assistant/llm/dalle"
	"stroinadzor/platform/assistant/llm/gemini"
	"stroinadzor/platform/assistant/llm/grok"
	"stroinadzor/platform/assistant/rag"
	"stroinadzor/platform/assistant/ratelimit"
	"stroinadzor/platform/common/usage"
	"stroinadzor/platform/config"
	"stroinadzor/platform/shared/logger"
)

// Run loads configuration, wires the full service, and serves HTTP until
// SIGINT or SIGTERM. It is the single entry point used by cmd/assistant.
func Run() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		log.Fatalf("[ASSISTANT] Failed to load configuration: %v", err)
	}

	if cfg.Deployment.UseSecretsManager {
		secrets, err := config.NewAWSSecrets(ctx, config.AWSSecretsOptions{Region: cfg.AWSRegion})
		if err != nil {
			log.Fatalf("[ASSISTANT] Failed to initialize Secrets Manager: %v", err)
		}
		if err := cfg.ResolveSecrets(ctx, secrets); err != nil {
			log.Fatalf("[ASSISTANT] Failed to resolve secrets: %v", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("[ASSISTANT] Invalid configuration: %v", err)
	}

	appLog := logger.New("assistant")

	server, cleanup, err := buildServer(ctx, cfg, appLog)
	if err != nil {
		log.Fatalf("[ASSISTANT] Failed to build server: %v", err)
	}
	defer cleanup()

	if err := server.Run(ctx, cfg.Port); err != nil {
		log.Fatalf("[ASSISTANT] Server stopped: %v", err)
	}
}

// buildServer constructs every collaborator from configuration. Optional
// pieces (database, image generation, retrieval) are skipped when their
// configuration is absent.
func buildServer(ctx context.Context, cfg *config.Config, appLog *logger.Logger) (*Server, func(), error) {
	providers, imageGen, err := buildProviders(ctx, cfg)
	if err != nil {
		return nil, nil, err
	}

	cacheCfg := cache.Config{
		RedisURL:            cfg.RedisURL,
		TTL:                 cfg.Cache.TTL(),
		SimilarityThreshold: cfg.Cache.SimilarityThreshold,
		RecentWindow:        cfg.Cache.RecentWindow,
	}
	var respCache interface {
		coordinator.ResponseCache
		Cacher
	}
	redisCache, err := cache.New(cacheCfg)
	if err != nil {
		log.Printf("[ASSISTANT] Redis cache unavailable, using in-memory cache: %v", err)
		respCache = cache.NewMemory(cacheCfg)
	} else {
		respCache = redisCache
	}

	limits := make(map[ratelimit.Tier]int, len(cfg.RateLimit.Limits))
	for tier, limit := range cfg.RateLimit.Limits {
		limits[ratelimit.Tier(tier)] = limit
	}
	limiter, err := ratelimit.New(ratelimit.Config{
		RedisURL: cfg.RedisURL,
		Window:   cfg.RateLimit.Window(),
		Limits:   limits,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect rate limiter: %w", err)
	}

	var (
		db       *sql.DB
		index    *rag.Index
		recorder *usage.Recorder
	)
	cleanup := func() {}

	if cfg.DatabaseURL != "" {
		db, err = sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to reach database: %w", err)
		}
		cleanup = func() { db.Close() }

		store := rag.NewStoreWithDB(db)
		if err := store.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate chunk store: %w", err)
		}

		recorder = usage.NewRecorder(db)
		if err := recorder.Migrate(ctx); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to migrate usage recorder: %w", err)
		}

		if cfg.Backends.OpenAI.APIKey != "" {
			embedder := rag.NewOpenAIEmbedder(rag.EmbedderConfig{
				APIKey: cfg.Backends.OpenAI.APIKey,
			})
			index = rag.NewIndex(store, embedder, rag.IndexConfig{
				TopK:         cfg.Retrieval.TopK,
				MinRelevance: cfg.Retrieval.MinRelevance,
			})
		}
	}

	engineCfg := coordinator.Config{
		Providers:        providers,
		Fallbacks:        coordinator.ResolveFallbacks(providers),
		ImageGen:         imageGen,
		Cache:            respCache,
		Collection:       cfg.Retrieval.Collection,
		SystemPrompt:     cfg.SystemPrompt,
		DisableWebSearch: !cfg.Deployment.EnableWebSearch,
		CallTimeout:      cfg.Timeouts.Call(),
		ImageTimeout:     cfg.Timeouts.Image(),
	}
	if index != nil {
		engineCfg.Retriever = index
	}
	if recorder != nil {
		engineCfg.Recorder = recorder
	}

	server := NewServer(ServerConfig{
		Engine:     coordinator.New(engineCfg),
		Cache:      respCache,
		Limiter:    limiter,
		Index:      index,
		JWTSecret:  []byte(cfg.JWTSecret),
		Collection: cfg.Retrieval.Collection,
		Logger:     appLog,
	})
	return server, cleanup, nil
}

// buildProviders constructs every backend that has credentials. Image
// generation additionally requires the deployment to enable it.
func buildProviders(ctx context.Context, cfg *config.Config) (map[llm.Backend]llm.Provider, llm.ImageGenerator, error) {
	providers := make(map[llm.Backend]llm.Provider)

	if cfg.Backends.Grok.APIKey != "" {
		p, err := grok.NewProvider(grok.Config{
			APIKey: cfg.Backends.Grok.APIKey,
			Model:  cfg.Backends.Grok.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure grok: %w", err)
		}
		providers[llm.BackendGrok] = p
	}

	if cfg.Backends.Claude.APIKey != "" {
		p, err := anthropic.NewProvider(anthropic.Config{
			APIKey: cfg.Backends.Claude.APIKey,
			Model:  cfg.Backends.Claude.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure claude: %w", err)
		}
		providers[llm.BackendClaude] = p
	}

	if cfg.Backends.Gemini.APIKey != "" {
		p, err := gemini.NewProvider(gemini.Config{
			APIKey: cfg.Backends.Gemini.APIKey,
			Model:  cfg.Backends.Gemini.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure gemini: %w", err)
		}
		providers[llm.BackendGemini] = p
	}

	if cfg.Backends.Bedrock.Enabled {
		p, err := bedrock.NewProvider(ctx, bedrock.Config{
			Region: cfg.Backends.Bedrock.Region,
			Model:  cfg.Backends.Bedrock.Model,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure bedrock: %w", err)
		}
		providers[llm.BackendBedrock] = p
	}

	if len(providers) == 0 {
		return nil, nil, fmt.Errorf("no text backend is configured")
	}

	var imageGen llm.ImageGenerator
	if cfg.Backends.OpenAI.APIKey != "" && cfg.Deployment.EnableImageGeneration {
		p, err := dalle.NewProvider(dalle.Config{
			APIKey: cfg.Backends.OpenAI.APIKey,
		})
		if err != nil {
			return nil, nil, fmt.Errorf("failed to configure image generation: %w", err)
		}
		imageGen = p
	}

	return providers, imageGen, nil
}

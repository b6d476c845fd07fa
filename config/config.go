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

// Package config loads assistant configuration from a YAML file with
// environment-variable overrides, and resolves backend credentials from
// either the environment or AWS Secrets Manager depending on the
// deployment mode.
package config

import (
	"context"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"stroinadzor/platform/shared/types"
)

// Config is the full assistant configuration.
type Config struct {
	Port string `yaml:"port"`

	Deployment types.DeploymentConfig `yaml:"deployment"`

	RedisURL    string `yaml:"redis_url"`
	DatabaseURL string `yaml:"database_url"`
	JWTSecret   string `yaml:"jwt_secret"`

	// SecretName is the AWS Secrets Manager secret holding backend API
	// keys, used when the deployment reads from Secrets Manager.
	SecretName string `yaml:"secret_name"`
	AWSRegion  string `yaml:"aws_region"`

	SystemPrompt string `yaml:"system_prompt"`

	Backends  BackendsConfig  `yaml:"backends"`
	Cache     CacheConfig     `yaml:"cache"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Timeouts  TimeoutsConfig  `yaml:"timeouts"`
}

// BackendsConfig holds per-backend credentials and model overrides.
type BackendsConfig struct {
	Grok    BackendConfig `yaml:"grok"`
	Claude  BackendConfig `yaml:"claude"`
	Gemini  BackendConfig `yaml:"gemini"`
	OpenAI  BackendConfig `yaml:"openai"` // image generation and embeddings
	Bedrock BedrockConfig `yaml:"bedrock"`
}

// BackendConfig configures one HTTP backend.
type BackendConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// BedrockConfig configures the AWS Bedrock reserve backend.
type BedrockConfig struct {
	Enabled bool   `yaml:"enabled"`
	Region  string `yaml:"region"`
	Model   string `yaml:"model"`
}

// CacheConfig configures the semantic cache.
type CacheConfig struct {
	TTLSeconds          int     `yaml:"ttl_seconds"`
	SimilarityThreshold float64 `yaml:"similarity_threshold"`
	RecentWindow        int     `yaml:"recent_window"`
}

// TTL returns the entry lifetime as a duration.
func (c CacheConfig) TTL() time.Duration {
	return time.Duration(c.TTLSeconds) * time.Second
}

// RateLimitConfig configures per-tier quotas.
type RateLimitConfig struct {
	WindowSeconds int            `yaml:"window_seconds"`
	Limits        map[string]int `yaml:"limits"`
}

// Window returns the quota window as a duration.
func (c RateLimitConfig) Window() time.Duration {
	return time.Duration(c.WindowSeconds) * time.Second
}

// RetrievalConfig configures the normative document index.
type RetrievalConfig struct {
	Collection   string  `yaml:"collection"`
	TopK         int     `yaml:"top_k"`
	MinRelevance float64 `yaml:"min_relevance"`
}

// TimeoutsConfig bounds external calls.
type TimeoutsConfig struct {
	CallSeconds  int `yaml:"call_seconds"`
	ImageSeconds int `yaml:"image_seconds"`
}

// Call returns the text-backend call timeout.
func (c TimeoutsConfig) Call() time.Duration {
	return time.Duration(c.CallSeconds) * time.Second
}

// Image returns the image-generation timeout.
func (c TimeoutsConfig) Image() time.Duration {
	return time.Duration(c.ImageSeconds) * time.Second
}

// Default returns the baseline configuration before file and environment
// overrides.
func Default() *Config {
	return &Config{
		Port:       "8080",
		Deployment: types.DefaultSelfHostedConfig(),
		RedisURL:   "redis://localhost:6379",
		Cache: CacheConfig{
			TTLSeconds:          3600,
			SimilarityThreshold: 0.85,
			RecentWindow:        50,
		},
		RateLimit: RateLimitConfig{
			WindowSeconds: 3600,
		},
		Retrieval: RetrievalConfig{
			Collection:   "normative",
			TopK:         5,
			MinRelevance: 0.7,
		},
		Timeouts: TimeoutsConfig{
			CallSeconds:  60,
			ImageSeconds: 180,
		},
	}
}

// Load reads configuration in layers: defaults, then the YAML file when
// path is non-empty, then environment variables.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// applyEnv overrides file values with environment variables. Only secrets
// and deploy-time knobs are overridable; tuning stays in the file.
func (c *Config) applyEnv() {
	setEnv(&c.Port, "PORT")
	setEnv(&c.RedisURL, "REDIS_URL")
	setEnv(&c.DatabaseURL, "DATABASE_URL")
	setEnv(&c.JWTSecret, "JWT_SECRET")
	setEnv(&c.SecretName, "SECRET_NAME")
	setEnv(&c.AWSRegion, "AWS_REGION")
	setEnv(&c.Backends.Grok.APIKey, "XAI_API_KEY")
	setEnv(&c.Backends.Claude.APIKey, "ANTHROPIC_API_KEY")
	setEnv(&c.Backends.Gemini.APIKey, "GEMINI_API_KEY")
	setEnv(&c.Backends.OpenAI.APIKey, "OPENAI_API_KEY")

	if mode := os.Getenv("DEPLOYMENT_MODE"); mode != "" {
		switch types.DeploymentMode(mode) {
		case types.DeploymentModeCloud:
			c.Deployment = types.DefaultCloudConfig()
		case types.DeploymentModeSelfHosted:
			c.Deployment = types.DefaultSelfHostedConfig()
		}
	}
}

// ResolveSecrets fills backend credentials from the secrets provider when
// the deployment reads from Secrets Manager. Keys already set (from file or
// environment) win.
func (c *Config) ResolveSecrets(ctx context.Context, secrets Secrets) error {
	if !c.Deployment.UseSecretsManager || c.SecretName == "" {
		return nil
	}

	values, err := secrets.GetSecret(ctx, c.SecretName)
	if err != nil {
		return fmt.Errorf("failed to resolve backend secrets: %w", err)
	}

	setIfEmpty(&c.Backends.Grok.APIKey, values["xai_api_key"])
	setIfEmpty(&c.Backends.Claude.APIKey, values["anthropic_api_key"])
	setIfEmpty(&c.Backends.Gemini.APIKey, values["gemini_api_key"])
	setIfEmpty(&c.Backends.OpenAI.APIKey, values["openai_api_key"])
	setIfEmpty(&c.JWTSecret, values["jwt_secret"])
	return nil
}

// Validate reports configuration problems that prevent startup.
func (c *Config) Validate() error {
	if c.Port == "" {
		return fmt.Errorf("port must be set")
	}
	if c.RedisURL == "" {
		return fmt.Errorf("redis_url must be set")
	}
	if c.Backends.Grok.APIKey == "" && c.Backends.Claude.APIKey == "" && !c.Backends.Bedrock.Enabled {
		return fmt.Errorf("at least one text backend must be configured")
	}
	if c.Cache.SimilarityThreshold < 0 || c.Cache.SimilarityThreshold > 1 {
		return fmt.Errorf("cache.similarity_threshold must be within [0, 1]")
	}
	return nil
}

func setEnv(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setIfEmpty(dst *string, v string) {
	if *dst == "" && v != "" {
		*dst = v
	}
}

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

package config

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

// Secrets retrieves named secrets as key-value maps.
type Secrets interface {
	GetSecret(ctx context.Context, name string) (map[string]string, error)
}

// GetSecretValueAPI is the Secrets Manager call surface, extracted for
// testing.
type GetSecretValueAPI interface {
	GetSecretValue(ctx context.Context, params *secretsmanager.GetSecretValueInput,
		optFns ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error)
}

// AWSSecrets reads secrets from AWS Secrets Manager with a short-lived
// in-process cache.
type AWSSecrets struct {
	client GetSecretValueAPI
	cache  map[string]*secretCacheEntry
	mu     sync.RWMutex
	ttl    time.Duration
	logger *log.Logger
}

type secretCacheEntry struct {
	value     map[string]string
	expiresAt time.Time
}

// AWSSecretsOptions holds options for creating an AWSSecrets
type AWSSecretsOptions struct {
	Region   string
	CacheTTL time.Duration
	Logger   *log.Logger
}

// NewAWSSecrets creates a Secrets Manager client using the ambient AWS
// credential chain.
func NewAWSSecrets(ctx context.Context, opts AWSSecretsOptions) (*AWSSecrets, error) {
	logger := opts.Logger
	if logger == nil {
		logger = log.New(os.Stdout, "[SECRETS] ", log.LstdFlags)
	}

	cfgOpts := []func(*awsconfig.LoadOptions) error{}
	if opts.Region != "" {
		cfgOpts = append(cfgOpts, awsconfig.WithRegion(opts.Region))
	}

	cfg, err := awsconfig.LoadDefaultConfig(ctx, cfgOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &AWSSecrets{
		client: secretsmanager.NewFromConfig(cfg),
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: logger,
	}, nil
}

// SetClient allows overriding the Secrets Manager client (useful for testing).
func (s *AWSSecrets) SetClient(client GetSecretValueAPI) {
	s.client = client
}

// GetSecret retrieves a secret. The stored value is expected to be a JSON
// object with string values; a bare string becomes {"value": <string>}.
func (s *AWSSecrets) GetSecret(ctx context.Context, name string) (map[string]string, error) {
	s.mu.RLock()
	entry, exists := s.cache[name]
	s.mu.RUnlock()

	if exists && time.Now().Before(entry.expiresAt) {
		return entry.value, nil
	}

	s.logger.Printf("Fetching secret %s from AWS Secrets Manager", maskName(name))

	result, err := s.client.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{
		SecretId: aws.String(name),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get secret %s: %w", maskName(name), err)
	}
	if result.SecretString == nil {
		return nil, fmt.Errorf("secret %s has no string value", maskName(name))
	}

	var values map[string]string
	if err := json.Unmarshal([]byte(*result.SecretString), &values); err != nil {
		values = map[string]string{"value": *result.SecretString}
	}

	s.mu.Lock()
	s.cache[name] = &secretCacheEntry{
		value:     values,
		expiresAt: time.Now().Add(s.ttl),
	}
	s.mu.Unlock()

	return values, nil
}

// Invalidate removes a secret from the cache, forcing a refetch.
func (s *AWSSecrets) Invalidate(name string) {
	s.mu.Lock()
	delete(s.cache, name)
	s.mu.Unlock()
}

// maskName masks the secret name for logging (shows only last 8 characters)
func maskName(name string) string {
	if len(name) <= 12 {
		return "***"
	}
	return "..." + name[len(name)-8:]
}

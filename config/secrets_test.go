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
	"fmt"
	"log"
	"sync"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
)

type fakeSecretsManagerAPI struct {
	mu      sync.Mutex
	secrets map[string]string
	calls   int
}

func (f *fakeSecretsManagerAPI) GetSecretValue(_ context.Context, params *secretsmanager.GetSecretValueInput,
	_ ...func(*secretsmanager.Options)) (*secretsmanager.GetSecretValueOutput, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()
	value, ok := f.secrets[aws.ToString(params.SecretId)]
	if !ok {
		return nil, fmt.Errorf("ResourceNotFoundException: secret not found")
	}
	return &secretsmanager.GetSecretValueOutput{SecretString: aws.String(value)}, nil
}

func newTestAWSSecrets(api GetSecretValueAPI, ttl time.Duration) *AWSSecrets {
	return &AWSSecrets{
		client: api,
		cache:  make(map[string]*secretCacheEntry),
		ttl:    ttl,
		logger: log.Default(),
	}
}

func TestAWSSecretsJSONSecret(t *testing.T) {
	api := &fakeSecretsManagerAPI{secrets: map[string]string{
		"stroinadzor/backends": `{"xai_api_key": "xai-123", "anthropic_api_key": "ant-456"}`,
	}}
	s := newTestAWSSecrets(api, time.Minute)

	values, err := s.GetSecret(context.Background(), "stroinadzor/backends")
	if err != nil {
		t.Fatalf("GetSecret() error: %v", err)
	}
	if values["xai_api_key"] != "xai-123" || values["anthropic_api_key"] != "ant-456" {
		t.Errorf("values = %v", values)
	}
}

func TestAWSSecretsPlainStringSecret(t *testing.T) {
	api := &fakeSecretsManagerAPI{secrets: map[string]string{
		"stroinadzor/jwt": "bare-secret-string",
	}}
	s := newTestAWSSecrets(api, time.Minute)

	values, err := s.GetSecret(context.Background(), "stroinadzor/jwt")
	if err != nil {
		t.Fatalf("GetSecret() error: %v", err)
	}
	if values["value"] != "bare-secret-string" {
		t.Errorf("values = %v, want bare string under \"value\"", values)
	}
}

func TestAWSSecretsCaches(t *testing.T) {
	api := &fakeSecretsManagerAPI{secrets: map[string]string{
		"s": `{"k": "v"}`,
	}}
	s := newTestAWSSecrets(api, time.Minute)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := s.GetSecret(ctx, "s"); err != nil {
			t.Fatalf("GetSecret() error: %v", err)
		}
	}
	if api.calls != 1 {
		t.Errorf("API called %d times, want 1 (cached afterwards)", api.calls)
	}

	s.Invalidate("s")
	if _, err := s.GetSecret(ctx, "s"); err != nil {
		t.Fatalf("GetSecret() after invalidate: %v", err)
	}
	if api.calls != 2 {
		t.Errorf("API called %d times after invalidate, want 2", api.calls)
	}
}

func TestAWSSecretsNotFound(t *testing.T) {
	s := newTestAWSSecrets(&fakeSecretsManagerAPI{}, time.Minute)
	if _, err := s.GetSecret(context.Background(), "missing"); err == nil {
		t.Error("missing secret must error")
	}
}

func TestAWSSecretsConcurrentAccess(t *testing.T) {
	api := &fakeSecretsManagerAPI{secrets: map[string]string{"s": `{"k": "v"}`}}
	s := newTestAWSSecrets(api, time.Minute)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = s.GetSecret(context.Background(), "s")
		}()
	}
	wg.Wait()
}

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

// Package ratelimit enforces per-user request quotas against a shared Redis
// store. The window counter uses atomic INCR with expiry-on-first so
// concurrent requests from the same user across multiple workers are
// counted exactly once each, without any local locking. Store failures
// fail open: refusing service over an infrastructure blip is worse than
// briefly skipping quota enforcement.
package ratelimit

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/go-redis/redis/v8"
)

// Tier determines a user's quota.
type Tier string

const (
	TierAnonymous Tier = "anonymous"
	TierBasic     Tier = "basic"
	TierPremium   Tier = "premium"

	// TierAdmin is never limited.
	TierAdmin Tier = "admin"
)

// DefaultWindow is the quota window length.
const DefaultWindow = time.Hour

// Default per-window limits by tier.
var defaultLimits = map[Tier]int{
	TierAnonymous: 5,
	TierBasic:     20,
	TierPremium:   100,
}

// Verdict is the outcome of a quota check.
type Verdict struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration // positive only when denied
}

// Config holds limiter configuration.
type Config struct {
	RedisURL string
	Window   time.Duration
	// Limits overrides the per-tier defaults when non-nil.
	Limits map[Tier]int
	Logger *log.Logger
}

// Limiter is safe for concurrent use.
type Limiter struct {
	client *redis.Client
	window time.Duration
	limits map[Tier]int
	logger *log.Logger
}

// New connects to Redis and returns a ready limiter.
func New(cfg Config) (*Limiter, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewWithClient(client, cfg), nil
}

// NewWithClient wraps an existing Redis client.
func NewWithClient(client *redis.Client, cfg Config) *Limiter {
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Limits == nil {
		cfg.Limits = defaultLimits
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Limiter{
		client: client,
		window: cfg.Window,
		limits: cfg.Limits,
		logger: cfg.Logger,
	}
}

// CheckAndIncrement counts this request against the user's window and
// reports whether it may proceed. Admin users always pass without touching
// the store.
func (l *Limiter) CheckAndIncrement(ctx context.Context, userID string, tier Tier) Verdict {
	if tier == TierAdmin {
		return Verdict{Allowed: true, Remaining: -1}
	}

	limit, ok := l.limits[tier]
	if !ok {
		limit = l.limits[TierAnonymous]
	}

	key := "ratelimit:" + userID

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.logger.Printf("[RATELIMIT] check failed for %s: %v (failing open)", userID, err)
		return Verdict{Allowed: true, Remaining: limit}
	}

	// The window starts at the first request and is never slid forward.
	if count == 1 {
		if err := l.client.Expire(ctx, key, l.window).Err(); err != nil {
			l.logger.Printf("[RATELIMIT] failed to set window expiry for %s: %v", userID, err)
		}
	}

	if int(count) > limit {
		retry, err := l.client.TTL(ctx, key).Result()
		if err != nil || retry <= 0 {
			retry = l.window
		}
		return Verdict{Allowed: false, RetryAfter: retry}
	}
	return Verdict{Allowed: true, Remaining: limit - int(count)}
}

// Reset clears the user's window. Admin operation.
func (l *Limiter) Reset(ctx context.Context, userID string) error {
	if err := l.client.Del(ctx, "ratelimit:"+userID).Err(); err != nil {
		return fmt.Errorf("failed to reset rate limit for %s: %w", userID, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (l *Limiter) Close() error {
	return l.client.Close()
}

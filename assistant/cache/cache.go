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

// Package cache is a Redis-backed semantic response cache. Lookups match
// first on exact fingerprint and then on token-overlap similarity against
// a bounded window of recent entries, since users frequently ask the same
// question with minor phrasing differences. The cache fails open: any store
// error is reported as a miss and never blocks a request.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-redis/redis/v8"
)

const (
	// DefaultTTL bounds how long an answer stays servable. Engineering
	// guidance goes stale, so entries expire regardless of hit count.
	DefaultTTL = time.Hour

	// DefaultSimilarityThreshold is the minimum token-overlap score for a
	// near-match to count as a hit.
	DefaultSimilarityThreshold = 0.85

	// DefaultRecentWindow bounds how many recent entries a similarity scan
	// compares against.
	DefaultRecentWindow = 50

	entryKeyPrefix = "cache:q:"
	recentKey      = "cache:recent"
	hitsKey        = "cache:stats:hits"
	missesKey      = "cache:stats:misses"
	tokensSavedKey = "cache:stats:tokens_saved"
)

// Entry is a cached response. Only HitCount changes after creation.
type Entry struct {
	Key            string    `json:"key"`
	Normalized     string    `json:"normalized"`
	AttachmentHash string    `json:"attachment_hash,omitempty"`
	Response       string    `json:"response"`
	Backend        string    `json:"backend"`
	Model          string    `json:"model"`
	TokensUsed     int       `json:"tokens_used"`
	CreatedAt      time.Time `json:"created_at"`
	HitCount       int       `json:"hit_count"`
}

// Stats are cumulative across all workers sharing the store.
type Stats struct {
	Hits        int64 `json:"hits"`
	Misses      int64 `json:"misses"`
	TokensSaved int64 `json:"tokens_saved"`
}

// Config holds cache configuration.
type Config struct {
	RedisURL            string
	TTL                 time.Duration
	SimilarityThreshold float64
	RecentWindow        int
	Logger              *log.Logger
}

// Cache is safe for concurrent use.
type Cache struct {
	client    *redis.Client
	ttl       time.Duration
	threshold float64
	window    int
	logger    *log.Logger
}

// New connects to Redis and returns a ready cache.
func New(cfg Config) (*Cache, error) {
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

// NewWithClient wraps an existing Redis client. Used by tests and by callers
// that share one connection pool across components.
func NewWithClient(client *redis.Client, cfg Config) *Cache {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	if cfg.Logger == nil {
		cfg.Logger = log.Default()
	}
	return &Cache{
		client:    client,
		ttl:       cfg.TTL,
		threshold: cfg.SimilarityThreshold,
		window:    cfg.RecentWindow,
		logger:    cfg.Logger,
	}
}

// Lookup returns the cached entry for the fingerprint, trying exact match
// first and then a similarity scan over recent entries. A store error is a
// miss.
func (c *Cache) Lookup(ctx context.Context, fp Fingerprint) (*Entry, bool) {
	entry, err := c.getEntry(ctx, fp.Key())
	if err != nil && !errors.Is(err, redis.Nil) {
		c.logger.Printf("[CACHE] lookup failed (treating as miss): %v", err)
		c.recordMiss(ctx)
		return nil, false
	}

	if entry == nil && fp.attachmentHash == "" {
		// Similarity scoring sees only the question text, so requests
		// about an attachment must match on the exact key alone.
		entry = c.similarEntry(ctx, fp.Normalized())
	}
	if entry == nil {
		c.recordMiss(ctx)
		return nil, false
	}

	c.recordHit(ctx, entry)
	return entry, true
}

// Put stores a response under the fingerprint with the configured TTL and
// registers it in the recent-entry window.
func (c *Cache) Put(ctx context.Context, fp Fingerprint, entry Entry) error {
	entry.Key = fp.Key()
	entry.Normalized = fp.Normalized()
	entry.AttachmentHash = fp.attachmentHash
	entry.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal cache entry: %w", err)
	}

	pipe := c.client.Pipeline()
	pipe.Set(ctx, entryKeyPrefix+entry.Key, data, c.ttl)
	pipe.LPush(ctx, recentKey, entry.Key)
	pipe.LTrim(ctx, recentKey, 0, int64(c.window-1))
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to write cache entry: %w", err)
	}
	return nil
}

// Stats reads the cumulative hit/miss counters. Store errors return zero
// stats.
func (c *Cache) Stats(ctx context.Context) Stats {
	var stats Stats
	vals, err := c.client.MGet(ctx, hitsKey, missesKey, tokensSavedKey).Result()
	if err != nil {
		c.logger.Printf("[CACHE] stats read failed: %v", err)
		return stats
	}
	stats.Hits = toInt64(vals[0])
	stats.Misses = toInt64(vals[1])
	stats.TokensSaved = toInt64(vals[2])
	return stats
}

// Flush removes all cached entries and counters. Admin operation.
func (c *Cache) Flush(ctx context.Context) error {
	keys, err := c.client.LRange(ctx, recentKey, 0, -1).Result()
	if err != nil {
		return fmt.Errorf("failed to list cache entries: %w", err)
	}
	pipe := c.client.Pipeline()
	for _, k := range keys {
		pipe.Del(ctx, entryKeyPrefix+k)
	}
	pipe.Del(ctx, recentKey, hitsKey, missesKey, tokensSavedKey)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to flush cache: %w", err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (c *Cache) Close() error {
	return c.client.Close()
}

func (c *Cache) getEntry(ctx context.Context, key string) (*Entry, error) {
	data, err := c.client.Get(ctx, entryKeyPrefix+key).Bytes()
	if err != nil {
		return nil, err
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		// Corrupt entries are treated as misses.
		return nil, fmt.Errorf("corrupt cache entry %s: %w", key, err)
	}
	return &entry, nil
}

// similarEntry scans the recent-entry window for a near-duplicate question.
// Expired entries have no backing value and are skipped, so a stale entry
// can never be returned on similarity alone.
func (c *Cache) similarEntry(ctx context.Context, normalized string) *Entry {
	keys, err := c.client.LRange(ctx, recentKey, 0, int64(c.window-1)).Result()
	if err != nil {
		c.logger.Printf("[CACHE] similarity scan failed: %v", err)
		return nil
	}

	queryTokens := tokenSet(normalized)
	if len(queryTokens) == 0 {
		return nil
	}

	for _, key := range keys {
		entry, err := c.getEntry(ctx, key)
		if err != nil || entry.AttachmentHash != "" {
			continue
		}
		if jaccard(queryTokens, tokenSet(entry.Normalized)) >= c.threshold {
			return entry
		}
	}
	return nil
}

func (c *Cache) recordHit(ctx context.Context, entry *Entry) {
	entry.HitCount++

	// Preserve the original expiry: a hit must never extend an entry's life.
	remaining, err := c.client.TTL(ctx, entryKeyPrefix+entry.Key).Result()
	if err != nil || remaining <= 0 {
		remaining = time.Second
	}
	if data, err := json.Marshal(entry); err == nil {
		c.client.Set(ctx, entryKeyPrefix+entry.Key, data, remaining)
	}

	pipe := c.client.Pipeline()
	pipe.Incr(ctx, hitsKey)
	pipe.IncrBy(ctx, tokensSavedKey, int64(entry.TokensUsed))
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.Printf("[CACHE] failed to record hit: %v", err)
	}
}

func (c *Cache) recordMiss(ctx context.Context) {
	if err := c.client.Incr(ctx, missesKey).Err(); err != nil {
		c.logger.Printf("[CACHE] failed to record miss: %v", err)
	}
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, tok := range strings.Fields(text) {
		set[tok] = true
	}
	return set
}

// jaccard is intersection over union of the two token sets.
func jaccard(a, b map[string]bool) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	intersection := 0
	for tok := range a {
		if b[tok] {
			intersection++
		}
	}
	union := len(a) + len(b) - intersection
	return float64(intersection) / float64(union)
}

func toInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	var n int64
	fmt.Sscanf(s, "%d", &n)
	return n
}

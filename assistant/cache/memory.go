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

package cache

import (
	"context"
	"sync"
	"time"
)

// Memory is a process-local cache with the same lookup semantics as the
// Redis-backed Cache. Used when Redis is unavailable; stats and entries are
// not shared across workers. Safe for concurrent use.
type Memory struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	expiry    map[string]time.Time
	recent    []string
	ttl       time.Duration
	threshold float64
	window    int
	stats     Stats
}

// NewMemory creates an in-memory cache. RedisURL and Logger in the config
// are ignored.
func NewMemory(cfg Config) *Memory {
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultTTL
	}
	if cfg.SimilarityThreshold <= 0 {
		cfg.SimilarityThreshold = DefaultSimilarityThreshold
	}
	if cfg.RecentWindow <= 0 {
		cfg.RecentWindow = DefaultRecentWindow
	}
	return &Memory{
		entries:   make(map[string]*Entry),
		expiry:    make(map[string]time.Time),
		ttl:       cfg.TTL,
		threshold: cfg.SimilarityThreshold,
		window:    cfg.RecentWindow,
	}
}

// Lookup mirrors Cache.Lookup: exact match first, then a similarity scan
// over the recent-entry window.
func (m *Memory) Lookup(_ context.Context, fp Fingerprint) (*Entry, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	entry := m.live(fp.Key(), now)
	if entry == nil && fp.attachmentHash == "" {
		// Similarity scoring sees only the question text, so requests
		// about an attachment must match on the exact key alone.
		entry = m.similar(fp.Normalized(), now)
	}
	if entry == nil {
		m.stats.Misses++
		return nil, false
	}

	entry.HitCount++
	m.stats.Hits++
	m.stats.TokensSaved += int64(entry.TokensUsed)

	copied := *entry
	return &copied, true
}

// Put stores a response with the configured TTL. Entries beyond the recent
// window are evicted so the cache stays bounded.
func (m *Memory) Put(_ context.Context, fp Fingerprint, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry.Key = fp.Key()
	entry.Normalized = fp.Normalized()
	entry.AttachmentHash = fp.attachmentHash
	entry.CreatedAt = time.Now().UTC()

	m.entries[entry.Key] = &entry
	m.expiry[entry.Key] = time.Now().Add(m.ttl)

	m.recent = append([]string{entry.Key}, m.recent...)
	for len(m.recent) > m.window {
		evicted := m.recent[len(m.recent)-1]
		m.recent = m.recent[:len(m.recent)-1]
		delete(m.entries, evicted)
		delete(m.expiry, evicted)
	}
	return nil
}

// Stats reports process-local counters.
func (m *Memory) Stats(_ context.Context) Stats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}

// Flush removes all entries and counters.
func (m *Memory) Flush(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = make(map[string]*Entry)
	m.expiry = make(map[string]time.Time)
	m.recent = nil
	m.stats = Stats{}
	return nil
}

// live returns the entry for key if present and unexpired, dropping it
// otherwise.
func (m *Memory) live(key string, now time.Time) *Entry {
	entry, ok := m.entries[key]
	if !ok {
		return nil
	}
	if now.After(m.expiry[key]) {
		delete(m.entries, key)
		delete(m.expiry, key)
		return nil
	}
	return entry
}

func (m *Memory) similar(normalized string, now time.Time) *Entry {
	queryTokens := tokenSet(normalized)
	if len(queryTokens) == 0 {
		return nil
	}
	for _, key := range m.recent {
		entry := m.live(key, now)
		if entry == nil || entry.AttachmentHash != "" {
			continue
		}
		if jaccard(queryTokens, tokenSet(entry.Normalized)) >= m.threshold {
			return entry
		}
	}
	return nil
}

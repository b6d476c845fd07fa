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

// Package rag retrieves normative document fragments relevant to a
// question. Documents are chunked on sentence boundaries, embedded, and
// stored in named collections; at query time the top-k nearest chunks
// above a relevance floor are merged into the prompt context. A failure
// anywhere in this package degrades answer quality but never breaks
// request handling.
package rag

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"sort"
	"sync"
)

const (
	// DefaultTopK is how many chunks a search returns at most.
	DefaultTopK = 5

	// DefaultMinRelevance is the cosine-similarity floor below which a
	// chunk is considered noise.
	DefaultMinRelevance = 0.7
)

// Result is a retrieved chunk with its relevance score.
type Result struct {
	DocumentCode string
	Section      string
	Content      string
	Score        float64
}

// ChunkStore is the persistence surface the index needs.
type ChunkStore interface {
	SaveChunks(ctx context.Context, chunks []Chunk) error
	LoadCollection(ctx context.Context, collection string) ([]Chunk, error)
	Collections(ctx context.Context) ([]string, error)
}

// Index performs nearest-neighbor search over stored chunks. Collections
// are loaded from the store once and cached; Ingest appends to both.
type Index struct {
	store    ChunkStore
	embedder Embedder

	topK         int
	minRelevance float64

	mu          sync.RWMutex
	collections map[string][]Chunk
}

// IndexConfig holds index configuration.
type IndexConfig struct {
	TopK         int
	MinRelevance float64
}

// NewIndex creates an index over the given store and embedder.
func NewIndex(store ChunkStore, embedder Embedder, cfg IndexConfig) *Index {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	if cfg.MinRelevance <= 0 {
		cfg.MinRelevance = DefaultMinRelevance
	}
	return &Index{
		store:        store,
		embedder:     embedder,
		topK:         cfg.TopK,
		minRelevance: cfg.MinRelevance,
		collections:  make(map[string][]Chunk),
	}
}

// Ingest chunks a document, embeds the chunks, and appends them to the
// collection in both the store and the in-memory cache.
func (i *Index) Ingest(ctx context.Context, collection, documentCode, text string) (int, error) {
	pieces := SplitChunks(text, DefaultChunkSize, DefaultChunkOverlap)
	if len(pieces) == 0 {
		return 0, nil
	}

	vectors, err := i.embedder.Embed(ctx, pieces)
	if err != nil {
		return 0, fmt.Errorf("failed to embed document %s: %w", documentCode, err)
	}

	chunks := make([]Chunk, len(pieces))
	for n, content := range pieces {
		chunks[n] = Chunk{
			ID:           chunkID(collection, documentCode, n),
			Collection:   collection,
			DocumentCode: documentCode,
			Section:      fmt.Sprintf("chunk_%d", n),
			Content:      content,
			Embedding:    vectors[n],
		}
	}

	if err := i.store.SaveChunks(ctx, chunks); err != nil {
		return 0, err
	}

	i.mu.Lock()
	if cached, ok := i.collections[collection]; ok {
		i.collections[collection] = append(cached, chunks...)
	}
	i.mu.Unlock()

	return len(chunks), nil
}

// Search returns the most relevant chunks of the collection for the query,
// best first. An unknown collection returns no results, not an error.
func (i *Index) Search(ctx context.Context, collection, query string) ([]Result, error) {
	chunks, err := i.collection(ctx, collection)
	if err != nil {
		return nil, err
	}
	if len(chunks) == 0 {
		return nil, nil
	}

	vectors, err := i.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	queryVec := vectors[0]

	var results []Result
	for _, c := range chunks {
		score := cosine(queryVec, c.Embedding)
		if score >= i.minRelevance {
			results = append(results, Result{
				DocumentCode: c.DocumentCode,
				Section:      c.Section,
				Content:      c.Content,
				Score:        score,
			})
		}
	}

	sort.Slice(results, func(a, b int) bool { return results[a].Score > results[b].Score })
	if len(results) > i.topK {
		results = results[:i.topK]
	}
	return results, nil
}

// Collections lists the collection names present in the store.
func (i *Index) Collections(ctx context.Context) ([]string, error) {
	return i.store.Collections(ctx)
}

// collection returns the cached chunks, loading them from the store on
// first access.
func (i *Index) collection(ctx context.Context, name string) ([]Chunk, error) {
	i.mu.RLock()
	chunks, ok := i.collections[name]
	i.mu.RUnlock()
	if ok {
		return chunks, nil
	}

	loaded, err := i.store.LoadCollection(ctx, name)
	if err != nil {
		return nil, err
	}

	i.mu.Lock()
	// Another goroutine may have loaded it meanwhile; keep the longer copy.
	if cached, ok := i.collections[name]; !ok || len(loaded) > len(cached) {
		i.collections[name] = loaded
	}
	chunks = i.collections[name]
	i.mu.Unlock()

	return chunks, nil
}

// chunkID is deterministic so re-ingesting a document upserts its chunks.
// The collection is part of the identity: the same document code may live
// in several collections without colliding.
func chunkID(collection, documentCode string, n int) string {
	sum := sha256.Sum256([]byte(fmt.Sprintf("%s_%s_chunk_%d", collection, documentCode, n)))
	return hex.EncodeToString(sum[:8])
}

// cosine similarity of two vectors; zero when dimensions differ.
func cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for n := range a {
		dot += float64(a[n]) * float64(b[n])
		normA += float64(a[n]) * float64(a[n])
		normB += float64(b[n]) * float64(b[n])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

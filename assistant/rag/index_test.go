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

package rag

import (
	"context"
	"strings"
	"testing"
)

// fakeEmbedder maps texts onto fixed axes by keyword so similarity is
// predictable without a network call.
type fakeEmbedder struct {
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	f.calls++
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		v := make([]float32, 3)
		lower := strings.ToLower(text)
		if strings.Contains(lower, "бетон") {
			v[0] = 1
		}
		if strings.Contains(lower, "арматур") {
			v[1] = 1
		}
		if strings.Contains(lower, "пожар") {
			v[2] = 1
		}
		vectors[i] = v
	}
	return vectors, nil
}

// memStore keeps chunks in memory.
type memStore struct {
	chunks []Chunk
	loads  int
}

func (m *memStore) SaveChunks(_ context.Context, chunks []Chunk) error {
	m.chunks = append(m.chunks, chunks...)
	return nil
}

func (m *memStore) Collections(_ context.Context) ([]string, error) {
	seen := make(map[string]bool)
	var names []string
	for _, c := range m.chunks {
		if !seen[c.Collection] {
			seen[c.Collection] = true
			names = append(names, c.Collection)
		}
	}
	return names, nil
}

func (m *memStore) LoadCollection(_ context.Context, collection string) ([]Chunk, error) {
	m.loads++
	var out []Chunk
	for _, c := range m.chunks {
		if c.Collection == collection {
			out = append(out, c)
		}
	}
	return out, nil
}

func TestIndexSearch(t *testing.T) {
	store := &memStore{chunks: []Chunk{
		{ID: "1", Collection: "sp", DocumentCode: "СП 63", Content: "требования к бетону", Embedding: []float32{1, 0, 0}},
		{ID: "2", Collection: "sp", DocumentCode: "СП 63", Content: "требования к арматуре", Embedding: []float32{0, 1, 0}},
		{ID: "3", Collection: "sp", DocumentCode: "СП 112", Content: "пожарная безопасность", Embedding: []float32{0, 0, 1}},
	}}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{})
	ctx := context.Background()

	results, err := idx.Search(ctx, "sp", "какой бетон выбрать")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("got %d results, want 1: %+v", len(results), results)
	}
	if results[0].DocumentCode != "СП 63" || !strings.Contains(results[0].Content, "бетону") {
		t.Errorf("wrong result: %+v", results[0])
	}
	if results[0].Score < 0.99 {
		t.Errorf("Score = %f, want ~1.0", results[0].Score)
	}
}

func TestIndexSearchRelevanceFloor(t *testing.T) {
	store := &memStore{chunks: []Chunk{
		{ID: "1", Collection: "sp", Content: "пожарная безопасность", Embedding: []float32{0, 0, 1}},
	}}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{})
	ctx := context.Background()

	// Query embeds onto a different axis entirely; cosine is 0.
	results, err := idx.Search(ctx, "sp", "какой бетон выбрать")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("irrelevant chunks must be filtered: %+v", results)
	}
}

func TestIndexSearchTopK(t *testing.T) {
	store := &memStore{}
	for i := 0; i < 10; i++ {
		store.chunks = append(store.chunks, Chunk{
			ID: string(rune('a' + i)), Collection: "sp",
			Content: "про бетон", Embedding: []float32{1, 0, 0},
		})
	}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{TopK: 3})
	ctx := context.Background()

	results, err := idx.Search(ctx, "sp", "бетон")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) != 3 {
		t.Errorf("got %d results, want top-3", len(results))
	}
}

func TestIndexUnknownCollection(t *testing.T) {
	idx := NewIndex(&memStore{}, &fakeEmbedder{}, IndexConfig{})
	results, err := idx.Search(context.Background(), "missing", "бетон")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if results != nil {
		t.Errorf("unknown collection must return no results, got %+v", results)
	}
}

func TestIndexCollectionCached(t *testing.T) {
	store := &memStore{chunks: []Chunk{
		{ID: "1", Collection: "sp", Content: "про бетон", Embedding: []float32{1, 0, 0}},
	}}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, err := idx.Search(ctx, "sp", "бетон"); err != nil {
			t.Fatalf("Search() error: %v", err)
		}
	}
	if store.loads != 1 {
		t.Errorf("store loaded %d times, want 1 (cached afterwards)", store.loads)
	}
}

func TestIndexIngest(t *testing.T) {
	store := &memStore{}
	emb := &fakeEmbedder{}
	idx := NewIndex(store, emb, IndexConfig{})
	ctx := context.Background()

	text := "Класс бетона для фундамента не ниже B25. Армирование арматурой класса A500."
	n, err := idx.Ingest(ctx, "sp", "СП 63.13330.2018", text)
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if n == 0 {
		t.Fatal("Ingest() stored no chunks")
	}
	if len(store.chunks) != n {
		t.Errorf("store has %d chunks, want %d", len(store.chunks), n)
	}

	results, err := idx.Search(ctx, "sp", "бетон для фундамента")
	if err != nil {
		t.Fatalf("Search() error: %v", err)
	}
	if len(results) == 0 {
		t.Error("ingested document not found by search")
	}
}

func TestIndexIngestSameDocumentTwoCollections(t *testing.T) {
	store := &memStore{}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{})
	ctx := context.Background()

	text := "Класс бетона для фундамента не ниже B25."
	if _, err := idx.Ingest(ctx, "sp", "СП 63.13330.2018", text); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if _, err := idx.Ingest(ctx, "archive", "СП 63.13330.2018", text); err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}

	// The same document code in two collections must not share chunk IDs,
	// or the store upsert would move chunks between collections.
	seen := make(map[string]string)
	for _, c := range store.chunks {
		if prev, ok := seen[c.ID]; ok && prev != c.Collection {
			t.Fatalf("chunk id %s shared by collections %s and %s", c.ID, prev, c.Collection)
		}
		seen[c.ID] = c.Collection
	}

	for _, collection := range []string{"sp", "archive"} {
		results, err := idx.Search(ctx, collection, "бетон для фундамента")
		if err != nil {
			t.Fatalf("Search(%s) error: %v", collection, err)
		}
		if len(results) == 0 {
			t.Errorf("collection %s lost its chunks", collection)
		}
	}
}

func TestIndexIngestEmpty(t *testing.T) {
	store := &memStore{}
	idx := NewIndex(store, &fakeEmbedder{}, IndexConfig{})

	n, err := idx.Ingest(context.Background(), "sp", "СП 1", "")
	if err != nil {
		t.Fatalf("Ingest() error: %v", err)
	}
	if n != 0 || len(store.chunks) != 0 {
		t.Errorf("empty document must store nothing, got n=%d", n)
	}
}

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
	"fmt"
	"testing"
	"time"
)

func TestMemoryExactHit(t *testing.T) {
	m := NewMemory(Config{})
	ctx := context.Background()

	fp := NewFingerprint("Какой класс бетона для фундамента?", nil)
	if _, ok := m.Lookup(ctx, fp); ok {
		t.Fatal("expected miss on empty cache")
	}

	if err := m.Put(ctx, fp, Entry{Response: "B25", Backend: "claude", TokensUsed: 300}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	variant := NewFingerprint("  какой КЛАСС бетона для фундамента?  ", nil)
	entry, ok := m.Lookup(ctx, variant)
	if !ok {
		t.Fatal("expected hit on normalized variant")
	}
	if entry.Response != "B25" {
		t.Errorf("unexpected response %q", entry.Response)
	}
	if entry.HitCount != 1 {
		t.Errorf("expected hit count 1, got %d", entry.HitCount)
	}

	stats := m.Stats(ctx)
	if stats.Hits != 1 || stats.Misses != 1 || stats.TokensSaved != 300 {
		t.Errorf("unexpected stats %+v", stats)
	}
}

func TestMemorySimilarityHit(t *testing.T) {
	m := NewMemory(Config{SimilarityThreshold: 0.75})
	ctx := context.Background()

	fp := NewFingerprint("какая марка бетона нужна для ленточного фундамента", nil)
	if err := m.Put(ctx, fp, Entry{Response: "M350"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	reordered := NewFingerprint("для ленточного фундамента какая нужна марка бетона", nil)
	if _, ok := m.Lookup(ctx, reordered); !ok {
		t.Error("expected similarity hit on reordered words")
	}

	unrelated := NewFingerprint("как оформить акт скрытых работ", nil)
	if _, ok := m.Lookup(ctx, unrelated); ok {
		t.Error("expected miss on unrelated question")
	}
}

func TestMemorySimilaritySkipsAttachments(t *testing.T) {
	m := NewMemory(Config{SimilarityThreshold: 0.75})
	ctx := context.Background()

	photoA := NewFingerprint("что это за дефект на стене", []byte("photo-a"))
	if err := m.Put(ctx, photoA, Entry{Response: "усадочная трещина"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	photoB := NewFingerprint("что это за дефект на стене", []byte("photo-b"))
	if _, ok := m.Lookup(ctx, photoB); ok {
		t.Error("different attachment must miss")
	}

	textOnly := NewFingerprint("что это за дефект на стене", nil)
	if _, ok := m.Lookup(ctx, textOnly); ok {
		t.Error("text-only question must not match an attachment entry")
	}

	if _, ok := m.Lookup(ctx, photoA); !ok {
		t.Error("expected exact hit for the same attachment")
	}
}

func TestMemoryTTLExpiry(t *testing.T) {
	m := NewMemory(Config{TTL: 10 * time.Millisecond})
	ctx := context.Background()

	fp := NewFingerprint("вопрос с коротким сроком жизни", nil)
	if err := m.Put(ctx, fp, Entry{Response: "ответ"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}

	time.Sleep(20 * time.Millisecond)
	if _, ok := m.Lookup(ctx, fp); ok {
		t.Error("expected miss after TTL expiry")
	}
}

func TestMemoryBounded(t *testing.T) {
	m := NewMemory(Config{RecentWindow: 3})
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		fp := NewFingerprint(fmt.Sprintf("вопрос номер %d про отдельную тему", i), nil)
		if err := m.Put(ctx, fp, Entry{Response: "ответ"}); err != nil {
			t.Fatalf("put %d failed: %v", i, err)
		}
	}

	m.mu.Lock()
	stored := len(m.entries)
	m.mu.Unlock()
	if stored > 3 {
		t.Errorf("expected at most 3 entries, got %d", stored)
	}

	// Oldest entries are evicted entirely, newest still hit.
	oldest := NewFingerprint("вопрос номер 0 про отдельную тему", nil)
	if _, ok := m.Lookup(ctx, oldest); ok {
		t.Error("expected evicted entry to miss")
	}
	newest := NewFingerprint("вопрос номер 9 про отдельную тему", nil)
	if _, ok := m.Lookup(ctx, newest); !ok {
		t.Error("expected newest entry to hit")
	}
}

func TestMemoryFlush(t *testing.T) {
	m := NewMemory(Config{})
	ctx := context.Background()

	fp := NewFingerprint("вопрос до сброса", nil)
	if err := m.Put(ctx, fp, Entry{Response: "ответ"}); err != nil {
		t.Fatalf("put failed: %v", err)
	}
	if _, ok := m.Lookup(ctx, fp); !ok {
		t.Fatal("expected hit before flush")
	}

	if err := m.Flush(ctx); err != nil {
		t.Fatalf("flush failed: %v", err)
	}
	if _, ok := m.Lookup(ctx, fp); ok {
		t.Error("expected miss after flush")
	}
	if stats := m.Stats(ctx); stats.Hits != 0 || stats.Misses != 1 {
		t.Errorf("expected reset stats, got %+v", stats)
	}
}

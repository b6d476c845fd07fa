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
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq" // postgres driver
)

// Chunk is a stored fragment of a normative document.
type Chunk struct {
	ID           string
	Collection   string
	DocumentCode string
	Section      string
	Content      string
	Embedding    []float32
	CreatedAt    time.Time
}

// Store persists chunks and their embeddings in Postgres.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres connection and verifies it.
func NewStore(databaseURL string) (*Store, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &Store{db: db}, nil
}

// NewStoreWithDB wraps an existing connection pool.
func NewStoreWithDB(db *sql.DB) *Store {
	return &Store{db: db}
}

// Migrate creates the chunk table if it does not exist.
func (s *Store) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS normative_chunks (
			id            TEXT PRIMARY KEY,
			collection    TEXT NOT NULL,
			document_code TEXT NOT NULL,
			section       TEXT NOT NULL DEFAULT '',
			content       TEXT NOT NULL,
			embedding     JSONB NOT NULL,
			created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
		);
		CREATE INDEX IF NOT EXISTS idx_normative_chunks_collection
			ON normative_chunks (collection);
	`)
	if err != nil {
		return fmt.Errorf("failed to migrate chunk table: %w", err)
	}
	return nil
}

// SaveChunks inserts chunks in one transaction. Existing IDs are replaced,
// so re-ingesting a document is idempotent.
func (s *Store) SaveChunks(ctx context.Context, chunks []Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO normative_chunks (id, collection, document_code, section, content, embedding)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			collection = EXCLUDED.collection,
			document_code = EXCLUDED.document_code,
			section = EXCLUDED.section,
			content = EXCLUDED.content,
			embedding = EXCLUDED.embedding
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare chunk insert: %w", err)
	}
	defer stmt.Close()

	for _, c := range chunks {
		embedding, err := json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding for chunk %s: %w", c.ID, err)
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.Collection, c.DocumentCode,
			c.Section, c.Content, embedding); err != nil {
			return fmt.Errorf("failed to insert chunk %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit chunks: %w", err)
	}
	return nil
}

// LoadCollection reads every chunk of a collection.
func (s *Store) LoadCollection(ctx context.Context, collection string) ([]Chunk, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, collection, document_code, section, content, embedding, created_at
		FROM normative_chunks
		WHERE collection = $1
	`, collection)
	if err != nil {
		return nil, fmt.Errorf("failed to load collection %s: %w", collection, err)
	}
	defer rows.Close()

	var chunks []Chunk
	for rows.Next() {
		var c Chunk
		var embedding []byte
		if err := rows.Scan(&c.ID, &c.Collection, &c.DocumentCode, &c.Section,
			&c.Content, &embedding, &c.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan chunk: %w", err)
		}
		if err := json.Unmarshal(embedding, &c.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding for chunk %s: %w", c.ID, err)
		}
		chunks = append(chunks, c)
	}
	return chunks, rows.Err()
}

// Collections lists the collection names present in the store.
func (s *Store) Collections(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT collection FROM normative_chunks ORDER BY collection`)
	if err != nil {
		return nil, fmt.Errorf("failed to list collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

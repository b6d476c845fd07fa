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

package usage

import (
	"context"
	"database/sql"
	"fmt"
	"log"
)

// Recorder writes per-request analytics events to PostgreSQL. Nothing in
// the request path reads these rows back; recording failures are logged and
// never block a response.
type Recorder struct {
	db *sql.DB
}

// NewRecorder creates a recorder over an open database connection.
func NewRecorder(db *sql.DB) *Recorder {
	return &Recorder{db: db}
}

// Migrate creates the request_events table if it does not exist.
func (r *Recorder) Migrate(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS request_events (
			id SERIAL PRIMARY KEY,
			user_id TEXT NOT NULL,
			request_id TEXT NOT NULL,
			backend TEXT NOT NULL,
			model TEXT NOT NULL DEFAULT '',
			rationale TEXT NOT NULL DEFAULT '',
			used_fallback BOOLEAN NOT NULL DEFAULT FALSE,
			cache_hit BOOLEAN NOT NULL DEFAULT FALSE,
			image_requested BOOLEAN NOT NULL DEFAULT FALSE,
			image_delivered BOOLEAN NOT NULL DEFAULT FALSE,
			prompt_tokens INTEGER NOT NULL DEFAULT 0,
			completion_tokens INTEGER NOT NULL DEFAULT 0,
			estimated_cost_cents INTEGER NOT NULL DEFAULT 0,
			latency_ms BIGINT NOT NULL DEFAULT 0,
			error_kind TEXT,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create request_events table: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
		CREATE INDEX IF NOT EXISTS idx_request_events_user
			ON request_events (user_id, created_at)
	`)
	if err != nil {
		return fmt.Errorf("failed to create request_events index: %w", err)
	}
	return nil
}

// RequestEvent captures one coordinated request for analytics.
type RequestEvent struct {
	UserID           string
	RequestID        string
	Backend          string // backend that produced the answer
	Model            string
	Rationale        string // classifier rationale, for routing-quality review
	UsedFallback     bool
	CacheHit         bool
	ImageRequested   bool
	ImageDelivered   bool
	PromptTokens     int
	CompletionTokens int
	LatencyMs        int64
	ErrorKind        string // empty on success
}

// RecordRequest inserts a request event. The estimated cost is derived from
// the pricing table at insert time so analytics and runtime stats agree.
func (r *Recorder) RecordRequest(event RequestEvent) error {
	costCents := CalculateCost(event.Backend, event.Model,
		event.PromptTokens, event.CompletionTokens)

	_, err := r.db.Exec(`
		INSERT INTO request_events (
			user_id, request_id, backend, model, rationale,
			used_fallback, cache_hit, image_requested, image_delivered,
			prompt_tokens, completion_tokens, estimated_cost_cents,
			latency_ms, error_kind
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
	`, event.UserID, event.RequestID, event.Backend, event.Model,
		event.Rationale, event.UsedFallback, event.CacheHit,
		event.ImageRequested, event.ImageDelivered,
		event.PromptTokens, event.CompletionTokens, costCents,
		event.LatencyMs, nullString(event.ErrorKind))

	if err != nil {
		log.Printf("[USAGE] Failed to record request event: %v", err)
	}

	return err
}

// nullString converts an empty string to NULL for database insertion.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

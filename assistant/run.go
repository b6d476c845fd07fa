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

// Package assistant exposes the construction engineering assistant over
// HTTP: question answering, cache statistics, rate-limit administration,
// and normative document ingestion.
package assistant

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"stroinadzor/platform/assistant/cache"
	"stroinadzor/platform/assistant/coordinator"
	"stroinadzor/platform/assistant/rag"
	"stroinadzor/platform/assistant/ratelimit"
	"stroinadzor/platform/shared/logger"
)

// Cacher is the cache surface the HTTP layer needs. Both the Redis cache
// and the in-memory fallback satisfy it.
type Cacher interface {
	Stats(ctx context.Context) cache.Stats
	Flush(ctx context.Context) error
}

// Server wires the HTTP surface to the coordinator and its collaborators.
// All dependencies are injected at construction; there is no global state.
type Server struct {
	engine     *coordinator.Engine
	cache      Cacher
	limiter    *ratelimit.Limiter
	index      *rag.Index
	jwtSecret  []byte
	collection string
	logger     *logger.Logger
	httpServer *http.Server
}

// ServerConfig holds server dependencies and settings.
type ServerConfig struct {
	Engine     *coordinator.Engine
	Cache      Cacher
	Limiter    *ratelimit.Limiter
	Index      *rag.Index
	JWTSecret  []byte
	Collection string
	Logger     *logger.Logger
}

// NewServer builds the server. Engine is required; the other collaborators
// are optional and disable their endpoints when absent.
func NewServer(cfg ServerConfig) *Server {
	if cfg.Logger == nil {
		cfg.Logger = logger.New("assistant")
	}
	if cfg.Collection == "" {
		cfg.Collection = "normative"
	}
	return &Server{
		engine:     cfg.Engine,
		cache:      cfg.Cache,
		limiter:    cfg.Limiter,
		index:      cfg.Index,
		jwtSecret:  cfg.JWTSecret,
		collection: cfg.Collection,
		logger:     cfg.Logger,
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() http.Handler {
	r := mux.NewRouter()

	// Health and metrics
	r.HandleFunc("/health", s.healthHandler).Methods("GET")
	r.Handle("/prometheus", promhttp.Handler()).Methods("GET")

	// Main question endpoint
	r.HandleFunc("/api/v1/ask", s.askHandler).Methods("POST")

	// Cache endpoints
	r.HandleFunc("/api/v1/cache/stats", s.cacheStatsHandler).Methods("GET")
	r.HandleFunc("/api/v1/cache/flush", s.cacheFlushHandler).Methods("POST")

	// Admin endpoints
	r.HandleFunc("/api/v1/ratelimit/{user_id}/reset", s.ratelimitResetHandler).Methods("POST")
	r.HandleFunc("/api/v1/documents/ingest", s.ingestHandler).Methods("POST")
	r.HandleFunc("/api/v1/documents/collections", s.collectionsHandler).Methods("GET")

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"}, // Configure for production
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

// Run serves HTTP until the context is cancelled, then shuts down
// gracefully.
func (s *Server) Run(ctx context.Context, port string) error {
	s.httpServer = &http.Server{
		Addr:    ":" + port,
		Handler: s.Router(),
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("", "", "assistant listening", map[string]interface{}{"port": port})
		errCh <- s.httpServer.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return s.httpServer.Shutdown(shutdownCtx)
	}
}

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

package assistant

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"stroinadzor/platform/assistant/coordinator"
	"stroinadzor/platform/assistant/llm"
)

// AskRequest is the inbound question payload. Attachment is base64-encoded
// image data for vision analysis.
type AskRequest struct {
	Text           string        `json:"text"`
	History        []llm.Message `json:"history,omitempty"`
	Attachment     string        `json:"attachment,omitempty"`
	AttachmentMIME string        `json:"attachment_mime,omitempty"`
}

// AskResponse is the combined answer payload. Image is base64-encoded when
// generation succeeded; ImageError explains a partial failure.
type AskResponse struct {
	Text        string `json:"text"`
	UsedBackend string `json:"used_backend"`
	Backend     string `json:"backend"`
	Rationale   string `json:"rationale,omitempty"`
	Image       string `json:"image,omitempty"`
	ImageMIME   string `json:"image_mime,omitempty"`
	ImageError  string `json:"image_error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, format string, args ...interface{}) {
	writeJSON(w, status, errorResponse{Error: fmt.Sprintf(format, args...)})
}

// askHandler answers one user question.
func (s *Server) askHandler(w http.ResponseWriter, r *http.Request) {
	started := time.Now()

	user, err := s.authenticate(r)
	if err != nil {
		writeError(w, http.StatusUnauthorized, "%v", err)
		return
	}

	var req AskRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.Text == "" && req.Attachment == "" {
		writeError(w, http.StatusBadRequest, "text or attachment is required")
		return
	}

	var attachment []byte
	if req.Attachment != "" {
		attachment, err = base64.StdEncoding.DecodeString(req.Attachment)
		if err != nil {
			writeError(w, http.StatusBadRequest, "attachment is not valid base64")
			return
		}
	}

	if s.limiter != nil {
		verdict := s.limiter.CheckAndIncrement(r.Context(), user.ID, user.Tier)
		if !verdict.Allowed {
			promRateLimited.Inc()
			w.Header().Set("Retry-After", strconv.Itoa(int(verdict.RetryAfter.Seconds())))
			writeError(w, http.StatusTooManyRequests,
				"rate limit exceeded, retry in %d seconds", int(verdict.RetryAfter.Seconds()))
			return
		}
	}

	outcome := s.engine.Handle(r.Context(), coordinator.Request{
		UserID:         user.ID,
		Text:           req.Text,
		History:        req.History,
		Attachment:     attachment,
		AttachmentMIME: req.AttachmentMIME,
	})

	s.observe(outcome, time.Since(started))

	if outcome.Err != nil {
		s.logger.ErrorWithCode(user.ID, "", "request failed", http.StatusBadGateway, outcome.Err, nil)
		writeError(w, http.StatusBadGateway, "%v", outcome.Err)
		return
	}

	resp := AskResponse{
		Text:        outcome.Text,
		UsedBackend: string(outcome.UsedBackend),
		Backend:     string(outcome.Backend),
		Rationale:   outcome.Decision.Rationale,
	}
	if outcome.Image != nil {
		resp.Image = base64.StdEncoding.EncodeToString(outcome.Image.Data)
		resp.ImageMIME = outcome.Image.MIME
	} else if outcome.ImageErr != nil {
		resp.ImageError = "image generation failed, text answer only"
	}

	writeJSON(w, http.StatusOK, resp)
}

// observe updates request metrics from an outcome.
func (s *Server) observe(outcome coordinator.Outcome, elapsed time.Duration) {
	result := "success"
	if outcome.Err != nil {
		result = "error"
	}
	promRequestsTotal.WithLabelValues(string(outcome.Backend), result).Inc()
	promRequestDuration.WithLabelValues(string(outcome.Backend)).Observe(elapsed.Seconds())

	switch outcome.UsedBackend {
	case coordinator.UsedCache:
		promCacheHits.Inc()
	case coordinator.UsedSecondary:
		promFallbacks.Inc()
	}
	if outcome.Decision.NeedsImage {
		if outcome.Image != nil {
			promImagesGenerated.WithLabelValues("success").Inc()
		} else {
			promImagesGenerated.WithLabelValues("error").Inc()
		}
	}
}

// cacheStatsHandler reports cumulative cache statistics.
func (s *Server) cacheStatsHandler(w http.ResponseWriter, r *http.Request) {
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache is not configured")
		return
	}
	writeJSON(w, http.StatusOK, s.cache.Stats(r.Context()))
}

// cacheFlushHandler empties the cache. Admin only.
func (s *Server) cacheFlushHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeError(w, http.StatusForbidden, "%v", err)
		return
	}
	if s.cache == nil {
		writeError(w, http.StatusNotFound, "cache is not configured")
		return
	}
	if err := s.cache.Flush(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to flush cache: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "flushed"})
}

// ratelimitResetHandler clears one user's quota window. Admin only.
func (s *Server) ratelimitResetHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeError(w, http.StatusForbidden, "%v", err)
		return
	}
	if s.limiter == nil {
		writeError(w, http.StatusNotFound, "rate limiter is not configured")
		return
	}
	userID := mux.Vars(r)["user_id"]
	if err := s.limiter.Reset(r.Context(), userID); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to reset rate limit: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reset", "user_id": userID})
}

// IngestRequest is an admin request to add a normative document to the
// retrieval index.
type IngestRequest struct {
	Collection   string `json:"collection"`
	DocumentCode string `json:"document_code"`
	Text         string `json:"text"`
}

// ingestHandler adds a document to the retrieval index. Admin only.
func (s *Server) ingestHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeError(w, http.StatusForbidden, "%v", err)
		return
	}
	if s.index == nil {
		writeError(w, http.StatusNotFound, "retrieval index is not configured")
		return
	}

	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: %v", err)
		return
	}
	if req.DocumentCode == "" || req.Text == "" {
		writeError(w, http.StatusBadRequest, "document_code and text are required")
		return
	}
	if req.Collection == "" {
		req.Collection = s.collection
	}

	n, err := s.index.Ingest(r.Context(), req.Collection, req.DocumentCode, req.Text)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to ingest document: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"document_code": req.DocumentCode,
		"chunks":        n,
	})
}

// collectionsHandler lists the retrieval collections present in the store.
// Admin only.
func (s *Server) collectionsHandler(w http.ResponseWriter, r *http.Request) {
	if _, err := s.requireAdmin(r); err != nil {
		writeError(w, http.StatusForbidden, "%v", err)
		return
	}
	if s.index == nil {
		writeError(w, http.StatusNotFound, "retrieval index is not configured")
		return
	}

	names, err := s.index.Collections(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list collections: %v", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"collections": names})
}

// healthHandler reports liveness.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "stroinadzor-assistant",
	})
}

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

// Package main is the entry point for the StroiNadzor assistant service.
//
// The assistant answers construction engineering questions in Russian:
// - Routes each question to the best backend (Grok, Claude, Gemini)
// - Falls back to a paired backend on failure
// - Caches semantically similar answers in Redis
// - Enriches technical questions with normative document fragments
// - Generates diagrams through DALL-E when the user asks for one
//
// Usage:
//
//	./assistant
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8080)
//	CONFIG_PATH - YAML configuration file (optional)
//	REDIS_URL - Redis connection string
//	DATABASE_URL - PostgreSQL connection string (optional)
//	XAI_API_KEY, ANTHROPIC_API_KEY, GEMINI_API_KEY, OPENAI_API_KEY
//	JWT_SECRET - token signing secret
//	DEPLOYMENT_MODE - "cloud" or "selfhosted" (default: selfhosted)
package main

import (
	"stroinadzor/platform/assistant"
)

func main() {
	assistant.Run()
}

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

/*
Command assistant runs the StroiNadzor construction engineering assistant.

The assistant is a conversational service for construction supervision
engineers: it classifies each question, routes it to the best LLM backend,
enriches technical questions with normative document fragments, and caches
semantically similar answers.

# Usage

	assistant

# Environment Variables

Required:
  - REDIS_URL: Redis connection string (cache and rate limiting)
  - At least one backend API key

Optional:
  - PORT: HTTP server port (default: 8080)
  - CONFIG_PATH: YAML configuration file
  - DATABASE_URL: PostgreSQL connection string (retrieval and analytics)
  - JWT_SECRET: token signing secret
  - DEPLOYMENT_MODE: "cloud" or "selfhosted" (default: selfhosted)

# Backend Configuration

The assistant auto-detects available backends based on which API keys are
set:

	# Grok (general questions, web search)
	export XAI_API_KEY="xai-..."

	# Claude (technical and normative questions)
	export ANTHROPIC_API_KEY="sk-ant-..."

	# Gemini (photo analysis)
	export GEMINI_API_KEY="AIza..."

	# OpenAI (image generation, embeddings)
	export OPENAI_API_KEY="sk-..."

	# Bedrock reserve backend
	# enable via backends.bedrock.enabled in the config file

# Example

	export REDIS_URL="redis://localhost:6379"
	export XAI_API_KEY="xai-..."
	export ANTHROPIC_API_KEY="sk-ant-..."
	./assistant
*/
package main

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

// Package logger provides structured JSON logging for all assistant
// services. Every entry carries the component name, deployment instance,
// and, when available, the user and request the entry belongs to, so one
// user's conversation can be traced across log streams.
//
// Usage:
//
//	log := logger.New("assistant")
//	log.Info(userID, requestID, "request routed", map[string]interface{}{
//		"backend": "claude",
//	})
package logger

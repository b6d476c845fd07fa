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

package llm

import (
	"context"
)

// Provider is the unified interface for text backends. Implementations must
// be safe for concurrent use and must be fully constructed before first use;
// there is no lazy credential resolution at call time.
//
// Complete returns either a CompletionResult or a *ProviderError. Any other
// error type escaping an implementation is a bug.
type Provider interface {
	// Name returns the unique identifier for this backend instance,
	// used for routing, logging, and fallback pairing.
	Name() Backend

	// Complete generates an answer for the given request. The context
	// carries the per-call timeout; a deadline expiry must surface as a
	// ProviderError with KindTimeout.
	Complete(ctx context.Context, req CompletionRequest) (*CompletionResult, error)

	// Capabilities returns the features this backend supports.
	Capabilities() []Capability
}

// ImageGenerator is the interface for image-generation backends.
type ImageGenerator interface {
	// Name returns the unique identifier for this backend instance.
	Name() Backend

	// GenerateImage renders an image for the given prompt.
	GenerateImage(ctx context.Context, req ImageRequest) (*ImageResult, error)
}

// HasCapability reports whether p declares the given capability.
func HasCapability(p Provider, c Capability) bool {
	for _, have := range p.Capabilities() {
		if have == c {
			return true
		}
	}
	return false
}

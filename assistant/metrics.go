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

import "github.com/prometheus/client_golang/prometheus"

// Prometheus metrics
var (
	promRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_requests_total",
			Help: "Total requests by backend and result",
		},
		[]string{"backend", "result"},
	)
	promRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "assistant_request_duration_seconds",
			Help:    "End-to-end request handling duration",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend"},
	)
	promCacheHits = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_cache_hits_total",
			Help: "Requests answered from the semantic cache",
		})
	promFallbacks = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_fallbacks_total",
			Help: "Requests answered by the secondary backend",
		})
	promRateLimited = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "assistant_rate_limited_total",
			Help: "Requests rejected by the rate limiter",
		})
	promImagesGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "assistant_images_total",
			Help: "Image generation attempts by result",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(promRequestsTotal)
	prometheus.MustRegister(promRequestDuration)
	prometheus.MustRegister(promCacheHits)
	prometheus.MustRegister(promFallbacks)
	prometheus.MustRegister(promRateLimited)
	prometheus.MustRegister(promImagesGenerated)
}

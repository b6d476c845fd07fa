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
Package usage provides backend pricing and request analytics recording.

The pricing table is the single source of truth for per-backend costs: the
classifier derives its estimated-cost field from it, and the semantic cache
credits the same figures to its tokens-saved statistics on a hit.

The Recorder writes one analytics row per coordinated request to PostgreSQL.
It is a fire-and-forget collaborator: the request path never reads these rows
and recording failures never affect responses.
*/
package usage

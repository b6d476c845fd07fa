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

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// Fingerprint identifies a request for caching purposes. Two requests that
// differ only in letter case or whitespace produce the same fingerprint.
type Fingerprint struct {
	normalized     string
	attachmentHash string
}

// NewFingerprint normalizes the request text and, when the request carries
// an attachment, folds the attachment content into the identity as well so
// "what is this" about two different photos never collide.
func NewFingerprint(text string, attachment []byte) Fingerprint {
	fp := Fingerprint{normalized: Normalize(text)}
	if len(attachment) > 0 {
		sum := sha256.Sum256(attachment)
		fp.attachmentHash = hex.EncodeToString(sum[:16])
	}
	return fp
}

// Normalize lower-cases the text and collapses all whitespace runs to
// single spaces.
func Normalize(text string) string {
	return strings.Join(strings.Fields(strings.ToLower(text)), " ")
}

// Key returns the stable store key for this fingerprint.
func (f Fingerprint) Key() string {
	sum := sha256.Sum256([]byte(f.normalized + "\x00" + f.attachmentHash))
	return hex.EncodeToString(sum[:])
}

// Normalized returns the normalized request text, used for similarity
// scoring against other entries.
func (f Fingerprint) Normalized() string {
	return f.normalized
}

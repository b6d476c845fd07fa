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

package rag

import "strings"

const (
	// DefaultChunkSize is the target chunk length in characters.
	DefaultChunkSize = 500

	// DefaultChunkOverlap is how many trailing words of a chunk are
	// repeated at the start of the next one, so a regulation clause split
	// across a boundary stays findable.
	DefaultChunkOverlap = 50
)

// SplitChunks breaks document text into overlapping chunks, accumulating
// whole sentences until the target size is reached. Sentences longer than
// the chunk size become chunks of their own rather than being truncated.
func SplitChunks(text string, size, overlap int) []string {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}

	sentences := splitSentences(text)
	var chunks []string
	var current strings.Builder

	flush := func() string {
		chunk := strings.TrimSpace(current.String())
		if chunk != "" {
			chunks = append(chunks, chunk)
		}
		current.Reset()
		return chunk
	}

	for _, sentence := range sentences {
		if current.Len() > 0 && current.Len()+len(sentence) >= size {
			chunk := flush()

			// Seed the next chunk with the tail of the previous one.
			words := strings.Fields(chunk)
			if len(words) > overlap {
				words = words[len(words)-overlap:]
			}
			if len(words) > 0 && overlap > 0 {
				current.WriteString(strings.Join(words, " "))
				current.WriteString(" ")
			}
		}
		current.WriteString(sentence)
		current.WriteString(" ")
	}
	flush()

	return chunks
}

// splitSentences splits on sentence-ending punctuation, folding newlines
// into spaces first since normative PDFs wrap lines mid-sentence.
func splitSentences(text string) []string {
	text = strings.Join(strings.Fields(text), " ")

	var sentences []string
	start := 0
	runes := []rune(text)
	for i, r := range runes {
		if r == '.' || r == '!' || r == '?' {
			// Keep decimal points and clause numbers like "5.4.1" intact.
			if r == '.' && i+1 < len(runes) && runes[i+1] != ' ' {
				continue
			}
			s := strings.TrimSpace(string(runes[start : i+1]))
			if s != "" {
				sentences = append(sentences, s)
			}
			start = i + 1
		}
	}
	if tail := strings.TrimSpace(string(runes[start:])); tail != "" {
		sentences = append(sentences, tail)
	}
	return sentences
}

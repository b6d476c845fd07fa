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

package coordinator

import (
	"regexp"
	"strings"
)

// When a text backend is told an image is wanted, it is instructed to embed
// a generation prompt in its answer. These patterns find that prompt, tried
// in order; the first match wins.
var imagePromptPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)📝\s*\*\*Промпт для генерации изображения:\*\*\s*\n"([^"]+)"`),
	regexp.MustCompile(`(?i)📝\s*\*\*Промпт для генерации изображения:\*\*\s*\n([^\n]+)`),
	regexp.MustCompile(`(?i)Промпт для DALL-E:\s*\n"([^"]+)"`),
	regexp.MustCompile(`(?i)Промпт для DALL-E:\s*\n([^\n]+)`),
	regexp.MustCompile(`(?i)Image prompt:\s*"([^"]+)"`),
	regexp.MustCompile(`(?i)Image prompt:\s*([^\n]+)`),
}

// ExtractImagePrompt finds the embedded generation prompt in a backend's
// text answer.
func ExtractImagePrompt(text string) (string, bool) {
	for _, re := range imagePromptPatterns {
		if m := re.FindStringSubmatch(text); m != nil {
			prompt := strings.TrimSpace(m[1])
			if prompt != "" {
				return prompt, true
			}
		}
	}
	return "", false
}

// DefaultImagePrompt synthesizes a generation prompt from the user's own
// question, used when the text backend did not supply one.
func DefaultImagePrompt(userText string) string {
	return "Technical construction diagram: " + strings.TrimSpace(userText)
}

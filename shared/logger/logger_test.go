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

package logger

import (
	"bytes"
	"encoding/json"
	"log"
	"strings"
	"testing"
)

// captureOutput redirects the standard logger while fn runs.
func captureOutput(t *testing.T, fn func()) string {
	t.Helper()
	var buf bytes.Buffer
	prev := log.Writer()
	flags := log.Flags()
	log.SetOutput(&buf)
	log.SetFlags(0)
	defer func() {
		log.SetOutput(prev)
		log.SetFlags(flags)
	}()
	fn()
	return buf.String()
}

func parseEntry(t *testing.T, line string) LogEntry {
	t.Helper()
	var entry LogEntry
	if err := json.Unmarshal([]byte(strings.TrimSpace(line)), &entry); err != nil {
		t.Fatalf("log line is not valid JSON: %v\nline: %s", err, line)
	}
	return entry
}

func TestLoggerWritesJSON(t *testing.T) {
	l := New("assistant")

	out := captureOutput(t, func() {
		l.Info("user-7", "req-1", "request routed", map[string]interface{}{
			"backend": "claude",
		})
	})

	entry := parseEntry(t, out)
	if entry.Level != INFO {
		t.Errorf("Level = %s, want INFO", entry.Level)
	}
	if entry.Component != "assistant" {
		t.Errorf("Component = %s, want assistant", entry.Component)
	}
	if entry.UserID != "user-7" || entry.RequestID != "req-1" {
		t.Errorf("identity fields = %s/%s", entry.UserID, entry.RequestID)
	}
	if entry.Message != "request routed" {
		t.Errorf("Message = %q", entry.Message)
	}
	if entry.Fields["backend"] != "claude" {
		t.Errorf("Fields = %v", entry.Fields)
	}
	if entry.Timestamp == "" {
		t.Error("Timestamp must be set")
	}
}

func TestLoggerLevels(t *testing.T) {
	l := New("test")

	tests := []struct {
		name string
		log  func()
		want LogLevel
	}{
		{"debug", func() { l.Debug("", "", "m", nil) }, DEBUG},
		{"info", func() { l.Info("", "", "m", nil) }, INFO},
		{"warn", func() { l.Warn("", "", "m", nil) }, WARN},
		{"error", func() { l.Error("", "", "m", nil) }, ERROR},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out := captureOutput(t, tt.log)
			if entry := parseEntry(t, out); entry.Level != tt.want {
				t.Errorf("Level = %s, want %s", entry.Level, tt.want)
			}
		})
	}
}

func TestInfoWithDuration(t *testing.T) {
	l := New("test")

	out := captureOutput(t, func() {
		l.InfoWithDuration("u", "r", "handled", 123.4, nil)
	})

	entry := parseEntry(t, out)
	if entry.Fields["duration_ms"] != 123.4 {
		t.Errorf("duration_ms = %v, want 123.4", entry.Fields["duration_ms"])
	}
}

func TestErrorWithCode(t *testing.T) {
	l := New("test")

	out := captureOutput(t, func() {
		l.ErrorWithCode("u", "r", "backend call failed", 502, errString("boom"), nil)
	})

	entry := parseEntry(t, out)
	if entry.Fields["status_code"] != float64(502) {
		t.Errorf("status_code = %v, want 502", entry.Fields["status_code"])
	}
	if entry.Fields["error"] != "boom" {
		t.Errorf("error = %v, want boom", entry.Fields["error"])
	}
}

type errString string

func (e errString) Error() string { return string(e) }

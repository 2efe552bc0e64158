// Copyright 2025 TriageFlow
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
	"os"
	"strings"
	"testing"
)

// TestNew tests logger initialization
func TestNew(t *testing.T) {
	tests := []struct {
		name           string
		component      string
		instanceID     string
		expectedComp   string
		expectedInstID string
	}{
		{
			name:           "with instance ID set",
			component:      "triage",
			instanceID:     "instance-123",
			expectedComp:   "triage",
			expectedInstID: "instance-123",
		},
		{
			name:           "without instance ID",
			component:      "ratelimit",
			instanceID:     "",
			expectedComp:   "ratelimit",
			expectedInstID: "unknown",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.instanceID != "" {
				if err := os.Setenv("INSTANCE_ID", tt.instanceID); err != nil {
					t.Fatalf("Failed to set INSTANCE_ID: %v", err)
				}
				defer func() {
					if err := os.Unsetenv("INSTANCE_ID"); err != nil {
						t.Errorf("Failed to unset INSTANCE_ID: %v", err)
					}
				}()
			} else {
				if err := os.Unsetenv("INSTANCE_ID"); err != nil {
					t.Fatalf("Failed to unset INSTANCE_ID: %v", err)
				}
			}

			l := New(tt.component)

			if l.Component != tt.expectedComp {
				t.Errorf("expected component %s, got %s", tt.expectedComp, l.Component)
			}
			if l.InstanceID != tt.expectedInstID {
				t.Errorf("expected instance ID %s, got %s", tt.expectedInstID, l.InstanceID)
			}
			if l.Container == "" {
				t.Error("expected non-empty container name")
			}
		})
	}
}

// TestLog_JSONOutput tests that log entries are valid single-line JSON
func TestLog_JSONOutput(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	log.SetFlags(0)
	defer log.SetFlags(log.LstdFlags)

	l := New("triage")
	l.Info("client-1", "run-42", "Step completed", map[string]interface{}{
		"step": "risk-signal-detection",
	})

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v\noutput: %s", err, line)
	}

	if entry.Level != INFO {
		t.Errorf("expected level INFO, got %s", entry.Level)
	}
	if entry.ClientID != "client-1" {
		t.Errorf("expected client_id client-1, got %s", entry.ClientID)
	}
	if entry.RunID != "run-42" {
		t.Errorf("expected run_id run-42, got %s", entry.RunID)
	}
	if entry.Message != "Step completed" {
		t.Errorf("unexpected message: %s", entry.Message)
	}
	if entry.Fields["step"] != "risk-signal-detection" {
		t.Errorf("expected step field, got %v", entry.Fields)
	}
	if entry.Timestamp == "" {
		t.Error("expected non-empty timestamp")
	}
}

// TestInfoWithDuration tests duration field injection
func TestInfoWithDuration(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	log.SetFlags(0)
	defer log.SetFlags(log.LstdFlags)

	l := New("triage")
	l.InfoWithDuration("client-1", "run-42", "Run finalized", 1234.5, nil)

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if entry.Fields["duration_ms"] != 1234.5 {
		t.Errorf("expected duration_ms 1234.5, got %v", entry.Fields["duration_ms"])
	}
}

// TestErrorWithErr tests error field injection
func TestErrorWithErr(t *testing.T) {
	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	log.SetFlags(0)
	defer log.SetFlags(log.LstdFlags)

	l := New("store")
	l.ErrorWithErr("client-1", "run-42", "Trace persist failed", os.ErrDeadlineExceeded, nil)

	line := strings.TrimSpace(buf.String())
	var entry LogEntry
	if err := json.Unmarshal([]byte(line), &entry); err != nil {
		t.Fatalf("log output is not valid JSON: %v", err)
	}

	if entry.Level != ERROR {
		t.Errorf("expected level ERROR, got %s", entry.Level)
	}
	if entry.Fields["error"] == "" {
		t.Error("expected error field to be set")
	}
}

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

package triage

import (
	"sync"
)

// EventType identifies a progress event on the run stream
type EventType string

const (
	EventPlanBuilt         EventType = "plan_built"
	EventToolUpdate        EventType = "tool_update"
	EventFallbackTriggered EventType = "fallback_triggered"
	EventDecisionFinalized EventType = "decision_finalized"
	EventCompleted         EventType = "completed"
	EventError             EventType = "error"
)

// Step statuses carried by tool_update events
const (
	StepStatusRunning   = "running"
	StepStatusCompleted = "completed"
	StepStatusFailed    = "failed"
)

// Event is one progress update pushed to the caller during a run. Fields
// other than Type are populated per event type; unused fields are omitted
// from the JSON encoding.
type Event struct {
	Type  EventType `json:"type"`
	RunID string    `json:"run_id,omitempty"`

	// plan_built
	Plan []string `json:"plan,omitempty"`

	// tool_update, fallback_triggered
	Step       string `json:"step,omitempty"`
	Status     string `json:"status,omitempty"`
	DurationMs *int64 `json:"duration_ms,omitempty"`
	Reason     string `json:"reason,omitempty"`

	// decision_finalized
	Risk              RiskLevel `json:"risk,omitempty"`
	Reasons           []string  `json:"reasons,omitempty"`
	RecommendedAction string    `json:"recommended_action,omitempty"`
	LatencyMs         int64     `json:"latency_ms,omitempty"`

	// error
	Message string `json:"message,omitempty"`
}

// EventSink receives ordered progress events for one run. Emit must never
// block the run: a slow or disconnected consumer loses events, it does not
// stall or abort triage.
type EventSink interface {
	Emit(event Event)
	Close()
}

// NopSink discards all events. Used when the caller did not ask for a stream.
type NopSink struct{}

func (NopSink) Emit(Event) {}
func (NopSink) Close()     {}

// StreamSink buffers events on a channel for one consumer. Events within a
// run stay ordered. When the buffer is full (consumer gone or too slow) new
// events are dropped; the run itself is unaffected.
type StreamSink struct {
	ch     chan Event
	mu     sync.Mutex
	closed bool
}

// DefaultStreamBuffer holds a full run's worth of events with headroom
const DefaultStreamBuffer = 64

// NewStreamSink creates a sink with the given buffer size (0 uses the default)
func NewStreamSink(buffer int) *StreamSink {
	if buffer <= 0 {
		buffer = DefaultStreamBuffer
	}
	return &StreamSink{ch: make(chan Event, buffer)}
}

// Events returns the receive side of the stream. The channel is closed when
// the run finishes emitting.
func (s *StreamSink) Events() <-chan Event {
	return s.ch
}

// Emit enqueues an event without blocking. Events arriving after Close or
// when the buffer is full are dropped.
func (s *StreamSink) Emit(event Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	select {
	case s.ch <- event:
	default:
		// Consumer too slow: drop rather than stall the run
	}
}

// Close marks the stream finished. Safe to call more than once.
func (s *StreamSink) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.ch)
}

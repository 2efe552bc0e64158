// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"fmt"
	"sync"
	"time"
)

// CircuitBreaker tracks consecutive failures per tool name and fails fast
// once a tool crosses the failure threshold. There is no half-open probe
// state: after the open duration elapses, the next call resets the counters
// and runs normally, and a failure there reopens the circuit.
type CircuitBreaker struct {
	failureThreshold int
	openDuration     time.Duration
	mu               sync.Mutex
	states           map[string]*breakerState
}

// breakerState is created lazily on first use of a tool name
type breakerState struct {
	failures        int
	lastFailureTime time.Time
	isOpen          bool
}

// DefaultFailureThreshold is the number of consecutive failures that opens a circuit
const DefaultFailureThreshold = 3

// DefaultOpenDuration is how long an open circuit rejects calls before retrying
const DefaultOpenDuration = 30 * time.Second

// NewCircuitBreaker creates a breaker shared across all tools in one process.
// Per-tool state is created on first use of each tool name.
func NewCircuitBreaker(failureThreshold int, openDuration time.Duration) *CircuitBreaker {
	if failureThreshold <= 0 {
		failureThreshold = DefaultFailureThreshold
	}
	if openDuration <= 0 {
		openDuration = DefaultOpenDuration
	}
	return &CircuitBreaker{
		failureThreshold: failureThreshold,
		openDuration:     openDuration,
		states:           make(map[string]*breakerState),
	}
}

// Execute runs fn through the circuit for toolName. While the circuit is
// open and within the cooldown window it returns a CircuitOpenError without
// invoking fn. The lock is not held during fn, so slow tools do not block
// other tools' circuits.
func (cb *CircuitBreaker) Execute(toolName string, fn func() error) error {
	cb.mu.Lock()
	state := cb.getState(toolName)

	if state.isOpen {
		elapsed := time.Since(state.lastFailureTime)
		if elapsed < cb.openDuration {
			retryIn := cb.openDuration - elapsed
			cb.mu.Unlock()
			return &CircuitOpenError{Tool: toolName, RetryIn: retryIn}
		}
		// Cooldown elapsed: reset and treat this call as a normal attempt
		state.failures = 0
		state.isOpen = false
	}
	cb.mu.Unlock()

	err := fn()

	cb.mu.Lock()
	defer cb.mu.Unlock()

	if err != nil {
		state.failures++
		state.lastFailureTime = time.Now()
		if state.failures >= cb.failureThreshold {
			state.isOpen = true
		}
		return err
	}

	state.failures = 0
	state.isOpen = false
	return nil
}

// State reports the current failure count and open flag for a tool name
func (cb *CircuitBreaker) State(toolName string) (failures int, isOpen bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	state := cb.getState(toolName)
	return state.failures, state.isOpen
}

// Reset clears the circuit state for a tool name
func (cb *CircuitBreaker) Reset(toolName string) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	delete(cb.states, toolName)
}

// getState must be called with cb.mu held
func (cb *CircuitBreaker) getState(toolName string) *breakerState {
	state, ok := cb.states[toolName]
	if !ok {
		state = &breakerState{}
		cb.states[toolName] = state
	}
	return state
}

// CircuitOpenError indicates the circuit for a tool is open. Callers use it
// to tell "tool is down" apart from "tool ran and failed".
type CircuitOpenError struct {
	Tool    string
	RetryIn time.Duration
}

func (e *CircuitOpenError) Error() string {
	return fmt.Sprintf("circuit open for tool '%s' (retry in %v)", e.Tool, e.RetryIn)
}

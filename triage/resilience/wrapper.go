// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"time"

	"triageflow/platform/shared/logger"
)

// ToolResult is the uniform outcome of one tool execution, produced after
// all retries and circuit-breaker gating. It either carries usable data or
// an error message, never both.
type ToolResult struct {
	OK         bool        `json:"ok"`
	Data       interface{} `json:"data,omitempty"`
	Error      string      `json:"error,omitempty"`
	DurationMs int64       `json:"duration_ms"`
}

// ErrToolTimeout is returned internally when an attempt exceeds the
// per-attempt timeout. It is retryable.
var ErrToolTimeout = errors.New("tool execution timed out")

// DefaultToolTimeout is the per-attempt execution deadline
const DefaultToolTimeout = 1000 * time.Millisecond

// AttemptObserver is notified after every attempt with the attempt number
// (1-based), the outcome, and the attempt duration. The orchestrator plugs
// Prometheus counters in here.
type AttemptObserver func(tool string, attempt int, err error, duration time.Duration)

// Executor wraps one tool with circuit-breaker gating, bounded retries,
// and a hard per-attempt timeout. Execute never returns an error; every
// failure mode is normalized into a ToolResult.
type Executor struct {
	name     string
	breaker  *CircuitBreaker
	retry    *RetryConfig
	timeout  time.Duration
	log      *logger.Logger
	observer AttemptObserver
}

// ExecutorOption customizes an Executor
type ExecutorOption func(*Executor)

// WithTimeout overrides the per-attempt timeout
func WithTimeout(timeout time.Duration) ExecutorOption {
	return func(e *Executor) { e.timeout = timeout }
}

// WithRetryConfig overrides the retry policy
func WithRetryConfig(config *RetryConfig) ExecutorOption {
	return func(e *Executor) { e.retry = config }
}

// WithObserver registers a per-attempt metrics hook
func WithObserver(observer AttemptObserver) ExecutorOption {
	return func(e *Executor) { e.observer = observer }
}

// NewExecutor creates a resilient execution envelope for the named tool.
// The breaker is shared across executors so a failing dependency trips for
// every run in this process.
func NewExecutor(name string, breaker *CircuitBreaker, opts ...ExecutorOption) *Executor {
	e := &Executor{
		name:    name,
		breaker: breaker,
		retry:   DefaultRetryConfig(),
		timeout: DefaultToolTimeout,
		log:     logger.New("resilience"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Name returns the tool name this executor wraps
func (e *Executor) Name() string {
	return e.name
}

// Execute runs fn under the full envelope: circuit gate, retries with
// jitter, per-attempt timeout. Retries are local to this invocation; a
// circuit-open rejection consumes no retries.
func (e *Executor) Execute(ctx context.Context, runID string, fn func(ctx context.Context) (interface{}, error)) ToolResult {
	start := time.Now()
	attempt := 0

	data, err := Do(ctx, e.retry, func() (interface{}, error) {
		attempt++
		attemptStart := time.Now()

		var result interface{}
		gateErr := e.breaker.Execute(e.name, func() error {
			var attemptErr error
			result, attemptErr = e.runWithTimeout(ctx, fn)
			return attemptErr
		})

		attemptDuration := time.Since(attemptStart)
		if e.observer != nil {
			e.observer(e.name, attempt, gateErr, attemptDuration)
		}

		if gateErr != nil {
			e.log.Warn("", runID, "Tool attempt failed", map[string]interface{}{
				"tool":        e.name,
				"attempt":     attempt,
				"error":       gateErr.Error(),
				"duration_ms": attemptDuration.Milliseconds(),
			})
			return nil, gateErr
		}

		if attempt > 1 {
			e.log.Info("", runID, "Tool succeeded after retry", map[string]interface{}{
				"tool":    e.name,
				"attempt": attempt,
			})
		}
		return result, nil
	})

	duration := time.Since(start)
	if err != nil {
		return ToolResult{
			OK:         false,
			Error:      err.Error(),
			DurationMs: duration.Milliseconds(),
		}
	}

	return ToolResult{
		OK:         true,
		Data:       data,
		DurationMs: duration.Milliseconds(),
	}
}

// runWithTimeout races fn against the per-attempt timeout. The attempt
// context is canceled when the timer wins so the losing branch can stop;
// a tool that ignores cancellation leaks its goroutine until it returns,
// but its result is discarded.
func (e *Executor) runWithTimeout(ctx context.Context, fn func(ctx context.Context) (interface{}, error)) (interface{}, error) {
	attemptCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	type outcome struct {
		data interface{}
		err  error
	}
	done := make(chan outcome, 1)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- outcome{err: fmt.Errorf("tool panicked: %v", r)}
			}
		}()
		data, err := fn(attemptCtx)
		done <- outcome{data: data, err: err}
	}()

	select {
	case out := <-done:
		// A tool that returns the attempt deadline error itself is still a
		// timeout for retry purposes.
		if out.err != nil && errors.Is(out.err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v", ErrToolTimeout, e.timeout)
		}
		return out.data, out.err
	case <-attemptCtx.Done():
		if errors.Is(attemptCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, fmt.Errorf("%w after %v", ErrToolTimeout, e.timeout)
		}
		return nil, attemptCtx.Err()
	}
}

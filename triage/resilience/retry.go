// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package resilience

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"
)

// RetryConfig configures retry behavior. Delays holds the wait before each
// retry attempt in order; if more retries than delays are configured, the
// last delay is reused.
type RetryConfig struct {
	MaxRetries int              // retry attempts after the first call
	Delays     []time.Duration  // per-retry wait, in order
	JitterMax  time.Duration    // random 0..JitterMax added to each wait
	RetryIf    func(error) bool // custom retry condition
}

// DefaultRetryConfig returns the standard tool retry policy: two retries at
// 150ms and 400ms with up to 50ms of jitter.
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries: 2,
		Delays:     []time.Duration{150 * time.Millisecond, 400 * time.Millisecond},
		JitterMax:  50 * time.Millisecond,
		RetryIf:    DefaultRetryCondition,
	}
}

// DefaultRetryCondition retries everything except circuit-open rejections
// and context errors. Retrying against a known-down dependency or a caller
// that has gone away wastes the flow budget.
func DefaultRetryCondition(err error) bool {
	if err == nil {
		return false
	}
	var open *CircuitOpenError
	if errors.As(err, &open) {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return true
}

// Do executes fn with bounded retries per config. The first attempt runs
// immediately; each retry waits its configured delay plus jitter, honoring
// context cancellation during the wait.
func Do[T any](ctx context.Context, config *RetryConfig, fn func() (T, error)) (T, error) {
	var zero T

	if config == nil {
		config = DefaultRetryConfig()
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if ctx.Err() != nil {
			return zero, ctx.Err()
		}

		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err

		if config.RetryIf != nil && !config.RetryIf(err) {
			return zero, err
		}

		if attempt >= config.MaxRetries {
			break
		}

		wait := retryDelay(config, attempt)
		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-time.After(wait):
		}
	}

	return zero, &RetryError{Err: lastErr, Attempts: config.MaxRetries + 1}
}

// retryDelay returns the wait before retry number attempt (0-based)
func retryDelay(config *RetryConfig, attempt int) time.Duration {
	var wait time.Duration
	if len(config.Delays) > 0 {
		idx := attempt
		if idx >= len(config.Delays) {
			idx = len(config.Delays) - 1
		}
		wait = config.Delays[idx]
	}
	if config.JitterMax > 0 {
		wait += time.Duration(rand.Int63n(int64(config.JitterMax)))
	}
	return wait
}

// RetryError indicates all retry attempts failed
type RetryError struct {
	Err      error
	Attempts int
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("operation failed after %d attempts: %v", e.Attempts, e.Err)
}

func (e *RetryError) Unwrap() error {
	return e.Err
}

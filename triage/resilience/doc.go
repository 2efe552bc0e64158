// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

/*
Package resilience provides the failure-isolation envelope every triage
tool runs inside: a per-tool-name circuit breaker, bounded retries with
jitter, and a hard per-attempt timeout.

The layering, outermost first:

 1. Circuit breaker gate. If the tool's circuit is open, the call fails
    immediately with a CircuitOpenError and no retries are attempted.
 2. Retries. Up to MaxRetries additional attempts with increasing delays
    plus random jitter, so concurrent runs don't retry in lockstep.
 3. Per-attempt timeout. Each attempt races a deadline; a timeout counts
    as a failure for both retry and circuit-breaker accounting.

Executor.Execute never returns an error. Timeouts, panics, circuit-open
rejections and exhausted retries are all normalized into a ToolResult so
the orchestrator has exactly one failure channel to handle.
*/
package resilience

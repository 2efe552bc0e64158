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

/*
Package triage provides the TriageFlow orchestration service for fraud
alert triage.

# Overview

The orchestrator runs a fixed, ordered plan of tools against a shared
per-run context:

	data-access → risk-signal-detection → knowledge-lookup → decision → propose-action

Each tool executes through a resilience envelope (per-tool circuit
breaker, bounded retries with jitter, hard per-attempt timeout) so a
single flaky dependency degrades one step instead of failing the run.
The whole run is bounded by a wall-clock flow budget: steps that would
start after the budget is spent are skipped and the run finalizes with
whatever was computed.

# Failure model

Per-step failures are absorbed locally. The risk-signal-detection step
has a conservative fallback verdict (medium risk, manual review) so the
pipeline always produces a decision; other steps degrade by leaving
their context slot empty. Only a missing alert or an unpersistable run
record fail the run as a whole.

# Streaming

Progress is pushed to the caller as ordered Server-Sent Events:
plan_built, tool_update per step, fallback_triggered, and a terminal
decision_finalized/completed pair (or error). Event delivery never
blocks or aborts a run; a disconnected client simply stops receiving.

# Entry point

Run() wires persistence (PostgreSQL or in-memory), the Redis-backed
token-bucket rate limiter, the tool registry, metrics, and the HTTP API:

	POST /api/v1/alerts/{alertID}/triage  start a run, stream progress (SSE)
	GET  /api/v1/runs/{runID}             run record with its step trace
	GET  /health                          service and dependency health
	GET  /metrics                         aggregated JSON metrics
	GET  /prometheus                      Prometheus-format metrics
*/
package triage

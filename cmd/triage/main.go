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

// Package main is the entry point for the TriageFlow orchestrator service.
//
// The orchestrator triages fraud alerts by running a fixed plan of tools
// (data access, risk scoring, knowledge lookup, decision, action proposal)
// under a strict flow budget, with per-tool circuit breaking, retries, and
// timeouts. Progress is streamed to the caller as Server-Sent Events.
//
// Usage:
//
//	./triage
//
// Environment Variables:
//
//	PORT - HTTP server port (default: 8085)
//	DATABASE_URL - PostgreSQL connection string (in-memory store if unset)
//	REDIS_URL - Redis connection string for rate limiting (optional)
//	PLAN_CONFIG - path to a YAML plan configuration (optional)
//	RATE_LIMIT_MAX_TOKENS - token bucket capacity (default: 5)
//	RATE_LIMIT_REFILL_RATE - tokens per second (default: 5)
package main

import (
	"triageflow/platform/triage"
)

func main() {
	triage.Run()
}

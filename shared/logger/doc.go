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
Package logger provides structured JSON logging with per-run correlation
for TriageFlow components.

# Overview

The logger outputs single-line JSON to stdout so logs are directly
consumable by CloudWatch, ELK, or any other aggregation system.

Each log entry includes:
  - Timestamp (RFC3339Nano format)
  - Log level (DEBUG, INFO, WARN, ERROR)
  - Component name (triage, ratelimit, store, etc.)
  - Instance ID and container name (for distributed tracing)
  - Client ID (who started the run)
  - Run ID (for correlating every step of one triage run)
  - Custom fields

# Usage

Create a logger for your component:

	log := logger.New("triage")

Log messages with client and run context:

	log.Info("client-123", "run-456", "Step completed", map[string]interface{}{
	    "step":        "risk-signal-detection",
	    "duration_ms": 42,
	})

Log with duration tracking:

	start := time.Now()
	// ... do work ...
	log.InfoWithDuration("client-123", "run-456", "Run finalized",
	    float64(time.Since(start).Milliseconds()), nil)

# Environment Variables

The logger reads these environment variables:

  - INSTANCE_ID: Deployment instance identifier
  - HOSTNAME: Container hostname (auto-detected)

# Thread Safety

Logger instances are safe for concurrent use from multiple goroutines.
*/
package logger

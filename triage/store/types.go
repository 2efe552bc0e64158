// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

// Package store provides persistence for fraud alerts, triage runs, and
// step traces. The orchestrator talks to it through the Repository
// interface; the Postgres implementation is the production backend and
// the in-memory implementation backs tests and local development.
package store

import (
	"time"
)

// AlertStatus represents the lifecycle status of a fraud alert
type AlertStatus string

const (
	AlertStatusOpen    AlertStatus = "open"
	AlertStatusTriaged AlertStatus = "triaged"
	AlertStatusClosed  AlertStatus = "closed"
)

// RunStatus represents the status of a triage run
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// Customer is the account the alert was raised against
type Customer struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RiskTier  string    `json:"risk_tier"`
	Country   string    `json:"country"`
	CreatedAt time.Time `json:"created_at"`
}

// Transaction is a single payment event attached to an alert
type Transaction struct {
	ID         string    `json:"id"`
	CustomerID string    `json:"customer_id"`
	AmountUSD  float64   `json:"amount_usd"`
	Currency   string    `json:"currency"`
	Merchant   string    `json:"merchant"`
	Country    string    `json:"country"`
	OccurredAt time.Time `json:"occurred_at"`
}

// Alert is a fraud alert awaiting triage
type Alert struct {
	ID         string      `json:"id"`
	CustomerID string      `json:"customer_id"`
	RuleName   string      `json:"rule_name"`
	Severity   string      `json:"severity"`
	Status     AlertStatus `json:"status"`
	CreatedAt  time.Time   `json:"created_at"`
}

// AlertBundle is the alert-with-customer-and-transactions aggregate the
// orchestrator loads once at run start. Transactions are ordered by
// occurrence time, oldest first.
type AlertBundle struct {
	Alert        Alert         `json:"alert"`
	Customer     Customer      `json:"customer"`
	Transactions []Transaction `json:"transactions"`
}

// TriageRun is the persisted record of one orchestrator run. It is created
// (status running) before any step executes so partial runs are always
// observable, and finalized when the run concludes.
type TriageRun struct {
	RunID             string     `json:"run_id"`
	AlertID           string     `json:"alert_id"`
	CustomerID        string     `json:"customer_id"`
	ClientID          string     `json:"client_id"`
	Status            RunStatus  `json:"status"`
	RiskLevel         string     `json:"risk_level,omitempty"`
	Reasons           []string   `json:"reasons,omitempty"`
	RecommendedAction string     `json:"recommended_action,omitempty"`
	FallbackUsed      bool       `json:"fallback_used"`
	LatencyMs         int64      `json:"latency_ms"`
	StartedAt         time.Time  `json:"started_at"`
	CompletedAt       *time.Time `json:"completed_at,omitempty"`
}

// TraceEntry is the persisted record of one executed plan step, appended
// in execution order. StepIndex is zero-based within the run.
type TraceEntry struct {
	ID           int       `json:"id,omitempty"`
	RunID        string    `json:"run_id"`
	StepIndex    int       `json:"step_index"`
	StepName     string    `json:"step_name"`
	Success      bool      `json:"success"`
	DurationMs   int64     `json:"duration_ms"`
	Detail       string    `json:"detail,omitempty"`
	FallbackUsed bool      `json:"fallback_used"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

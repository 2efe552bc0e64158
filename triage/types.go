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
	"triageflow/platform/triage/store"
)

// RiskLevel classifies an alert's fraud risk
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Recommended actions a triage run can produce
const (
	ActionDismiss        = "dismiss"
	ActionMonitor        = "monitor"
	ActionReviewManually = "review_manually"
	ActionBlockCard      = "block_card"
	ActionContactHolder  = "contact_cardholder"
)

// AgentContext is the shared mutable state threaded through one triage run.
// It is owned by exactly one run and mutated only by the orchestrator
// between steps; tools receive it read-mostly and contribute results back
// through their StepOutput. Earlier steps' outputs occupy named slots that
// later steps read, rather than an open-ended map, so a tool reading a
// missing dependency fails at a nil check instead of a type assertion.
type AgentContext struct {
	RunID      string
	ClientID   string
	AlertID    string
	CustomerID string

	// Loaded by the orchestrator (or the data-access step) from storage
	Alert        *store.Alert
	Customer     *store.Customer
	Transactions []store.Transaction

	// Step output slots, populated in plan order
	DataSummary *DataSummary
	Risk        *RiskAssessment
	Knowledge   *KnowledgeResult
	Compliance  *ComplianceResult
	Decision    *Decision
	Proposal    *ActionProposal
}

// DataSummary is the data-access step's digest of the alert aggregate
type DataSummary struct {
	TransactionCount  int     `json:"transaction_count"`
	TotalAmount       float64 `json:"total_amount"`
	LargestAmount     float64 `json:"largest_amount"`
	DistinctCountries int     `json:"distinct_countries"`
	DistinctMerchants int     `json:"distinct_merchants"`
	AccountAgeDays    int     `json:"account_age_days"`
}

// RiskAssessment is the risk-signal-detection step's verdict. Fallback is
// set when this assessment is the conservative substitute used after the
// risk tool failed.
type RiskAssessment struct {
	Level           RiskLevel `json:"level"`
	Score           float64   `json:"score"`
	Reasons         []string  `json:"reasons"`
	SuggestedAction string    `json:"suggested_action"`
	Fallback        bool      `json:"fallback,omitempty"`
}

// KnowledgeResult carries case annotations from the knowledge-lookup step
type KnowledgeResult struct {
	Matches     int      `json:"matches"`
	Annotations []string `json:"annotations"`
}

// ComplianceResult is the compliance-check step's verdict
type ComplianceResult struct {
	Passed      bool     `json:"passed"`
	Annotations []string `json:"annotations"`
}

// Decision is the decision step's consolidation of the signals so far
type Decision struct {
	Risk    RiskLevel `json:"risk"`
	Reasons []string  `json:"reasons"`
}

// ActionProposal is the propose-action step's recommendation
type ActionProposal struct {
	RecommendedAction string `json:"recommended_action"`
	Rationale         string `json:"rationale"`
}

// StepOutput is what a tool returns on success. The orchestrator merges the
// named slot into the AgentContext and records Detail in the trace.
type StepOutput struct {
	DataSummary *DataSummary
	Risk        *RiskAssessment
	Knowledge   *KnowledgeResult
	Compliance  *ComplianceResult
	Decision    *Decision
	Proposal    *ActionProposal

	// Detail is an opaque payload persisted with the trace entry
	Detail string
}

// TriageResult is the final outcome of a run, assembled from the context
// after the plan finishes or the flow budget stops it early.
type TriageResult struct {
	RunID             string    `json:"run_id"`
	AlertID           string    `json:"alert_id"`
	Risk              RiskLevel `json:"risk"`
	Reasons           []string  `json:"reasons"`
	RecommendedAction string    `json:"recommended_action"`
	FallbackUsed      bool      `json:"fallback_used"`
	LatencyMs         int64     `json:"latency_ms"`
}

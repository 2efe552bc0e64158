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
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"triageflow/platform/shared/logger"
	"triageflow/platform/triage/resilience"
	"triageflow/platform/triage/store"
)

// DefaultFlowBudget is the wall-clock budget for one whole run. Steps that
// would start after the budget is exhausted are skipped; the run still
// finalizes with whatever was computed.
const DefaultFlowBudget = 5000 * time.Millisecond

// DefaultPlan is the standard triage pipeline. The plan is data, not
// control flow: callers may substitute their own ordered step list.
func DefaultPlan() []string {
	return []string{
		StepDataAccess,
		StepRiskSignals,
		StepKnowledge,
		StepDecision,
		StepProposeAction,
	}
}

// Config tunes one Orchestrator instance
type Config struct {
	Plan             []string
	FlowBudget       time.Duration
	ToolTimeout      time.Duration
	Retry            *resilience.RetryConfig
	FailureThreshold int
	OpenDuration     time.Duration
}

// DefaultConfig returns the production defaults
func DefaultConfig() Config {
	return Config{
		Plan:             DefaultPlan(),
		FlowBudget:       DefaultFlowBudget,
		ToolTimeout:      resilience.DefaultToolTimeout,
		FailureThreshold: resilience.DefaultFailureThreshold,
		OpenDuration:     resilience.DefaultOpenDuration,
	}
}

// Orchestrator executes the triage plan for fraud alerts. One instance
// serves many concurrent runs; runs share only the repository, the tool
// registry, and the circuit breaker (intentionally process-wide so a
// failing dependency trips for every run in this instance, not just the
// run that discovered the failure).
type Orchestrator struct {
	repo      store.Repository
	registry  *Registry
	breaker   *resilience.CircuitBreaker
	executors map[string]*resilience.Executor
	plan      []string
	budget    time.Duration
	metrics   *MetricsCollector
	log       *logger.Logger
}

// NewOrchestrator wires an orchestrator against a repository and tool
// registry. Executors are built once per registered tool so per-tool
// circuit state accumulates across runs.
func NewOrchestrator(repo store.Repository, registry *Registry, metrics *MetricsCollector, config Config) *Orchestrator {
	if len(config.Plan) == 0 {
		config.Plan = DefaultPlan()
	}
	if config.FlowBudget <= 0 {
		config.FlowBudget = DefaultFlowBudget
	}
	if config.ToolTimeout <= 0 {
		config.ToolTimeout = resilience.DefaultToolTimeout
	}
	if metrics == nil {
		metrics = NewMetricsCollector()
	}

	breaker := resilience.NewCircuitBreaker(config.FailureThreshold, config.OpenDuration)

	o := &Orchestrator{
		repo:      repo,
		registry:  registry,
		breaker:   breaker,
		executors: make(map[string]*resilience.Executor),
		plan:      config.Plan,
		budget:    config.FlowBudget,
		metrics:   metrics,
		log:       logger.New("orchestrator"),
	}

	for _, name := range registry.Names() {
		opts := []resilience.ExecutorOption{
			resilience.WithTimeout(config.ToolTimeout),
			resilience.WithObserver(metrics.RecordToolAttempt),
		}
		if config.Retry != nil {
			opts = append(opts, resilience.WithRetryConfig(config.Retry))
		}
		o.executors[name] = resilience.NewExecutor(name, breaker, opts...)
	}

	return o
}

// Plan returns a copy of the configured step order
func (o *Orchestrator) Plan() []string {
	return append([]string(nil), o.plan...)
}

// Breaker exposes the shared circuit breaker for health reporting
func (o *Orchestrator) Breaker() *resilience.CircuitBreaker {
	return o.breaker
}

// TriageAlert runs the full triage pipeline for one alert and streams
// progress to sink. The sink must never block (see EventSink); a consumer
// disconnecting mid-run only stops event delivery, the run completes and
// persists regardless.
//
// Only two conditions fail the run as a whole: the alert not existing, and
// the run record being unpersistable. Every per-step failure is absorbed
// into the trace and the fallback mechanism.
func (o *Orchestrator) TriageAlert(ctx context.Context, clientID, alertID string, sink EventSink) (*TriageResult, error) {
	if sink == nil {
		sink = NopSink{}
	}
	defer sink.Close()

	start := time.Now()
	runID := uuid.New().String()

	bundle, err := o.repo.GetAlertBundle(ctx, alertID)
	if err != nil {
		o.metrics.RecordRunFailed()
		if errors.Is(err, store.ErrNotFound) {
			sink.Emit(Event{Type: EventError, RunID: runID, Message: fmt.Sprintf("alert %s not found", alertID)})
			return nil, fmt.Errorf("alert %s: %w", alertID, store.ErrNotFound)
		}
		sink.Emit(Event{Type: EventError, RunID: runID, Message: "failed to load alert"})
		return nil, fmt.Errorf("failed to load alert %s: %w", alertID, err)
	}

	ac := &AgentContext{
		RunID:        runID,
		ClientID:     clientID,
		AlertID:      alertID,
		CustomerID:   bundle.Customer.ID,
		Alert:        &bundle.Alert,
		Customer:     &bundle.Customer,
		Transactions: bundle.Transactions,
	}

	// Persist the run before any step executes so partial runs are always
	// observable.
	run := &store.TriageRun{
		RunID:      runID,
		AlertID:    alertID,
		CustomerID: bundle.Customer.ID,
		ClientID:   clientID,
		Status:     store.RunStatusRunning,
		StartedAt:  start,
	}
	if err := o.repo.CreateRun(ctx, run); err != nil {
		o.metrics.RecordRunFailed()
		sink.Emit(Event{Type: EventError, RunID: runID, Message: "failed to create run record"})
		return nil, fmt.Errorf("failed to create run record: %w", err)
	}

	o.log.Info(clientID, runID, "Triage run started", map[string]interface{}{
		"alert_id": alertID,
		"plan":     o.plan,
	})
	sink.Emit(Event{Type: EventPlanBuilt, RunID: runID, Plan: o.Plan()})

	fallbackUsed := false
	traceIndex := 0

	for _, stepName := range o.plan {
		if time.Since(start) >= o.budget {
			o.log.Warn(clientID, runID, "Flow budget exhausted, skipping remaining steps", map[string]interface{}{
				"next_step":  stepName,
				"elapsed_ms": time.Since(start).Milliseconds(),
			})
			o.metrics.RecordBudgetStop()
			break
		}

		tool := o.registry.Get(stepName)
		if tool == nil {
			// Unknown steps are skipped without a trace entry
			log.Printf("[Orchestrator] Unknown step '%s' in plan, skipping (run %s)", stepName, runID)
			continue
		}

		sink.Emit(Event{Type: EventToolUpdate, RunID: runID, Step: stepName, Status: StepStatusRunning})

		result := o.executors[stepName].Execute(ctx, runID, func(ctx context.Context) (interface{}, error) {
			return tool.Run(ctx, ac)
		})

		entry := store.TraceEntry{
			RunID:      runID,
			StepIndex:  traceIndex,
			StepName:   stepName,
			Success:    result.OK,
			DurationMs: result.DurationMs,
		}
		traceIndex++

		if result.OK {
			output, _ := result.Data.(*StepOutput)
			if output != nil {
				o.mergeOutput(ac, output)
				entry.Detail = output.Detail
			}
			duration := result.DurationMs
			sink.Emit(Event{Type: EventToolUpdate, RunID: runID, Step: stepName, Status: StepStatusCompleted, DurationMs: &duration})
		} else {
			fallbackUsed = true
			entry.Detail = result.Error

			if stepName == StepRiskSignals {
				ac.Risk = FallbackRiskAssessment()
				entry.FallbackUsed = true
				o.metrics.RecordFallback(stepName)
				sink.Emit(Event{Type: EventFallbackTriggered, RunID: runID, Step: stepName, Reason: result.Error})
			} else {
				duration := result.DurationMs
				sink.Emit(Event{Type: EventToolUpdate, RunID: runID, Step: stepName, Status: StepStatusFailed, DurationMs: &duration})
			}

			o.log.Error(clientID, runID, "Step failed", map[string]interface{}{
				"step":        stepName,
				"error":       result.Error,
				"duration_ms": result.DurationMs,
			})
		}

		if err := o.repo.AppendTrace(ctx, &entry); err != nil {
			o.log.ErrorWithErr(clientID, runID, "Failed to persist trace entry", err, map[string]interface{}{
				"step": stepName,
			})
		}
	}

	result := o.assemble(ac, fallbackUsed, time.Since(start))

	run.Status = store.RunStatusCompleted
	run.RiskLevel = string(result.Risk)
	run.Reasons = result.Reasons
	run.RecommendedAction = result.RecommendedAction
	run.FallbackUsed = result.FallbackUsed
	run.LatencyMs = result.LatencyMs
	if err := o.repo.FinalizeRun(ctx, run); err != nil {
		o.log.ErrorWithErr(clientID, runID, "Failed to finalize run record", err, nil)
	}
	if err := o.repo.UpdateAlertStatus(ctx, alertID, store.AlertStatusTriaged); err != nil {
		o.log.ErrorWithErr(clientID, runID, "Failed to update alert status", err, nil)
	}

	o.metrics.RecordRunCompleted(result.Risk, result.FallbackUsed, time.Duration(result.LatencyMs)*time.Millisecond)
	o.log.InfoWithDuration(clientID, runID, "Triage run completed", float64(result.LatencyMs), map[string]interface{}{
		"risk":               string(result.Risk),
		"recommended_action": result.RecommendedAction,
		"fallback_used":      result.FallbackUsed,
	})

	sink.Emit(Event{
		Type:              EventDecisionFinalized,
		RunID:             runID,
		Risk:              result.Risk,
		Reasons:           result.Reasons,
		RecommendedAction: result.RecommendedAction,
		LatencyMs:         result.LatencyMs,
	})
	sink.Emit(Event{Type: EventCompleted, RunID: runID})

	return result, nil
}

// mergeOutput folds a successful step's output slots into the shared context
func (o *Orchestrator) mergeOutput(ac *AgentContext, output *StepOutput) {
	if output.DataSummary != nil {
		ac.DataSummary = output.DataSummary
	}
	if output.Risk != nil {
		ac.Risk = output.Risk
	}
	if output.Knowledge != nil {
		ac.Knowledge = output.Knowledge
	}
	if output.Compliance != nil {
		ac.Compliance = output.Compliance
	}
	if output.Decision != nil {
		ac.Decision = output.Decision
	}
	if output.Proposal != nil {
		ac.Proposal = output.Proposal
	}
}

// assemble combines whatever the steps produced into the final result.
// Missing pieces degrade gracefully: a run that never computed a risk
// verdict gets the conservative fallback, and the recommended action falls
// back to the risk step's suggestion when the proposal step did not run.
func (o *Orchestrator) assemble(ac *AgentContext, fallbackUsed bool, elapsed time.Duration) *TriageResult {
	if ac.Risk == nil {
		ac.Risk = FallbackRiskAssessment()
		fallbackUsed = true
	}

	risk := ac.Risk.Level
	reasons := append([]string(nil), ac.Risk.Reasons...)
	if ac.Decision != nil {
		risk = ac.Decision.Risk
		reasons = append([]string(nil), ac.Decision.Reasons...)
	}

	if ac.Knowledge != nil {
		reasons = append(reasons, ac.Knowledge.Annotations...)
	}
	if ac.Compliance != nil {
		reasons = append(reasons, ac.Compliance.Annotations...)
	}

	action := ac.Risk.SuggestedAction
	if ac.Proposal != nil && ac.Proposal.RecommendedAction != "" {
		action = ac.Proposal.RecommendedAction
	}

	return &TriageResult{
		RunID:             ac.RunID,
		AlertID:           ac.AlertID,
		Risk:              risk,
		Reasons:           reasons,
		RecommendedAction: action,
		FallbackUsed:      fallbackUsed,
		LatencyMs:         elapsed.Milliseconds(),
	}
}

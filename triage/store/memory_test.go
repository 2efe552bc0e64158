// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"testing"
	"time"
)

func seedBundle() *AlertBundle {
	now := time.Now()
	return &AlertBundle{
		Alert:    Alert{ID: "A1", CustomerID: "C1", RuleName: "velocity-check", Severity: "high", Status: AlertStatusOpen, CreatedAt: now},
		Customer: Customer{ID: "C1", Name: "Acme Corp", RiskTier: "standard", Country: "US", CreatedAt: now},
		Transactions: []Transaction{
			{ID: "T1", CustomerID: "C1", AmountUSD: 120, Currency: "USD", Merchant: "store-a", Country: "US", OccurredAt: now.Add(-time.Hour)},
		},
	}
}

// TestMemoryRepository_AlertLifecycle tests seed, lookup and status update
func TestMemoryRepository_AlertLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if _, err := repo.GetAlertBundle(ctx, "A1"); err != ErrNotFound {
		t.Fatalf("expected ErrNotFound before seed, got %v", err)
	}

	repo.SeedAlert(seedBundle())

	bundle, err := repo.GetAlertBundle(ctx, "A1")
	if err != nil {
		t.Fatalf("GetAlertBundle failed: %v", err)
	}
	if bundle.Customer.ID != "C1" {
		t.Errorf("expected customer C1, got %s", bundle.Customer.ID)
	}

	if err := repo.UpdateAlertStatus(ctx, "A1", AlertStatusTriaged); err != nil {
		t.Fatalf("UpdateAlertStatus failed: %v", err)
	}

	bundle, _ = repo.GetAlertBundle(ctx, "A1")
	if bundle.Alert.Status != AlertStatusTriaged {
		t.Errorf("expected status triaged, got %s", bundle.Alert.Status)
	}

	if err := repo.UpdateAlertStatus(ctx, "missing", AlertStatusClosed); err != ErrNotFound {
		t.Errorf("expected ErrNotFound for missing alert, got %v", err)
	}
}

// TestMemoryRepository_RunLifecycle tests create, finalize, get
func TestMemoryRepository_RunLifecycle(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	run := &TriageRun{
		RunID:     "run-1",
		AlertID:   "A1",
		Status:    RunStatusRunning,
		StartedAt: time.Now(),
	}
	if err := repo.CreateRun(ctx, run); err != nil {
		t.Fatalf("CreateRun failed: %v", err)
	}

	run.Status = RunStatusCompleted
	run.RiskLevel = "low"
	run.Reasons = []string{"no anomalies"}
	if err := repo.FinalizeRun(ctx, run); err != nil {
		t.Fatalf("FinalizeRun failed: %v", err)
	}

	got, err := repo.GetRun(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetRun failed: %v", err)
	}
	if got.Status != RunStatusCompleted {
		t.Errorf("expected completed status, got %s", got.Status)
	}
	if got.CompletedAt == nil {
		t.Error("expected CompletedAt to be set on finalize")
	}

	if err := repo.FinalizeRun(ctx, &TriageRun{RunID: "ghost"}); err != ErrNotFound {
		t.Errorf("expected ErrNotFound finalizing unknown run, got %v", err)
	}
}

// TestMemoryRepository_Trace tests append and ordered retrieval
func TestMemoryRepository_Trace(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	steps := []string{"data-access", "risk-signal-detection", "decision"}
	for i, name := range steps {
		entry := &TraceEntry{RunID: "run-1", StepIndex: i, StepName: name, Success: true}
		if err := repo.AppendTrace(ctx, entry); err != nil {
			t.Fatalf("AppendTrace failed: %v", err)
		}
		if entry.ID == 0 {
			t.Error("expected assigned trace ID")
		}
	}

	trace, err := repo.GetTrace(ctx, "run-1")
	if err != nil {
		t.Fatalf("GetTrace failed: %v", err)
	}
	if len(trace) != len(steps) {
		t.Fatalf("expected %d entries, got %d", len(steps), len(trace))
	}
	for i, name := range steps {
		if trace[i].StepName != name {
			t.Errorf("entry %d: expected %s, got %s", i, name, trace[i].StepName)
		}
	}
}

// TestMemoryRepository_InvalidInput tests input validation
func TestMemoryRepository_InvalidInput(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	if err := repo.CreateRun(ctx, nil); err != ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for nil run, got %v", err)
	}
	if err := repo.AppendTrace(ctx, &TraceEntry{}); err != ErrInvalidInput {
		t.Errorf("expected ErrInvalidInput for empty entry, got %v", err)
	}
}

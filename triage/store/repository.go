// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
)

// Repository defines the interface for triage persistence. These are the
// only operations the orchestrator needs from storage.
type Repository interface {
	// Alert operations
	GetAlertBundle(ctx context.Context, alertID string) (*AlertBundle, error)
	UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error

	// Run operations
	CreateRun(ctx context.Context, run *TriageRun) error
	FinalizeRun(ctx context.Context, run *TriageRun) error
	GetRun(ctx context.Context, runID string) (*TriageRun, error)

	// Trace operations
	AppendTrace(ctx context.Context, entry *TraceEntry) error
	GetTrace(ctx context.Context, runID string) ([]TraceEntry, error)

	// Health check
	Ping(ctx context.Context) error
}

// NoOpRepository is a no-op implementation for when the database is unavailable
type NoOpRepository struct{}

// Ensure NoOpRepository implements Repository
var _ Repository = (*NoOpRepository)(nil)

func (r *NoOpRepository) GetAlertBundle(ctx context.Context, alertID string) (*AlertBundle, error) {
	return nil, ErrNotFound
}

func (r *NoOpRepository) UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error {
	return nil
}

func (r *NoOpRepository) CreateRun(ctx context.Context, run *TriageRun) error {
	return nil
}

func (r *NoOpRepository) FinalizeRun(ctx context.Context, run *TriageRun) error {
	return nil
}

func (r *NoOpRepository) GetRun(ctx context.Context, runID string) (*TriageRun, error) {
	return nil, ErrNotFound
}

func (r *NoOpRepository) AppendTrace(ctx context.Context, entry *TraceEntry) error {
	return nil
}

func (r *NoOpRepository) GetTrace(ctx context.Context, runID string) ([]TraceEntry, error) {
	return []TraceEntry{}, nil
}

func (r *NoOpRepository) Ping(ctx context.Context) error {
	return nil
}

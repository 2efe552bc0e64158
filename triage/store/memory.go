// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryRepository is a thread-safe in-memory Repository for tests and
// local development.
type MemoryRepository struct {
	mu      sync.RWMutex
	bundles map[string]*AlertBundle
	runs    map[string]*TriageRun
	traces  map[string][]TraceEntry
	nextID  int
}

// Ensure MemoryRepository implements Repository
var _ Repository = (*MemoryRepository)(nil)

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		bundles: make(map[string]*AlertBundle),
		runs:    make(map[string]*TriageRun),
		traces:  make(map[string][]TraceEntry),
		nextID:  1,
	}
}

// SeedAlert installs an alert bundle for lookup by alert ID
func (r *MemoryRepository) SeedAlert(bundle *AlertBundle) {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *bundle
	r.bundles[bundle.Alert.ID] = &copied
}

func (r *MemoryRepository) GetAlertBundle(ctx context.Context, alertID string) (*AlertBundle, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	bundle, ok := r.bundles[alertID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *bundle
	return &copied, nil
}

func (r *MemoryRepository) UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	bundle, ok := r.bundles[alertID]
	if !ok {
		return ErrNotFound
	}
	bundle.Alert.Status = status
	return nil
}

func (r *MemoryRepository) CreateRun(ctx context.Context, run *TriageRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *run
	r.runs[run.RunID] = &copied
	return nil
}

func (r *MemoryRepository) FinalizeRun(ctx context.Context, run *TriageRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.runs[run.RunID]; !ok {
		return ErrNotFound
	}
	copied := *run
	if copied.CompletedAt == nil {
		now := time.Now()
		copied.CompletedAt = &now
	}
	r.runs[run.RunID] = &copied
	return nil
}

func (r *MemoryRepository) GetRun(ctx context.Context, runID string) (*TriageRun, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	run, ok := r.runs[runID]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *run
	return &copied, nil
}

func (r *MemoryRepository) AppendTrace(ctx context.Context, entry *TraceEntry) error {
	if entry == nil || entry.RunID == "" {
		return ErrInvalidInput
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	entry.ID = r.nextID
	r.nextID++
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	r.traces[entry.RunID] = append(r.traces[entry.RunID], *entry)
	return nil
}

func (r *MemoryRepository) GetTrace(ctx context.Context, runID string) ([]TraceEntry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	trace := r.traces[runID]
	out := make([]TraceEntry, len(trace))
	copy(out, trace)
	sort.Slice(out, func(i, j int) bool { return out[i].StepIndex < out[j].StepIndex })
	return out, nil
}

func (r *MemoryRepository) Ping(ctx context.Context) error {
	return nil
}

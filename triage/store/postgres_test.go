// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewPostgresRepository tests repository creation.
func TestNewPostgresRepository(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	assert.NotNil(t, repo)
}

// TestGetAlertBundle tests loading the alert aggregate.
func TestGetAlertBundle(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name      string
		alertID   string
		setupMock func(mock sqlmock.Sqlmock)
		wantErr   error
		wantTxs   int
	}{
		{
			name:    "alert with two transactions",
			alertID: "A1",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT a.id, a.customer_id").
					WithArgs("A1").
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "customer_id", "rule_name", "severity", "status", "created_at",
						"c_id", "name", "risk_tier", "country", "c_created_at",
					}).AddRow("A1", "C1", "velocity-check", "high", "open", now,
						"C1", "Acme Corp", "standard", "US", now))

				mock.ExpectQuery("SELECT id, customer_id, amount_usd").
					WithArgs("C1").
					WillReturnRows(sqlmock.NewRows([]string{
						"id", "customer_id", "amount_usd", "currency", "merchant", "country", "occurred_at",
					}).
						AddRow("T1", "C1", 120.00, "USD", "store-a", "US", now.Add(-2*time.Hour)).
						AddRow("T2", "C1", 3400.00, "USD", "store-b", "RO", now.Add(-1*time.Hour)))
			},
			wantTxs: 2,
		},
		{
			name:    "alert not found",
			alertID: "missing",
			setupMock: func(mock sqlmock.Sqlmock) {
				mock.ExpectQuery("SELECT a.id, a.customer_id").
					WithArgs("missing").
					WillReturnError(sql.ErrNoRows)
			},
			wantErr: ErrNotFound,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db, mock, err := sqlmock.New()
			require.NoError(t, err)
			defer db.Close()

			tt.setupMock(mock)
			repo := NewPostgresRepository(db)

			bundle, err := repo.GetAlertBundle(context.Background(), tt.alertID)

			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bundle)
				return
			}

			require.NoError(t, err)
			require.NotNil(t, bundle)
			assert.Equal(t, tt.alertID, bundle.Alert.ID)
			assert.Len(t, bundle.Transactions, tt.wantTxs)
			// transactions must come back oldest first
			if len(bundle.Transactions) == 2 {
				assert.True(t, bundle.Transactions[0].OccurredAt.Before(bundle.Transactions[1].OccurredAt))
			}
			assert.NoError(t, mock.ExpectationsWereMet())
		})
	}
}

// TestCreateRun tests run record creation.
func TestCreateRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	run := &TriageRun{
		RunID:      "run-1",
		AlertID:    "A1",
		CustomerID: "C1",
		ClientID:   "client-1",
		Status:     RunStatusRunning,
		StartedAt:  time.Now(),
	}

	mock.ExpectExec("INSERT INTO triage_runs").
		WithArgs(run.RunID, run.AlertID, run.CustomerID, run.ClientID,
			string(run.Status), run.FallbackUsed, run.LatencyMs, run.StartedAt).
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo := NewPostgresRepository(db)
	require.NoError(t, repo.CreateRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestCreateRun_InvalidInput tests validation before touching the database.
func TestCreateRun_InvalidInput(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	repo := NewPostgresRepository(db)
	assert.ErrorIs(t, repo.CreateRun(context.Background(), nil), ErrInvalidInput)
	assert.ErrorIs(t, repo.CreateRun(context.Background(), &TriageRun{}), ErrInvalidInput)
}

// TestFinalizeRun tests terminal state updates.
func TestFinalizeRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	completed := time.Now()
	run := &TriageRun{
		RunID:             "run-1",
		Status:            RunStatusCompleted,
		RiskLevel:         "medium",
		Reasons:           []string{"velocity spike", "new merchant country"},
		RecommendedAction: "manual_review",
		FallbackUsed:      true,
		LatencyMs:         812,
		CompletedAt:       &completed,
	}

	reasons, err := json.Marshal(run.Reasons)
	require.NoError(t, err)

	mock.ExpectExec("UPDATE triage_runs SET").
		WithArgs(run.RunID, string(run.Status), run.RiskLevel, reasons,
			run.RecommendedAction, run.FallbackUsed, run.LatencyMs, completed).
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(db)
	require.NoError(t, repo.FinalizeRun(context.Background(), run))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestFinalizeRun_NotFound tests finalize against a missing run.
func TestFinalizeRun_NotFound(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	completed := time.Now()
	run := &TriageRun{RunID: "ghost", Status: RunStatusCompleted, CompletedAt: &completed}

	mock.ExpectExec("UPDATE triage_runs SET").
		WillReturnResult(sqlmock.NewResult(0, 0))

	repo := NewPostgresRepository(db)
	assert.ErrorIs(t, repo.FinalizeRun(context.Background(), run), ErrNotFound)
}

// TestGetRun tests run retrieval including reasons round-trip.
func TestGetRun(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	started := time.Now().Add(-time.Second)
	completed := time.Now()
	reasons, _ := json.Marshal([]string{"fallback: risk service unavailable"})

	mock.ExpectQuery("SELECT run_id, alert_id, customer_id").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"run_id", "alert_id", "customer_id", "client_id", "status",
			"risk_level", "reasons", "recommended_action",
			"fallback_used", "latency_ms", "started_at", "completed_at",
		}).AddRow("run-1", "A1", "C1", "client-1", "completed",
			"medium", reasons, "manual_review", true, int64(812), started, completed))

	repo := NewPostgresRepository(db)
	run, err := repo.GetRun(context.Background(), "run-1")
	require.NoError(t, err)
	assert.Equal(t, "medium", run.RiskLevel)
	assert.Equal(t, []string{"fallback: risk service unavailable"}, run.Reasons)
	assert.True(t, run.FallbackUsed)
	require.NotNil(t, run.CompletedAt)
}

// TestAppendTrace tests trace row insertion.
func TestAppendTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	entry := &TraceEntry{
		RunID:      "run-1",
		StepIndex:  0,
		StepName:   "data-access",
		Success:    true,
		DurationMs: 37,
		Detail:     `{"transactions":12}`,
	}

	mock.ExpectQuery("INSERT INTO triage_trace").
		WithArgs(entry.RunID, entry.StepIndex, entry.StepName, entry.Success,
			entry.DurationMs, entry.Detail, entry.FallbackUsed).
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(7))

	repo := NewPostgresRepository(db)
	require.NoError(t, repo.AppendTrace(context.Background(), entry))
	assert.Equal(t, 7, entry.ID)
}

// TestGetTrace tests ordered trace retrieval.
func TestGetTrace(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	now := time.Now()
	mock.ExpectQuery("SELECT id, run_id, step_index").
		WithArgs("run-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "run_id", "step_index", "step_name", "success",
			"duration_ms", "detail", "fallback_used", "created_at",
		}).
			AddRow(1, "run-1", 0, "data-access", true, int64(37), "", false, now).
			AddRow(2, "run-1", 1, "risk-signal-detection", false, int64(1003), "timeout", true, now))

	repo := NewPostgresRepository(db)
	trace, err := repo.GetTrace(context.Background(), "run-1")
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, "data-access", trace[0].StepName)
	assert.False(t, trace[1].Success)
	assert.True(t, trace[1].FallbackUsed)
}

// TestUpdateAlertStatus tests alert status transitions.
func TestUpdateAlertStatus(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectExec("UPDATE alerts SET status").
		WithArgs("triaged", "A1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	repo := NewPostgresRepository(db)
	require.NoError(t, repo.UpdateAlertStatus(context.Background(), "A1", AlertStatusTriaged))
	assert.NoError(t, mock.ExpectationsWereMet())
}

// TestPing tests database health wrapping.
func TestPing(t *testing.T) {
	db, mock, err := sqlmock.New(sqlmock.MonitorPingsOption(true))
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectPing().WillReturnError(errors.New("connection refused"))

	repo := NewPostgresRepository(db)
	err = repo.Ping(context.Background())
	assert.ErrorIs(t, err, ErrDatabaseUnavailable)
}

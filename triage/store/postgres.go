// Copyright 2025 TriageFlow
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// PostgresRepository implements Repository using PostgreSQL
type PostgresRepository struct {
	db *sql.DB
}

// Ensure PostgresRepository implements Repository
var _ Repository = (*PostgresRepository)(nil)

// NewPostgresRepository creates a new PostgreSQL repository
func NewPostgresRepository(db *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// GetAlertBundle loads the alert with its customer and ordered transactions
func (r *PostgresRepository) GetAlertBundle(ctx context.Context, alertID string) (*AlertBundle, error) {
	bundle := &AlertBundle{}

	alertQuery := `
		SELECT a.id, a.customer_id, a.rule_name, a.severity, a.status, a.created_at,
			c.id, c.name, c.risk_tier, c.country, c.created_at
		FROM alerts a
		JOIN customers c ON c.id = a.customer_id
		WHERE a.id = $1`

	err := r.db.QueryRowContext(ctx, alertQuery, alertID).Scan(
		&bundle.Alert.ID, &bundle.Alert.CustomerID, &bundle.Alert.RuleName,
		&bundle.Alert.Severity, &bundle.Alert.Status, &bundle.Alert.CreatedAt,
		&bundle.Customer.ID, &bundle.Customer.Name, &bundle.Customer.RiskTier,
		&bundle.Customer.Country, &bundle.Customer.CreatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get alert: %w", err)
	}

	txQuery := `
		SELECT id, customer_id, amount_usd, currency, merchant, country, occurred_at
		FROM transactions
		WHERE customer_id = $1
		ORDER BY occurred_at ASC`

	rows, err := r.db.QueryContext(ctx, txQuery, bundle.Customer.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to get transactions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var tx Transaction
		if err := rows.Scan(&tx.ID, &tx.CustomerID, &tx.AmountUSD, &tx.Currency,
			&tx.Merchant, &tx.Country, &tx.OccurredAt); err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		bundle.Transactions = append(bundle.Transactions, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate transactions: %w", err)
	}

	return bundle, nil
}

// UpdateAlertStatus updates an alert's status field
func (r *PostgresRepository) UpdateAlertStatus(ctx context.Context, alertID string, status AlertStatus) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE alerts SET status = $1 WHERE id = $2`, string(status), alertID)
	if err != nil {
		return fmt.Errorf("failed to update alert status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// CreateRun persists a new run record before any step executes
func (r *PostgresRepository) CreateRun(ctx context.Context, run *TriageRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidInput
	}

	query := `
		INSERT INTO triage_runs (
			run_id, alert_id, customer_id, client_id, status,
			fallback_used, latency_ms, started_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := r.db.ExecContext(ctx, query,
		run.RunID, run.AlertID, run.CustomerID, run.ClientID, string(run.Status),
		run.FallbackUsed, run.LatencyMs, run.StartedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create run: %w", err)
	}
	return nil
}

// FinalizeRun updates a run record to its terminal state
func (r *PostgresRepository) FinalizeRun(ctx context.Context, run *TriageRun) error {
	if run == nil || run.RunID == "" {
		return ErrInvalidInput
	}

	reasons, err := json.Marshal(run.Reasons)
	if err != nil {
		return fmt.Errorf("failed to marshal reasons: %w", err)
	}

	query := `
		UPDATE triage_runs SET
			status = $2,
			risk_level = $3,
			reasons = $4,
			recommended_action = $5,
			fallback_used = $6,
			latency_ms = $7,
			completed_at = $8
		WHERE run_id = $1`

	completedAt := time.Now()
	if run.CompletedAt != nil {
		completedAt = *run.CompletedAt
	}

	result, err := r.db.ExecContext(ctx, query,
		run.RunID, string(run.Status), run.RiskLevel, reasons,
		run.RecommendedAction, run.FallbackUsed, run.LatencyMs, completedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to finalize run: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetRun retrieves a run by its ID
func (r *PostgresRepository) GetRun(ctx context.Context, runID string) (*TriageRun, error) {
	query := `
		SELECT run_id, alert_id, customer_id, client_id, status,
			risk_level, reasons, recommended_action,
			fallback_used, latency_ms, started_at, completed_at
		FROM triage_runs
		WHERE run_id = $1`

	run := &TriageRun{}
	var status string
	var riskLevel, recommendedAction sql.NullString
	var reasons []byte
	var completedAt sql.NullTime

	err := r.db.QueryRowContext(ctx, query, runID).Scan(
		&run.RunID, &run.AlertID, &run.CustomerID, &run.ClientID, &status,
		&riskLevel, &reasons, &recommendedAction,
		&run.FallbackUsed, &run.LatencyMs, &run.StartedAt, &completedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}

	run.Status = RunStatus(status)
	if riskLevel.Valid {
		run.RiskLevel = riskLevel.String
	}
	if recommendedAction.Valid {
		run.RecommendedAction = recommendedAction.String
	}
	if completedAt.Valid {
		run.CompletedAt = &completedAt.Time
	}
	if len(reasons) > 0 {
		if err := json.Unmarshal(reasons, &run.Reasons); err != nil {
			run.Reasons = []string{}
		}
	}

	return run, nil
}

// AppendTrace appends one executed step record to the run's trace
func (r *PostgresRepository) AppendTrace(ctx context.Context, entry *TraceEntry) error {
	if entry == nil || entry.RunID == "" {
		return ErrInvalidInput
	}

	query := `
		INSERT INTO triage_trace (
			run_id, step_index, step_name, success,
			duration_ms, detail, fallback_used
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING id`

	err := r.db.QueryRowContext(ctx, query,
		entry.RunID, entry.StepIndex, entry.StepName, entry.Success,
		entry.DurationMs, entry.Detail, entry.FallbackUsed,
	).Scan(&entry.ID)
	if err != nil {
		return fmt.Errorf("failed to append trace: %w", err)
	}
	return nil
}

// GetTrace retrieves the ordered trace for a run
func (r *PostgresRepository) GetTrace(ctx context.Context, runID string) ([]TraceEntry, error) {
	query := `
		SELECT id, run_id, step_index, step_name, success,
			duration_ms, detail, fallback_used, created_at
		FROM triage_trace
		WHERE run_id = $1
		ORDER BY step_index ASC`

	rows, err := r.db.QueryContext(ctx, query, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to get trace: %w", err)
	}
	defer func() { _ = rows.Close() }()

	entries := []TraceEntry{}
	for rows.Next() {
		var entry TraceEntry
		var detail sql.NullString
		if err := rows.Scan(&entry.ID, &entry.RunID, &entry.StepIndex, &entry.StepName,
			&entry.Success, &entry.DurationMs, &detail, &entry.FallbackUsed,
			&entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan trace entry: %w", err)
		}
		if detail.Valid {
			entry.Detail = detail.String
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate trace: %w", err)
	}

	return entries, nil
}

// Ping verifies the database connection
func (r *PostgresRepository) Ping(ctx context.Context) error {
	if err := r.db.PingContext(ctx); err != nil {
		return fmt.Errorf("%w: %v", ErrDatabaseUnavailable, err)
	}
	return nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry persists cascade attempt history locally.
//
// Every cascade run is written to a SQLite database so operators can
// answer "which provider has been failing and how slowly" without any
// external telemetry service. Nothing ever leaves the machine.
package telemetry

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // Pure Go SQLite driver

	"github.com/jeranaias/conductor/internal/cascade"
)

// =============================================================================
// RECORDER
// =============================================================================

const schema = `
CREATE TABLE IF NOT EXISTS attempts (
	id          TEXT PRIMARY KEY,
	run_id      TEXT NOT NULL,
	session_id  TEXT NOT NULL DEFAULT '',
	provider    TEXT NOT NULL,
	outcome     TEXT NOT NULL,
	latency_ms  INTEGER NOT NULL,
	started_at  TIMESTAMP NOT NULL,
	error       TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
CREATE INDEX IF NOT EXISTS idx_attempts_provider ON attempts(provider, started_at);
`

// Recorder writes cascade runs to a local SQLite database.
type Recorder struct {
	db *sql.DB
}

// Open creates or opens the telemetry database at path. An empty path
// selects ~/.conductor/telemetry.db.
func Open(path string) (*Recorder, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to resolve telemetry path: %w", err)
		}
		path = filepath.Join(home, ".conductor", "telemetry.db")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("failed to create telemetry directory: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open telemetry database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize telemetry schema: %w", err)
	}
	return &Recorder{db: db}, nil
}

// Close releases the database handle.
func (r *Recorder) Close() error {
	return r.db.Close()
}

// RecordRun persists one cascade run's attempts. Each run gets a fresh
// run ID tying its attempts together.
func (r *Recorder) RecordRun(ctx context.Context, sessionID string, attempts []cascade.Attempt) (string, error) {
	runID := uuid.NewString()
	if len(attempts) == 0 {
		return runID, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return "", fmt.Errorf("failed to begin telemetry transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO attempts (id, run_id, session_id, provider, outcome, latency_ms, started_at, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return "", fmt.Errorf("failed to prepare telemetry insert: %w", err)
	}
	defer stmt.Close()

	for _, a := range attempts {
		if _, err := stmt.ExecContext(ctx,
			uuid.NewString(), runID, sessionID, a.Provider, a.Result, a.LatencyMs, a.StartedAt.UTC(), a.Error,
		); err != nil {
			return "", fmt.Errorf("failed to insert telemetry attempt: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("failed to commit telemetry: %w", err)
	}
	return runID, nil
}

// =============================================================================
// SUMMARIES
// =============================================================================

// ProviderSummary aggregates one provider's recent attempts.
type ProviderSummary struct {
	Provider     string  `json:"provider"`
	Attempts     int64   `json:"attempts"`
	Successes    int64   `json:"successes"`
	SuccessRate  float64 `json:"success_rate"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// Summarize aggregates attempts recorded since the given time.
func (r *Recorder) Summarize(ctx context.Context, since time.Time) ([]ProviderSummary, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT provider,
		       COUNT(*),
		       SUM(CASE WHEN outcome = 'success' THEN 1 ELSE 0 END),
		       AVG(latency_ms)
		FROM attempts
		WHERE started_at >= ?
		GROUP BY provider
		ORDER BY provider`, since.UTC())
	if err != nil {
		return nil, fmt.Errorf("failed to query telemetry summary: %w", err)
	}
	defer rows.Close()

	var out []ProviderSummary
	for rows.Next() {
		var s ProviderSummary
		if err := rows.Scan(&s.Provider, &s.Attempts, &s.Successes, &s.AvgLatencyMs); err != nil {
			return nil, fmt.Errorf("failed to scan telemetry summary: %w", err)
		}
		if s.Attempts > 0 {
			s.SuccessRate = float64(s.Successes) / float64(s.Attempts)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// Prune deletes attempts older than the retention window.
func (r *Recorder) Prune(ctx context.Context, retain time.Duration) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM attempts WHERE started_at < ?`, time.Now().Add(-retain).UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to prune telemetry: %w", err)
	}
	return res.RowsAffected()
}

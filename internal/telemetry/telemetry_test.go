// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package telemetry

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/conductor/internal/cascade"
)

func openTestRecorder(t *testing.T) *Recorder {
	t.Helper()
	r, err := Open(filepath.Join(t.TempDir(), "telemetry.db"))
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func TestRecordRunAndSummarize(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()
	now := time.Now()

	attempts := []cascade.Attempt{
		{Provider: "ollama", Outcome: cascade.OutcomeError, Result: "error", LatencyMs: 120, StartedAt: now, Error: "boom"},
		{Provider: "openrouter", Outcome: cascade.OutcomeSuccess, Result: "success", LatencyMs: 480, StartedAt: now},
	}
	runID, err := r.RecordRun(ctx, "session-1", attempts)
	require.NoError(t, err)
	require.NotEmpty(t, runID)

	summaries, err := r.Summarize(ctx, now.Add(-time.Minute))
	require.NoError(t, err)
	require.Len(t, summaries, 2)

	byName := map[string]ProviderSummary{}
	for _, s := range summaries {
		byName[s.Provider] = s
	}
	assert.Equal(t, int64(1), byName["ollama"].Attempts)
	assert.Equal(t, int64(0), byName["ollama"].Successes)
	assert.Equal(t, float64(0), byName["ollama"].SuccessRate)
	assert.Equal(t, int64(1), byName["openrouter"].Successes)
	assert.Equal(t, float64(1), byName["openrouter"].SuccessRate)
	assert.InDelta(t, 480, byName["openrouter"].AvgLatencyMs, 0.01)
}

func TestRecordRunEmptyAttempts(t *testing.T) {
	r := openTestRecorder(t)
	runID, err := r.RecordRun(context.Background(), "", nil)
	require.NoError(t, err)
	assert.NotEmpty(t, runID, "even empty runs get an ID")
}

func TestPrune(t *testing.T) {
	r := openTestRecorder(t)
	ctx := context.Background()

	old := []cascade.Attempt{
		{Provider: "p", Result: "success", StartedAt: time.Now().Add(-48 * time.Hour)},
	}
	recent := []cascade.Attempt{
		{Provider: "p", Result: "success", StartedAt: time.Now()},
	}
	_, err := r.RecordRun(ctx, "", old)
	require.NoError(t, err)
	_, err = r.RecordRun(ctx, "", recent)
	require.NoError(t, err)

	n, err := r.Prune(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	summaries, err := r.Summarize(ctx, time.Now().Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, summaries, 1)
	assert.Equal(t, int64(1), summaries[0].Attempts)
}

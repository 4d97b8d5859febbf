// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cascade executes the provider fallback chain for a query.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/jeranaias/conductor/internal/provider"
)

// =============================================================================
// ATTEMPT RECORDING
// =============================================================================

// Outcome is the result category of one provider attempt.
type Outcome int

const (
	OutcomeSuccess Outcome = iota
	OutcomeTimeout
	OutcomeError
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeTimeout:
		return "timeout"
	case OutcomeError:
		return "error"
	default:
		return "unknown"
	}
}

// Attempt records one provider call within a cascade run.
type Attempt struct {
	Provider  string        `json:"provider"`
	Outcome   Outcome       `json:"-"`
	Result    string        `json:"outcome"`
	Latency   time.Duration `json:"-"`
	LatencyMs int64         `json:"latency_ms"`
	StartedAt time.Time     `json:"started_at"`
	Error     string        `json:"error,omitempty"`
}

// Result is a successful cascade run.
type Result struct {
	// Answer is the winning provider's completion.
	Answer string
	// Provider is the name of the provider that answered.
	Provider string
	// Attempts lists every attempt in order, the winner last.
	Attempts []Attempt
}

// ExhaustedError reports that every provider in the chain failed. It
// carries the full attempt log so callers can explain the failure.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s(%s)", a.Provider, a.Result)
	}
	return fmt.Sprintf("all %d providers failed: %s", len(e.Attempts), strings.Join(parts, ", "))
}

// =============================================================================
// ENGINE
// =============================================================================

// Engine walks an ordered provider chain, one attempt per provider.
type Engine struct {
	// onAttempt, when set, observes every finished attempt. Used for
	// metrics; must not block.
	onAttempt func(Attempt)
}

// New creates an Engine. onAttempt may be nil.
func New(onAttempt func(Attempt)) *Engine {
	return &Engine{onAttempt: onAttempt}
}

// Execute tries each provider in order until one answers.
//
// Rules:
//   - exactly one attempt per provider per run, never a same-provider
//     retry
//   - each attempt gets the provider's own timeout, bounded by the
//     caller's deadline
//   - caller cancellation aborts the run immediately with ctx.Err(),
//     not an ExhaustedError
//
// When every provider fails the returned error is an *ExhaustedError
// carrying the ordered attempt log.
func (e *Engine) Execute(ctx context.Context, prompt string, order []provider.Provider) (Result, error) {
	if len(order) == 0 {
		return Result{}, &ExhaustedError{}
	}

	attempts := make([]Attempt, 0, len(order))
	for _, prov := range order {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}

		desc := prov.Descriptor()
		attemptCtx, cancel := context.WithTimeout(ctx, desc.EffectiveTimeout())
		start := time.Now()
		answer, err := prov.Generate(attemptCtx, prompt)
		latency := time.Since(start)
		cancel()

		attempt := Attempt{
			Provider:  desc.Name,
			Latency:   latency,
			LatencyMs: latency.Milliseconds(),
			StartedAt: start,
		}

		if err == nil {
			attempt.Outcome = OutcomeSuccess
			attempt.Result = OutcomeSuccess.String()
			attempts = append(attempts, attempt)
			e.observe(attempt)
			log.Debug().
				Str("provider", desc.Name).
				Dur("latency", latency).
				Int("attempt", len(attempts)).
				Msg("cascade attempt succeeded")
			return Result{Answer: answer, Provider: desc.Name, Attempts: attempts}, nil
		}

		// Caller cancellation is not a provider failure.
		if ctx.Err() != nil && errors.Is(err, ctx.Err()) {
			return Result{}, ctx.Err()
		}

		if provider.IsTimeout(err) || errors.Is(err, context.DeadlineExceeded) {
			attempt.Outcome = OutcomeTimeout
		} else {
			attempt.Outcome = OutcomeError
		}
		attempt.Result = attempt.Outcome.String()
		attempt.Error = err.Error()
		attempts = append(attempts, attempt)
		e.observe(attempt)

		log.Warn().
			Str("provider", desc.Name).
			Str("outcome", attempt.Result).
			Dur("latency", latency).
			Err(err).
			Msg("cascade attempt failed")
	}

	return Result{}, &ExhaustedError{Attempts: attempts}
}

func (e *Engine) observe(a Attempt) {
	if e.onAttempt != nil {
		e.onAttempt(a)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator runs the full answer pipeline: classify, cache,
// retrieve, route, cascade.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/jeranaias/conductor/internal/cache"
	"github.com/jeranaias/conductor/internal/cascade"
	"github.com/jeranaias/conductor/internal/metrics"
	"github.com/jeranaias/conductor/internal/provider"
	"github.com/jeranaias/conductor/internal/rag"
	"github.com/jeranaias/conductor/internal/router"
	"github.com/jeranaias/conductor/internal/telemetry"
	"github.com/jeranaias/conductor/internal/util"
)

// =============================================================================
// ERRORS
// =============================================================================

// ErrInvalidQuery reports a query that is empty or unparseable.
var ErrInvalidQuery = errors.New("invalid query")

// MaxQueryRunes bounds accepted query length.
// SECURITY: unbounded queries would blow up embedding and prompt costs.
const MaxQueryRunes = 8000

// =============================================================================
// ORCHESTRATOR
// =============================================================================

// Result is a completed answer.
type Result struct {
	Answer string `json:"answer"`
	// Provider is the backend that produced the answer. For cache hits
	// it names the provider that answered originally.
	Provider string            `json:"provider"`
	Mode     router.Mode       `json:"mode"`
	Tier     string            `json:"tier"`
	CacheHit bool              `json:"cache_hit"`
	Attempts []cascade.Attempt `json:"attempts,omitempty"`
	// ContextChunks is the number of retrieved chunks in the prompt.
	ContextChunks int `json:"context_chunks"`
}

// Status is the operator-facing health view.
type Status struct {
	Providers provider.Snapshot `json:"providers"`
	Cache     cache.Stats       `json:"cache"`
	Time      time.Time         `json:"time"`
}

// Orchestrator wires the pipeline stages together. Embedder, store,
// cache, and recorder are all optional; a missing stage degrades the
// pipeline rather than breaking construction.
type Orchestrator struct {
	router   *router.Router
	pool     *provider.Pool
	engine   *cascade.Engine
	embedder rag.Embedder
	store    rag.Store
	cache    *cache.Cache
	recorder *telemetry.Recorder

	// group collapses concurrent identical queries into one cascade
	// run. Scope is deliberately narrow: only execute-and-cache runs
	// under the flight, never retrieval or classification.
	group singleflight.Group
}

// Params collects the orchestrator's dependencies.
type Params struct {
	Router   *router.Router
	Pool     *provider.Pool
	Engine   *cascade.Engine
	Embedder rag.Embedder
	Store    rag.Store
	Cache    *cache.Cache
	Recorder *telemetry.Recorder
}

// New creates an Orchestrator.
func New(p Params) *Orchestrator {
	return &Orchestrator{
		router:   p.Router,
		pool:     p.Pool,
		engine:   p.Engine,
		embedder: p.Embedder,
		store:    p.Store,
		cache:    p.Cache,
		recorder: p.Recorder,
	}
}

// Answer runs the pipeline for one query.
func (o *Orchestrator) Answer(ctx context.Context, q router.Query) (Result, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Result{}, fmt.Errorf("%w: empty text", ErrInvalidQuery)
	}
	if util.RuneLen(q.Text) > MaxQueryRunes {
		return Result{}, fmt.Errorf("%w: query exceeds %d characters", ErrInvalidQuery, MaxQueryRunes)
	}

	mode := router.ResolveMode(q)
	key := cache.Key(q.Text, string(mode))

	// Cache lookup happens before any routing work: a hit costs one
	// map read.
	if o.cache != nil {
		if entry, ok := o.cache.Get(key); ok {
			metrics.CacheHitsTotal.Inc()
			metrics.RequestsTotal.WithLabelValues("cache_hit").Inc()
			log.Debug().Str("mode", string(mode)).Msg("cache hit")
			return Result{
				Answer:   entry.Answer,
				Provider: entry.Provider,
				Mode:     mode,
				CacheHit: true,
			}, nil
		}
		metrics.CacheMissesTotal.Inc()
	}

	decision, err := o.router.Route(q, o.pool.Snapshot())
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}
	log.Debug().
		Str("query", util.TruncateRunes(q.Text, 80)).
		Str("reason", decision.Reason).
		Msg("routed query")

	prompt := q.Text
	contextChunks := 0
	if decision.UseRAG {
		assembly, err := o.retrieve(ctx, q, decision.Budget)
		if err != nil {
			metrics.RequestsTotal.WithLabelValues("error").Inc()
			return Result{}, err
		}
		contextChunks = len(assembly.Chunks)
		metrics.RetrievedChunks.Observe(float64(contextChunks))
		if contextChunks > 0 {
			prompt = buildPrompt(assembly, q.Text)
		}
	}

	res, err := o.execute(ctx, key, prompt, q.SessionID, decision)
	if err != nil {
		metrics.RequestsTotal.WithLabelValues("error").Inc()
		return Result{}, err
	}

	metrics.RequestsTotal.WithLabelValues("success").Inc()
	return Result{
		Answer:        res.Answer,
		Provider:      res.Provider,
		Mode:          decision.Mode,
		Tier:          decision.Budget.Complexity.String(),
		Attempts:      res.Attempts,
		ContextChunks: contextChunks,
	}, nil
}

// retrieve embeds the query and assembles context under the budget.
// A DocRef makes retrieval mandatory: infrastructure failures surface
// instead of silently answering without the document.
func (o *Orchestrator) retrieve(ctx context.Context, q router.Query, budget router.Budget) (rag.Assembly, error) {
	required := q.DocRef != ""

	if o.embedder == nil || o.store == nil {
		if required {
			if o.embedder == nil {
				return rag.Assembly{}, rag.ErrEmbeddingUnavailable
			}
			return rag.Assembly{}, rag.ErrStoreUnavailable
		}
		return rag.Assembly{}, nil
	}

	vector, err := o.embedder.Embed(ctx, q.Text)
	if err != nil {
		if required {
			return rag.Assembly{}, err
		}
		log.Warn().Err(err).Msg("optional retrieval skipped: embedding failed")
		return rag.Assembly{}, nil
	}

	// Over-fetch so dedup and oversized-chunk skips still fill the
	// budget.
	candidates, err := o.store.Search(ctx, vector, budget.ChunkCount*2, q.DocRef)
	if err != nil {
		if required {
			return rag.Assembly{}, err
		}
		log.Warn().Err(err).Msg("optional retrieval skipped: chunk search failed")
		return rag.Assembly{}, nil
	}

	return rag.Assemble(candidates, budget, required)
}

// execute runs the cascade under the single-flight group so concurrent
// identical queries share one run. Waiter cancellation abandons the
// wait without cancelling the shared execution.
func (o *Orchestrator) execute(ctx context.Context, key, prompt, sessionID string, decision router.Decision) (cascade.Result, error) {
	ch := o.group.DoChan(key, func() (any, error) {
		order := make([]provider.Provider, 0, len(decision.Order))
		for _, name := range decision.Order {
			if prov, ok := o.pool.Get(name); ok {
				order = append(order, prov)
			}
		}

		// The leader's ctx drives the run so its deadline reaches every
		// in-flight provider call. A waiting duplicate abandoning its
		// select never cancels the flight: only the leader's ctx flows in.
		res, err := o.engine.Execute(ctx, prompt, order)
		o.record(sessionID, res, err)
		if err != nil {
			return nil, err
		}
		// Only successful answers are cached, inside the flight so a
		// waiter can never slip in before the write.
		if o.cache != nil {
			o.cache.Put(key, res.Answer, res.Provider)
		}
		return res, nil
	})

	select {
	case <-ctx.Done():
		return cascade.Result{}, ctx.Err()
	case r := <-ch:
		if r.Err != nil {
			return cascade.Result{}, r.Err
		}
		return r.Val.(cascade.Result), nil
	}
}

// record persists the attempt log; telemetry failures only warn.
func (o *Orchestrator) record(sessionID string, res cascade.Result, execErr error) {
	if o.recorder == nil {
		return
	}
	attempts := res.Attempts
	var ex *cascade.ExhaustedError
	if errors.As(execErr, &ex) {
		attempts = ex.Attempts
	}
	if len(attempts) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := o.recorder.RecordRun(ctx, sessionID, attempts); err != nil {
		log.Warn().Err(err).Msg("failed to record telemetry")
	}
}

// Status returns the health snapshot and cache stats.
func (o *Orchestrator) Status() Status {
	s := Status{
		Providers: o.pool.Snapshot(),
		Time:      time.Now(),
	}
	if o.cache != nil {
		s.Cache = o.cache.Stats()
	}
	return s
}

// buildPrompt prefixes the query with its retrieved context.
func buildPrompt(a rag.Assembly, query string) string {
	var sb strings.Builder
	sb.WriteString("Answer using the context below. If the context does not contain the answer, say so.\n\nContext:\n")
	sb.WriteString(a.Render())
	sb.WriteString("\n\nQuestion: ")
	sb.WriteString(query)
	return sb.String()
}

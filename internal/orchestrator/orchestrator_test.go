// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package orchestrator

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jeranaias/conductor/internal/cache"
	"github.com/jeranaias/conductor/internal/cascade"
	"github.com/jeranaias/conductor/internal/provider"
	"github.com/jeranaias/conductor/internal/rag"
	"github.com/jeranaias/conductor/internal/router"
)

// scriptedProvider drives pipeline tests.
type scriptedProvider struct {
	name     string
	caps     []provider.Capability
	generate func(ctx context.Context, prompt string) (string, error)
	calls    atomic.Int64
}

func (s *scriptedProvider) Descriptor() provider.Descriptor {
	return provider.Descriptor{
		Name:         s.name,
		Kind:         provider.KindLocal,
		Priority:     10,
		Capabilities: s.caps,
		Timeout:      time.Second,
	}
}

func (s *scriptedProvider) Generate(ctx context.Context, prompt string) (string, error) {
	s.calls.Add(1)
	return s.generate(ctx, prompt)
}

func (s *scriptedProvider) HealthCheck(ctx context.Context) error { return nil }

type stubEmbedder struct {
	vec []float32
	err error
}

func (s *stubEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	return s.vec, s.err
}

type stubStore struct {
	chunks    []rag.ScoredChunk
	err       error
	lastLimit int
	lastDoc   string
}

func (s *stubStore) Search(ctx context.Context, vector []float32, limit int, documentID string) ([]rag.ScoredChunk, error) {
	s.lastLimit = limit
	s.lastDoc = documentID
	return s.chunks, s.err
}

func testRouter() *router.Router {
	return router.New(router.NewClassifier(router.ClassifierParams{
		Keywords:   []string{"compara", "explica"},
		NormalMin:  50,
		ComplexMin: 100,
		Simple:     router.Budget{ChunkCount: 7, CharLimit: 8000},
		Normal:     router.Budget{ChunkCount: 10, CharLimit: 12000},
		Complex:    router.Budget{ChunkCount: 15, CharLimit: 20000},
	}))
}

func buildOrchestrator(t *testing.T, p Params, providers ...provider.Provider) *Orchestrator {
	t.Helper()
	pool, err := provider.NewPool(providers, time.Hour, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	p.Router = testRouter()
	p.Pool = pool
	p.Engine = cascade.New(nil)
	return New(p)
}

func TestAnswerRejectsInvalidQuery(t *testing.T) {
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) { return "a", nil }}
	o := buildOrchestrator(t, Params{}, prov)

	tests := []struct {
		name  string
		query router.Query
	}{
		{"empty_text", router.Query{Text: ""}},
		{"whitespace_only", router.Query{Text: "   \n\t"}},
		{"oversized", router.Query{Text: strings.Repeat("a", MaxQueryRunes+1)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := o.Answer(context.Background(), tt.query)
			if !errors.Is(err, ErrInvalidQuery) {
				t.Errorf("expected ErrInvalidQuery, got %v", err)
			}
		})
	}
}

func TestAnswerCachesSuccess(t *testing.T) {
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) { return "the answer", nil }}
	o := buildOrchestrator(t, Params{Cache: cache.New(time.Hour, 10)}, prov)

	first, err := o.Answer(context.Background(), router.Query{Text: "¿Qué es X?"})
	if err != nil {
		t.Fatal(err)
	}
	if first.CacheHit {
		t.Error("first answer must not be a cache hit")
	}

	// Same query modulo case and whitespace shares the key.
	second, err := o.Answer(context.Background(), router.Query{Text: "  ¿qué  es x? "})
	if err != nil {
		t.Fatal(err)
	}
	if !second.CacheHit {
		t.Error("second answer should hit the cache")
	}
	if second.Answer != "the answer" || second.Provider != "p" {
		t.Errorf("cached result = %+v", second)
	}
	if prov.calls.Load() != 1 {
		t.Errorf("provider called %d times, want 1", prov.calls.Load())
	}
}

func TestAnswerFailureIsNotCached(t *testing.T) {
	var fail atomic.Bool
	fail.Store(true)
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) {
			if fail.Load() {
				return "", errors.New("boom")
			}
			return "recovered", nil
		}}
	o := buildOrchestrator(t, Params{Cache: cache.New(time.Hour, 10)}, prov)

	if _, err := o.Answer(context.Background(), router.Query{Text: "hola"}); err == nil {
		t.Fatal("expected cascade failure")
	}

	fail.Store(false)
	res, err := o.Answer(context.Background(), router.Query{Text: "hola"})
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("a failed run must not have been cached")
	}
	if prov.calls.Load() != 2 {
		t.Errorf("provider called %d times, want 2", prov.calls.Load())
	}
}

func TestAnswerSingleFlight(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{}, 1)
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) {
			select {
			case started <- struct{}{}:
			default:
			}
			<-release
			return "shared answer", nil
		}}
	o := buildOrchestrator(t, Params{Cache: cache.New(time.Hour, 10)}, prov)

	const waiters = 8
	var wg sync.WaitGroup
	results := make([]Result, waiters)
	errs := make([]error, waiters)
	for i := 0; i < waiters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i], errs[i] = o.Answer(context.Background(), router.Query{Text: "misma consulta"})
		}(i)
	}

	<-started
	// Give the rest of the goroutines time to join the flight.
	time.Sleep(50 * time.Millisecond)
	close(release)
	wg.Wait()

	for i := 0; i < waiters; i++ {
		if errs[i] != nil {
			t.Fatalf("waiter %d: %v", i, errs[i])
		}
		if results[i].Answer != "shared answer" {
			t.Errorf("waiter %d got %+v", i, results[i])
		}
	}
	if got := prov.calls.Load(); got != 1 {
		t.Errorf("provider executed %d times for identical concurrent queries, want 1", got)
	}
}

func TestAnswerCallerDeadlineStopsCascade(t *testing.T) {
	var sawCancel atomic.Bool
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) {
			select {
			case <-ctx.Done():
				sawCancel.Store(true)
				return "", ctx.Err()
			case <-time.After(300 * time.Millisecond):
				return "late answer", nil
			}
		}}
	o := buildOrchestrator(t, Params{Cache: cache.New(time.Hour, 10)}, prov)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := o.Answer(ctx, router.Query{Text: "consulta lenta"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected DeadlineExceeded, got %v", err)
	}

	// The deadline must reach the provider call itself, not just the
	// waiter: the in-flight generate sees cancellation and stops.
	deadline := time.Now().Add(time.Second)
	for !sawCancel.Load() {
		if time.Now().After(deadline) {
			t.Fatal("provider call never observed the caller's deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}

	// Nothing from the abandoned run may have been cached.
	res, err := o.Answer(context.Background(), router.Query{Text: "consulta lenta"})
	if err != nil {
		t.Fatal(err)
	}
	if res.CacheHit {
		t.Error("cancelled run must not populate the cache")
	}
	if res.Answer != "late answer" {
		t.Errorf("answer = %q, want fresh provider answer", res.Answer)
	}
}

func TestAnswerDocRefRequiresRetrieval(t *testing.T) {
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat, provider.CapLongContext},
		generate: func(ctx context.Context, prompt string) (string, error) { return "a", nil }}

	// No embedder or store configured: a DocRef query must fail loudly.
	o := buildOrchestrator(t, Params{}, prov)
	_, err := o.Answer(context.Background(), router.Query{Text: "resume el documento", DocRef: "doc-1"})
	if !errors.Is(err, rag.ErrEmbeddingUnavailable) {
		t.Errorf("expected ErrEmbeddingUnavailable, got %v", err)
	}

	// Embedder works but search fails: the store error surfaces.
	o = buildOrchestrator(t, Params{
		Embedder: &stubEmbedder{vec: []float32{1}},
		Store:    &stubStore{err: rag.ErrStoreUnavailable},
	}, prov)
	_, err = o.Answer(context.Background(), router.Query{Text: "resume el documento", DocRef: "doc-1"})
	if !errors.Is(err, rag.ErrStoreUnavailable) {
		t.Errorf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestAnswerBuildsPromptFromContext(t *testing.T) {
	var sawPrompt string
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat, provider.CapLongContext},
		generate: func(ctx context.Context, prompt string) (string, error) {
			sawPrompt = prompt
			return "ok", nil
		}}
	store := &stubStore{chunks: []rag.ScoredChunk{
		{Chunk: rag.Chunk{DocumentID: "doc-1", Ordinal: 3, Text: "la cláusula cuarta establece"}, Score: 0.9},
	}}
	o := buildOrchestrator(t, Params{
		Embedder: &stubEmbedder{vec: []float32{1, 2}},
		Store:    store,
	}, prov)

	res, err := o.Answer(context.Background(), router.Query{Text: "¿qué dice la cláusula?", DocRef: "doc-1"})
	if err != nil {
		t.Fatal(err)
	}
	if res.ContextChunks != 1 {
		t.Errorf("context chunks = %d, want 1", res.ContextChunks)
	}
	if !strings.Contains(sawPrompt, "la cláusula cuarta establece") {
		t.Errorf("prompt missing retrieved context: %q", sawPrompt)
	}
	if !strings.Contains(sawPrompt, "¿qué dice la cláusula?") {
		t.Errorf("prompt missing question: %q", sawPrompt)
	}
	if store.lastDoc != "doc-1" {
		t.Errorf("search document filter = %q, want doc-1", store.lastDoc)
	}
	// Simple tier budget is 7 chunks; the store is asked for twice that.
	if store.lastLimit != 14 {
		t.Errorf("search limit = %d, want 14", store.lastLimit)
	}
}

func TestStatusReportsProvidersAndCache(t *testing.T) {
	prov := &scriptedProvider{name: "p", caps: []provider.Capability{provider.CapChat},
		generate: func(ctx context.Context, prompt string) (string, error) { return "a", nil }}
	c := cache.New(time.Hour, 10)
	o := buildOrchestrator(t, Params{Cache: c}, prov)

	if _, err := o.Answer(context.Background(), router.Query{Text: "hola"}); err != nil {
		t.Fatal(err)
	}

	s := o.Status()
	if len(s.Providers) != 1 || s.Providers[0].Descriptor.Name != "p" {
		t.Errorf("providers = %+v", s.Providers)
	}
	if s.Cache.Entries != 1 {
		t.Errorf("cache entries = %d, want 1", s.Cache.Entries)
	}
	if s.Time.IsZero() {
		t.Error("status must carry a timestamp")
	}
}

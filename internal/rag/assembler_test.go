// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"errors"
	"strings"
	"testing"

	"github.com/jeranaias/conductor/internal/router"
)

func chunk(doc string, ordinal int, text string, score float64) ScoredChunk {
	return ScoredChunk{
		Chunk: Chunk{ID: doc + "-" + strings.Repeat("x", ordinal+1), DocumentID: doc, Ordinal: ordinal, Text: text},
		Score: score,
	}
}

func TestAssembleOrdersByScoreThenOrdinal(t *testing.T) {
	candidates := []ScoredChunk{
		chunk("d", 5, "five", 0.5),
		chunk("d", 2, "two", 0.9),
		chunk("d", 7, "seven", 0.9),
		chunk("d", 1, "one", 0.7),
	}

	got, err := Assemble(candidates, router.Budget{ChunkCount: 10, CharLimit: 1000}, false)
	if err != nil {
		t.Fatal(err)
	}
	var ordinals []int
	for _, c := range got.Chunks {
		ordinals = append(ordinals, c.Ordinal)
	}
	// 0.9 pair first with the lower ordinal leading, then 0.7, then 0.5.
	want := []int{2, 7, 1, 5}
	for i := range want {
		if ordinals[i] != want[i] {
			t.Fatalf("ordinals = %v, want %v", ordinals, want)
		}
	}
}

func TestAssembleDeduplicates(t *testing.T) {
	candidates := []ScoredChunk{
		chunk("d", 1, "first copy", 0.9),
		chunk("d", 1, "second copy", 0.8),
		chunk("e", 1, "other doc same ordinal", 0.7),
	}

	got, err := Assemble(candidates, router.Budget{ChunkCount: 10, CharLimit: 1000}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2 (duplicate dropped, cross-doc kept)", len(got.Chunks))
	}
	if got.Chunks[0].Text != "first copy" {
		t.Errorf("higher-scored duplicate must win, got %q", got.Chunks[0].Text)
	}
}

func TestAssembleStopsAtChunkCount(t *testing.T) {
	var candidates []ScoredChunk
	for i := 0; i < 10; i++ {
		candidates = append(candidates, chunk("d", i, "text", float64(10-i)))
	}

	got, err := Assemble(candidates, router.Budget{ChunkCount: 3, CharLimit: 1000}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Chunks) != 3 {
		t.Errorf("chunks = %d, want 3", len(got.Chunks))
	}
	if !got.Truncated {
		t.Error("hitting the chunk count must mark the assembly truncated")
	}
}

func TestAssembleSkipsOversizedAndContinues(t *testing.T) {
	candidates := []ScoredChunk{
		chunk("d", 1, strings.Repeat("a", 90), 0.9),
		chunk("d", 2, strings.Repeat("b", 50), 0.8), // would overflow, skipped
		chunk("d", 3, strings.Repeat("c", 10), 0.7), // still fits
	}

	got, err := Assemble(candidates, router.Budget{ChunkCount: 10, CharLimit: 100}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Chunks) != 2 {
		t.Fatalf("chunks = %d, want 2", len(got.Chunks))
	}
	if got.Chunks[1].Ordinal != 3 {
		t.Errorf("assembly must continue past an oversized chunk, got ordinal %d", got.Chunks[1].Ordinal)
	}
	if got.Chars != 100 {
		t.Errorf("chars = %d, want 100", got.Chars)
	}
	if !got.Truncated {
		t.Error("skipping a chunk must mark the assembly truncated")
	}
}

func TestAssembleCountsRunes(t *testing.T) {
	// 60 accented runes are 120 bytes; with a 100-char limit the chunk
	// must still fit because limits are measured in runes.
	candidates := []ScoredChunk{chunk("d", 1, strings.Repeat("á", 60), 0.9)}

	got, err := Assemble(candidates, router.Budget{ChunkCount: 5, CharLimit: 100}, false)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Chunks) != 1 {
		t.Fatal("rune-measured chunk should fit")
	}
	if got.Chars != 60 {
		t.Errorf("chars = %d, want 60", got.Chars)
	}
}

func TestAssembleRequiredButEmpty(t *testing.T) {
	_, err := Assemble(nil, router.Budget{ChunkCount: 5, CharLimit: 100}, true)
	if !errors.Is(err, ErrInsufficientContext) {
		t.Errorf("expected ErrInsufficientContext, got %v", err)
	}

	// Nothing fits: same failure.
	candidates := []ScoredChunk{chunk("d", 1, strings.Repeat("a", 500), 0.9)}
	_, err = Assemble(candidates, router.Budget{ChunkCount: 5, CharLimit: 100}, true)
	if !errors.Is(err, ErrInsufficientContext) {
		t.Errorf("expected ErrInsufficientContext when nothing fits, got %v", err)
	}
}

func TestAssembleOptionalEmptyIsFine(t *testing.T) {
	got, err := Assemble(nil, router.Budget{ChunkCount: 5, CharLimit: 100}, false)
	if err != nil {
		t.Fatalf("optional retrieval with no chunks must not fail: %v", err)
	}
	if len(got.Chunks) != 0 || got.Render() != "" {
		t.Errorf("expected empty assembly, got %+v", got)
	}
}

func TestRenderSeparatesChunks(t *testing.T) {
	a := Assembly{Chunks: []Chunk{
		{DocumentID: "d", Ordinal: 1, Text: "alpha"},
		{DocumentID: "d", Ordinal: 2, Text: "beta"},
	}}
	r := a.Render()
	if !strings.Contains(r, "alpha") || !strings.Contains(r, "beta") {
		t.Errorf("render missing chunk text: %q", r)
	}
	if !strings.Contains(r, "\n---\n") {
		t.Errorf("render missing separator: %q", r)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/jeranaias/conductor/internal/router"
	"github.com/jeranaias/conductor/internal/util"
)

// =============================================================================
// CONTEXT ASSEMBLY
// =============================================================================

// ErrInsufficientContext reports that retrieval was required but no
// chunk fit within the budget.
var ErrInsufficientContext = errors.New("no usable context within budget")

// Assembly is the context block built for a query.
type Assembly struct {
	Chunks []Chunk
	// Chars is the total character count of the included chunk text.
	Chars int
	// Truncated reports that candidates were dropped for budget reasons.
	Truncated bool
}

// Render formats the assembly as a prompt preamble.
func (a Assembly) Render() string {
	if len(a.Chunks) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, ch := range a.Chunks {
		if i > 0 {
			sb.WriteString("\n---\n")
		}
		fmt.Fprintf(&sb, "[%s #%d] %s", ch.DocumentID, ch.Ordinal, ch.Text)
	}
	return sb.String()
}

// Assemble selects chunks under the budget.
//
// Candidates are taken in descending score order, ties broken by lowest
// ordinal. Duplicate (document, ordinal) pairs are dropped. A chunk
// that would overflow the char limit is skipped, not truncated, and
// assembly continues with the remaining candidates. Assembly stops once
// the budget's chunk count is reached.
//
// required marks retrieval as mandatory for the request: with it set,
// an empty result is an ErrInsufficientContext instead of an empty
// assembly.
func Assemble(candidates []ScoredChunk, budget router.Budget, required bool) (Assembly, error) {
	sorted := make([]ScoredChunk, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		if sorted[i].Score != sorted[j].Score {
			return sorted[i].Score > sorted[j].Score
		}
		return sorted[i].Ordinal < sorted[j].Ordinal
	})

	var out Assembly
	seen := make(map[string]bool)
	for _, sc := range sorted {
		if len(out.Chunks) >= budget.ChunkCount {
			out.Truncated = true
			break
		}
		key := fmt.Sprintf("%s\x00%d", sc.DocumentID, sc.Ordinal)
		if seen[key] {
			continue
		}
		seen[key] = true

		n := util.RuneLen(sc.Text)
		if out.Chars+n > budget.CharLimit {
			// Skip and keep looking: a smaller lower-scored chunk may
			// still fit.
			out.Truncated = true
			continue
		}
		out.Chunks = append(out.Chunks, sc.Chunk)
		out.Chars += n
	}

	if required && len(out.Chunks) == 0 {
		return Assembly{}, ErrInsufficientContext
	}
	return out, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"strings"
	"testing"
)

func testClassifier() *Classifier {
	return NewClassifier(ClassifierParams{
		Keywords: []string{
			"compara", "compare", "analiza", "analyze", "explica", "explain",
			"diferencia", "difference", "detalla", "elabora", "resume",
			"ventajas", "desventajas", "evalúa", "evaluate",
		},
		NormalMin:  50,
		ComplexMin: 100,
		Simple:     Budget{ChunkCount: 7, CharLimit: 8000},
		Normal:     Budget{ChunkCount: 10, CharLimit: 12000},
		Complex:    Budget{ChunkCount: 15, CharLimit: 20000},
	})
}

func TestClassifyTiers(t *testing.T) {
	c := testClassifier()

	tests := []struct {
		name       string
		query      string
		complexity Complexity
		chunks     int
		charLimit  int
	}{
		{"short_lookup_is_simple", "¿Qué es X?", ComplexitySimple, 7, 8000},
		{"short_english_lookup", "What is DNS?", ComplexitySimple, 7, 8000},
		{"exactly_fifty_runes_is_simple", strings.Repeat("a", 50), ComplexitySimple, 7, 8000},
		{"fifty_one_runes_is_normal", strings.Repeat("a", 51), ComplexityNormal, 10, 12000},
		{"hundred_runes_is_normal", strings.Repeat("a", 100), ComplexityNormal, 10, 12000},
		{"over_hundred_runes_is_complex", strings.Repeat("a", 101), ComplexityComplex, 15, 20000},
		{"keyword_forces_complex_when_short", "compara Redis y Memcached", ComplexityComplex, 15, 20000},
		{"keyword_case_insensitive", "EXPLICA este fragmento", ComplexityComplex, 15, 20000},
		{"accented_keyword", "evalúa el rendimiento", ComplexityComplex, 15, 20000},
		{"english_keyword", "analyze this output", ComplexityComplex, 15, 20000},
		{
			"keyword_plus_long_text_is_complex",
			"compara detalladamente las arquitecturas de microservicios y monolitos considerando latencia, costos operativos, despliegue y la complejidad del equipo de desarrollo",
			ComplexityComplex, 15, 20000,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := c.Classify(tt.query)
			if got.Complexity != tt.complexity {
				t.Errorf("complexity = %s, want %s", got.Complexity, tt.complexity)
			}
			if got.ChunkCount != tt.chunks {
				t.Errorf("chunk count = %d, want %d", got.ChunkCount, tt.chunks)
			}
			if got.CharLimit != tt.charLimit {
				t.Errorf("char limit = %d, want %d", got.CharLimit, tt.charLimit)
			}
		})
	}
}

func TestClassifyCountsRunesNotBytes(t *testing.T) {
	c := testClassifier()
	// 50 accented runes are 100 bytes; must still classify as simple.
	q := strings.Repeat("á", 50)
	if got := c.Classify(q); got.Complexity != ComplexitySimple {
		t.Errorf("complexity = %s, want simple (rune count must be used)", got.Complexity)
	}
}

func TestResolveMode(t *testing.T) {
	tests := []struct {
		name     string
		query    Query
		expected Mode
	}{
		{"plain_question_is_chat", Query{Text: "¿Qué es la fotosíntesis?"}, ModeChat},
		{"docref_selects_doc", Query{Text: "resume el contrato", DocRef: "doc-123"}, ModeDoc},
		{"code_fence_selects_code", Query{Text: "fix this:\n```\npanic\n```"}, ModeCode},
		{"func_keyword_selects_code", Query{Text: "why does func main() hang"}, ModeCode},
		{"override_beats_heuristics", Query{Text: "func main()", ModeOverride: ModeChat}, ModeChat},
		{"override_doc_without_docref", Query{Text: "hola", ModeOverride: ModeDoc}, ModeDoc},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ResolveMode(tt.query); got != tt.expected {
				t.Errorf("ResolveMode() = %s, want %s", got, tt.expected)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, valid := range []string{"", "chat", "code", "doc"} {
		if _, err := ParseMode(valid); err != nil {
			t.Errorf("ParseMode(%q) unexpected error: %v", valid, err)
		}
	}
	if _, err := ParseMode("vision"); err == nil {
		t.Error("ParseMode(vision) should fail")
	}
}

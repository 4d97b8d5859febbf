// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// ROUTER: Complexity classification drives retrieval budgets
package router

import (
	"strings"

	"github.com/jeranaias/conductor/internal/util"
)

// ============================================================================
// CLASSIFIER
// ============================================================================

// Classifier assigns a complexity tier and retrieval budget to a query.
//
// Classification rules (in order of priority):
//  1. Complex: any trigger keyword present, or length > complexMin runes
//  2. Normal: length > normalMin runes
//  3. Simple: everything else
//
// Length is measured in runes, not bytes: accented Spanish text would
// otherwise inflate byte counts and skew tiers.
type Classifier struct {
	keywords   []string
	normalMin  int
	complexMin int
	budgets    [3]Budget
}

// ClassifierParams configures a Classifier.
type ClassifierParams struct {
	// Keywords force the complex tier when present in the query,
	// matched case-insensitively as substrings.
	Keywords []string
	// NormalMin is the exclusive rune-count bound for the normal tier.
	NormalMin int
	// ComplexMin is the exclusive rune-count bound for the complex tier.
	ComplexMin int
	Simple     Budget
	Normal     Budget
	Complex    Budget
}

// NewClassifier creates a Classifier. Keywords are lowercased once at
// construction so per-query matching never allocates.
func NewClassifier(p ClassifierParams) *Classifier {
	keywords := make([]string, len(p.Keywords))
	for i, k := range p.Keywords {
		keywords[i] = strings.ToLower(k)
	}

	p.Simple.Complexity = ComplexitySimple
	p.Normal.Complexity = ComplexityNormal
	p.Complex.Complexity = ComplexityComplex

	return &Classifier{
		keywords:   keywords,
		normalMin:  p.NormalMin,
		complexMin: p.ComplexMin,
		budgets:    [3]Budget{p.Simple, p.Normal, p.Complex},
	}
}

// Classify returns the retrieval budget for a query.
func (c *Classifier) Classify(query string) Budget {
	q := strings.ToLower(query)

	// Keywords win regardless of length: "compara A y B" is short but
	// needs broad context.
	for _, kw := range c.keywords {
		if strings.Contains(q, kw) {
			return c.budgets[ComplexityComplex]
		}
	}

	switch n := util.RuneLen(strings.TrimSpace(query)); {
	case n > c.complexMin:
		return c.budgets[ComplexityComplex]
	case n > c.normalMin:
		return c.budgets[ComplexityNormal]
	default:
		return c.budgets[ComplexitySimple]
	}
}

// ============================================================================
// MODE RESOLUTION
// ============================================================================

// codeIndicators are cheap signals that a query is about writing or
// fixing code.
var codeIndicators = []string{
	"```",
	"func ",
	"def ",
	"class ",
	"import ",
	"function",
	"compile",
	"refactor",
	"stack trace",
	"exception",
	"implementa",
	"escribe código",
	"write code",
}

// ResolveMode determines the interaction mode for a query. An explicit
// override always wins; otherwise a DocRef selects doc mode and code
// indicators select code mode.
func ResolveMode(q Query) Mode {
	if q.ModeOverride != "" {
		return q.ModeOverride
	}
	if q.DocRef != "" {
		return ModeDoc
	}
	lower := strings.ToLower(q.Text)
	for _, ind := range codeIndicators {
		if strings.Contains(lower, ind) {
			return ModeCode
		}
	}
	return ModeChat
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"fmt"

	"github.com/jeranaias/conductor/internal/provider"
)

// ============================================================================
// CORE TYPES
// ============================================================================

// Mode is the resolved interaction mode of a query.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeCode Mode = "code"
	ModeDoc  Mode = "doc"
)

// ParseMode converts a request string to a Mode. Empty means "resolve
// automatically".
func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case "", ModeChat, ModeCode, ModeDoc:
		return Mode(s), nil
	default:
		return "", fmt.Errorf("unknown mode %q", s)
	}
}

// Capability returns the provider capability the mode requires.
func (m Mode) Capability() provider.Capability {
	switch m {
	case ModeCode:
		return provider.CapCode
	case ModeDoc:
		return provider.CapLongContext
	default:
		return provider.CapChat
	}
}

// Complexity is the classified complexity tier of a query.
type Complexity int

const (
	ComplexitySimple Complexity = iota
	ComplexityNormal
	ComplexityComplex
)

func (c Complexity) String() string {
	switch c {
	case ComplexitySimple:
		return "simple"
	case ComplexityNormal:
		return "normal"
	case ComplexityComplex:
		return "complex"
	default:
		return "unknown"
	}
}

// Budget is the retrieval budget attached to a complexity tier.
type Budget struct {
	Complexity Complexity `json:"complexity"`
	// ChunkCount is the maximum number of context chunks.
	ChunkCount int `json:"chunk_count"`
	// CharLimit is the maximum total characters of assembled context.
	CharLimit int `json:"char_limit"`
}

// Query is a single user request after transport-level decoding.
type Query struct {
	// Text is the raw query text. Must be non-empty after trimming.
	Text string
	// DocRef optionally names a document to answer against. Presence
	// of a DocRef makes retrieval mandatory for the request.
	DocRef string
	// ModeOverride forces a mode instead of resolving one.
	ModeOverride Mode
	// SessionID groups requests for telemetry. Optional.
	SessionID string
}

// Decision is the routing plan for one query.
type Decision struct {
	// Mode is the resolved interaction mode.
	Mode Mode `json:"mode"`
	// Budget is the retrieval budget from classification.
	Budget Budget `json:"budget"`
	// UseRAG reports whether context retrieval runs for this query.
	UseRAG bool `json:"use_rag"`
	// Order is the full provider cascade: primary first, then
	// fallbacks in decreasing preference.
	Order []string `json:"order"`
	// Reason is a short human-readable explanation for logs.
	Reason string `json:"reason"`
}

// Primary returns the first-choice provider name.
func (d Decision) Primary() string {
	if len(d.Order) == 0 {
		return ""
	}
	return d.Order[0]
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package router

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/jeranaias/conductor/internal/provider"
)

// ============================================================================
// ROUTER
// ============================================================================

// ErrNoProvider is returned when no configured provider advertises the
// capability a query requires.
var ErrNoProvider = errors.New("no provider available for required capability")

// Router turns a query plus a health snapshot into a routing decision.
// The classifier is swappable at runtime so a config reload can change
// keywords and thresholds without restarting; in-flight requests keep
// the classifier they loaded.
type Router struct {
	classifier atomic.Pointer[Classifier]
}

// New creates a Router.
func New(classifier *Classifier) *Router {
	r := &Router{}
	r.classifier.Store(classifier)
	return r
}

// Classifier exposes the router's classifier for callers that need a
// budget without a full routing decision.
func (r *Router) Classifier() *Classifier {
	return r.classifier.Load()
}

// SetClassifier replaces the classifier. Used by config hot reload.
func (r *Router) SetClassifier(c *Classifier) {
	r.classifier.Store(c)
}

// Route builds the routing decision for q against the given snapshot.
//
// Provider ordering:
//  1. Providers with the mode's capability, by descending priority,
//     available ones before unavailable ones.
//  2. Chat-capable providers not already listed, as a degraded tail.
//
// Unavailable providers stay in the cascade rather than being dropped:
// the snapshot may be stale, and a wasted attempt is cheaper than a
// refused request. The order only stops preferring them.
func (r *Router) Route(q Query, snap provider.Snapshot) (Decision, error) {
	if strings.TrimSpace(q.Text) == "" {
		return Decision{}, errors.New("empty query")
	}

	mode := ResolveMode(q)
	budget := r.classifier.Load().Classify(q.Text)
	cap := mode.Capability()

	capable := snap.WithCapability(cap)
	if len(capable) == 0 {
		return Decision{}, fmt.Errorf("%w: %s", ErrNoProvider, cap)
	}

	var order []string
	listed := make(map[string]bool)
	for _, st := range capable {
		if st.Available {
			order = append(order, st.Descriptor.Name)
			listed[st.Descriptor.Name] = true
		}
	}
	for _, st := range capable {
		if !listed[st.Descriptor.Name] {
			order = append(order, st.Descriptor.Name)
			listed[st.Descriptor.Name] = true
		}
	}

	// Degraded tail: a chat-capable answer beats no answer when every
	// specialised provider is gone.
	if cap != provider.CapChat {
		for _, st := range snap.WithCapability(provider.CapChat) {
			if !listed[st.Descriptor.Name] {
				order = append(order, st.Descriptor.Name)
				listed[st.Descriptor.Name] = true
			}
		}
	}

	return Decision{
		Mode:   mode,
		Budget: budget,
		UseRAG: q.DocRef != "" || mode == ModeDoc,
		Order:  order,
		Reason: fmt.Sprintf("mode=%s tier=%s capability=%s", mode, budget.Complexity, cap),
	}, nil
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package metrics exposes conductor's Prometheus instrumentation.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestsTotal counts answered requests by final outcome.
	RequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductor",
		Name:      "requests_total",
		Help:      "Answer requests by outcome (success, cache_hit, error).",
	}, []string{"outcome"})

	// CascadeAttemptsTotal counts provider attempts by outcome.
	CascadeAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "conductor",
		Name:      "cascade_attempts_total",
		Help:      "Cascade attempts by provider and outcome.",
	}, []string{"provider", "outcome"})

	// ProviderLatency observes per-attempt provider latency.
	ProviderLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "conductor",
		Name:      "provider_latency_seconds",
		Help:      "Provider attempt latency.",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 12),
	}, []string{"provider"})

	// CacheHitsTotal and CacheMissesTotal track response cache traffic.
	CacheHitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conductor",
		Name:      "cache_hits_total",
		Help:      "Response cache hits.",
	})
	CacheMissesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "conductor",
		Name:      "cache_misses_total",
		Help:      "Response cache misses.",
	})

	// RetrievedChunks observes how many chunks each assembly kept.
	RetrievedChunks = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "conductor",
		Name:      "retrieved_chunks",
		Help:      "Chunks included per assembled context.",
		Buckets:   prometheus.LinearBuckets(0, 2, 11),
	})
)

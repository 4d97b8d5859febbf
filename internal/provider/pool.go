// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"fmt"
	"sort"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
)

// =============================================================================
// HEALTH SNAPSHOT
// =============================================================================

// State is one provider's health as of the last probe.
type State struct {
	Descriptor  Descriptor `json:"descriptor"`
	Available   bool       `json:"available"`
	LastChecked time.Time  `json:"last_checked"`
	LastError   string     `json:"last_error,omitempty"`
}

// Snapshot is an immutable view of all provider states. Readers never
// block probes: the pool publishes a fresh snapshot after every probe
// round and readers work from whatever version they grabbed.
type Snapshot []State

// WithCapability returns the states advertising cap, ordered by
// descending priority. Name breaks priority ties for determinism.
func (s Snapshot) WithCapability(cap Capability) []State {
	var out []State
	for _, st := range s {
		if st.Descriptor.Has(cap) {
			out = append(out, st)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Descriptor.Priority != out[j].Descriptor.Priority {
			return out[i].Descriptor.Priority > out[j].Descriptor.Priority
		}
		return out[i].Descriptor.Name < out[j].Descriptor.Name
	})
	return out
}

// Lookup returns the state for the named provider.
func (s Snapshot) Lookup(name string) (State, bool) {
	for _, st := range s {
		if st.Descriptor.Name == name {
			return st, true
		}
	}
	return State{}, false
}

// =============================================================================
// POOL
// =============================================================================

// Default probe intervals. Cloud health is a cheap HTTP check, so it
// is probed often; local backends can sit loading a model for a minute
// and probing them faster just re-reports the same startup state.
const (
	DefaultLocalProbeInterval = 60 * time.Second
	DefaultCloudProbeInterval = 15 * time.Second
	probeTimeout              = 5 * time.Second
)

// Pool owns the configured providers and probes their health in the
// background.
type Pool struct {
	providers []Provider
	byName    map[string]Provider

	localInterval time.Duration
	cloudInterval time.Duration

	// snap holds the current Snapshot. Swapped whole, never mutated.
	snap atomic.Pointer[Snapshot]

	lastProbe map[string]time.Time
}

// NewPool creates a pool over the given providers. Zero intervals select
// the defaults.
func NewPool(providers []Provider, localInterval, cloudInterval time.Duration) (*Pool, error) {
	if len(providers) == 0 {
		return nil, fmt.Errorf("pool requires at least one provider")
	}
	if localInterval <= 0 {
		localInterval = DefaultLocalProbeInterval
	}
	if cloudInterval <= 0 {
		cloudInterval = DefaultCloudProbeInterval
	}

	p := &Pool{
		providers:     providers,
		byName:        make(map[string]Provider, len(providers)),
		localInterval: localInterval,
		cloudInterval: cloudInterval,
		lastProbe:     make(map[string]time.Time, len(providers)),
	}
	for _, prov := range providers {
		name := prov.Descriptor().Name
		if _, dup := p.byName[name]; dup {
			return nil, fmt.Errorf("duplicate provider name %q", name)
		}
		p.byName[name] = prov
	}

	// Initial snapshot marks everything available so the first request
	// does not wait for a probe round; the cascade discovers dead
	// backends on its own.
	initial := make(Snapshot, len(providers))
	for i, prov := range providers {
		initial[i] = State{Descriptor: prov.Descriptor(), Available: true}
	}
	p.snap.Store(&initial)
	return p, nil
}

// Get returns the named provider.
func (p *Pool) Get(name string) (Provider, bool) {
	prov, ok := p.byName[name]
	return prov, ok
}

// Snapshot returns the current health snapshot. The returned slice is
// shared and must not be mutated.
func (p *Pool) Snapshot() Snapshot {
	return *p.snap.Load()
}

// StartProbing launches the background probe loop. It returns after the
// first full probe round so callers start with real health data.
func (p *Pool) StartProbing(ctx context.Context) {
	p.probeAll(ctx)
	go p.probeLoop(ctx)
}

func (p *Pool) probeLoop(ctx context.Context) {
	tick := p.localInterval
	if p.cloudInterval < tick {
		tick = p.cloudInterval
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.probeDue(ctx)
		}
	}
}

// probeDue probes providers whose interval has elapsed.
func (p *Pool) probeDue(ctx context.Context) {
	now := time.Now()
	var due []Provider
	for _, prov := range p.providers {
		interval := p.localInterval
		if prov.Descriptor().Kind == KindCloud {
			interval = p.cloudInterval
		}
		if now.Sub(p.lastProbe[prov.Descriptor().Name]) >= interval {
			due = append(due, prov)
		}
	}
	if len(due) > 0 {
		p.probe(ctx, due)
	}
}

func (p *Pool) probeAll(ctx context.Context) {
	p.probe(ctx, p.providers)
}

// probe health-checks the given providers and publishes a new snapshot.
// Only the probe goroutine writes the snapshot, so read-modify-write
// here needs no lock.
func (p *Pool) probe(ctx context.Context, targets []Provider) {
	current := *p.snap.Load()
	next := make(Snapshot, len(current))
	copy(next, current)

	now := time.Now()
	for _, prov := range targets {
		desc := prov.Descriptor()
		p.lastProbe[desc.Name] = now

		probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
		err := prov.HealthCheck(probeCtx)
		cancel()

		for i := range next {
			if next[i].Descriptor.Name != desc.Name {
				continue
			}
			wasAvailable := next[i].Available
			next[i].Available = err == nil
			next[i].LastChecked = now
			next[i].LastError = ""
			if err != nil {
				next[i].LastError = err.Error()
			}
			if wasAvailable && err != nil {
				log.Warn().Str("provider", desc.Name).Err(err).Msg("provider went unavailable")
			} else if !wasAvailable && err == nil {
				log.Info().Str("provider", desc.Name).Msg("provider recovered")
			}
		}
	}

	p.snap.Store(&next)
}

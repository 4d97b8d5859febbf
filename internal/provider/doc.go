// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements the model backends conductor can route to
// and the health-checked pool that tracks them.
//
// # Backends
//
//   - Ollama: local inference over the Ollama HTTP API
//   - OpenRouter: cloud inference over the OpenRouter chat API
//   - OpenAI: cloud inference through the official OpenAI SDK
//
// Every backend performs exactly one attempt per Generate call; retry
// and failover policy live in the cascade engine.
//
// # Health tracking
//
// The Pool probes each backend on a kind-specific interval (15s cloud,
// 60s local by default) and publishes results as an immutable Snapshot
// swapped through an atomic pointer. Request handling reads whatever
// snapshot is current and never blocks on probing.
//
// RELIABILITY: a stale snapshot only costs a wasted cascade attempt;
// the cascade discovers dead backends regardless.
package provider

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management
// for conductor.
//
// # Overview
//
// Configuration is loaded from ~/.conductor/config.toml (or config.json),
// backfilled with built-in defaults, then overridden by CONDUCTOR_*
// environment variables. A file watcher supports hot reload: edits to
// the config file are re-validated and swapped into the global config
// without a restart.
//
// # Sections
//
//   - classifier: complexity tier thresholds, trigger keywords, and the
//     retrieval budget (chunk count + char limit) per tier
//   - providers: every model backend with kind, priority, capabilities
//   - rag: embedding backend and postgres chunk store
//   - cache: response cache TTL and capacity
//   - probe: health check intervals per provider kind
//   - telemetry: local cascade attempt log
//   - server: HTTP API listen address, auth, rate limiting
//   - log: level and output format
//
// SECURITY: API keys are referenced by environment variable name only
// and never written to the config file.
package config

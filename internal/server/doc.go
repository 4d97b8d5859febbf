// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the answer pipeline over HTTP.
//
// The API is deliberately small: POST /v1/answer runs a query through
// the orchestrator and GET /v1/status reports provider health and cache
// statistics. /health and /metrics are unauthenticated so probes and
// scrapers keep working when a bearer token is configured.
//
// Middleware (outermost first): panic recovery, request IDs, structured
// request logging, per-IP rate limiting, bearer auth.
//
// Pipeline errors map to status codes: invalid queries are 400, missing
// context is 422, infrastructure outages are 503, an exhausted cascade
// is 502, and deadline overruns are 504.
package server

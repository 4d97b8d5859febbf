// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package router classifies queries and plans which providers should
// answer them.
//
// # Classification
//
// Queries land in one of three complexity tiers (simple, normal,
// complex) based on trigger keywords and rune length. Each tier carries
// a retrieval budget: how many context chunks may be fetched and how
// many total characters of context may be assembled. Keywords always
// win over length, so a short analytical question ("compara X y Y")
// still gets the complex budget.
//
// # Routing
//
// The resolved mode (chat, code, doc) maps to a provider capability.
// Route orders every capable provider by priority, preferring the ones
// the current health snapshot reports available, and appends
// chat-capable providers as a degraded tail for non-chat modes. The
// cascade engine walks this order one attempt per provider.
package router

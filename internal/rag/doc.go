// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package rag retrieves document context for queries that need it.
//
// The flow is embed, search, assemble: the query text becomes a vector
// (Ollama or OpenAI embeddings), the vector runs a cosine similarity
// search against a postgres/pgvector chunk table, and the assembler
// packs the best-scoring chunks into the retrieval budget chosen by the
// classifier.
//
// Retrieval failures are typed: ErrEmbeddingUnavailable and
// ErrStoreUnavailable surface infrastructure problems, while
// ErrInsufficientContext means the pipeline worked but nothing relevant
// fit the budget. Callers treat them differently, so the distinction
// matters.
package rag

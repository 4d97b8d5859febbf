// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	pgvector "github.com/pgvector/pgvector-go"
)

// =============================================================================
// CHUNK STORE
// =============================================================================

// ErrStoreUnavailable reports that the chunk store could not be queried.
var ErrStoreUnavailable = errors.New("chunk store unavailable")

// Chunk is one indexed document fragment.
type Chunk struct {
	ID         string `json:"id"`
	DocumentID string `json:"document_id"`
	// Ordinal is the chunk's position within its document.
	Ordinal int    `json:"ordinal"`
	Text    string `json:"text"`
	Page    int    `json:"page,omitempty"`
	Section string `json:"section,omitempty"`
}

// ScoredChunk is a chunk with its similarity score, higher is better.
type ScoredChunk struct {
	Chunk
	Score float64 `json:"score"`
}

// Store performs similarity search over indexed chunks.
type Store interface {
	// Search returns up to limit chunks most similar to the vector.
	// A non-empty documentID restricts results to that document.
	Search(ctx context.Context, vector []float32, limit int, documentID string) ([]ScoredChunk, error)
}

// =============================================================================
// POSTGRES / PGVECTOR STORE
// =============================================================================

// PGStore is a Store backed by postgres with the pgvector extension.
type PGStore struct {
	pool  *pgxpool.Pool
	table string
}

// NewPGStore connects to the database and verifies the connection.
func NewPGStore(ctx context.Context, databaseURL, table string) (*PGStore, error) {
	if table == "" {
		table = "chunks"
	}
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return &PGStore{pool: pool, table: table}, nil
}

// Close releases the connection pool.
func (s *PGStore) Close() {
	s.pool.Close()
}

// Search runs a cosine-distance query ordered by similarity.
func (s *PGStore) Search(ctx context.Context, vector []float32, limit int, documentID string) ([]ScoredChunk, error) {
	if limit <= 0 {
		return nil, nil
	}

	// The <=> operator is cosine distance; score converts it back to
	// similarity so callers sort descending.
	query := fmt.Sprintf(`
		SELECT id, document_id, ordinal, text, page, section,
		       1 - (embedding <=> $1) AS score
		FROM %s
		WHERE ($2 = '' OR document_id = $2)
		ORDER BY embedding <=> $1
		LIMIT $3`, s.table)

	rows, err := s.pool.Query(ctx, query, pgvector.NewVector(vector), documentID, limit)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	defer rows.Close()

	var out []ScoredChunk
	for rows.Next() {
		var sc ScoredChunk
		if err := rows.Scan(&sc.ID, &sc.DocumentID, &sc.Ordinal, &sc.Text, &sc.Page, &sc.Section, &sc.Score); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	return out, nil
}

var _ Store = (*PGStore)(nil)

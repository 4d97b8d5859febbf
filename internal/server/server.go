// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server provides conductor's HTTP API.
//
// Endpoints:
//   - POST /v1/answer  - Answer a query through the pipeline
//   - GET  /v1/status  - Provider health and cache statistics
//   - GET  /health     - Liveness check
//   - GET  /metrics    - Prometheus metrics
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/conductor/internal/cascade"
	"github.com/jeranaias/conductor/internal/orchestrator"
	"github.com/jeranaias/conductor/internal/rag"
	"github.com/jeranaias/conductor/internal/router"
)

// ============================================================================
// CONSTANTS
// ============================================================================

const (
	// MaxRequestBodySize bounds request bodies.
	// SECURITY: prevents memory exhaustion from oversized payloads.
	MaxRequestBodySize = 1 * 1024 * 1024 // 1MB

	// DefaultRequestTimeout bounds end-to-end request handling when the
	// client sets none.
	DefaultRequestTimeout = 180 * time.Second

	// Version is the server version string reported on /health.
	Version = "0.1.0"
)

// ============================================================================
// SERVER
// ============================================================================

// Config contains server configuration.
type Config struct {
	Addr           string
	BearerToken    string
	RateLimitRPS   float64
	RateLimitBurst int
	RequestTimeout time.Duration
}

// Server serves the conductor HTTP API.
type Server struct {
	cfg  Config
	orch *orchestrator.Orchestrator
	http *http.Server
}

// New creates a Server.
func New(cfg Config, orch *orchestrator.Orchestrator) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = DefaultRequestTimeout
	}
	s := &Server{cfg: cfg, orch: orch}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/answer", s.handleAnswer)
	mux.HandleFunc("GET /v1/status", s.handleStatus)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	handler := Chain(mux,
		Recovery(),
		RequestID(),
		Logging(),
		RateLimit(cfg.RateLimitRPS, cfg.RateLimitBurst),
		BearerAuth(cfg.BearerToken, "/health", "/metrics"),
	)

	s.http = &http.Server{
		Addr:              cfg.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// ListenAndServe blocks serving requests until Shutdown.
func (s *Server) ListenAndServe() error {
	log.Info().Str("addr", s.cfg.Addr).Msg("http server listening")
	return s.http.ListenAndServe()
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.http.Shutdown(ctx)
}

// ============================================================================
// REQUEST / RESPONSE TYPES
// ============================================================================

type answerRequest struct {
	Query     string `json:"query"`
	Mode      string `json:"mode,omitempty"`
	DocRef    string `json:"doc_ref,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	// TimeoutMs optionally tightens the request deadline.
	TimeoutMs int `json:"timeout_ms,omitempty"`
}

type errorResponse struct {
	Error     string `json:"error"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

// ============================================================================
// HANDLERS
// ============================================================================

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxRequestBodySize)

	var req answerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", fmt.Sprintf("malformed JSON: %v", err))
		return
	}

	mode, err := router.ParseMode(req.Mode)
	if err != nil {
		s.writeError(w, r, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	timeout := s.cfg.RequestTimeout
	if req.TimeoutMs > 0 && time.Duration(req.TimeoutMs)*time.Millisecond < timeout {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	result, err := s.orch.Answer(ctx, router.Query{
		Text:         req.Query,
		DocRef:       req.DocRef,
		ModeOverride: mode,
		SessionID:    req.SessionID,
	})
	if err != nil {
		s.writeAnswerError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, s.orch.Status())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": Version,
	})
}

// ============================================================================
// ERROR MAPPING
// ============================================================================

// writeAnswerError maps pipeline errors onto HTTP status codes.
func (s *Server) writeAnswerError(w http.ResponseWriter, r *http.Request, err error) {
	var exhausted *cascade.ExhaustedError
	switch {
	case errors.Is(err, orchestrator.ErrInvalidQuery):
		s.writeError(w, r, http.StatusBadRequest, "invalid_query", err.Error())
	case errors.Is(err, rag.ErrInsufficientContext):
		s.writeError(w, r, http.StatusUnprocessableEntity, "insufficient_context", err.Error())
	case errors.Is(err, rag.ErrEmbeddingUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, "embedding_unavailable", err.Error())
	case errors.Is(err, rag.ErrStoreUnavailable):
		s.writeError(w, r, http.StatusServiceUnavailable, "chunk_store_unavailable", err.Error())
	case errors.Is(err, router.ErrNoProvider):
		s.writeError(w, r, http.StatusServiceUnavailable, "no_provider", err.Error())
	case errors.As(err, &exhausted):
		s.writeError(w, r, http.StatusBadGateway, "providers_exhausted", err.Error())
	case errors.Is(err, context.DeadlineExceeded):
		s.writeError(w, r, http.StatusGatewayTimeout, "timeout", "request deadline exceeded")
	case errors.Is(err, context.Canceled):
		// Client went away; nothing useful to write.
		s.writeError(w, r, 499, "client_closed_request", "request cancelled")
	default:
		log.Error().Err(err).Msg("unhandled pipeline error")
		s.writeError(w, r, http.StatusInternalServerError, "internal_error", "internal error")
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, status int, code, msg string) {
	s.writeJSON(w, status, errorResponse{
		Error:     msg,
		Code:      code,
		RequestID: RequestIDFromContext(r.Context()),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("failed to encode response")
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// =============================================================================
// OLLAMA PROVIDER
// =============================================================================

// DefaultOllamaURL is the standard local Ollama endpoint.
const DefaultOllamaURL = "http://localhost:11434"

// maxOllamaResponseSize bounds response bodies.
// SECURITY: Response size limit prevents memory exhaustion.
const maxOllamaResponseSize = 10 * 1024 * 1024 // 10MB

// Ollama talks to a local Ollama server over its HTTP API.
type Ollama struct {
	desc       Descriptor
	baseURL    string
	maxTokens  int
	httpClient *http.Client
}

// NewOllama creates an Ollama provider. An empty baseURL selects
// DefaultOllamaURL.
func NewOllama(desc Descriptor, baseURL string, maxTokens int) *Ollama {
	if baseURL == "" {
		baseURL = DefaultOllamaURL
	}
	desc.Kind = KindLocal
	desc.KindName = KindLocal.String()
	return &Ollama{
		desc:      desc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		maxTokens: maxTokens,
		httpClient: &http.Client{
			// Per-request deadlines come from the caller's context.
			Timeout: 0,
		},
	}
}

// Descriptor returns the provider's static identity.
func (o *Ollama) Descriptor() Descriptor {
	return o.desc
}

type ollamaGenerateRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaGenerateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
	Error    string `json:"error,omitempty"`
}

// Generate produces a completion via POST /api/generate.
func (o *Ollama) Generate(ctx context.Context, prompt string) (string, error) {
	reqBody := ollamaGenerateRequest{
		Model:  o.desc.Model,
		Prompt: prompt,
		Stream: false,
	}
	if o.maxTokens > 0 {
		reqBody.Options = map[string]any{"num_predict": o.maxTokens}
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(payload))
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return "", &ClientError{
			Type:    ErrTypeModelNotFound,
			Message: fmt.Sprintf("model %q not found (try: ollama pull %s)", o.desc.Model, o.desc.Model),
		}
	}
	if resp.StatusCode != http.StatusOK {
		return "", &ClientError{
			Type:    ErrTypeInvalidResponse,
			Message: fmt.Sprintf("unexpected status %d", resp.StatusCode),
		}
	}

	var out ollamaGenerateResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxOllamaResponseSize)).Decode(&out); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if out.Error != "" {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: out.Error}
	}
	return out.Response, nil
}

// HealthCheck probes the Ollama server root endpoint. Ollama answers
// GET / with "Ollama is running", which is the cheapest liveness signal
// it offers.
func (o *Ollama) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/", nil)
	if err != nil {
		return err
	}
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 512))

	if resp.StatusCode != http.StatusOK {
		return &ClientError{
			Type:    ErrTypeConnection,
			Message: fmt.Sprintf("health check returned status %d", resp.StatusCode),
		}
	}
	return nil
}

// classifyTransportError maps an http.Client error to a typed ClientError.
func classifyTransportError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: ErrTimeout}
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: ErrTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	return &ClientError{Type: ErrTypeConnection, Message: "backend unreachable", Cause: ErrNotRunning}
}

var _ Provider = (*Ollama)(nil)

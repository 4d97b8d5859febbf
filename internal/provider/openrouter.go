// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// =============================================================================
// OPENROUTER PROVIDER
// =============================================================================

// DefaultOpenRouterURL is the base URL for the OpenRouter API.
const DefaultOpenRouterURL = "https://openrouter.ai/api/v1"

// maxCloudResponseSize bounds response bodies.
// SECURITY: Response size limit prevents memory exhaustion.
const maxCloudResponseSize = 10 * 1024 * 1024 // 10MB

// PERFORMANCE: Connection pooling reduces TCP handshake overhead.
// Shared HTTP client for all cloud requests.
// SECURITY: TLS verification required, TLS 1.2 minimum.
var sharedCloudClient = &http.Client{
	Transport: &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 10,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		TLSClientConfig: &tls.Config{
			MinVersion:         tls.VersionTLS12,
			InsecureSkipVerify: false,
		},
	},
	// Per-request deadlines come from the caller's context.
}

// OpenRouter talks to the OpenRouter chat completions API.
type OpenRouter struct {
	desc      Descriptor
	baseURL   string
	apiKey    string
	maxTokens int
	limiter   *rate.Limiter
}

// NewOpenRouter creates an OpenRouter provider. rps > 0 enables
// client-side throttling of outbound calls.
func NewOpenRouter(desc Descriptor, baseURL, apiKey string, maxTokens int, rps float64) *OpenRouter {
	if baseURL == "" {
		baseURL = DefaultOpenRouterURL
	}
	desc.Kind = KindCloud
	desc.KindName = KindCloud.String()
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &OpenRouter{
		desc:      desc,
		baseURL:   strings.TrimRight(baseURL, "/"),
		apiKey:    apiKey,
		maxTokens: maxTokens,
		limiter:   limiter,
	}
}

// Descriptor returns the provider's static identity.
func (c *OpenRouter) Descriptor() Descriptor {
	return c.desc
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
	Stream    bool          `json:"stream"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Code    any    `json:"code"`
	} `json:"error,omitempty"`
}

// Generate produces a completion via POST /chat/completions.
func (c *OpenRouter) Generate(ctx context.Context, prompt string) (string, error) {
	if c.apiKey == "" {
		return "", ErrNotConfigured
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	reqBody := chatCompletionRequest{
		Model:     c.desc.Model,
		Messages:  []chatMessage{{Role: "user", Content: prompt}},
		MaxTokens: c.maxTokens,
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to encode request", Cause: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", &ClientError{Type: ErrTypeUnknown, Message: "failed to build request", Cause: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := sharedCloudClient.Do(req)
	if err != nil {
		return "", classifyTransportError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxCloudResponseSize))
	if err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to read response", Cause: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return "", &ClientError{Type: ErrTypeAuth, Message: "authentication failed"}
	case resp.StatusCode == http.StatusTooManyRequests:
		return "", &ClientError{Type: ErrTypeRateLimited, Message: "rate limited by backend"}
	case resp.StatusCode >= 500:
		return "", &ClientError{Type: ErrTypeConnection, Message: fmt.Sprintf("server error %d", resp.StatusCode)}
	case resp.StatusCode != http.StatusOK:
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: fmt.Sprintf("unexpected status %d", resp.StatusCode)}
	}

	var out chatCompletionResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "failed to decode response", Cause: err}
	}
	if out.Error != nil {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: out.Error.Message}
	}
	if len(out.Choices) == 0 {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "response contained no choices"}
	}
	return out.Choices[0].Message.Content, nil
}

// HealthCheck probes GET /models, which is free and requires a valid key.
func (c *OpenRouter) HealthCheck(ctx context.Context) error {
	if c.apiKey == "" {
		return ErrNotConfigured
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/models", nil)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := sharedCloudClient.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		return &ClientError{Type: ErrTypeAuth, Message: "authentication failed"}
	case resp.StatusCode != http.StatusOK:
		return &ClientError{Type: ErrTypeConnection, Message: fmt.Sprintf("health check returned status %d", resp.StatusCode)}
	}
	return nil
}

var _ Provider = (*OpenRouter)(nil)

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared"
	"golang.org/x/time/rate"
)

// =============================================================================
// OPENAI PROVIDER
// =============================================================================

// OpenAI talks to the OpenAI chat completions API through the official SDK.
type OpenAI struct {
	desc      Descriptor
	client    openai.Client
	maxTokens int
	limiter   *rate.Limiter
}

// NewOpenAI creates an OpenAI provider.
func NewOpenAI(desc Descriptor, apiKey string, maxTokens int, rps float64) (*OpenAI, error) {
	if apiKey == "" {
		return nil, ErrNotConfigured
	}
	desc.Kind = KindCloud
	desc.KindName = KindCloud.String()
	var limiter *rate.Limiter
	if rps > 0 {
		limiter = rate.NewLimiter(rate.Limit(rps), int(rps)+1)
	}
	return &OpenAI{
		desc:      desc,
		client:    openai.NewClient(option.WithAPIKey(apiKey)),
		maxTokens: maxTokens,
		limiter:   limiter,
	}, nil
}

// Descriptor returns the provider's static identity.
func (c *OpenAI) Descriptor() Descriptor {
	return c.desc
}

// Generate produces a completion. Exactly one attempt: backend retries
// belong to the cascade engine.
func (c *OpenAI) Generate(ctx context.Context, prompt string) (string, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return "", err
		}
	}

	params := openai.ChatCompletionNewParams{
		Model: shared.ChatModel(c.desc.Model),
		Messages: []openai.ChatCompletionMessageParamUnion{
			openai.UserMessage(prompt),
		},
	}
	if c.maxTokens > 0 {
		params.MaxTokens = openai.Int(int64(c.maxTokens))
	}

	completion, err := c.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(completion.Choices) == 0 {
		return "", &ClientError{Type: ErrTypeInvalidResponse, Message: "response contained no choices"}
	}
	return completion.Choices[0].Message.Content, nil
}

// HealthCheck lists models, which is free and validates the API key.
func (c *OpenAI) HealthCheck(ctx context.Context) error {
	iter := c.client.Models.ListAutoPaging(ctx)
	iter.Next()
	if err := iter.Err(); err != nil {
		return classifyOpenAIError(err)
	}
	return nil
}

// classifyOpenAIError maps SDK errors to typed ClientErrors.
func classifyOpenAIError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return &ClientError{Type: ErrTypeTimeout, Message: "request timed out", Cause: ErrTimeout}
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == 401 || apiErr.StatusCode == 403:
			return &ClientError{Type: ErrTypeAuth, Message: "authentication failed", Cause: err}
		case apiErr.StatusCode == 404:
			return &ClientError{Type: ErrTypeModelNotFound, Message: "model not found", Cause: err}
		case apiErr.StatusCode == 429:
			return &ClientError{Type: ErrTypeRateLimited, Message: "rate limited by backend", Cause: err}
		case apiErr.StatusCode >= 500:
			return &ClientError{Type: ErrTypeConnection, Message: "server error", Cause: err}
		}
		return &ClientError{Type: ErrTypeInvalidResponse, Message: "api error", Cause: err}
	}
	return &ClientError{Type: ErrTypeConnection, Message: "backend unreachable", Cause: err}
}

var _ Provider = (*OpenAI)(nil)

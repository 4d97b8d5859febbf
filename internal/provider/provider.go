// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider implements model backends and the health-checked pool
// that tracks their availability.
package provider

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// =============================================================================
// CORE TYPES
// =============================================================================

// Kind distinguishes local from cloud backends. The kind selects default
// timeouts and probe intervals.
type Kind int

const (
	KindLocal Kind = iota
	KindCloud
)

func (k Kind) String() string {
	switch k {
	case KindLocal:
		return "local"
	case KindCloud:
		return "cloud"
	default:
		return "unknown"
	}
}

// ParseKind converts a config string to a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "local":
		return KindLocal, nil
	case "cloud":
		return KindCloud, nil
	default:
		return KindLocal, fmt.Errorf("unknown provider kind %q", s)
	}
}

// Capability names a class of work a provider can handle.
type Capability string

const (
	CapChat        Capability = "chat"
	CapCode        Capability = "code"
	CapLongContext Capability = "long-context"
)

// ParseCapability converts a config string to a Capability.
func ParseCapability(s string) (Capability, error) {
	switch Capability(s) {
	case CapChat, CapCode, CapLongContext:
		return Capability(s), nil
	default:
		return "", fmt.Errorf("unknown capability %q", s)
	}
}

// Default per-attempt timeouts by kind. Local models burn wall clock on
// token generation; cloud backends fail fast or not at all.
const (
	DefaultLocalTimeout = 120 * time.Second
	DefaultCloudTimeout = 30 * time.Second
)

// Descriptor is the static identity of a provider.
type Descriptor struct {
	Name         string        `json:"name"`
	Kind         Kind          `json:"-"`
	KindName     string        `json:"kind"`
	Priority     int           `json:"priority"`
	Capabilities []Capability  `json:"capabilities"`
	Model        string        `json:"model"`
	Timeout      time.Duration `json:"-"`
}

// Has reports whether the provider advertises the capability.
func (d Descriptor) Has(c Capability) bool {
	for _, cap := range d.Capabilities {
		if cap == c {
			return true
		}
	}
	return false
}

// EffectiveTimeout returns the per-attempt timeout, applying the kind
// default when unset.
func (d Descriptor) EffectiveTimeout() time.Duration {
	if d.Timeout > 0 {
		return d.Timeout
	}
	if d.Kind == KindCloud {
		return DefaultCloudTimeout
	}
	return DefaultLocalTimeout
}

// =============================================================================
// ERRORS
// =============================================================================

// ErrorType categorizes provider failures for cascade outcome recording.
type ErrorType int

const (
	ErrTypeUnknown ErrorType = iota
	ErrTypeConnection
	ErrTypeTimeout
	ErrTypeAuth
	ErrTypeRateLimited
	ErrTypeInvalidResponse
	ErrTypeModelNotFound
)

func (t ErrorType) String() string {
	switch t {
	case ErrTypeConnection:
		return "connection"
	case ErrTypeTimeout:
		return "timeout"
	case ErrTypeAuth:
		return "auth"
	case ErrTypeRateLimited:
		return "rate_limited"
	case ErrTypeInvalidResponse:
		return "invalid_response"
	case ErrTypeModelNotFound:
		return "model_not_found"
	default:
		return "unknown"
	}
}

// ClientError is a typed provider error carrying the failure category.
type ClientError struct {
	Type    ErrorType
	Message string
	Cause   error
}

func (e *ClientError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *ClientError) Unwrap() error {
	return e.Cause
}

// Sentinel errors for the common failure modes.
var (
	ErrNotRunning    = errors.New("provider backend is not reachable")
	ErrTimeout       = errors.New("provider request timed out")
	ErrNotConfigured = errors.New("provider is missing its API key")
)

// IsTimeout reports whether err represents a timeout failure.
func IsTimeout(err error) bool {
	if errors.Is(err, ErrTimeout) {
		return true
	}
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == ErrTypeTimeout
}

// IsUnavailable reports whether err indicates the backend could not be
// reached at all.
func IsUnavailable(err error) bool {
	if errors.Is(err, ErrNotRunning) {
		return true
	}
	var ce *ClientError
	return errors.As(err, &ce) && ce.Type == ErrTypeConnection
}

// =============================================================================
// PROVIDER INTERFACE
// =============================================================================

// Provider is a single model backend.
//
// Generate performs exactly one attempt: retries across backends are the
// cascade engine's job, so implementations must not retry internally.
type Provider interface {
	// Descriptor returns the provider's static identity.
	Descriptor() Descriptor

	// Generate produces a completion for the prompt.
	Generate(ctx context.Context, prompt string) (string, error)

	// HealthCheck probes the backend with a cheap request.
	HealthCheck(ctx context.Context) error
}

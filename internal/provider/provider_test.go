// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func TestDescriptorHas(t *testing.T) {
	d := Descriptor{Capabilities: []Capability{CapChat, CapCode}}

	tests := []struct {
		name     string
		cap      Capability
		expected bool
	}{
		{"has_chat", CapChat, true},
		{"has_code", CapCode, true},
		{"missing_long_context", CapLongContext, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := d.Has(tt.cap); got != tt.expected {
				t.Errorf("Has(%s) = %v, want %v", tt.cap, got, tt.expected)
			}
		})
	}
}

func TestEffectiveTimeout(t *testing.T) {
	tests := []struct {
		name     string
		desc     Descriptor
		expected time.Duration
	}{
		{"explicit_timeout_wins", Descriptor{Kind: KindCloud, Timeout: 7 * time.Second}, 7 * time.Second},
		{"local_default", Descriptor{Kind: KindLocal}, DefaultLocalTimeout},
		{"cloud_default", Descriptor{Kind: KindCloud}, DefaultCloudTimeout},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.desc.EffectiveTimeout(); got != tt.expected {
				t.Errorf("EffectiveTimeout() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestParseKind(t *testing.T) {
	if k, err := ParseKind("local"); err != nil || k != KindLocal {
		t.Errorf("ParseKind(local) = %v, %v", k, err)
	}
	if k, err := ParseKind("cloud"); err != nil || k != KindCloud {
		t.Errorf("ParseKind(cloud) = %v, %v", k, err)
	}
	if _, err := ParseKind("remote"); err == nil {
		t.Error("ParseKind(remote) should fail")
	}
}

func TestClientErrorHelpers(t *testing.T) {
	timeout := &ClientError{Type: ErrTypeTimeout, Message: "slow", Cause: ErrTimeout}
	if !IsTimeout(timeout) {
		t.Error("IsTimeout should recognize ErrTypeTimeout")
	}
	if !errors.Is(timeout, ErrTimeout) {
		t.Error("ClientError should unwrap to its cause")
	}

	conn := &ClientError{Type: ErrTypeConnection, Message: "refused"}
	if !IsUnavailable(conn) {
		t.Error("IsUnavailable should recognize ErrTypeConnection")
	}
	if IsTimeout(conn) {
		t.Error("connection error is not a timeout")
	}
}

func TestOllamaGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/generate" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		w.Write([]byte(`{"response": "photosynthesis converts light to energy", "done": true}`))
	}))
	defer srv.Close()

	o := NewOllama(Descriptor{Name: "ollama", Model: "qwen2.5-coder:7b"}, srv.URL, 0)
	got, err := o.Generate(context.Background(), "¿Qué es la fotosíntesis?")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "photosynthesis converts light to energy" {
		t.Errorf("unexpected answer %q", got)
	}
}

func TestOllamaGenerateModelNotFound(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	o := NewOllama(Descriptor{Name: "ollama", Model: "missing"}, srv.URL, 0)
	_, err := o.Generate(context.Background(), "hi")
	var ce *ClientError
	if !errors.As(err, &ce) || ce.Type != ErrTypeModelNotFound {
		t.Errorf("expected model_not_found, got %v", err)
	}
}

func TestOllamaHealthCheckDown(t *testing.T) {
	// Point at a closed port.
	o := NewOllama(Descriptor{Name: "ollama"}, "http://127.0.0.1:1", 0)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	err := o.HealthCheck(ctx)
	if err == nil {
		t.Fatal("expected health check failure")
	}
	if !IsUnavailable(err) {
		t.Errorf("expected unavailable classification, got %v", err)
	}
}

func TestOpenRouterGenerate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"hello there"}}]}`))
	}))
	defer srv.Close()

	c := NewOpenRouter(Descriptor{Name: "openrouter", Model: "anthropic/claude-3.5-sonnet"}, srv.URL, "test-key", 512, 0)
	got, err := c.Generate(context.Background(), "hi")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if got != "hello there" {
		t.Errorf("unexpected answer %q", got)
	}
}

func TestOpenRouterErrorMapping(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		expected ErrorType
	}{
		{"auth_failure", http.StatusUnauthorized, ErrTypeAuth},
		{"rate_limited", http.StatusTooManyRequests, ErrTypeRateLimited},
		{"server_error", http.StatusBadGateway, ErrTypeConnection},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			c := NewOpenRouter(Descriptor{Name: "openrouter", Model: "m"}, srv.URL, "k", 0, 0)
			_, err := c.Generate(context.Background(), "hi")
			var ce *ClientError
			if !errors.As(err, &ce) || ce.Type != tt.expected {
				t.Errorf("expected %s, got %v", tt.expected, err)
			}
		})
	}
}

func TestOpenRouterWithoutKey(t *testing.T) {
	c := NewOpenRouter(Descriptor{Name: "openrouter", Model: "m"}, "", "", 0, 0)
	if _, err := c.Generate(context.Background(), "hi"); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConfigured) {
		t.Errorf("expected ErrNotConfigured, got %v", err)
	}
}

// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config provides unified configuration loading and management for conductor.
//
// Supports both TOML and JSON configuration formats, with sensible defaults,
// environment variable overrides, and validation.
//
// Configuration file locations (in order of precedence):
//   - ~/.conductor/config.toml
//   - ~/.conductor/config.json
//   - Built-in defaults
package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/conductor/internal/util"
)

// =============================================================================
// CONFIG STRUCTURES
// =============================================================================

// Config represents the complete conductor configuration.
type Config struct {
	// General settings
	Version string `toml:"version" json:"version"`

	// Classifier thresholds and retrieval budgets
	Classifier ClassifierConfig `toml:"classifier" json:"classifier"`

	// Providers lists every configured model backend, local and cloud.
	Providers []ProviderConfig `toml:"providers" json:"providers"`

	// RAG configuration (embeddings + chunk store)
	RAG RAGConfig `toml:"rag" json:"rag"`

	// Cache configuration
	Cache CacheConfig `toml:"cache" json:"cache"`

	// Probe configuration (provider health checking)
	Probe ProbeConfig `toml:"probe" json:"probe"`

	// Telemetry configuration (local attempt log)
	Telemetry TelemetryConfig `toml:"telemetry" json:"telemetry"`

	// Server configuration (HTTP API)
	Server ServerConfig `toml:"server" json:"server"`

	// Log configuration
	Log LogConfig `toml:"log" json:"log"`
}

// ClassifierConfig controls query complexity classification and the
// retrieval budget attached to each complexity tier.
type ClassifierConfig struct {
	// Keywords that force the complex tier regardless of query length.
	// Matched case-insensitively as substrings of the normalized query.
	Keywords []string `toml:"keywords" json:"keywords"`

	// NormalMinChars is the exclusive lower bound (in runes) for the
	// normal tier. Queries at or below this length are simple unless a
	// keyword promotes them.
	NormalMinChars int `toml:"normal_min_chars" json:"normal_min_chars"`

	// ComplexMinChars is the exclusive lower bound (in runes) for the
	// complex tier.
	ComplexMinChars int `toml:"complex_min_chars" json:"complex_min_chars"`

	// MinChunkSize is the assumed minimum useful chunk size in characters.
	// Budgets must satisfy char_limit >= chunks * MinChunkSize.
	MinChunkSize int `toml:"min_chunk_size" json:"min_chunk_size"`

	Simple  BudgetConfig `toml:"simple" json:"simple"`
	Normal  BudgetConfig `toml:"normal" json:"normal"`
	Complex BudgetConfig `toml:"complex" json:"complex"`
}

// BudgetConfig is the retrieval budget for one complexity tier.
type BudgetConfig struct {
	// Chunks is the maximum number of context chunks to include.
	Chunks int `toml:"chunks" json:"chunks"`
	// CharLimit is the maximum total characters of assembled context.
	CharLimit int `toml:"char_limit" json:"char_limit"`
}

// ProviderConfig describes a single model backend.
type ProviderConfig struct {
	// Name is the unique provider identifier, e.g. "ollama-qwen".
	Name string `toml:"name" json:"name"`
	// Kind is "local" or "cloud".
	Kind string `toml:"kind" json:"kind"`
	// Priority orders providers within a capability; higher wins.
	Priority int `toml:"priority" json:"priority"`
	// Capabilities is any subset of "chat", "code", "long-context".
	Capabilities []string `toml:"capabilities" json:"capabilities"`
	// URL is the backend base URL. Empty selects the backend default.
	URL string `toml:"url" json:"url"`
	// Model is the model identifier passed to the backend.
	Model string `toml:"model" json:"model"`
	// APIKeyEnv names the environment variable holding the API key.
	// SECURITY: keys are never stored in the config file itself.
	APIKeyEnv string `toml:"api_key_env" json:"api_key_env"`
	// TimeoutSecs is the per-attempt timeout. Zero selects the kind
	// default (120s local, 30s cloud).
	TimeoutSecs int `toml:"timeout_secs" json:"timeout_secs"`
	// RateLimitRPS throttles outbound calls for cloud providers.
	// Zero disables throttling.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// MaxTokens caps the completion length requested from the backend.
	MaxTokens int `toml:"max_tokens" json:"max_tokens"`
}

// RAGConfig controls context retrieval.
type RAGConfig struct {
	// Embedder selects the embedding backend: "ollama" or "openai".
	Embedder string `toml:"embedder" json:"embedder"`
	// EmbedModel is the embedding model identifier.
	EmbedModel string `toml:"embed_model" json:"embed_model"`
	// EmbedURL is the base URL for the ollama embedder.
	EmbedURL string `toml:"embed_url" json:"embed_url"`
	// DatabaseURL is the postgres connection string for the chunk store.
	DatabaseURL string `toml:"database_url" json:"database_url"`
	// Table is the chunk table name.
	Table string `toml:"table" json:"table"`
}

// CacheConfig contains response cache configuration.
type CacheConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// TTLHours is the entry lifetime in hours.
	TTLHours int `toml:"ttl_hours" json:"ttl_hours"`
	// MaxEntries bounds cache memory. Oldest-expiring entries are
	// evicted when full.
	MaxEntries int `toml:"max_entries" json:"max_entries"`
}

// ProbeConfig controls background provider health checks.
type ProbeConfig struct {
	// LocalIntervalSecs is the probe interval for local providers.
	// Longer than the cloud interval: local backends spend a while
	// loading models on startup.
	LocalIntervalSecs int `toml:"local_interval_secs" json:"local_interval_secs"`
	// CloudIntervalSecs is the probe interval for cloud providers.
	CloudIntervalSecs int `toml:"cloud_interval_secs" json:"cloud_interval_secs"`
}

// TelemetryConfig controls the local cascade attempt log.
// All telemetry stays on the local machine.
type TelemetryConfig struct {
	Enabled bool `toml:"enabled" json:"enabled"`
	// Path is the SQLite database path. Empty selects ~/.conductor/telemetry.db.
	Path string `toml:"path" json:"path"`
}

// ServerConfig contains HTTP API configuration.
type ServerConfig struct {
	// Addr is the listen address, e.g. "127.0.0.1:8080".
	Addr string `toml:"addr" json:"addr"`
	// BearerToken, when set, is required on every API request.
	BearerToken string `toml:"bearer_token" json:"bearer_token"`
	// RateLimitRPS throttles inbound requests per client IP.
	RateLimitRPS float64 `toml:"rate_limit_rps" json:"rate_limit_rps"`
	// RateLimitBurst is the per-IP burst allowance.
	RateLimitBurst int `toml:"rate_limit_burst" json:"rate_limit_burst"`
	// RequestTimeoutSecs bounds end-to-end request handling.
	RequestTimeoutSecs int `toml:"request_timeout_secs" json:"request_timeout_secs"`
}

// LogConfig contains logging configuration.
type LogConfig struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `toml:"level" json:"level"`
	// Pretty enables human-readable console output instead of JSON.
	Pretty bool `toml:"pretty" json:"pretty"`
}

// =============================================================================
// DEFAULTS
// =============================================================================

// Default returns a Config populated with default values.
func Default() *Config {
	return &Config{
		Version: "1",
		Classifier: ClassifierConfig{
			Keywords: []string{
				"compara", "compare",
				"analiza", "analyze",
				"explica", "explain",
				"diferencia", "difference",
				"detalla", "elabora",
				"resume", "summarize",
				"ventajas", "desventajas",
				"evalúa", "evaluate",
			},
			NormalMinChars:  50,
			ComplexMinChars: 100,
			MinChunkSize:    200,
			Simple:          BudgetConfig{Chunks: 7, CharLimit: 8000},
			Normal:          BudgetConfig{Chunks: 10, CharLimit: 12000},
			Complex:         BudgetConfig{Chunks: 15, CharLimit: 20000},
		},
		Providers: []ProviderConfig{
			{
				Name:         "ollama",
				Kind:         "local",
				Priority:     100,
				Capabilities: []string{"chat", "code"},
				URL:          "http://localhost:11434",
				Model:        "qwen2.5-coder:7b",
			},
			{
				Name:         "openrouter",
				Kind:         "cloud",
				Priority:     50,
				Capabilities: []string{"chat", "code", "long-context"},
				URL:          "https://openrouter.ai/api/v1",
				Model:        "anthropic/claude-3.5-sonnet",
				APIKeyEnv:    "OPENROUTER_API_KEY",
				RateLimitRPS: 2,
			},
			{
				Name:         "openai",
				Kind:         "cloud",
				Priority:     40,
				Capabilities: []string{"chat", "long-context"},
				Model:        "gpt-4o-mini",
				APIKeyEnv:    "OPENAI_API_KEY",
				RateLimitRPS: 2,
			},
		},
		RAG: RAGConfig{
			Embedder:   "ollama",
			EmbedModel: "nomic-embed-text",
			EmbedURL:   "http://localhost:11434",
			Table:      "chunks",
		},
		Cache: CacheConfig{
			Enabled:    true,
			TTLHours:   24,
			MaxEntries: 10000,
		},
		Probe: ProbeConfig{
			LocalIntervalSecs: 60,
			CloudIntervalSecs: 15,
		},
		Telemetry: TelemetryConfig{
			Enabled: true,
		},
		Server: ServerConfig{
			Addr:               "127.0.0.1:8080",
			RateLimitRPS:       10,
			RateLimitBurst:     20,
			RequestTimeoutSecs: 180,
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// =============================================================================
// PATHS
// =============================================================================

// Dir returns the conductor configuration directory (~/.conductor).
func Dir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".conductor"), nil
}

// DefaultPath returns the default TOML config path.
func DefaultPath() (string, error) {
	dir, err := Dir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// =============================================================================
// LOADING
// =============================================================================

// Load reads configuration from the default locations, falling back to
// built-in defaults. Environment overrides are always applied last.
func Load() (*Config, error) {
	cfg := Default()

	dir, err := Dir()
	if err != nil {
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}

	tomlPath := filepath.Join(dir, "config.toml")
	if _, err := os.Stat(tomlPath); err == nil {
		if err := LoadTOML(cfg, tomlPath); err != nil {
			return nil, err
		}
		cfg.SetDefaults()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}

	jsonPath := filepath.Join(dir, "config.json")
	if _, err := os.Stat(jsonPath); err == nil {
		if err := LoadJSON(cfg, jsonPath); err != nil {
			return nil, err
		}
		cfg.SetDefaults()
		cfg.ApplyEnvOverrides()
		return cfg, nil
	}

	// First run: persist the defaults so operators have a file to edit.
	// Written before env overrides so secrets from the environment never
	// land on disk.
	if err := cfg.Save(tomlPath); err != nil {
		log.Warn().Err(err).Str("path", tomlPath).Msg("could not write default config")
	}

	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// LoadTOML loads TOML configuration from path into cfg.
func LoadTOML(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse TOML config: %w", err)
	}
	return nil
}

// LoadJSON loads JSON configuration from path into cfg.
func LoadJSON(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to parse JSON config: %w", err)
	}
	return nil
}

// LoadFromPath loads configuration from an explicit path, inferring the
// format from the file extension.
func LoadFromPath(path string) (*Config, error) {
	cfg := Default()
	var err error
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = LoadJSON(cfg, path)
	default:
		err = LoadTOML(cfg, path)
	}
	if err != nil {
		return nil, err
	}
	cfg.SetDefaults()
	cfg.ApplyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration to path as TOML.
func (c *Config) Save(path string) error {
	var sb strings.Builder
	if err := toml.NewEncoder(&sb).Encode(c); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	// CONFIG: atomic write so a crash mid-save never leaves a torn file.
	if err := util.AtomicWriteFile(path, []byte(sb.String()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// =============================================================================
// ENV OVERRIDES
// =============================================================================

// ApplyEnvOverrides applies CONDUCTOR_* environment variables on top of
// the loaded configuration.
func (c *Config) ApplyEnvOverrides() {
	if v := os.Getenv("CONDUCTOR_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("CONDUCTOR_BEARER_TOKEN"); v != "" {
		c.Server.BearerToken = v
	}
	if v := os.Getenv("CONDUCTOR_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("CONDUCTOR_DATABASE_URL"); v != "" {
		c.RAG.DatabaseURL = v
	}
	if v := os.Getenv("CONDUCTOR_OLLAMA_URL"); v != "" {
		c.RAG.EmbedURL = v
		for i := range c.Providers {
			if c.Providers[i].Kind == "local" {
				c.Providers[i].URL = v
			}
		}
	}
	if v := os.Getenv("CONDUCTOR_CACHE_TTL_HOURS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Cache.TTLHours = n
		}
	}
	if v := os.Getenv("CONDUCTOR_CACHE_DISABLED"); v == "1" || strings.EqualFold(v, "true") {
		c.Cache.Enabled = false
	}
	if v := os.Getenv("CONDUCTOR_TELEMETRY_DISABLED"); v == "1" || strings.EqualFold(v, "true") {
		c.Telemetry.Enabled = false
	}
}

// =============================================================================
// DEFAULT BACKFILL
// =============================================================================

// SetDefaults fills in zero values after a partial file load.
func (c *Config) SetDefaults() {
	def := Default()

	if c.Version == "" {
		c.Version = def.Version
	}
	if len(c.Classifier.Keywords) == 0 {
		c.Classifier.Keywords = def.Classifier.Keywords
	}
	if c.Classifier.NormalMinChars == 0 {
		c.Classifier.NormalMinChars = def.Classifier.NormalMinChars
	}
	if c.Classifier.ComplexMinChars == 0 {
		c.Classifier.ComplexMinChars = def.Classifier.ComplexMinChars
	}
	if c.Classifier.MinChunkSize == 0 {
		c.Classifier.MinChunkSize = def.Classifier.MinChunkSize
	}
	if c.Classifier.Simple == (BudgetConfig{}) {
		c.Classifier.Simple = def.Classifier.Simple
	}
	if c.Classifier.Normal == (BudgetConfig{}) {
		c.Classifier.Normal = def.Classifier.Normal
	}
	if c.Classifier.Complex == (BudgetConfig{}) {
		c.Classifier.Complex = def.Classifier.Complex
	}
	if len(c.Providers) == 0 {
		c.Providers = def.Providers
	}
	if c.RAG.Embedder == "" {
		c.RAG.Embedder = def.RAG.Embedder
	}
	if c.RAG.EmbedModel == "" {
		c.RAG.EmbedModel = def.RAG.EmbedModel
	}
	if c.RAG.EmbedURL == "" {
		c.RAG.EmbedURL = def.RAG.EmbedURL
	}
	if c.RAG.Table == "" {
		c.RAG.Table = def.RAG.Table
	}
	if c.Cache.TTLHours == 0 {
		c.Cache.TTLHours = def.Cache.TTLHours
	}
	if c.Cache.MaxEntries == 0 {
		c.Cache.MaxEntries = def.Cache.MaxEntries
	}
	if c.Probe.LocalIntervalSecs == 0 {
		c.Probe.LocalIntervalSecs = def.Probe.LocalIntervalSecs
	}
	if c.Probe.CloudIntervalSecs == 0 {
		c.Probe.CloudIntervalSecs = def.Probe.CloudIntervalSecs
	}
	if c.Server.Addr == "" {
		c.Server.Addr = def.Server.Addr
	}
	if c.Server.RateLimitRPS == 0 {
		c.Server.RateLimitRPS = def.Server.RateLimitRPS
	}
	if c.Server.RateLimitBurst == 0 {
		c.Server.RateLimitBurst = def.Server.RateLimitBurst
	}
	if c.Server.RequestTimeoutSecs == 0 {
		c.Server.RequestTimeoutSecs = def.Server.RequestTimeoutSecs
	}
	if c.Log.Level == "" {
		c.Log.Level = def.Log.Level
	}
}

// =============================================================================
// VALIDATION
// =============================================================================

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidateErrors is a collection of validation errors.
type ValidateErrors []ValidationError

func (e ValidateErrors) Error() string {
	if len(e) == 0 {
		return "no validation errors"
	}
	msgs := make([]string, len(e))
	for i, err := range e {
		msgs[i] = err.Error()
	}
	return strings.Join(msgs, "; ")
}

var validKinds = map[string]bool{"local": true, "cloud": true}

var validCapabilities = map[string]bool{
	"chat":         true,
	"code":         true,
	"long-context": true,
}

var validLogLevels = map[string]bool{
	"debug": true, "info": true, "warn": true, "error": true,
}

// Validate checks the configuration for consistency. It returns
// ValidateErrors listing every problem found, or nil when valid.
func (c *Config) Validate() error {
	var errs ValidateErrors

	if c.Classifier.NormalMinChars <= 0 {
		errs = append(errs, ValidationError{
			Field:   "classifier.normal_min_chars",
			Message: "must be positive",
		})
	}
	if c.Classifier.ComplexMinChars <= c.Classifier.NormalMinChars {
		errs = append(errs, ValidationError{
			Field:   "classifier.complex_min_chars",
			Message: "must be greater than normal_min_chars",
		})
	}

	budgets := []struct {
		field  string
		budget BudgetConfig
	}{
		{"classifier.simple", c.Classifier.Simple},
		{"classifier.normal", c.Classifier.Normal},
		{"classifier.complex", c.Classifier.Complex},
	}
	for _, b := range budgets {
		if b.budget.Chunks < 0 || b.budget.CharLimit < 0 {
			errs = append(errs, ValidationError{
				Field:   b.field,
				Message: "chunks and char_limit must be non-negative",
			})
			continue
		}
		if b.budget.Chunks > 0 && b.budget.CharLimit < b.budget.Chunks*c.Classifier.MinChunkSize {
			errs = append(errs, ValidationError{
				Field: b.field,
				Message: fmt.Sprintf("char_limit %d cannot hold %d chunks of at least %d chars",
					b.budget.CharLimit, b.budget.Chunks, c.Classifier.MinChunkSize),
			})
		}
	}

	if len(c.Providers) == 0 {
		errs = append(errs, ValidationError{
			Field:   "providers",
			Message: "at least one provider is required",
		})
	}
	seen := make(map[string]bool)
	for i, p := range c.Providers {
		field := fmt.Sprintf("providers[%d]", i)
		if p.Name == "" {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "must not be empty"})
		} else if seen[p.Name] {
			errs = append(errs, ValidationError{Field: field + ".name", Message: "duplicate provider name " + p.Name})
		}
		seen[p.Name] = true
		if !validKinds[p.Kind] {
			errs = append(errs, ValidationError{
				Field:   field + ".kind",
				Message: fmt.Sprintf("unknown kind %q (expected local or cloud)", p.Kind),
			})
		}
		if len(p.Capabilities) == 0 {
			errs = append(errs, ValidationError{Field: field + ".capabilities", Message: "must list at least one capability"})
		}
		for _, cap := range p.Capabilities {
			if !validCapabilities[cap] {
				errs = append(errs, ValidationError{
					Field:   field + ".capabilities",
					Message: fmt.Sprintf("unknown capability %q", cap),
				})
			}
		}
		if p.URL != "" {
			if _, err := url.Parse(p.URL); err != nil {
				errs = append(errs, ValidationError{Field: field + ".url", Message: "invalid URL"})
			}
		}
		if p.TimeoutSecs < 0 {
			errs = append(errs, ValidationError{Field: field + ".timeout_secs", Message: "must be non-negative"})
		}
	}

	if c.RAG.Embedder != "ollama" && c.RAG.Embedder != "openai" {
		errs = append(errs, ValidationError{
			Field:   "rag.embedder",
			Message: fmt.Sprintf("unknown embedder %q (expected ollama or openai)", c.RAG.Embedder),
		})
	}

	if c.Cache.TTLHours < 0 {
		errs = append(errs, ValidationError{Field: "cache.ttl_hours", Message: "must be non-negative"})
	}
	if c.Cache.MaxEntries < 0 {
		errs = append(errs, ValidationError{Field: "cache.max_entries", Message: "must be non-negative"})
	}

	if !validLogLevels[c.Log.Level] {
		errs = append(errs, ValidationError{
			Field:   "log.level",
			Message: fmt.Sprintf("unknown level %q", c.Log.Level),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// =============================================================================
// UTILITIES
// =============================================================================

// Clone returns a deep copy of the configuration.
func (c *Config) Clone() *Config {
	clone := *c
	clone.Classifier.Keywords = append([]string(nil), c.Classifier.Keywords...)
	clone.Providers = make([]ProviderConfig, len(c.Providers))
	for i, p := range c.Providers {
		clone.Providers[i] = p
		clone.Providers[i].Capabilities = append([]string(nil), p.Capabilities...)
	}
	return &clone
}

// String returns a redacted representation safe for logging.
// SECURITY: bearer tokens and connection strings are never printed.
func (c *Config) String() string {
	clone := c.Clone()
	if clone.Server.BearerToken != "" {
		clone.Server.BearerToken = "[REDACTED]"
	}
	if clone.RAG.DatabaseURL != "" {
		clone.RAG.DatabaseURL = "[REDACTED]"
	}
	data, err := json.Marshal(clone)
	if err != nil {
		return "config{unprintable}"
	}
	return string(data)
}

// =============================================================================
// GLOBAL ACCESS
// =============================================================================

var (
	globalMu     sync.RWMutex
	globalConfig *Config
	globalOnce   sync.Once
)

// Get returns the global configuration, loading it on first use.
func Get() *Config {
	globalOnce.Do(func() {
		cfg, err := Load()
		if err != nil {
			cfg = Default()
			cfg.ApplyEnvOverrides()
		}
		globalMu.Lock()
		globalConfig = cfg
		globalMu.Unlock()
	})
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalConfig
}

// Set replaces the global configuration (used by hot reload).
func Set(cfg *Config) {
	globalOnce.Do(func() {})
	globalMu.Lock()
	globalConfig = cfg
	globalMu.Unlock()
}

// ResetGlobalForTesting clears the global config state.
func ResetGlobalForTesting() {
	globalMu.Lock()
	globalConfig = nil
	globalMu.Unlock()
	globalOnce = sync.Once{}
}

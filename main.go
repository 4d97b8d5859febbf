// conductor - hybrid model orchestrator service.
//
// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/jeranaias/conductor/internal/cache"
	"github.com/jeranaias/conductor/internal/cascade"
	"github.com/jeranaias/conductor/internal/config"
	"github.com/jeranaias/conductor/internal/metrics"
	"github.com/jeranaias/conductor/internal/orchestrator"
	"github.com/jeranaias/conductor/internal/provider"
	"github.com/jeranaias/conductor/internal/rag"
	"github.com/jeranaias/conductor/internal/router"
	"github.com/jeranaias/conductor/internal/server"
	"github.com/jeranaias/conductor/internal/telemetry"
)

// Version information (set at build time)
var (
	Version   = "0.1.0"
	GitCommit = "unknown"
)

func main() {
	configPath := flag.String("config", "", "path to config file (default ~/.conductor/config.toml)")
	showVersion := flag.Bool("version", false, "print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Printf("conductor %s (%s)\n", Version, GitCommit)
		return
	}

	if err := run(*configPath); err != nil {
		log.Fatal().Err(err).Msg("conductor exited")
	}
}

func run(configPath string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	setupLogging(cfg.Log)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	config.Set(cfg)

	log.Info().Str("version", Version).Msg("conductor starting")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	providers, err := buildProviders(cfg)
	if err != nil {
		return err
	}
	pool, err := provider.NewPool(providers,
		time.Duration(cfg.Probe.LocalIntervalSecs)*time.Second,
		time.Duration(cfg.Probe.CloudIntervalSecs)*time.Second,
	)
	if err != nil {
		return err
	}
	pool.StartProbing(ctx)

	embedder, store := buildRAG(ctx, cfg)
	if pg, ok := store.(*rag.PGStore); ok && pg != nil {
		defer pg.Close()
	}

	var responseCache *cache.Cache
	if cfg.Cache.Enabled {
		responseCache = cache.New(time.Duration(cfg.Cache.TTLHours)*time.Hour, cfg.Cache.MaxEntries)
	}

	var recorder *telemetry.Recorder
	if cfg.Telemetry.Enabled {
		recorder, err = telemetry.Open(cfg.Telemetry.Path)
		if err != nil {
			log.Warn().Err(err).Msg("telemetry disabled: failed to open database")
			recorder = nil
		} else {
			defer recorder.Close()
		}
	}

	engine := cascade.New(func(a cascade.Attempt) {
		metrics.CascadeAttemptsTotal.WithLabelValues(a.Provider, a.Result).Inc()
		metrics.ProviderLatency.WithLabelValues(a.Provider).Observe(a.Latency.Seconds())
	})

	rt := router.New(buildClassifier(cfg.Classifier))

	orch := orchestrator.New(orchestrator.Params{
		Router:   rt,
		Pool:     pool,
		Engine:   engine,
		Embedder: embedder,
		Store:    store,
		Cache:    responseCache,
		Recorder: recorder,
	})

	srv := server.New(server.Config{
		Addr:           cfg.Server.Addr,
		BearerToken:    cfg.Server.BearerToken,
		RateLimitRPS:   cfg.Server.RateLimitRPS,
		RateLimitBurst: cfg.Server.RateLimitBurst,
		RequestTimeout: time.Duration(cfg.Server.RequestTimeoutSecs) * time.Second,
	}, orch)

	watchConfig(ctx, configPath, rt)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFromPath(path)
	}
	return config.Load()
}

func setupLogging(cfg config.LogConfig) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func buildClassifier(cfg config.ClassifierConfig) *router.Classifier {
	return router.NewClassifier(router.ClassifierParams{
		Keywords:   cfg.Keywords,
		NormalMin:  cfg.NormalMinChars,
		ComplexMin: cfg.ComplexMinChars,
		Simple:     router.Budget{ChunkCount: cfg.Simple.Chunks, CharLimit: cfg.Simple.CharLimit},
		Normal:     router.Budget{ChunkCount: cfg.Normal.Chunks, CharLimit: cfg.Normal.CharLimit},
		Complex:    router.Budget{ChunkCount: cfg.Complex.Chunks, CharLimit: cfg.Complex.CharLimit},
	})
}

func buildProviders(cfg *config.Config) ([]provider.Provider, error) {
	var out []provider.Provider
	for _, pc := range cfg.Providers {
		kind, err := provider.ParseKind(pc.Kind)
		if err != nil {
			return nil, err
		}
		caps := make([]provider.Capability, 0, len(pc.Capabilities))
		for _, c := range pc.Capabilities {
			cap, err := provider.ParseCapability(c)
			if err != nil {
				return nil, err
			}
			caps = append(caps, cap)
		}
		desc := provider.Descriptor{
			Name:         pc.Name,
			Kind:         kind,
			KindName:     kind.String(),
			Priority:     pc.Priority,
			Capabilities: caps,
			Model:        pc.Model,
			Timeout:      time.Duration(pc.TimeoutSecs) * time.Second,
		}

		apiKey := ""
		if pc.APIKeyEnv != "" {
			apiKey = os.Getenv(pc.APIKeyEnv)
		}

		switch {
		case kind == provider.KindLocal:
			out = append(out, provider.NewOllama(desc, pc.URL, pc.MaxTokens))
		case pc.APIKeyEnv == "OPENAI_API_KEY":
			p, err := provider.NewOpenAI(desc, apiKey, pc.MaxTokens, pc.RateLimitRPS)
			if err != nil {
				log.Warn().Str("provider", pc.Name).Err(err).Msg("skipping unconfigured provider")
				continue
			}
			out = append(out, p)
		default:
			out = append(out, provider.NewOpenRouter(desc, pc.URL, apiKey, pc.MaxTokens, pc.RateLimitRPS))
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no usable providers configured")
	}
	return out, nil
}

// buildRAG wires the retrieval stack. Both pieces are optional: without
// a database URL the service answers from model knowledge alone and
// doc-pinned queries fail with a typed error.
func buildRAG(ctx context.Context, cfg *config.Config) (rag.Embedder, rag.Store) {
	var embedder rag.Embedder
	switch cfg.RAG.Embedder {
	case "openai":
		e, err := rag.NewOpenAIEmbedder(os.Getenv("OPENAI_API_KEY"), cfg.RAG.EmbedModel)
		if err != nil {
			log.Warn().Err(err).Msg("openai embedder unavailable")
		} else {
			embedder = e
		}
	default:
		embedder = rag.NewOllamaEmbedder(cfg.RAG.EmbedURL, cfg.RAG.EmbedModel)
	}

	if cfg.RAG.DatabaseURL == "" {
		log.Info().Msg("no chunk store configured, retrieval disabled")
		return embedder, nil
	}
	store, err := rag.NewPGStore(ctx, cfg.RAG.DatabaseURL, cfg.RAG.Table)
	if err != nil {
		log.Warn().Err(err).Msg("chunk store unavailable")
		return embedder, nil
	}
	return embedder, store
}

// watchConfig hot-reloads the config file. Log level and the classifier
// keyword/threshold table apply immediately; provider changes need a
// restart.
func watchConfig(ctx context.Context, configPath string, rt *router.Router) {
	path := configPath
	if path == "" {
		p, err := config.DefaultPath()
		if err != nil {
			return
		}
		path = p
	}
	if _, err := os.Stat(path); err != nil {
		return
	}

	w, err := config.NewWatcher(path, func(cfg *config.Config) {
		setupLogging(cfg.Log)
		rt.SetClassifier(buildClassifier(cfg.Classifier))
	})
	if err != nil {
		log.Warn().Err(err).Msg("config watcher unavailable")
		return
	}
	if err := w.Watch(ctx); err != nil {
		log.Warn().Err(err).Msg("config watcher failed to start")
		w.Close()
	}
}

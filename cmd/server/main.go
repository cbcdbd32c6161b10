// Command server runs the retrieval and fusion pipeline behind an HTTP API.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"memfuse/internal/api"
	"memfuse/internal/config"
	"memfuse/internal/diagnostics"
	"memfuse/internal/embeddings"
	"memfuse/internal/llm"
	"memfuse/internal/logging"
	"memfuse/internal/pipeline"
	"memfuse/internal/storage"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	logger := logging.NewLogger(logging.ParseLogLevel(cfg.Logging.Level), cfg.Logging.Format)
	logger.Info("starting memfuse",
		"store", cfg.Store.Provider,
		"pilot_mode", cfg.PilotMode,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, err := buildStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	embedder, err := buildEmbedder(ctx, cfg, logger)
	if err != nil {
		return err
	}

	var generator llm.Client
	if cfg.OpenAI.APIKey != "" {
		generator, err = llm.NewOpenAIClient(&cfg.OpenAI)
		if err != nil {
			return fmt.Errorf("failed to create generation client: %w", err)
		}
	} else {
		logger.Warn("no OpenAI API key, answer generation disabled")
	}

	snapshots := pipeline.NewSnapshotCache(&cfg.Redis, logger)
	if snapshots != nil {
		defer func() { _ = snapshots.Close() }()
	}

	hub := diagnostics.NewHub(logger)
	sink := diagnostics.NewMultiSink(diagnostics.NewLogSink(logger), hub)

	orchestrator := pipeline.NewOrchestrator(cfg, store, embedder, generator, sink, snapshots, logger)
	ingestor := pipeline.NewIngestor(cfg, store, embedder, logger)
	server := api.NewServer(cfg, orchestrator, ingestor, store, snapshots, hub, logger)

	errCh := make(chan error, 1)
	go func() { errCh <- server.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func buildStore(ctx context.Context, cfg *config.Config, logger logging.Logger) (storage.VectorStore, error) {
	var store storage.VectorStore
	switch cfg.Store.Provider {
	case "sqlite":
		store = storage.NewSQLiteStore(cfg.Store.SQLitePath, logger)
	default:
		store = storage.NewQdrantStore(&cfg.Store, logger)
	}

	if err := store.Initialize(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize %s store: %w", cfg.Store.Provider, err)
	}
	return store, nil
}

func buildEmbedder(ctx context.Context, cfg *config.Config, logger logging.Logger) (embeddings.Service, error) {
	var backend embeddings.Service
	if cfg.OpenAI.APIKey != "" {
		svc, err := embeddings.NewOpenAIService(&cfg.OpenAI)
		if err != nil {
			return nil, fmt.Errorf("failed to create embedding service: %w", err)
		}
		backend = svc
	} else {
		logger.Warn("no OpenAI API key, using hash embeddings (development only)")
		backend = embeddings.NewHashService(0)
	}

	if err := embeddings.CheckSanity(ctx, backend, cfg.PilotMode); err != nil {
		return nil, err
	}

	ttl := time.Duration(cfg.OpenAI.CacheTTLMin) * time.Minute
	return embeddings.NewCachedService(backend, cfg.OpenAI.CacheSize, ttl), nil
}

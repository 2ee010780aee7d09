package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	pernai "github.com/pernai/pernai"
	"github.com/pernai/pernai/ingest"
	"github.com/pernai/pernai/internal/config"
	"github.com/pernai/pernai/internal/server"
	"github.com/pernai/pernai/observer"
	"github.com/pernai/pernai/provider/anthropic"
	"github.com/pernai/pernai/provider/gemini"
	"github.com/pernai/pernai/provider/openai"
	"github.com/pernai/pernai/store/postgres"
	"github.com/pernai/pernai/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	cfg := config.Load(os.Getenv("PERNAI_CONFIG"))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("fatal", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	// Observability (optional).
	var inst *observer.Instruments
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var shutdown func(context.Context) error
		var err error
		inst, shutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			return err
		}
		defer func() {
			sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = shutdown(sctx)
		}()
	}

	// Embedding provider.
	var embedding pernai.EmbeddingProvider
	switch cfg.Embedding.Provider {
	case "openai":
		embedding = openai.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	case "gemini":
		embedding = gemini.NewEmbedding(cfg.Embedding.APIKey, cfg.Embedding.Model, cfg.Embedding.Dimensions)
	default:
		logger.Warn("unknown embedding provider; ingestion and retrieval disabled",
			"provider", cfg.Embedding.Provider)
	}
	if embedding != nil && cfg.Embedding.APIKey == "" {
		logger.Warn("embedding api key missing; ingestion and retrieval disabled")
		embedding = nil
	}
	if embedding != nil {
		if cfg.Embedding.Retry {
			embedding = pernai.WithEmbedRetry(embedding, pernai.RetryLogger(logger))
		}
		if inst != nil {
			embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
		}
	}

	// Chat provider.
	var chatLLM pernai.Provider
	if cfg.LLM.APIKey != "" {
		chatLLM = anthropic.New(cfg.LLM.APIKey, cfg.LLM.Model)
		if inst != nil {
			chatLLM = observer.WrapProvider(chatLLM, cfg.LLM.Model, inst)
		}
	} else {
		logger.Warn("llm api key missing; chat endpoints disabled")
	}

	// Chunk store.
	var store pernai.ChunkStore
	switch cfg.Database.Driver {
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Database.PostgresURL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
	default:
		store = sqlite.New(cfg.Database.Path, sqlite.WithLogger(logger))
	}
	defer store.Close()
	if err := store.Init(ctx); err != nil {
		return err
	}

	// Ingestion + retrieval.
	ingestor := ingest.NewIngestor(store, embedding,
		ingest.WithChunker(ingest.NewWindowChunker(
			ingest.WithChunkTokens(cfg.Ingest.ChunkTokens),
			ingest.WithOverlapTokens(cfg.Ingest.OverlapTokens),
			ingest.WithMaxChunks(cfg.Ingest.MaxChunks),
			ingest.WithMaxChars(cfg.Ingest.MaxChunkChars),
		)),
		ingest.WithBatchSize(cfg.Ingest.BatchSize),
		ingest.WithOpTimeout(time.Duration(cfg.Ingest.OpTimeoutSeconds)*time.Second),
		ingest.WithLogger(logger),
	)

	var retriever pernai.Retriever = pernai.NewVectorRetriever(store, embedding)
	if inst != nil {
		retriever = observer.WrapRetriever(retriever, inst)
	}

	// HTTP server.
	srv := &http.Server{
		Addr: cfg.Server.Addr,
		Handler: server.New(
			server.WithProvider(chatLLM),
			server.WithRetriever(retriever),
			server.WithIngestor(ingestor),
			server.WithStore(store),
			server.WithLogger(logger),
			server.WithTopK(cfg.Retrieval.TopK),
		).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening", "addr", cfg.Server.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(sctx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

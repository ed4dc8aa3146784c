// Package main is the entrypoint for the CopyForge API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kiranshivaraju/copyforge/internal/ai"
	"github.com/kiranshivaraju/copyforge/internal/api"
	"github.com/kiranshivaraju/copyforge/internal/api/handler"
	mw "github.com/kiranshivaraju/copyforge/internal/api/middleware"
	"github.com/kiranshivaraju/copyforge/internal/batch"
	"github.com/kiranshivaraju/copyforge/internal/cache"
	"github.com/kiranshivaraju/copyforge/internal/config"
	"github.com/kiranshivaraju/copyforge/internal/learning"
	"github.com/kiranshivaraju/copyforge/internal/notify"
	"github.com/kiranshivaraju/copyforge/internal/queue"
	"github.com/kiranshivaraju/copyforge/internal/store"
	"github.com/kiranshivaraju/copyforge/pkg/models"
)

const (
	shutdownTimeout = 30 * time.Second
	requestsPerMin  = 60
)

func main() {
	slog.SetDefault(newLogger(os.Getenv("LOG_LEVEL")))

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

// newLogger returns a JSON logger at the named level, falling back to info.
func newLogger(level string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: lvl}))
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "ai_provider", cfg.AI.Provider, "env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, cfg.Database.MigrationsDir); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create AI provider and the content generator on top of it
	aiProvider, err := ai.NewProvider(cfg.AI)
	if err != nil {
		return fmt.Errorf("create AI provider: %w", err)
	}
	slog.Info("AI provider initialized", "provider", aiProvider.Name())

	pgStore := store.NewPostgresStore(pool)
	generator := ai.NewGenerator(aiProvider, pgStore, cfg.Records.BaseURL)

	// 6. Batch service. Its context outlives the signal so Shutdown can
	// cancel batches after the HTTP server has drained.
	reporters := notify.Factory(notify.Sinks{
		Cache:           redisCache,
		Jobs:            pgStore,
		SlackWebhookURL: cfg.Notify.SlackWebhookURL,
		SendTimeout:     cfg.Notify.SendTimeout,
	})
	svc := batch.NewService(context.Background(), generator,
		batchOptions(cfg.Batch, ai.NewSummarizer(aiProvider)), reporters, pgStore)
	svc.SetRetention(cfg.Batch.Retention)

	// 7. Build router with dependencies
	router := api.NewRouter(buildDependencies(svc, pgStore, redisCache))

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	if err := svc.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("batch shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// batchOptions maps the environment defaults onto batch.Options.
func batchOptions(c config.BatchConfig, summarizer learning.Summarizer) batch.Options {
	return batch.Options{
		Mode:           models.BatchModeAuto,
		Concurrency:    c.Concurrency,
		MaxQueueDepth:  c.MaxQueueDepth,
		AttemptTimeout: c.AttemptTimeout,
		Retry: queue.FixedRetryPolicy{
			MaxAttempts:    c.MaxAttempts,
			Delay:          c.RetryDelay,
			ExhaustedDelay: c.ExhaustedDelay,
		},
		SequentialThreshold:    c.SequentialThreshold,
		CheckpointEvery:        c.CheckpointEvery,
		MaxConsecutiveFailures: c.MaxConsecutiveFailures,
		CheckpointWait:         c.CheckpointWait,
		RequireResume:          c.RequireResume,
		Learning: learning.Config{
			CompactEvery:    c.CompactEvery,
			MaxContextBytes: c.ContextMaxBytes,
		},
		Summarizer: summarizer,
	}
}

// buildDependencies wires every route of the API to its handler.
func buildDependencies(svc *batch.Service, s store.Store, c cache.Cache) api.Dependencies {
	return api.Dependencies{
		Auth:      mw.NewAuth(s),
		RateLimit: mw.NewRateLimit(c, requestsPerMin),

		HealthHandler: handler.NewHealthHandler(s, c),

		SubmitBatch: handler.NewSubmitBatchHandler(svc),
		GetBatch:    handler.NewGetBatchHandler(svc, s),
		CancelBatch: handler.NewCancelBatchHandler(svc),
		ResumeBatch: handler.NewResumeBatchHandler(svc),
		ReplaceItem: handler.NewReplaceItemHandler(svc),
		ArchiveItem: handler.NewArchiveItemHandler(svc),
		GetJob:      handler.NewGetJobHandler(c),
		GetRecord:   handler.NewGetRecordHandler(s),

		CreateKeyHandler: handler.NewCreateKeyHandler(s),
		ListKeysHandler:  handler.NewListKeysHandler(s),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(s),
	}
}

package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/adminhub/sync-engine/internal/api"
	"github.com/adminhub/sync-engine/internal/cache"
	"github.com/adminhub/sync-engine/internal/config"
	"github.com/adminhub/sync-engine/internal/engine"
	"github.com/adminhub/sync-engine/internal/feed"
	"github.com/adminhub/sync-engine/internal/metrics"
	"github.com/adminhub/sync-engine/internal/remote"
	"github.com/adminhub/sync-engine/internal/store"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize PostgreSQL
	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL, store.PoolConfig{
		MaxConns:        int32(cfg.DBMaxConns),
		MaxConnLifetime: cfg.DBConnLifetime,
	})
	if err != nil {
		logger.Error("failed to connect to postgres", "error", err)
		os.Exit(1)
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if err := pgStore.RunMigrations(ctx, "migrations"); err != nil {
		logger.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	logger.Info("database migrations applied")

	// Initialize Redis-backed cache
	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		logger.Error("failed to connect to redis", "error", err)
		os.Exit(1)
	}
	defer redisStore.Close()
	logger.Info("connected to Redis")

	sharedCache := cache.NewRedisCache(redisStore.Client())

	// Prometheus registry and collectors
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	m := metrics.New(registry, pgStore, logger)

	// Remote client with cached-token auth
	remoteClient := remote.NewClient(remote.Config{
		BaseURL:      cfg.RemoteBaseURL,
		ClientID:     cfg.RemoteClientID,
		ClientSecret: cfg.RemoteClientSecret,
		Timeout:      cfg.RemoteTimeout,
	}, sharedCache, logger)

	// Live outcome feed
	hub := feed.NewHub(logger)
	go hub.Run()

	// Dispatcher and its poll loop
	dispatcher := engine.NewDispatcher(engine.Config{
		Queue:        cfg.QueueName,
		BatchSize:    cfg.BatchSize,
		MaxRetries:   cfg.MaxRetries,
		Backoff:      engine.Backoff{Base: cfg.BackoffBase, Cap: cfg.BackoffCap},
		ClaimTimeout: cfg.ClaimTimeout,
	}, pgStore, pgStore, pgStore, remoteClient, engine.NewPool(cfg.NumWorkers), m, hub, logger)

	loop := engine.NewLoop(dispatcher, cfg.PollInterval, m, logger)
	go loop.Start(ctx)

	// Retention sweeper for terminal queue rows and old audit rows
	sweeper := engine.NewSweeper(pgStore, cfg.RetentionPeriod, cfg.SweepInterval, logger)
	go sweeper.Start(ctx)

	// Operator API
	router := api.NewRouter(pgStore, hub, registry)

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		logger.Info("server starting", "port", cfg.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down...")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}

	logger.Info("server stopped")
}

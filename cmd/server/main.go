// Package main is the entrypoint for the TrackPulse API server.
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

	"github.com/trackpulse/trackpulse/internal/api"
	"github.com/trackpulse/trackpulse/internal/api/handler"
	mw "github.com/trackpulse/trackpulse/internal/api/middleware"
	"github.com/trackpulse/trackpulse/internal/api/response"
	"github.com/trackpulse/trackpulse/internal/cache"
	"github.com/trackpulse/trackpulse/internal/config"
	"github.com/trackpulse/trackpulse/internal/hub"
	"github.com/trackpulse/trackpulse/internal/queue"
	"github.com/trackpulse/trackpulse/internal/store"
	"github.com/trackpulse/trackpulse/internal/submit"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config — fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "queue_backend", cfg.Queue.Backend, "env", cfg.Server.Env)

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
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
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

	// 5. Create the analysis queue
	var q queue.Queue
	switch cfg.Queue.Backend {
	case "postgres":
		q = queue.NewPostgresQueue(pool, cfg.Queue.Name)
	default:
		q = queue.NewRedisQueueFromClient(redisCache.Client(), cfg.Queue.Name, cfg.Queue.DedupWindow)
	}
	slog.Info("queue initialized", "backend", cfg.Queue.Backend, "name", cfg.Queue.Name)

	// 6. Create store and submitter
	pgStore := store.NewPostgresStore(pool)
	submitter := submit.NewSubmitter(q, pgStore)

	// 7. Start the broadcast hub
	broadcastHub := hub.New(hub.Options{
		SendBuffer:   cfg.Hub.SendBuffer,
		WriteTimeout: cfg.Hub.WriteTimeout,
	})
	go broadcastHub.Run(ctx)

	// 8. Build router with dependencies
	rateLimit := mw.NewRateLimit(redisCache, 60)

	deps := api.Dependencies{
		RateLimit: rateLimit,

		HealthHandler:         healthHandler(pgStore, redisCache, q),
		SubmitHandler:         handler.NewSubmitHandler(submitter),
		SubmitPlaylistHandler: handler.NewSubmitPlaylistHandler(submitter),
		ActiveJobHandler:      handler.NewActiveJobHandler(pgStore, redisCache),
		GetJobHandler:         handler.NewGetJobHandler(pgStore, redisCache),
		CancelJobHandler:      handler.NewCancelJobHandler(pgStore, redisCache),
		ListDLQHandler:        handler.NewListDLQHandler(q),
		ReprocessHandler:      handler.NewReprocessHandler(q),

		NotifyHandler: broadcastHub.NotifyHandler,
		WSHandler:     broadcastHub.ServeWS,
	}

	router := api.NewRouter(deps)

	// 9. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// healthHandler checks database, cache and queue connectivity.
func healthHandler(s store.Store, c cache.Cache, q queue.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
			"queue":    "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if err := q.Ping(r.Context()); err != nil {
			checks["queue"] = "degraded"
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status": "ok",
			"checks": checks,
		})
	}
}

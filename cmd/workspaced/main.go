package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/app/migrate"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/httpx"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/repository/postgres"
	dockerruntime "github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime/docker"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/auth"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/workspace"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/storage"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/config"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/logger"
)

func main() {
	cfg := config.LoadWorkspacedConfig()
	log := logger.New("workspaced", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	backend, err := dockerruntime.New(cfg.Workspace.DockerHost)
	if err != nil {
		log.Error("failed to create docker client", "error", err)
		os.Exit(1)
	}
	defer backend.Close()
	if err := backend.Ping(ctx); err != nil {
		log.Error("docker ping failed", "error", err)
		os.Exit(1)
	}

	store, err := storage.New(cfg.Workspace.StorageRoot)
	if err != nil {
		log.Error("storage init failed", "error", err, "root", cfg.Workspace.StorageRoot)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	manager := workspace.NewManager(backend, repo, store, log, cfg.Workspace)
	authSvc := auth.New(repo, log, cfg)

	var limiter httpx.RateLimiter
	if cfg.RateLimitRedisAddr != "" {
		limiter, err = httpx.NewRedisRateLimiter(cfg.RateLimitRedisAddr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory fallback", "error", err)
			limiter = nil
		}
	}

	router := httpx.NewRouter(log, authSvc, manager, limiter, pool.Ping)
	defer router.Close()

	if reaper := workspace.NewReaper(manager, log, cfg.ReapInterval, cfg.Workspace.IdleTimeout); reaper != nil {
		go reaper.Run(ctx)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("workspaced server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("workspaced server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}

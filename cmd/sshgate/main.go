package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/gateway"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/repository/postgres"
	dockerruntime "github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime/docker"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/auth"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/service/workspace"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/storage"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/config"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/logger"
)

func main() {
	cfg := config.LoadGatewayConfig()
	log := logger.New("sshgate", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer pool.Close()
	if err := pool.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
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
	authSvc := auth.New(repo, log, config.WorkspacedConfig{Workspace: cfg.Workspace})

	hostKey, err := gateway.LoadOrCreateHostKey(cfg.HostKeyPath)
	if err != nil {
		log.Error("host key setup failed", "error", err, "path", cfg.HostKeyPath)
		os.Exit(1)
	}
	log.Info("host key loaded", "fingerprint", gateway.Fingerprint(hostKey))

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	srv := gateway.NewServer(addr, hostKey, authSvc, manager, log, cfg.MaxConns, cfg.ShellReadyTimeout)

	if err := srv.Serve(ctx); err != nil {
		log.Error("gateway server error", "error", err)
		os.Exit(1)
	}
	log.Info("ssh gateway stopped")
}

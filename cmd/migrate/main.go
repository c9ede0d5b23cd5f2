package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/app/migrate"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/config"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/logger"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: migrate <up|status|down> [flags]")
	fmt.Fprintln(os.Stderr, "  up      apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  status  show migration status")
	fmt.Fprintln(os.Stderr, "  down    roll back the latest migration (-to rolls back to a version)")
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	command := os.Args[1]

	downFlags := flag.NewFlagSet("down", flag.ExitOnError)
	downTo := downFlags.Int64("to", 0, "roll back down to this version")

	cfg := config.LoadWorkspacedConfig()
	log := logger.New("migrate", slog.LevelInfo)

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

	switch command {
	case "up":
		err = runner.Ensure(ctx)
	case "status":
		err = runner.Status(ctx)
	case "down":
		if parseErr := downFlags.Parse(os.Args[2:]); parseErr != nil {
			os.Exit(2)
		}
		err = runner.Down(ctx, *downTo)
	default:
		usage()
	}
	if err != nil {
		log.Error("migration command failed", "command", command, "error", err)
		os.Exit(1)
	}
}

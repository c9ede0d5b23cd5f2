package workspace

import (
	"context"
	"log/slog"
	"time"
)

const reapIterationTimeout = 2 * time.Minute

// Reaper periodically stops workspaces idle beyond the configured threshold.
type Reaper struct {
	manager  *Manager
	logger   *slog.Logger
	interval time.Duration
	idleFor  time.Duration
}

// NewReaper constructs a Reaper. It returns nil when idle cleanup is disabled.
func NewReaper(manager *Manager, logger *slog.Logger, interval, idleFor time.Duration) *Reaper {
	if manager == nil || interval <= 0 || idleFor <= 0 {
		return nil
	}
	if logger != nil {
		logger = logger.With("component", "reaper")
	}
	return &Reaper{manager: manager, logger: logger, interval: interval, idleFor: idleFor}
}

// Run executes the cleanup loop until the context is cancelled.
func (r *Reaper) Run(ctx context.Context) {
	if r == nil {
		return
	}
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.logger.Info("workspace reaper started", "interval", r.interval, "idle_after", r.idleFor)
	r.runIteration(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("workspace reaper stopped")
			return
		case <-ticker.C:
			r.runIteration(ctx)
		}
	}
}

func (r *Reaper) runIteration(parent context.Context) {
	opCtx, cancel := context.WithTimeout(parent, reapIterationTimeout)
	defer cancel()

	stopped, err := r.manager.CleanupIdle(opCtx, r.idleFor)
	if err != nil {
		r.logger.Warn("idle cleanup failed", "error", err)
		return
	}
	if stopped > 0 {
		r.logger.Info("idle cleanup complete", "stopped", stopped)
	}
}

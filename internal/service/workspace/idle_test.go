package workspace

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
)

func seedRunningWorkspace(t *testing.T, m *Manager, rt *fakeRuntime, repo *fakeWorkspaceRepo, userID string, lastActivity time.Time) runtime.Container {
	t.Helper()
	user := &domain.User{ID: userID, Username: userID}
	c, err := m.EnsureRunning(context.Background(), user)
	if err != nil {
		t.Fatalf("EnsureRunning for %s failed: %v", userID, err)
	}
	repo.mu.Lock()
	activity := lastActivity
	repo.records[userID].LastActivityAt = &activity
	repo.mu.Unlock()
	return c
}

func TestListIdleRespectsThreshold(t *testing.T) {
	now := time.Now()
	rt := newFakeRuntime()
	repo := newFakeWorkspaceRepo()
	m := newTestManager(t, rt, repo, now)

	seedRunningWorkspace(t, m, rt, repo, "stale", now.Add(-31*time.Minute))
	seedRunningWorkspace(t, m, rt, repo, "fresh", now.Add(-29*time.Minute))

	idle, err := m.ListIdle(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("ListIdle failed: %v", err)
	}
	if len(idle) != 1 {
		t.Fatalf("expected 1 idle workspace, got %d", len(idle))
	}
	if idle[0].Workspace.UserID != "stale" {
		t.Fatalf("wrong workspace reported idle: %s", idle[0].Workspace.UserID)
	}
}

func TestListIdleReconcilesStaleRecords(t *testing.T) {
	now := time.Now()
	rt := newFakeRuntime()
	repo := newFakeWorkspaceRepo()
	m := newTestManager(t, rt, repo, now)

	c := seedRunningWorkspace(t, m, rt, repo, "gone", now.Add(-2*time.Hour))
	// The container vanished outside our control; the record still says running.
	if err := rt.Remove(context.Background(), c.ID, true); err != nil {
		t.Fatalf("fake remove failed: %v", err)
	}

	idle, err := m.ListIdle(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("ListIdle failed: %v", err)
	}
	if len(idle) != 0 {
		t.Fatalf("expected no idle workspaces, got %d", len(idle))
	}
	rec := repo.record("gone")
	if rec == nil || rec.IsRunning {
		t.Fatalf("expected stale record to be corrected, got %+v", rec)
	}
}

func TestCleanupIdleStopsWorkspaces(t *testing.T) {
	now := time.Now()
	rt := newFakeRuntime()
	repo := newFakeWorkspaceRepo()
	m := newTestManager(t, rt, repo, now)

	stale := seedRunningWorkspace(t, m, rt, repo, "stale", now.Add(-time.Hour))
	fresh := seedRunningWorkspace(t, m, rt, repo, "fresh", now)

	stopped, err := m.CleanupIdle(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("CleanupIdle failed: %v", err)
	}
	if stopped != 1 {
		t.Fatalf("expected 1 workspace stopped, got %d", stopped)
	}

	staleState, err := rt.ContainerByName(context.Background(), stale.Name)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if staleState.Running {
		t.Fatalf("expected idle container to be stopped")
	}
	freshState, err := rt.ContainerByName(context.Background(), fresh.Name)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !freshState.Running {
		t.Fatalf("expected active container to keep running")
	}
}

func TestCleanupIdleIsolatesPerUserFailures(t *testing.T) {
	now := time.Now()
	rt := newFakeRuntime()
	repo := newFakeWorkspaceRepo()
	m := newTestManager(t, rt, repo, now)

	broken := seedRunningWorkspace(t, m, rt, repo, "broken", now.Add(-time.Hour))
	healthy := seedRunningWorkspace(t, m, rt, repo, "healthy", now.Add(-time.Hour))

	// One container refuses to stop; the rest of the batch must still be
	// processed.
	rt.onStop = func(id string) error {
		if id == broken.ID {
			return &runtime.Error{Op: "stop", Err: fmt.Errorf("daemon timeout")}
		}
		return nil
	}

	stopped, err := m.CleanupIdle(context.Background(), 30*time.Minute)
	if err != nil {
		t.Fatalf("CleanupIdle failed: %v", err)
	}
	if stopped != 1 {
		t.Fatalf("expected 1 workspace stopped despite the failure, got %d", stopped)
	}

	healthyState, err := rt.ContainerByName(context.Background(), healthy.Name)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if healthyState.Running {
		t.Fatalf("expected healthy container to be stopped")
	}
	brokenState, err := rt.ContainerByName(context.Background(), broken.Name)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if !brokenState.Running {
		t.Fatalf("expected failing container to remain running")
	}
	if rec := repo.record("healthy"); rec == nil || rec.IsRunning {
		t.Fatalf("expected healthy record marked stopped, got %+v", rec)
	}
}

func TestReaperStopsIdleWorkspaces(t *testing.T) {
	now := time.Now()
	rt := newFakeRuntime()
	repo := newFakeWorkspaceRepo()
	m := newTestManager(t, rt, repo, now)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	stale := seedRunningWorkspace(t, m, rt, repo, "stale", now.Add(-time.Hour))

	reaper := NewReaper(m, logger, time.Second, 30*time.Minute)
	if reaper == nil {
		t.Fatalf("expected reaper to be created")
	}
	reaper.runIteration(context.Background())

	state, err := rt.ContainerByName(context.Background(), stale.Name)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if state.Running {
		t.Fatalf("expected reaper to stop the idle container")
	}
}

func TestNewReaperDisabled(t *testing.T) {
	now := time.Now()
	m := newTestManager(t, newFakeRuntime(), newFakeWorkspaceRepo(), now)
	logger := slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{}))

	if NewReaper(nil, logger, time.Second, time.Minute) != nil {
		t.Fatalf("expected nil reaper without a manager")
	}
	if NewReaper(m, logger, 0, time.Minute) != nil {
		t.Fatalf("expected nil reaper with zero interval")
	}
	if NewReaper(m, logger, time.Second, 0) != nil {
		t.Fatalf("expected nil reaper with zero idle threshold")
	}
}

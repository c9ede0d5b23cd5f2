package workspace

import (
	"context"
	"errors"
	"time"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
)

// IdleWorkspace pairs an idle record with its live container.
type IdleWorkspace struct {
	Workspace domain.Workspace
	Container runtime.Container
}

// ListIdle returns workspaces marked running whose last activity is older than
// idleFor, confirmed against the runtime. When the runtime disagrees with the
// record (container gone or stopped externally), the record is corrected to
// not-running and the workspace is excluded.
func (m *Manager) ListIdle(ctx context.Context, idleFor time.Duration) ([]IdleWorkspace, error) {
	cutoff := m.now().UTC().Add(-idleFor)
	records, err := m.workspaces.ListIdleWorkspaces(ctx, cutoff)
	if err != nil {
		return nil, err
	}

	var idle []IdleWorkspace
	for _, rec := range records {
		name := rec.ContainerName
		if name == "" {
			name = ContainerName(rec.UserID)
		}
		c, err := m.runtime.ContainerByName(ctx, name)
		if errors.Is(err, runtime.ErrNotFound) || (err == nil && !c.Running) {
			// The runtime is authoritative; the record was stale.
			if markErr := m.workspaces.MarkWorkspaceStopped(ctx, rec.UserID, m.now().UTC()); markErr != nil {
				m.logger.Warn("failed to reconcile stale workspace record", "user_id", rec.UserID, "error", markErr)
			}
			continue
		}
		if err != nil {
			m.logger.Warn("failed to inspect idle candidate", "user_id", rec.UserID, "container", name, "error", err)
			continue
		}
		idle = append(idle, IdleWorkspace{Workspace: rec, Container: c})
	}
	return idle, nil
}

// CleanupIdle stops every idle workspace and returns how many were stopped.
// One user's failure never aborts the rest of the batch.
func (m *Manager) CleanupIdle(ctx context.Context, idleFor time.Duration) (int, error) {
	idle, err := m.ListIdle(ctx, idleFor)
	if err != nil {
		return 0, err
	}

	stopped := 0
	for _, ws := range idle {
		unlock := m.lockUser(ws.Workspace.UserID)
		ok, err := m.stopLocked(ctx, ws.Workspace.UserID, m.cfg.StopTimeout)
		unlock()
		if err != nil {
			m.logger.Warn("failed to stop idle workspace", "user_id", ws.Workspace.UserID, "container_id", ws.Container.ID, "error", err)
			continue
		}
		if ok {
			stopped++
			m.logger.Info("idle workspace stopped", "user_id", ws.Workspace.UserID, "container_id", ws.Container.ID)
		}
	}
	return stopped, nil
}

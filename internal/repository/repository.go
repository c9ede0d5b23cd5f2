package repository

import (
	"context"
	"time"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
)

// UserRepository persists users.
type UserRepository interface {
	CreateUser(ctx context.Context, user *domain.User) error
	GetUserByUsername(ctx context.Context, username string) (*domain.User, error)
	GetUserByID(ctx context.Context, id string) (*domain.User, error)
}

// WorkspaceRepository persists per-user workspace lifecycle records.
// All mutations are single-row upserts keyed by user id.
type WorkspaceRepository interface {
	// GetOrCreateWorkspace returns the user's record, inserting an empty one
	// on first use.
	GetOrCreateWorkspace(ctx context.Context, userID string) (*domain.Workspace, error)
	GetWorkspaceByUser(ctx context.Context, userID string) (*domain.Workspace, error)
	// MarkWorkspaceStarted records the backing container identity and flips
	// the record to running.
	MarkWorkspaceStarted(ctx context.Context, userID, containerID, containerName string, cpuLimit, memoryLimit int64, at time.Time) error
	MarkWorkspaceStopped(ctx context.Context, userID string, at time.Time) error
	// ClearWorkspaceContainer drops the container identity fields after
	// removal. The record itself survives.
	ClearWorkspaceContainer(ctx context.Context, userID string) error
	TouchWorkspaceActivity(ctx context.Context, userID string, at time.Time) error
	// ListIdleWorkspaces returns records marked running whose last activity
	// is older than the cutoff.
	ListIdleWorkspaces(ctx context.Context, cutoff time.Time) ([]domain.Workspace, error)
}

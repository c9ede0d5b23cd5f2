package workspace

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/repository"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/storage"
	"github.com/ywatanabe1989/scitex-cloud-sub001/pkg/config"
)

const (
	containerNamePrefix = "scitex-ws-"
	managedByLabel      = "scitex.managed-by"
	userIDLabel         = "scitex.user-id"

	// how often a busy shell session refreshes last_activity_at
	activityTouchEvery = 30 * time.Second
)

// ContainerName derives the deterministic container name for a user. The
// mapping is pure, so repeated create attempts target the same name and the
// runtime's name uniqueness guarantees at most one container per user.
func ContainerName(userID string) string {
	return containerNamePrefix + userID
}

// Manager owns the lifecycle of one isolated execution environment per user.
type Manager struct {
	runtime    runtime.Runtime
	workspaces repository.WorkspaceRepository
	storage    *storage.Manager
	logger     *slog.Logger
	cfg        config.WorkspaceConfig

	now func() time.Time

	mu        sync.Mutex
	userLocks map[string]*sync.Mutex
}

// NewManager constructs a Manager around an explicit runtime handle.
func NewManager(rt runtime.Runtime, workspaces repository.WorkspaceRepository, store *storage.Manager, logger *slog.Logger, cfg config.WorkspaceConfig) *Manager {
	if logger != nil {
		logger = logger.With("component", "workspace")
	}
	return &Manager{
		runtime:    rt,
		workspaces: workspaces,
		storage:    store,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		userLocks:  make(map[string]*sync.Mutex),
	}
}

// lockUser serializes lifecycle transitions for one user. Different users
// never contend.
func (m *Manager) lockUser(userID string) func() {
	m.mu.Lock()
	lock, ok := m.userLocks[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.userLocks[userID] = lock
	}
	m.mu.Unlock()
	lock.Lock()
	return lock.Unlock
}

// EnsureRunning returns the user's running container, starting a stopped one
// or creating a fresh one as needed. runtime.ErrImageNotFound and wrapped
// runtime failures propagate to the caller.
func (m *Manager) EnsureRunning(ctx context.Context, user *domain.User) (runtime.Container, error) {
	unlock := m.lockUser(user.ID)
	defer unlock()

	if _, err := m.workspaces.GetOrCreateWorkspace(ctx, user.ID); err != nil {
		return runtime.Container{}, fmt.Errorf("load workspace record: %w", err)
	}

	name := ContainerName(user.ID)
	existing, err := m.runtime.ContainerByName(ctx, name)
	switch {
	case err == nil:
		return m.ensureStarted(ctx, user.ID, existing)
	case errors.Is(err, runtime.ErrNotFound):
		return m.create(ctx, user)
	default:
		return runtime.Container{}, err
	}
}

func (m *Manager) ensureStarted(ctx context.Context, userID string, c runtime.Container) (runtime.Container, error) {
	now := m.now().UTC()
	if c.Running {
		if err := m.workspaces.TouchWorkspaceActivity(ctx, userID, now); err != nil {
			m.logger.Warn("failed to touch workspace activity", "user_id", userID, "error", err)
		}
		return c, nil
	}
	if err := m.runtime.Start(ctx, c.ID); err != nil {
		return runtime.Container{}, err
	}
	c.Running = true
	c.State = "running"
	if err := m.workspaces.MarkWorkspaceStarted(ctx, userID, c.ID, c.Name, m.cfg.CPUQuota, m.cfg.MemoryLimitBytes, now); err != nil {
		return runtime.Container{}, fmt.Errorf("record workspace start: %w", err)
	}
	m.logger.Info("workspace container started", "user_id", userID, "container_id", c.ID)
	return c, nil
}

func (m *Manager) create(ctx context.Context, user *domain.User) (runtime.Container, error) {
	dataDir, err := m.storage.EnsureUserDir(user.ID)
	if err != nil {
		return runtime.Container{}, err
	}

	name := ContainerName(user.ID)
	spec := runtime.CreateSpec{
		Name:     name,
		Image:    m.cfg.Image,
		Hostname: "workspace",
		Env: []string{
			"SCITEX_USER_ID=" + user.ID,
			"SCITEX_USERNAME=" + user.Username,
		},
		Labels: map[string]string{
			managedByLabel: "workspaced",
			userIDLabel:    user.ID,
		},
		Binds:       []string{dataDir + ":" + m.cfg.ContainerHome},
		CPUQuota:    m.cfg.CPUQuota,
		MemoryBytes: m.cfg.MemoryLimitBytes,
		WorkingDir:  m.cfg.ContainerHome,
	}

	created, err := m.runtime.Create(ctx, spec)
	if errors.Is(err, runtime.ErrNameConflict) {
		// Lost a create race with a concurrent request for the same user;
		// the existing container is the one we want.
		existing, lookupErr := m.runtime.ContainerByName(ctx, name)
		if lookupErr != nil {
			return runtime.Container{}, lookupErr
		}
		return m.ensureStarted(ctx, user.ID, existing)
	}
	if err != nil {
		return runtime.Container{}, err
	}

	if err := m.runtime.Start(ctx, created.ID); err != nil {
		return runtime.Container{}, err
	}
	created.Running = true
	created.State = "running"
	if err := m.workspaces.MarkWorkspaceStarted(ctx, user.ID, created.ID, created.Name, m.cfg.CPUQuota, m.cfg.MemoryLimitBytes, m.now().UTC()); err != nil {
		return runtime.Container{}, fmt.Errorf("record workspace start: %w", err)
	}
	m.logger.Info("workspace container created", "user_id", user.ID, "container_id", created.ID, "image", m.cfg.Image)
	return created, nil
}

// Stop gracefully stops the user's container. Returns false when no container
// exists, which is not an error.
func (m *Manager) Stop(ctx context.Context, userID string, timeout time.Duration) (bool, error) {
	unlock := m.lockUser(userID)
	defer unlock()
	return m.stopLocked(ctx, userID, timeout)
}

func (m *Manager) stopLocked(ctx context.Context, userID string, timeout time.Duration) (bool, error) {
	c, err := m.runtime.ContainerByName(ctx, ContainerName(userID))
	if errors.Is(err, runtime.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if timeout <= 0 {
		timeout = m.cfg.StopTimeout
	}
	if err := m.runtime.Stop(ctx, c.ID, timeout); err != nil {
		return false, err
	}
	if err := m.workspaces.MarkWorkspaceStopped(ctx, userID, m.now().UTC()); err != nil {
		return false, fmt.Errorf("record workspace stop: %w", err)
	}
	m.logger.Info("workspace container stopped", "user_id", userID, "container_id", c.ID)
	return true, nil
}

// Remove deletes the user's container entirely and clears the record's
// container identity. The user's bind-mounted data survives. Returns false
// when there is nothing to remove.
func (m *Manager) Remove(ctx context.Context, userID string, force bool) (bool, error) {
	unlock := m.lockUser(userID)
	defer unlock()

	c, err := m.runtime.ContainerByName(ctx, ContainerName(userID))
	if errors.Is(err, runtime.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if err := m.runtime.Remove(ctx, c.ID, force); err != nil {
		return false, err
	}
	if err := m.workspaces.ClearWorkspaceContainer(ctx, userID); err != nil {
		return false, fmt.Errorf("clear workspace record: %w", err)
	}
	m.logger.Info("workspace container removed", "user_id", userID, "container_id", c.ID, "force", force)
	return true, nil
}

// Exec ensures a running container, then runs command inside it via a login
// shell, blocking for the command's duration. Output combines stdout and
// stderr.
func (m *Manager) Exec(ctx context.Context, user *domain.User, command, workdir string) (int, []byte, error) {
	c, err := m.EnsureRunning(ctx, user)
	if err != nil {
		return 0, nil, err
	}
	if workdir == "" {
		workdir = m.cfg.ContainerHome
	}
	result, err := m.runtime.Exec(ctx, c.ID, []string{"/bin/bash", "-lc", command}, workdir)
	if err != nil {
		return 0, nil, err
	}
	if err := m.workspaces.TouchWorkspaceActivity(ctx, user.ID, m.now().UTC()); err != nil {
		m.logger.Warn("failed to touch workspace activity", "user_id", user.ID, "error", err)
	}
	return result.ExitCode, result.Output, nil
}

// Status reports the live runtime state of the user's container without
// mutating the record. Returns nil when no container exists.
func (m *Manager) Status(ctx context.Context, userID string) (*domain.WorkspaceStatus, error) {
	c, err := m.runtime.ContainerByName(ctx, ContainerName(userID))
	if errors.Is(err, runtime.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &domain.WorkspaceStatus{
		ContainerID:   c.ID,
		ContainerName: c.Name,
		State:         c.State,
		Image:         c.Image,
		CreatedAt:     c.CreatedAt,
	}, nil
}

// AttachShell ensures a running container and starts an interactive shell in
// it. Bytes flowing through the returned stream refresh the workspace's
// activity timestamp.
func (m *Manager) AttachShell(ctx context.Context, user *domain.User) (runtime.Stream, error) {
	c, err := m.EnsureRunning(ctx, user)
	if err != nil {
		return nil, err
	}
	stream, err := m.runtime.AttachShell(ctx, c.ID)
	if err != nil {
		return nil, err
	}
	return &activityStream{
		Stream: stream,
		touch:  m.touchThrottled(user.ID),
	}, nil
}

// touchThrottled returns a touch callback that persists at most one activity
// refresh per activityTouchEvery window.
func (m *Manager) touchThrottled(userID string) func() {
	var (
		mu   sync.Mutex
		last time.Time
	)
	return func() {
		now := m.now()
		mu.Lock()
		if now.Sub(last) < activityTouchEvery {
			mu.Unlock()
			return
		}
		last = now
		mu.Unlock()

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := m.workspaces.TouchWorkspaceActivity(ctx, userID, now.UTC()); err != nil {
			m.logger.Warn("failed to touch workspace activity", "user_id", userID, "error", err)
		}
	}
}

// activityStream refreshes workspace activity as session bytes flow.
type activityStream struct {
	runtime.Stream
	touch func()
}

func (s *activityStream) Read(p []byte) (int, error) {
	n, err := s.Stream.Read(p)
	if n > 0 {
		s.touch()
	}
	return n, err
}

func (s *activityStream) Write(p []byte) (int, error) {
	n, err := s.Stream.Write(p)
	if n > 0 {
		s.touch()
	}
	return n, err
}

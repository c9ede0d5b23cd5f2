package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/domain"
	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/repository"
)

// Repository implements persistence interfaces on PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// New constructs a Repository.
func New(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ensure Repository satisfies interfaces.
var (
	_ repository.UserRepository      = (*Repository)(nil)
	_ repository.WorkspaceRepository = (*Repository)(nil)
)

// CreateUser inserts a user.
func (r *Repository) CreateUser(ctx context.Context, user *domain.User) error {
	const query = `INSERT INTO users (id, username, email, password_hash, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	_, err := r.pool.Exec(ctx, query, user.ID, user.Username, user.Email, user.PasswordHash, user.IsActive, user.CreatedAt)
	return err
}

// GetUserByUsername fetches a user by username.
func (r *Repository) GetUserByUsername(ctx context.Context, username string) (*domain.User, error) {
	const query = `SELECT id, username, email, password_hash, is_active, created_at FROM users WHERE username = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, username))
}

// GetUserByID retrieves a user by identifier.
func (r *Repository) GetUserByID(ctx context.Context, id string) (*domain.User, error) {
	const query = `SELECT id, username, email, password_hash, is_active, created_at FROM users WHERE id = $1`
	return r.scanUser(r.pool.QueryRow(ctx, query, id))
}

func (r *Repository) scanUser(row pgx.Row) (*domain.User, error) {
	var u domain.User
	if err := row.Scan(&u.ID, &u.Username, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	return &u, nil
}

const workspaceColumns = `user_id, container_id, container_name, is_running,
	last_started_at, last_stopped_at, last_activity_at, cpu_limit, memory_limit,
	created_at, updated_at`

// GetOrCreateWorkspace returns the record for a user, inserting an empty one
// on first use.
func (r *Repository) GetOrCreateWorkspace(ctx context.Context, userID string) (*domain.Workspace, error) {
	const insert = `INSERT INTO workspaces (user_id, created_at, updated_at)
		VALUES ($1, NOW(), NOW())
		ON CONFLICT (user_id) DO NOTHING`
	if _, err := r.pool.Exec(ctx, insert, userID); err != nil {
		return nil, err
	}
	return r.GetWorkspaceByUser(ctx, userID)
}

// GetWorkspaceByUser fetches the workspace record for a user.
func (r *Repository) GetWorkspaceByUser(ctx context.Context, userID string) (*domain.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces WHERE user_id = $1`
	return scanWorkspace(r.pool.QueryRow(ctx, query, userID))
}

// MarkWorkspaceStarted records container identity and flips the record to running.
func (r *Repository) MarkWorkspaceStarted(ctx context.Context, userID, containerID, containerName string, cpuLimit, memoryLimit int64, at time.Time) error {
	const query = `UPDATE workspaces SET
		container_id = $2, container_name = $3, is_running = TRUE,
		last_started_at = $4, last_activity_at = $4,
		cpu_limit = $5, memory_limit = $6, updated_at = NOW()
		WHERE user_id = $1`
	return r.execOne(ctx, query, userID, containerID, containerName, at, cpuLimit, memoryLimit)
}

// MarkWorkspaceStopped flips the record to stopped.
func (r *Repository) MarkWorkspaceStopped(ctx context.Context, userID string, at time.Time) error {
	const query = `UPDATE workspaces SET
		is_running = FALSE, last_stopped_at = $2, updated_at = NOW()
		WHERE user_id = $1`
	return r.execOne(ctx, query, userID, at)
}

// ClearWorkspaceContainer drops container identity after removal.
func (r *Repository) ClearWorkspaceContainer(ctx context.Context, userID string) error {
	const query = `UPDATE workspaces SET
		container_id = NULL, container_name = NULL, is_running = FALSE, updated_at = NOW()
		WHERE user_id = $1`
	return r.execOne(ctx, query, userID)
}

// TouchWorkspaceActivity refreshes the activity timestamp. The GREATEST guard
// keeps last_activity_at monotonically non-decreasing under concurrent touches.
func (r *Repository) TouchWorkspaceActivity(ctx context.Context, userID string, at time.Time) error {
	const query = `UPDATE workspaces SET
		last_activity_at = GREATEST(COALESCE(last_activity_at, $2), $2), updated_at = NOW()
		WHERE user_id = $1`
	return r.execOne(ctx, query, userID, at)
}

// ListIdleWorkspaces returns running records with activity older than cutoff.
func (r *Repository) ListIdleWorkspaces(ctx context.Context, cutoff time.Time) ([]domain.Workspace, error) {
	query := `SELECT ` + workspaceColumns + ` FROM workspaces
		WHERE is_running = TRUE AND last_activity_at IS NOT NULL AND last_activity_at < $1
		ORDER BY last_activity_at ASC`
	rows, err := r.pool.Query(ctx, query, cutoff)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Workspace
	for rows.Next() {
		ws, err := scanWorkspace(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *ws)
	}
	return out, rows.Err()
}

func (r *Repository) execOne(ctx context.Context, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return repository.ErrNotFound
	}
	return nil
}

func scanWorkspace(row pgx.Row) (*domain.Workspace, error) {
	var (
		ws            domain.Workspace
		containerID   *string
		containerName *string
		cpuLimit      *int64
		memoryLimit   *int64
	)
	err := row.Scan(&ws.UserID, &containerID, &containerName, &ws.IsRunning,
		&ws.LastStartedAt, &ws.LastStoppedAt, &ws.LastActivityAt,
		&cpuLimit, &memoryLimit, &ws.CreatedAt, &ws.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, repository.ErrNotFound
		}
		return nil, err
	}
	if containerID != nil {
		ws.ContainerID = *containerID
	}
	if containerName != nil {
		ws.ContainerName = *containerName
	}
	if cpuLimit != nil {
		ws.CPULimit = *cpuLimit
	}
	if memoryLimit != nil {
		ws.MemoryLimit = *memoryLimit
	}
	return &ws, nil
}

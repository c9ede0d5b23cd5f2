package runtime

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"
)

// ErrNotFound indicates the requested container does not exist.
var ErrNotFound = errors.New("runtime: container not found")

// ErrImageNotFound indicates the workspace base image is absent. The image is
// never built or pulled automatically; an operator must provide it.
var ErrImageNotFound = errors.New("runtime: image not found")

// ErrNameConflict indicates a create failed because the name is already taken.
// Callers resolve it by fetching the existing container.
var ErrNameConflict = errors.New("runtime: container name already in use")

// Error wraps a backend failure with the operation that produced it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string { return fmt.Sprintf("runtime: %s: %v", e.Op, e.Err) }
func (e *Error) Unwrap() error { return e.Err }

// Container describes a container known to the backend.
type Container struct {
	ID        string
	Name      string
	Image     string
	State     string
	Running   bool
	CreatedAt time.Time
}

// CreateSpec describes a container to create. The container is always created
// detached with an allocated TTY and open stdin so an interactive shell can be
// attached later.
type CreateSpec struct {
	Name        string
	Image       string
	Hostname    string
	Env         []string
	Labels      map[string]string
	Binds       []string
	CPUQuota    int64
	MemoryBytes int64
	WorkingDir  string
}

// ExecResult carries the outcome of a synchronous exec.
type ExecResult struct {
	ExitCode int
	Output   []byte
}

// Stream is a live bidirectional byte stream attached to a container process.
type Stream interface {
	io.ReadWriteCloser
	// CloseWrite half-closes the stream, signalling EOF to the process stdin.
	CloseWrite() error
}

// Runtime is the capability surface the workspace manager depends on. One
// concrete implementation exists per supported backend; the choice is made at
// construction time.
type Runtime interface {
	// Create creates a container and returns its identity. A name collision
	// maps to ErrNameConflict so callers can fetch the existing container
	// instead of failing.
	Create(ctx context.Context, spec CreateSpec) (Container, error)
	// ContainerByName looks a container up by exact name. ErrNotFound when absent.
	ContainerByName(ctx context.Context, name string) (Container, error)
	Start(ctx context.Context, id string) error
	// Stop requests a graceful stop; the backend escalates to kill after timeout.
	Stop(ctx context.Context, id string, timeout time.Duration) error
	Remove(ctx context.Context, id string, force bool) error
	// Exec runs a command inside a running container, blocking until it exits,
	// and returns its exit code with combined stdout/stderr.
	Exec(ctx context.Context, id string, cmd []string, workdir string) (ExecResult, error)
	// AttachShell starts an interactive TTY shell inside a running container
	// and returns its live byte stream.
	AttachShell(ctx context.Context, id string) (Stream, error)
	Close() error
}

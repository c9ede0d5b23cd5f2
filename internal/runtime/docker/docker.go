package docker

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/errdefs"
	"github.com/docker/docker/pkg/stdcopy"

	"github.com/ywatanabe1989/scitex-cloud-sub001/internal/runtime"
)

var _ runtime.Runtime = (*Backend)(nil)

const shellCommand = "/bin/bash"

// Create creates a detached container with a TTY and open stdin. The image
// must already exist locally; a missing image maps to runtime.ErrImageNotFound.
func (b *Backend) Create(ctx context.Context, spec runtime.CreateSpec) (runtime.Container, error) {
	cfg := &container.Config{
		Image:      spec.Image,
		Hostname:   spec.Hostname,
		Env:        spec.Env,
		Labels:     spec.Labels,
		WorkingDir: spec.WorkingDir,
		Tty:        true,
		OpenStdin:  true,
	}
	hostCfg := &container.HostConfig{
		Binds: spec.Binds,
		Resources: container.Resources{
			Memory:   spec.MemoryBytes,
			CPUQuota: spec.CPUQuota,
		},
	}

	created, err := b.inner.ContainerCreate(ctx, cfg, hostCfg, nil, nil, spec.Name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.Container{}, fmt.Errorf("%w: %s", runtime.ErrImageNotFound, spec.Image)
		}
		if errdefs.IsConflict(err) {
			return runtime.Container{}, fmt.Errorf("%w: %s", runtime.ErrNameConflict, spec.Name)
		}
		return runtime.Container{}, &runtime.Error{Op: "create", Err: err}
	}
	return runtime.Container{ID: created.ID, Name: spec.Name, Image: spec.Image, State: "created"}, nil
}

// ContainerByName inspects a container by exact name.
func (b *Backend) ContainerByName(ctx context.Context, name string) (runtime.Container, error) {
	info, err := b.inner.ContainerInspect(ctx, name)
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.Container{}, runtime.ErrNotFound
		}
		return runtime.Container{}, &runtime.Error{Op: "inspect", Err: err}
	}
	return toContainer(info), nil
}

// Start starts a stopped container.
func (b *Backend) Start(ctx context.Context, id string) error {
	if err := b.inner.ContainerStart(ctx, id, container.StartOptions{}); err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.ErrNotFound
		}
		return &runtime.Error{Op: "start", Err: err}
	}
	return nil
}

// Stop requests a graceful stop; the daemon kills the container after timeout.
func (b *Backend) Stop(ctx context.Context, id string, timeout time.Duration) error {
	seconds := int(timeout / time.Second)
	if err := b.inner.ContainerStop(ctx, id, container.StopOptions{Timeout: &seconds}); err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.ErrNotFound
		}
		return &runtime.Error{Op: "stop", Err: err}
	}
	return nil
}

// Remove deletes the container entity. Bind-mounted data is untouched.
func (b *Backend) Remove(ctx context.Context, id string, force bool) error {
	if err := b.inner.ContainerRemove(ctx, id, container.RemoveOptions{Force: force}); err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.ErrNotFound
		}
		return &runtime.Error{Op: "remove", Err: err}
	}
	return nil
}

// Exec runs a command inside a running container and blocks until it exits.
// Output is combined stdout and stderr.
func (b *Backend) Exec(ctx context.Context, id string, cmd []string, workdir string) (runtime.ExecResult, error) {
	created, err := b.inner.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          cmd,
		WorkingDir:   workdir,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return runtime.ExecResult{}, runtime.ErrNotFound
		}
		return runtime.ExecResult{}, &runtime.Error{Op: "exec create", Err: err}
	}

	attach, err := b.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{})
	if err != nil {
		return runtime.ExecResult{}, &runtime.Error{Op: "exec attach", Err: err}
	}
	defer attach.Close()

	var combined bytes.Buffer
	if _, err := stdcopy.StdCopy(&combined, &combined, attach.Reader); err != nil {
		return runtime.ExecResult{}, &runtime.Error{Op: "exec read", Err: err}
	}

	inspect, err := b.inner.ContainerExecInspect(ctx, created.ID)
	if err != nil {
		return runtime.ExecResult{}, &runtime.Error{Op: "exec inspect", Err: err}
	}
	return runtime.ExecResult{ExitCode: inspect.ExitCode, Output: combined.Bytes()}, nil
}

// AttachShell starts an interactive login shell with a TTY and returns its
// hijacked byte stream.
func (b *Backend) AttachShell(ctx context.Context, id string) (runtime.Stream, error) {
	created, err := b.inner.ContainerExecCreate(ctx, id, container.ExecOptions{
		Cmd:          []string{shellCommand},
		Tty:          true,
		AttachStdin:  true,
		AttachStdout: true,
		AttachStderr: true,
	})
	if err != nil {
		if errdefs.IsNotFound(err) {
			return nil, runtime.ErrNotFound
		}
		return nil, &runtime.Error{Op: "shell create", Err: err}
	}

	attach, err := b.inner.ContainerExecAttach(ctx, created.ID, container.ExecAttachOptions{Tty: true})
	if err != nil {
		return nil, &runtime.Error{Op: "shell attach", Err: err}
	}
	return &hijackStream{resp: attach}, nil
}

// hijackStream adapts a hijacked exec connection to runtime.Stream. With a TTY
// attached the stream is raw bytes, no stdcopy framing.
type hijackStream struct {
	resp types.HijackedResponse
}

func (s *hijackStream) Read(p []byte) (int, error)  { return s.resp.Reader.Read(p) }
func (s *hijackStream) Write(p []byte) (int, error) { return s.resp.Conn.Write(p) }

func (s *hijackStream) CloseWrite() error {
	return s.resp.CloseWrite()
}

func (s *hijackStream) Close() error {
	s.resp.Close()
	return nil
}

func toContainer(info types.ContainerJSON) runtime.Container {
	c := runtime.Container{
		ID:   info.ID,
		Name: strings.TrimPrefix(info.Name, "/"),
	}
	if info.Config != nil {
		c.Image = info.Config.Image
	}
	if info.State != nil {
		c.State = info.State.Status
		c.Running = info.State.Running
	}
	if created, err := time.Parse(time.RFC3339Nano, info.Created); err == nil {
		c.CreatedAt = created
	}
	return c
}

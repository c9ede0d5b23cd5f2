package docker

import (
	"context"
	"fmt"

	"github.com/docker/docker/client"
)

// Backend implements runtime.Runtime on the Docker Engine API.
type Backend struct {
	inner *client.Client
}

// New creates a Docker backend using environment defaults.
func New(host string) (*Backend, error) {
	opts := []client.Opt{client.FromEnv, client.WithAPIVersionNegotiation()}
	if host != "" {
		opts = append(opts, client.WithHost(host))
	}
	inner, err := client.NewClientWithOpts(opts...)
	if err != nil {
		return nil, fmt.Errorf("create docker client: %w", err)
	}
	return &Backend{inner: inner}, nil
}

// Ping validates connectivity to the Docker daemon.
func (b *Backend) Ping(ctx context.Context) error {
	if b == nil || b.inner == nil {
		return fmt.Errorf("docker client not initialized")
	}
	ping, err := b.inner.Ping(ctx)
	if err != nil {
		return fmt.Errorf("docker ping: %w", err)
	}
	if ping.APIVersion == "" {
		return fmt.Errorf("docker ping returned empty API version")
	}
	return nil
}

// Close releases resources held by the Docker client.
func (b *Backend) Close() error {
	if b.inner == nil {
		return nil
	}
	return b.inner.Close()
}

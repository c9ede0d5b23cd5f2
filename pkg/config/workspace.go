package config

import (
	"log"
	"time"

	units "github.com/docker/go-units"
)

// WorkspaceConfig holds container lifecycle settings shared by every binary
// that constructs a workspace manager.
type WorkspaceConfig struct {
	DockerHost       string
	Image            string
	StorageRoot      string
	ContainerHome    string
	CPUQuota         int64
	MemoryLimitBytes int64
	StopTimeout      time.Duration
	IdleTimeout      time.Duration
}

// LoadWorkspaceConfig constructs a WorkspaceConfig from environment variables.
func LoadWorkspaceConfig() WorkspaceConfig {
	return WorkspaceConfig{
		DockerHost:       GetString("DOCKER_HOST", "unix:///var/run/docker.sock"),
		Image:            GetString("WORKSPACE_IMAGE", "scitex-workspace:latest"),
		StorageRoot:      GetString("WORKSPACE_STORAGE_ROOT", "/var/lib/scitex/workspaces"),
		ContainerHome:    GetString("WORKSPACE_CONTAINER_HOME", "/home/scitex"),
		CPUQuota:         int64(GetInt("WORKSPACE_CPU_QUOTA", 200000)),
		MemoryLimitBytes: getMemoryBytes("WORKSPACE_MEMORY_LIMIT", "8g"),
		StopTimeout:      time.Duration(GetInt("WORKSPACE_STOP_TIMEOUT_SECONDS", 10)) * time.Second,
		IdleTimeout:      time.Duration(GetInt("WORKSPACE_IDLE_TIMEOUT_MINUTES", 30)) * time.Minute,
	}
}

// getMemoryBytes parses a human readable size such as "8g" or "512m".
func getMemoryBytes(key, fallback string) int64 {
	raw := GetString(key, fallback)
	parsed, err := units.RAMInBytes(raw)
	if err != nil {
		log.Printf("invalid value for %s: %v", key, err)
		parsed, _ = units.RAMInBytes(fallback)
	}
	return parsed
}

package config

import "time"

// GatewayConfig holds runtime configuration for the SSH gateway.
type GatewayConfig struct {
	Host              string
	Port              int
	HostKeyPath       string
	MaxConns          int
	ShellReadyTimeout time.Duration
	DatabaseURL       string
	Workspace         WorkspaceConfig
}

// LoadGatewayConfig constructs a GatewayConfig from environment variables.
func LoadGatewayConfig() GatewayConfig {
	return GatewayConfig{
		Host:              GetString("GATEWAY_HOST", "0.0.0.0"),
		Port:              GetInt("GATEWAY_PORT", 2222),
		HostKeyPath:       GetString("GATEWAY_HOST_KEY", "/var/lib/scitex/ssh_host_key"),
		MaxConns:          GetInt("GATEWAY_MAX_CONNS", 256),
		ShellReadyTimeout: time.Duration(GetInt("GATEWAY_SHELL_READY_TIMEOUT_SECONDS", 10)) * time.Second,
		DatabaseURL:       GetString("DATABASE_URL", "postgres://scitex:scitex@db:5432/scitex?sslmode=disable"),
		Workspace:         LoadWorkspaceConfig(),
	}
}

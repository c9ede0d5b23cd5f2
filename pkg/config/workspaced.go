package config

import "time"

// WorkspacedConfig holds runtime configuration for the workspaced service.
type WorkspacedConfig struct {
	Environment        string
	Addr               string
	DatabaseURL        string
	MigrationsDir      string
	JWTSecret          string
	AccessTokenTTL     time.Duration
	ReapInterval       time.Duration
	RateLimitRedisAddr string
	RateLimitRedisPass string
	RateLimitRedisDB   int
	Workspace          WorkspaceConfig
}

// LoadWorkspacedConfig constructs a WorkspacedConfig from environment variables.
func LoadWorkspacedConfig() WorkspacedConfig {
	return WorkspacedConfig{
		Environment:        GetString("APP_ENV", "development"),
		Addr:               GetString("WORKSPACED_ADDR", ":4100"),
		DatabaseURL:        GetString("DATABASE_URL", "postgres://scitex:scitex@db:5432/scitex?sslmode=disable"),
		MigrationsDir:      GetString("DB_MIGRATIONS_DIR", "db/migrations"),
		JWTSecret:          GetString("JWT_SECRET", "supersecuresecret"),
		AccessTokenTTL:     time.Duration(GetInt("ACCESS_TOKEN_TTL_MIN", 60)) * time.Minute,
		ReapInterval:       time.Duration(GetInt("WORKSPACE_REAP_SECONDS", 300)) * time.Second,
		RateLimitRedisAddr: GetString("RATE_LIMIT_REDIS_ADDR", ""),
		RateLimitRedisPass: GetString("RATE_LIMIT_REDIS_PASSWORD", ""),
		RateLimitRedisDB:   GetInt("RATE_LIMIT_REDIS_DB", 0),
		Workspace:          LoadWorkspaceConfig(),
	}
}

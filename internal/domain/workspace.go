package domain

import "time"

// Workspace is the persisted lifecycle record of one user's container.
// The container runtime remains authoritative for live state; the record
// caches it for idle detection and audit.
type Workspace struct {
	UserID         string
	ContainerID    string
	ContainerName  string
	IsRunning      bool
	LastStartedAt  *time.Time
	LastStoppedAt  *time.Time
	LastActivityAt *time.Time
	CPULimit       int64
	MemoryLimit    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// WorkspaceStatus reports live container state from the runtime without
// touching the persisted record.
type WorkspaceStatus struct {
	ContainerID   string
	ContainerName string
	State         string
	Image         string
	CreatedAt     time.Time
}

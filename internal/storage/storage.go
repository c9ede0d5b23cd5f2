package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Manager owns per-user storage directories under a common root. These
// directories are bind-mounted into workspace containers and outlive them;
// nothing here ever deletes user data.
type Manager struct {
	root string
}

// New ensures the storage root exists and is accessible.
func New(root string) (*Manager, error) {
	if root == "" {
		return nil, fmt.Errorf("storage root cannot be empty")
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve storage root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Manager{root: abs}, nil
}

// EnsureUserDir creates the user's storage directory if absent and returns its
// absolute path.
func (m *Manager) EnsureUserDir(userID string) (string, error) {
	if strings.TrimSpace(userID) == "" {
		return "", fmt.Errorf("user id cannot be empty")
	}
	dir := filepath.Join(m.root, userID)
	rel, err := filepath.Rel(m.root, dir)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", fmt.Errorf("refusing storage path outside root")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create user storage: %w", err)
	}
	return dir, nil
}

package storage

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEnsureUserDirIsIdempotent(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first, err := m.EnsureUserDir("user-1")
	if err != nil {
		t.Fatalf("EnsureUserDir failed: %v", err)
	}
	marker := filepath.Join(first, "notes.txt")
	if err := os.WriteFile(marker, []byte("keep me"), 0o644); err != nil {
		t.Fatalf("write marker: %v", err)
	}

	second, err := m.EnsureUserDir("user-1")
	if err != nil {
		t.Fatalf("repeat EnsureUserDir failed: %v", err)
	}
	if first != second {
		t.Fatalf("expected stable path, got %s and %s", first, second)
	}
	if _, err := os.Stat(marker); err != nil {
		t.Fatalf("expected existing data to survive: %v", err)
	}
}

func TestEnsureUserDirRejectsEscapes(t *testing.T) {
	m, err := New(t.TempDir())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	for _, userID := range []string{"", "   ", "../evil", ".."} {
		if _, err := m.EnsureUserDir(userID); err == nil {
			t.Fatalf("expected user id %q to be rejected", userID)
		}
	}
}

func TestNewRejectsEmptyRoot(t *testing.T) {
	if _, err := New(""); err == nil {
		t.Fatalf("expected empty root to be rejected")
	}
}

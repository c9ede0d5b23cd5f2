package gateway

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadOrCreateHostKeyGeneratesAndPersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "keys", "ssh_host_key")

	first, err := LoadOrCreateHostKey(path)
	if err != nil {
		t.Fatalf("initial key generation failed: %v", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("expected key file on disk: %v", err)
	}
	if info.Mode().Perm() != 0o600 {
		t.Fatalf("expected key file mode 0600, got %v", info.Mode().Perm())
	}

	second, err := LoadOrCreateHostKey(path)
	if err != nil {
		t.Fatalf("reload failed: %v", err)
	}
	if Fingerprint(first) != Fingerprint(second) {
		t.Fatalf("host key changed across restarts: %s vs %s", Fingerprint(first), Fingerprint(second))
	}
}

func TestFingerprintFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh_host_key")
	signer, err := LoadOrCreateHostKey(path)
	if err != nil {
		t.Fatalf("key generation failed: %v", err)
	}
	if !strings.HasPrefix(Fingerprint(signer), "SHA256:") {
		t.Fatalf("unexpected fingerprint format: %s", Fingerprint(signer))
	}
}

func TestLoadOrCreateHostKeyRejectsCorruptKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ssh_host_key")
	if err := os.WriteFile(path, []byte("not a key"), 0o600); err != nil {
		t.Fatalf("write corrupt key: %v", err)
	}
	if _, err := LoadOrCreateHostKey(path); err == nil {
		t.Fatalf("expected corrupt key to be rejected")
	}
}

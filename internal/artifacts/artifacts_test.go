package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path/filepath"
	"testing"
)

func TestPlaceCopiesAndChecksums(t *testing.T) {
	t.Parallel()

	srcDir := t.TempDir()
	src := filepath.Join(srcDir, "initramfs.cpio.zst")
	payload := []byte("not really a cpio archive")
	if err := os.WriteFile(src, payload, 0o644); err != nil {
		t.Fatalf("write source: %v", err)
	}

	store := &Store{BaseDir: filepath.Join(t.TempDir(), "out")}
	artifact, err := store.Place(src, "metalbake-x86_64.cpio.zst", InitramfsArtifact)
	if err != nil {
		t.Fatalf("Place() error = %v", err)
	}

	sum := sha256.Sum256(payload)
	if artifact.Checksum != hex.EncodeToString(sum[:]) {
		t.Fatalf("unexpected checksum: %q", artifact.Checksum)
	}

	data, err := os.ReadFile(artifact.Path)
	if err != nil {
		t.Fatalf("read placed artifact: %v", err)
	}
	if string(data) != string(payload) {
		t.Fatal("placed artifact content differs from source")
	}
}

func TestListIncludesStaleFiles(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	for _, name := range []string{"vmlinuz-aarch64", "metalbake-x86_64.cpio.zst", "vmlinuz-x86_64"} {
		if err := os.WriteFile(filepath.Join(base, name), []byte(name), 0o644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
	}

	store := &Store{BaseDir: base}
	listed, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}

	if len(listed) != 3 {
		t.Fatalf("expected 3 artifacts, got %d", len(listed))
	}
	for i := 1; i < len(listed); i++ {
		if listed[i-1].Name > listed[i].Name {
			t.Fatal("artifacts must be sorted by name")
		}
	}
}

func TestListMissingDirectory(t *testing.T) {
	t.Parallel()

	store := &Store{BaseDir: filepath.Join(t.TempDir(), "absent")}
	listed, err := store.List()
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if listed != nil {
		t.Fatalf("expected no artifacts, got %v", listed)
	}
}

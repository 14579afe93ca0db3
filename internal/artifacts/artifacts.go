// Package artifacts handles the files a build run produces: copying
// them into place and fingerprinting them for the post-build report.
package artifacts

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
)

// ArtifactKind labels what a collected file is.
type ArtifactKind string

const (
	KernelArtifact    ArtifactKind = "kernel"    // compressed kernel image
	InitramfsArtifact ArtifactKind = "initramfs" // cpio archive image
)

// Artifact is one file placed in the final output directory.
type Artifact struct {
	Name     string
	Path     string
	Kind     ArtifactKind
	Checksum string
}

// Store copies build outputs into a single output directory.
type Store struct {
	BaseDir string
}

// Place copies src into the store under name and returns the resulting
// artifact with its content checksum.
func (s *Store) Place(src, name string, kind ArtifactKind) (Artifact, error) {
	if s.BaseDir == "" {
		return Artifact{}, errors.New("output directory is not configured")
	}
	dest := filepath.Join(s.BaseDir, name)
	if err := CopyFile(src, dest); err != nil {
		return Artifact{}, err
	}

	sum, err := SHA256(dest)
	if err != nil {
		return Artifact{}, err
	}

	return Artifact{Name: name, Path: dest, Kind: kind, Checksum: sum}, nil
}

// List returns every regular file currently in the store, with
// checksums, sorted by name. Files from earlier runs are included; the
// store is deliberately never cleared between builds.
func (s *Store) List() ([]Artifact, error) {
	entries, err := os.ReadDir(s.BaseDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read output directory: %w", err)
	}

	var out []Artifact
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(s.BaseDir, entry.Name())
		sum, err := SHA256(path)
		if err != nil {
			return nil, err
		}
		out = append(out, Artifact{Name: entry.Name(), Path: path, Checksum: sum})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// CopyFile copies src to dest, creating parent directories and
// preserving the source's permission bits.
func CopyFile(src, dest string) error {
	info, err := os.Stat(src)
	if err != nil {
		return fmt.Errorf("stat %s: %w", src, err)
	}
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", src)
	}

	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", filepath.Dir(dest), err)
	}

	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return fmt.Errorf("create %s: %w", dest, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("copy %s: %w", dest, err)
	}
	return out.Close()
}

// SHA256 returns the hex content digest of the file at path.
func SHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

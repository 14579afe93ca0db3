package simple

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/metalbake/metalbake/internal/config"
)

func testConfig(t *testing.T) config.Config {
	t.Helper()
	cfg, err := config.FromEnvironment(t.TempDir(), func(key string) string {
		if key == config.EnvArch {
			return "x86_64"
		}
		return ""
	})
	if err != nil {
		t.Fatalf("FromEnvironment() error = %v", err)
	}
	return cfg
}

func TestCleanRemovesGeneratedTrees(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.ScratchDir, cfg.Paths.StagingDir} {
		if err := os.MkdirAll(filepath.Join(dir, "nested"), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Clean(cfg, logger); err != nil {
		t.Fatalf("Clean() error = %v", err)
	}

	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.ScratchDir, cfg.Paths.StagingDir} {
		if _, err := os.Stat(dir); !os.IsNotExist(err) {
			t.Fatalf("expected %s to be removed, stat err = %v", dir, err)
		}
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	if err := Clean(cfg, logger); err != nil {
		t.Fatalf("Clean() on a fresh tree error = %v", err)
	}
}

func TestOutputPathsAreArchitectureQualified(t *testing.T) {
	t.Parallel()

	cfg := testConfig(t)
	kernelPath, initramfsPath := OutputPaths(cfg)

	if filepath.Base(kernelPath) != "vmlinuz-x86_64" {
		t.Fatalf("unexpected kernel path: %q", kernelPath)
	}
	if filepath.Base(initramfsPath) != "metalbake-x86_64.cpio.zst" {
		t.Fatalf("unexpected initramfs path: %q", initramfsPath)
	}
	if filepath.Dir(kernelPath) != cfg.Paths.OutputDir {
		t.Fatalf("kernel path must live in the output directory, got %q", kernelPath)
	}
}

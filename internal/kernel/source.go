package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalbake/metalbake/internal/run"
)

const upstreamURLTemplate = "https://cdn.kernel.org/pub/linux/kernel/v%s.x/linux-%s.tar.xz"

// acquireSource returns the kernel source tree to build from. A
// caller-supplied local tree is used as-is; otherwise a cached
// extracted tree for the requested version is reused, and only when
// neither exists is the upstream tarball downloaded and extracted.
func (b *Builder) acquireSource(ctx context.Context, logger *slog.Logger) (string, error) {
	if b.LocalSource != "" {
		logger.Info("using local kernel source", "dir", b.LocalSource)
		return b.LocalSource, nil
	}

	srcRoot := filepath.Join(b.ScratchDir, "src")
	tree := filepath.Join(srcRoot, "linux-"+b.Version)

	if info, err := os.Stat(tree); err == nil && info.IsDir() {
		logger.Info("reusing cached kernel source", "dir", tree)
		return tree, nil
	}

	url, err := sourceURL(b.Version)
	if err != nil {
		return "", err
	}

	tarball := filepath.Join(srcRoot, "linux-"+b.Version+".tar.xz")
	logger.Info("downloading kernel source", "url", url)
	if err := b.Downloader.Download(ctx, url, tarball); err != nil {
		return "", err
	}

	if err := b.Runner.Run(ctx, run.Command{
		Name: "tar",
		Args: []string{"-C", srcRoot, "-xf", tarball},
	}); err != nil {
		return "", fmt.Errorf("extract kernel source: %w", err)
	}

	if err := os.Remove(tarball); err != nil && !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("remove kernel tarball: %w", err)
	}

	if info, err := os.Stat(tree); err != nil || !info.IsDir() {
		return "", fmt.Errorf("extracted kernel source missing at %s", tree)
	}

	return tree, nil
}

// sourceURL expands the fixed upstream URL template for a version
// string like "6.11.3".
func sourceURL(version string) (string, error) {
	major, _, found := strings.Cut(version, ".")
	if !found || major == "" {
		return "", fmt.Errorf("cannot derive major release from kernel version %q", version)
	}
	return fmt.Sprintf(upstreamURLTemplate, major, version), nil
}

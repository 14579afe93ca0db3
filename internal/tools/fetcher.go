package tools

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/fetch"
)

// Fetcher reconciles the staged tool tree with the desired artifact set.
type Fetcher struct {
	Logger     *slog.Logger
	Downloader *fetch.Downloader

	Arch       arch.Architecture
	Versions   Versions
	StagingDir string
	// DownloadDir receives archives before extraction; they are
	// deleted afterwards.
	DownloadDir string
}

// Fetch ensures every artifact group is staged, downloading only the
// missing groups unless force is set. Any download or extraction
// failure is fatal; partially-extracted files are not rolled back.
func (f *Fetcher) Fetch(ctx context.Context, force bool) error {
	desired, err := DesiredSet(f.Arch, f.Versions, f.StagingDir)
	if err != nil {
		return err
	}

	plan := Reconcile(desired, nil, force)
	logger := f.logger().With("arch", f.Arch.String())

	if plan.Empty() {
		logger.Info("all tools already staged")
		return nil
	}

	for _, stale := range plan.Remove {
		logger.Info("removing superseded tool", "path", stale)
		if err := os.Remove(stale); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("remove superseded tool %s: %w", stale, err)
		}
	}

	for _, artifact := range plan.Fetch {
		if err := f.stage(ctx, logger, artifact); err != nil {
			return err
		}
	}

	return nil
}

func (f *Fetcher) stage(ctx context.Context, logger *slog.Logger, artifact Artifact) error {
	logger.Info("fetching tool", "group", string(artifact.Group), "url", artifact.URL)

	switch artifact.Kind {
	case KindBinary:
		if err := f.Downloader.Download(ctx, artifact.URL, artifact.Probe); err != nil {
			return err
		}
		if err := os.Chmod(artifact.Probe, 0o755); err != nil {
			return fmt.Errorf("mark %s executable: %w", artifact.Probe, err)
		}
		return nil

	case KindTarball:
		archivePath := filepath.Join(f.DownloadDir, string(artifact.Group)+".tar.gz")
		if err := f.Downloader.Download(ctx, artifact.URL, archivePath); err != nil {
			return err
		}
		defer os.Remove(archivePath)
		return extractSelected(archivePath, artifact.Extract)

	default:
		return fmt.Errorf("unknown artifact kind %d for %s", artifact.Kind, artifact.Group)
	}
}

// extractSelected installs only the named archive members, discarding
// everything else the release tarball carries.
func extractSelected(archivePath string, selections map[string]string) error {
	file, err := os.Open(archivePath)
	if err != nil {
		return fmt.Errorf("open archive %s: %w", archivePath, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		return fmt.Errorf("read archive %s: %w", archivePath, err)
	}
	defer gz.Close()

	remaining := make(map[string]string, len(selections))
	for member, dest := range selections {
		remaining[member] = dest
	}

	reader := tar.NewReader(gz)
	for len(remaining) > 0 {
		header, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("read archive %s: %w", archivePath, err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		name := strings.TrimPrefix(header.Name, "./")
		dest, wanted := remaining[name]
		if !wanted {
			continue
		}
		delete(remaining, name)

		if err := writeMember(reader, dest); err != nil {
			return fmt.Errorf("extract %s from %s: %w", name, archivePath, err)
		}
	}

	if len(remaining) > 0 {
		missing := make([]string, 0, len(remaining))
		for member := range remaining {
			missing = append(missing, member)
		}
		return fmt.Errorf("archive %s is missing expected members: %s", archivePath, strings.Join(missing, ", "))
	}

	return nil
}

func writeMember(r io.Reader, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o755)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, r); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

func (f *Fetcher) logger() *slog.Logger {
	if f.Logger != nil {
		return f.Logger
	}
	return slog.Default()
}

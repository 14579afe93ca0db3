package assemble

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/artifacts"
)

// Collector copies the assembler's outputs into the final output
// directory under architecture-qualified names.
type Collector struct {
	Logger *slog.Logger
	// Out receives the checksum report; defaults to stdout.
	Out io.Writer

	Arch arch.Architecture
	// AssemblerOutputDir is where mkosi leaves the archive image.
	AssemblerOutputDir string
	// BootDir is the kernel builder's staged boot path.
	BootDir string

	Store *artifacts.Store
}

// Result names the two collected artifacts. Either may be empty when
// the corresponding file was not found; that is a warning, not an
// error, and downstream consumers must check for existence.
type Result struct {
	Initramfs string
	Kernel    string
}

// Collect places the archive image and the kernel into the output
// directory and prints a checksum line for every file found there.
func (c *Collector) Collect() (Result, error) {
	logger := c.logger().With("arch", c.Arch.String())
	var result Result

	if archive, ok := c.findArchive(); ok {
		name := fmt.Sprintf("metalbake-%s.cpio.zst", c.Arch)
		placed, err := c.Store.Place(archive, name, artifacts.InitramfsArtifact)
		if err != nil {
			return Result{}, err
		}
		result.Initramfs = placed.Path
		logger.Info("collected archive image", "path", placed.Path)
	} else {
		logger.Warn("no archive image found in assembler output", "dir", c.AssemblerOutputDir)
	}

	if kernel, ok := c.findKernel(); ok {
		name := fmt.Sprintf("vmlinuz-%s", c.Arch)
		placed, err := c.Store.Place(kernel, name, artifacts.KernelArtifact)
		if err != nil {
			return Result{}, err
		}
		result.Kernel = placed.Path
		logger.Info("collected kernel image", "path", placed.Path)
	} else {
		logger.Warn("no kernel image found under boot path", "dir", c.BootDir)
	}

	if err := c.printChecksums(); err != nil {
		return Result{}, err
	}

	return result, nil
}

func (c *Collector) findArchive() (string, bool) {
	matches, err := filepath.Glob(filepath.Join(c.AssemblerOutputDir, "*.cpio.zst"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (c *Collector) findKernel() (string, bool) {
	matches, err := filepath.Glob(filepath.Join(c.BootDir, "vmlinuz-*"))
	if err != nil || len(matches) == 0 {
		return "", false
	}
	return matches[0], true
}

func (c *Collector) printChecksums() error {
	listed, err := c.Store.List()
	if err != nil {
		return err
	}

	out := c.Out
	if out == nil {
		out = os.Stdout
	}
	for _, artifact := range listed {
		if _, err := fmt.Fprintf(out, "%s  %s\n", artifact.Checksum, artifact.Name); err != nil {
			return err
		}
	}
	return nil
}

func (c *Collector) logger() *slog.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return slog.Default()
}

package kernel

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"regexp"

	"github.com/metalbake/metalbake/internal/artifacts"
	"github.com/metalbake/metalbake/internal/run"
)

// bootParamsSize is the widened kernel command line limit for x86_64
// targets. Provisioning passes registry credentials and log sink
// configuration on the command line, which overflows the stock limit.
const bootParamsSize = 4096

var commandLineSizePattern = regexp.MustCompile(`(?m)^#define COMMAND_LINE_SIZE\s+\d+$`)

// configure seeds .config from the architecture fragment when one
// exists and resolves it to a complete configuration; without a
// fragment the build system's default configuration is used.
func (b *Builder) configure(ctx context.Context, logger *slog.Logger, srcDir string) error {
	fragment := filepath.Join(b.ConfigDir, "config-"+b.Arch.String())
	env := b.makeEnv()

	if _, err := os.Stat(fragment); err != nil {
		if !os.IsNotExist(err) {
			return fmt.Errorf("stat config fragment: %w", err)
		}
		logger.Info("no config fragment; using default configuration")
		if err := b.Runner.Run(ctx, run.Command{Name: "make", Args: []string{"defconfig"}, Dir: srcDir, Env: env}); err != nil {
			return fmt.Errorf("generate default kernel config: %w", err)
		}
		return nil
	}

	logger.Info("seeding kernel config from fragment", "fragment", fragment)
	if err := artifacts.CopyFile(fragment, filepath.Join(srcDir, ".config")); err != nil {
		return fmt.Errorf("seed kernel config: %w", err)
	}

	if err := b.Runner.Run(ctx, run.Command{Name: "make", Args: []string{"olddefconfig"}, Dir: srcDir, Env: env}); err != nil {
		return fmt.Errorf("resolve kernel config: %w", err)
	}

	// Keep the fully resolved configuration next to the fragment so a
	// reviewer can diff what the defaults filled in.
	resolved := fragment + ".full"
	if err := artifacts.CopyFile(filepath.Join(srcDir, ".config"), resolved); err != nil {
		return fmt.Errorf("persist resolved kernel config: %w", err)
	}
	logger.Info("persisted resolved kernel config", "path", resolved)

	return nil
}

// widenBootParams patches the x86 boot-parameter length limit in the
// source tree. The replacement is idempotent across rebuilds of a
// cached tree.
func widenBootParams(srcDir string) error {
	header := filepath.Join(srcDir, "arch", "x86", "include", "asm", "setup.h")
	data, err := os.ReadFile(header)
	if err != nil {
		return fmt.Errorf("read %s: %w", header, err)
	}

	if !commandLineSizePattern.Match(data) {
		return fmt.Errorf("COMMAND_LINE_SIZE definition not found in %s", header)
	}

	patched := commandLineSizePattern.ReplaceAll(data, []byte(fmt.Sprintf("#define COMMAND_LINE_SIZE %d", bootParamsSize)))
	if err := os.WriteFile(header, patched, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", header, err)
	}
	return nil
}

// Package simple wires the build pipeline together from a Config. It is
// the only place that knows how the stages connect; the CLI calls one
// function per operation.
package simple

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/metalbake/metalbake/internal/artifacts"
	"github.com/metalbake/metalbake/internal/assemble"
	"github.com/metalbake/metalbake/internal/builder"
	"github.com/metalbake/metalbake/internal/config"
	"github.com/metalbake/metalbake/internal/fetch"
	"github.com/metalbake/metalbake/internal/kernel"
	"github.com/metalbake/metalbake/internal/logging"
	"github.com/metalbake/metalbake/internal/pipeline"
	"github.com/metalbake/metalbake/internal/qemu"
	"github.com/metalbake/metalbake/internal/run"
	"github.com/metalbake/metalbake/internal/tools"
)

// Build runs the full pipeline: builder environment, kernel, tools,
// assembly and collection. Pass-through arguments are forwarded to the
// assembler verbatim.
func Build(ctx context.Context, cfg config.Config, passthrough []string, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	// Configuration problems surface here, before any external command.
	if err := cfg.RequireKernelVersion(); err != nil {
		return err
	}
	versions, err := tools.LoadVersions(cfg.ToolVersionsPath)
	if err != nil {
		return err
	}

	runner := &run.ExecRunner{}
	downloader := fetch.New()

	// The builder stage produces the environment every later stage
	// executes in, so the handle is threaded through a shared variable.
	var env *builder.Environment

	stages := []pipeline.Stage{
		pipeline.StageFunc{StageName: "builder", Func: func(ctx context.Context) error {
			prepared, err := ensureEnvironment(ctx, cfg, runner, logger, cfg.RebuildBuilder)
			if err != nil {
				return err
			}
			env = prepared
			return nil
		}},
		pipeline.StageFunc{StageName: "kernel", Func: func(ctx context.Context) error {
			kernelBuilder := &kernel.Builder{
				Logger:      logger.With("service", "kernel"),
				Runner:      env,
				Downloader:  downloader,
				Arch:        cfg.Arch,
				HostArch:    cfg.HostArch,
				Version:     cfg.KernelVersion,
				LocalSource: cfg.KernelSourceDir,
				ConfigDir:   filepath.Join(cfg.Paths.BaseDir, "kernel"),
				ScratchDir:  cfg.Paths.ScratchDir,
				StagingDir:  cfg.Paths.StagingDir,
			}
			_, err := kernelBuilder.Build(ctx, cfg.RebuildKernel)
			return err
		}},
		pipeline.StageFunc{StageName: "tools", Func: func(ctx context.Context) error {
			fetcher := &tools.Fetcher{
				Logger:      logger.With("service", "tools"),
				Downloader:  downloader,
				Arch:        cfg.Arch,
				Versions:    versions,
				StagingDir:  cfg.Paths.StagingDir,
				DownloadDir: filepath.Join(cfg.Paths.ScratchDir, "downloads"),
			}
			return fetcher.Fetch(ctx, cfg.RedownloadTools)
		}},
		pipeline.StageFunc{StageName: "assemble", Func: func(ctx context.Context) error {
			if err := newAssembler(cfg, env, runner, logger).Assemble(ctx, passthrough); err != nil {
				return err
			}
			collector := &assemble.Collector{
				Logger:             logger.With("service", "collect"),
				Arch:               cfg.Arch,
				AssemblerOutputDir: filepath.Join(cfg.Paths.AssemblerDir, "mkosi.output"),
				BootDir:            filepath.Join(cfg.Paths.StagingDir, "boot"),
				Store:              &artifacts.Store{BaseDir: cfg.Paths.OutputDir},
			}
			_, err := collector.Collect()
			return err
		}},
	}

	p := &pipeline.Pipeline{Logger: logger, Stages: stages}
	return p.Run(ctx)
}

// Shell opens an interactive shell inside the builder environment with
// the build tree mounted.
func Shell(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	env, err := ensureEnvironment(ctx, cfg, &run.ExecRunner{}, logger, false)
	if err != nil {
		return err
	}

	return env.Run(ctx, run.Command{
		Name:        "bash",
		Dir:         cfg.Paths.BaseDir,
		Interactive: true,
	})
}

// Clean removes everything the pipeline generated: collected outputs,
// cached sources and downloads, and the staged rootfs overlay. The next
// build starts from scratch.
func Clean(cfg config.Config, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	var errs []error
	for _, dir := range []string{cfg.Paths.OutputDir, cfg.Paths.ScratchDir, cfg.Paths.StagingDir} {
		logger.Info("removing generated tree", "dir", dir)
		if err := os.RemoveAll(dir); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", dir, err))
		}
	}
	return errors.Join(errs...)
}

// Summary prints the assembler's configuration summary from inside the
// builder environment.
func Summary(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	return Passthrough(ctx, cfg, []string{"summary"}, logger)
}

// Passthrough forwards an unrecognized subcommand verbatim to the
// assembler inside the builder environment.
func Passthrough(ctx context.Context, cfg config.Config, args []string, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	env, err := ensureEnvironment(ctx, cfg, &run.ExecRunner{}, logger, false)
	if err != nil {
		return err
	}

	return newAssembler(cfg, env, &run.ExecRunner{}, logger).Invoke(ctx, args...)
}

// QemuTest boots the collected kernel and initramfs under an emulator.
func QemuTest(ctx context.Context, cfg config.Config, logger *slog.Logger) error {
	logger = logging.Ensure(logger).With("component", "config.simple")

	tester := &qemu.Tester{
		Logger:       logger.With("service", "qemu"),
		Runner:       &run.ExecRunner{},
		Arch:         cfg.Arch,
		HostArch:     cfg.HostArch,
		Memory:       cfg.QemuMemory,
		CPUs:         cfg.QemuCPUs,
		ExtraCmdline: cfg.CmdlineExtra,
	}

	kernelPath, initramfsPath := OutputPaths(cfg)
	return tester.Boot(ctx, kernelPath, initramfsPath)
}

// OutputPaths returns where a completed build leaves the two collected
// artifacts.
func OutputPaths(cfg config.Config) (kernelPath, initramfsPath string) {
	kernelPath = filepath.Join(cfg.Paths.OutputDir, "vmlinuz-"+cfg.Arch.String())
	initramfsPath = filepath.Join(cfg.Paths.OutputDir, fmt.Sprintf("metalbake-%s.cpio.zst", cfg.Arch))
	return kernelPath, initramfsPath
}

func ensureEnvironment(ctx context.Context, cfg config.Config, runner run.Runner, logger *slog.Logger, force bool) (*builder.Environment, error) {
	preparer := &builder.Preparer{
		Logger:     logger.With("service", "builder"),
		Runner:     runner,
		Image:      cfg.BuilderImage,
		Definition: cfg.Paths.BuilderDefinition,
		ContextDir: cfg.Paths.BaseDir,
	}

	env, err := preparer.Ensure(ctx, force)
	if err != nil {
		return nil, err
	}
	// One mount covers every stage path: scratch, staging and the
	// assembler directory all live under the base directory.
	env.Mounts = []string{cfg.Paths.BaseDir}
	return env, nil
}

func newAssembler(cfg config.Config, env *builder.Environment, host run.Runner, logger *slog.Logger) *assemble.Assembler {
	return &assemble.Assembler{
		Logger:   logger.With("service", "assemble"),
		Env:      env,
		Host:     host,
		Arch:     cfg.Arch,
		HostArch: cfg.HostArch,
		Dir:      cfg.Paths.AssemblerDir,
	}
}

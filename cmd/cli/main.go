package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	simple "github.com/metalbake/metalbake/config"
	"github.com/metalbake/metalbake/internal/config"
	"github.com/metalbake/metalbake/internal/logging"
)

const defaultLogLevel = "info"

func main() {
	var levelVar slog.LevelVar
	levelVar.Set(slog.LevelInfo)

	logger := logging.NewCLI(os.Stderr, &levelVar)
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(logger, &levelVar)
	if err := root.ExecuteContext(ctx); err != nil {
		code := exitCodeFor(err)
		if code == 130 {
			logger.Warn("command interrupted", "error", err)
		} else {
			logger.Error("command execution failed", "error", err)
		}
		os.Exit(code)
	}
}

// exitCodeFor maps a command failure to the process exit status: 130
// after an interrupt, the child's own status when an external command
// failed, 1 otherwise.
func exitCodeFor(err error) int {
	if errors.Is(err, context.Canceled) {
		return 130
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() > 0 {
		return exitErr.ExitCode()
	}
	return 1
}

func newRootCommand(logger *slog.Logger, levelVar *slog.LevelVar) *cobra.Command {
	var (
		logLevel = defaultLogLevel
		logJSON  bool
		baseDir  string
	)

	root := &cobra.Command{
		Use:   "metalbake [-- assembler args...]",
		Short: "Build a minimal Linux image (kernel + initramfs) for bare-metal provisioning",
		Long: "metalbake sequences the four build steps of a provisioning image:\n" +
			"builder environment preparation, kernel compilation, pinned tool\n" +
			"download and image assembly. Running it without a subcommand is the\n" +
			"same as 'metalbake build'; an unrecognized subcommand is forwarded\n" +
			"verbatim to the image assembler inside the builder environment.",
		SilenceErrors: true,
		SilenceUsage:  true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(baseDir)
			if err != nil {
				return err
			}
			if len(args) == 0 {
				return simple.Build(cmd.Context(), cfg, nil, logger.With("command", "build"))
			}
			cmdLogger := logger.With("command", "passthrough")
			cmdLogger.Info("forwarding to assembler", "args", strings.Join(args, " "))
			return simple.Passthrough(cmd.Context(), cfg, args, cmdLogger)
		},
	}
	// Flag parsing stops at the first positional argument so assembler
	// flags survive pass-through unmangled.
	root.Flags().SetInterspersed(false)

	root.PersistentFlags().StringVar(&logLevel, "log-level", defaultLogLevel, "Set log verbosity (debug, info, warning, error)")
	root.PersistentFlags().BoolVar(&logJSON, "log-json", false, "Emit JSON log records instead of the CLI format")
	root.PersistentFlags().StringVarP(&baseDir, "dir", "C", "", "Build tree root (defaults to the working directory)")
	root.PersistentPreRunE = func(cmd *cobra.Command, args []string) error {
		level, err := parseLogLevel(logLevel)
		if err != nil {
			return err
		}
		if levelVar != nil {
			levelVar.Set(level)
		}
		if logJSON {
			slog.SetDefault(logging.NewJSON(os.Stderr, levelVar))
		}
		return nil
	}

	loadConfig := func() (config.Config, error) {
		return config.Load(baseDir)
	}

	root.AddCommand(
		newBuildCommand(logger, loadConfig),
		newShellCommand(logger, loadConfig),
		newCleanCommand(logger, loadConfig),
		newSummaryCommand(logger, loadConfig),
		newQemuTestCommand(logger, loadConfig),
	)
	return root
}

func newBuildCommand(logger *slog.Logger, loadConfig func() (config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build [-- assembler args...]",
		Args:  cobra.ArbitraryArgs,
		Short: "Run the full pipeline: builder image, kernel, tools, assembly",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cmdLogger := logger.With("command", "build")
			cmdLogger.Info("starting build",
				"arch", cfg.Arch.String(),
				"kernel_version", cfg.KernelVersion,
				"output_dir", cfg.Paths.OutputDir,
			)

			if err := simple.Build(cmd.Context(), cfg, args, cmdLogger); err != nil {
				cmdLogger.Error("build failed", "error", err)
				return err
			}

			cmdLogger.Info("build completed")
			return nil
		},
	}
	cmd.Flags().SetInterspersed(false)
	return cmd
}

func newShellCommand(logger *slog.Logger, loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Args:  cobra.NoArgs,
		Short: "Open an interactive shell inside the builder environment",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return simple.Shell(cmd.Context(), cfg, logger.With("command", "shell"))
		},
	}
}

func newCleanCommand(logger *slog.Logger, loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "clean",
		Args:  cobra.NoArgs,
		Short: "Remove collected outputs, cached sources and the staged rootfs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			cmdLogger := logger.With("command", "clean")
			if err := simple.Clean(cfg, cmdLogger); err != nil {
				cmdLogger.Error("clean failed", "error", err)
				return err
			}
			cmdLogger.Info("clean completed")
			return nil
		},
	}
}

func newSummaryCommand(logger *slog.Logger, loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "summary",
		Args:  cobra.NoArgs,
		Short: "Print the assembler's configuration summary",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return simple.Summary(cmd.Context(), cfg, logger.With("command", "summary"))
		},
	}
}

func newQemuTestCommand(logger *slog.Logger, loadConfig func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "qemu-test",
		Args:  cobra.NoArgs,
		Short: "Boot the collected kernel and initramfs under an emulator",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			cmdLogger := logger.With("command", "qemu-test")
			kernelPath, initramfsPath := simple.OutputPaths(cfg)
			cmdLogger.Info("boot test", "kernel", kernelPath, "initramfs", initramfsPath)

			if err := simple.QemuTest(cmd.Context(), cfg, cmdLogger); err != nil {
				cmdLogger.Error("boot test failed", "error", err,
					"hint", "run 'metalbake build' first to produce the artifacts")
				return err
			}
			return nil
		},
	}
}

func parseLogLevel(value string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error", "err":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", value)
	}
}

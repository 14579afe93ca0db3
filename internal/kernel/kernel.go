// Package kernel drives the Linux kernel build: source acquisition,
// configuration, compilation and installation into the staging tree the
// image assembler consumes.
package kernel

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/artifacts"
	"github.com/metalbake/metalbake/internal/config"
	"github.com/metalbake/metalbake/internal/fetch"
	"github.com/metalbake/metalbake/internal/run"
)

// Output describes a finished (or reused) kernel build.
type Output struct {
	// Release is the authoritative kernel release string reported by
	// the build system; it may differ from the requested version.
	Release string
	// ModulesDir is the installed-modules tree, keyed by Release.
	ModulesDir string
	// BootImage is the kernel image under the staging boot path the
	// assembler expects.
	BootImage string
	// FlatImage is the duplicate copy under a flat predictable name.
	FlatImage string
	// Skipped reports that a prior build was reused unchanged.
	Skipped bool
}

// Builder compiles a kernel inside the build environment.
type Builder struct {
	Logger     *slog.Logger
	Runner     run.Runner
	Downloader *fetch.Downloader

	Arch arch.Architecture
	// HostArch is the architecture of the builder environment; when it
	// differs from Arch the cross toolchain is selected. Defaults to
	// the detected host.
	HostArch    arch.Architecture
	Version     string
	LocalSource string

	// ConfigDir holds the architecture-specific configuration
	// fragments (config-<arch>).
	ConfigDir string
	// ScratchDir caches downloaded/extracted sources and the flat
	// kernel copy.
	ScratchDir string
	// StagingDir is the rootfs overlay; modules land under
	// lib/modules, the kernel image under boot.
	StagingDir string

	// Jobs bounds make's parallelism; defaults to the number of
	// available processing units.
	Jobs int
}

// Build produces the kernel output tree. When modules from a prior
// build are present and force is unset, the existing output is returned
// untouched.
func (b *Builder) Build(ctx context.Context, force bool) (Output, error) {
	logger := b.logger().With("arch", b.Arch.String(), "version", b.Version)

	if b.LocalSource == "" && b.Version == "" {
		return Output{}, &config.ConfigError{Message: "kernel version is required when no local source directory is supplied"}
	}
	if !b.Arch.IsValid() {
		return Output{}, &config.ConfigError{Message: fmt.Sprintf("unsupported architecture %q", b.Arch)}
	}

	modulesRoot := filepath.Join(b.StagingDir, "lib", "modules")
	if !force {
		if release, ok := installedRelease(modulesRoot); ok {
			logger.Info("kernel already built; skipping", "release", release)
			return Output{
				Release:    release,
				ModulesDir: filepath.Join(modulesRoot, release),
				BootImage:  filepath.Join(b.StagingDir, "boot", "vmlinuz-"+release),
				FlatImage:  b.flatImagePath(),
				Skipped:    true,
			}, nil
		}
	} else {
		if err := b.wipeOutput(modulesRoot); err != nil {
			return Output{}, err
		}
	}

	srcDir, err := b.acquireSource(ctx, logger)
	if err != nil {
		return Output{}, err
	}

	if err := b.configure(ctx, logger, srcDir); err != nil {
		return Output{}, err
	}

	if b.Arch == arch.X86_64 {
		if err := widenBootParams(srcDir); err != nil {
			return Output{}, err
		}
		logger.Info("widened boot parameter limit", "bytes", bootParamsSize)
	}

	if err := b.compile(ctx, logger, srcDir); err != nil {
		return Output{}, err
	}

	release, err := b.kernelRelease(ctx, srcDir)
	if err != nil {
		return Output{}, err
	}
	logger = logger.With("release", release)

	output, err := b.install(ctx, logger, srcDir, release, modulesRoot)
	if err != nil {
		return Output{}, err
	}

	logger.Info("kernel build completed", "boot_image", output.BootImage)
	return output, nil
}

func (b *Builder) compile(ctx context.Context, logger *slog.Logger, srcDir string) error {
	jobs := b.Jobs
	if jobs < 1 {
		jobs = runtime.NumCPU()
	}

	logger.Info("compiling kernel", "jobs", jobs)
	cmd := run.Command{
		Name: "make",
		Args: []string{fmt.Sprintf("-j%d", jobs), imageTarget(b.Arch), "modules"},
		Dir:  srcDir,
		Env:  b.makeEnv(),
	}
	if err := b.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("compile kernel: %w", err)
	}
	return nil
}

// kernelRelease asks the build system for the resolved release string,
// which local patch levels may have shifted from the requested version.
func (b *Builder) kernelRelease(ctx context.Context, srcDir string) (string, error) {
	out, err := b.Runner.Output(ctx, run.Command{
		Name: "make",
		Args: []string{"-s", "kernelrelease"},
		Dir:  srcDir,
		Env:  b.makeEnv(),
	})
	if err != nil {
		return "", fmt.Errorf("query kernel release: %w", err)
	}
	if out == "" {
		return "", errors.New("kernel build system reported an empty release string")
	}
	return out, nil
}

func (b *Builder) install(ctx context.Context, logger *slog.Logger, srcDir, release, modulesRoot string) (Output, error) {
	installCmd := run.Command{
		Name: "make",
		Args: []string{"INSTALL_MOD_PATH=" + b.StagingDir, "modules_install"},
		Dir:  srcDir,
		Env:  b.makeEnv(),
	}
	if err := b.Runner.Run(ctx, installCmd); err != nil {
		return Output{}, fmt.Errorf("install modules: %w", err)
	}

	moduleDir := filepath.Join(modulesRoot, release)

	// modules_install leaves symlinks into the build host's source
	// tree; they must not end up in the image.
	for _, link := range []string{"build", "source"} {
		if err := os.Remove(filepath.Join(moduleDir, link)); err != nil && !errors.Is(err, os.ErrNotExist) {
			return Output{}, fmt.Errorf("remove %s symlink: %w", link, err)
		}
	}

	logger.Info("stripping module debug symbols", "dir", moduleDir)
	stripCmd := run.Command{
		Name: "find",
		Args: []string{moduleDir, "-name", "*.ko", "-exec", "strip", "--strip-debug", "{}", "+"},
	}
	if err := b.Runner.Run(ctx, stripCmd); err != nil {
		return Output{}, fmt.Errorf("strip modules: %w", err)
	}

	compiled := filepath.Join(srcDir, "arch", b.Arch.KernelArch(), "boot", imageTarget(b.Arch))
	bootImage := filepath.Join(b.StagingDir, "boot", "vmlinuz-"+release)
	if err := artifacts.CopyFile(compiled, bootImage); err != nil {
		return Output{}, fmt.Errorf("install kernel image: %w", err)
	}

	flatImage := b.flatImagePath()
	if err := artifacts.CopyFile(compiled, flatImage); err != nil {
		return Output{}, fmt.Errorf("copy flat kernel image: %w", err)
	}

	return Output{
		Release:    release,
		ModulesDir: moduleDir,
		BootImage:  bootImage,
		FlatImage:  flatImage,
	}, nil
}

// wipeOutput removes every trace of a prior kernel build so a forced
// rebuild regenerates the tree instead of merging into it.
func (b *Builder) wipeOutput(modulesRoot string) error {
	for _, path := range []string{modulesRoot, filepath.Join(b.StagingDir, "boot"), b.flatImagePath()} {
		if err := os.RemoveAll(path); err != nil {
			return fmt.Errorf("remove prior kernel output %s: %w", path, err)
		}
	}
	return nil
}

func (b *Builder) flatImagePath() string {
	return filepath.Join(b.ScratchDir, "vmlinuz-"+b.Arch.String())
}

// installedRelease reports the single installed modules tree, if any.
func installedRelease(modulesRoot string) (string, bool) {
	entries, err := os.ReadDir(modulesRoot)
	if err != nil {
		return "", false
	}
	for _, entry := range entries {
		if entry.IsDir() {
			return entry.Name(), true
		}
	}
	return "", false
}

// makeEnv is the environment every kernel make invocation runs with.
// Cross builds name the target toolchain explicitly; without it make
// falls back to the builder's native gcc.
func (b *Builder) makeEnv() []string {
	env := []string{"ARCH=" + b.Arch.KernelArch()}
	if prefix := crossPrefix(b.Arch, b.hostArch()); prefix != "" {
		env = append(env, "CROSS_COMPILE="+prefix)
	}
	return env
}

func (b *Builder) hostArch() arch.Architecture {
	if b.HostArch.IsValid() {
		return b.HostArch
	}
	return arch.Host()
}

// crossPrefix names the cross toolchain for a foreign target, matching
// the compilers installed in the builder image.
func crossPrefix(target, host arch.Architecture) string {
	if target == host {
		return ""
	}
	switch target {
	case arch.AArch64:
		return "aarch64-linux-gnu-"
	case arch.X86_64:
		return "x86_64-linux-gnu-"
	default:
		return ""
	}
}

// imageTarget names the make target (and boot file) per architecture.
func imageTarget(a arch.Architecture) string {
	if a == arch.AArch64 {
		return "Image"
	}
	return "bzImage"
}

func (b *Builder) logger() *slog.Logger {
	if b.Logger != nil {
		return b.Logger
	}
	return slog.Default()
}

// Package qemu boots a collected kernel/archive pair under an emulator
// for a quick smoke test of the produced image.
package qemu

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/run"
)

// Tester boots the image under qemu-system-<arch> with a serial
// console.
type Tester struct {
	Logger *slog.Logger
	Runner run.Runner

	Arch     arch.Architecture
	HostArch arch.Architecture

	Memory string
	CPUs   int
	// ExtraCmdline is appended to the fixed serial-console kernel
	// command line, typically provisioning keys under test.
	ExtraCmdline string
}

// Boot starts the emulator and blocks until it exits. The caller stops
// the guest from the serial console (or via context cancellation).
func (t *Tester) Boot(ctx context.Context, kernelPath, initramfsPath string) error {
	for _, path := range []string{kernelPath, initramfsPath} {
		if _, err := os.Stat(path); err != nil {
			return fmt.Errorf("boot artifact missing: %w", err)
		}
	}

	cmd := t.command(kernelPath, initramfsPath)
	t.logger().Info("booting image under emulator",
		"arch", t.Arch.String(),
		"memory", t.Memory,
		"cpus", t.CPUs,
		"command", cmd.String(),
	)

	if err := t.Runner.Run(ctx, cmd); err != nil {
		return fmt.Errorf("emulator: %w", err)
	}
	return nil
}

func (t *Tester) command(kernelPath, initramfsPath string) run.Command {
	args := []string{
		"-m", t.Memory,
		"-smp", fmt.Sprintf("%d", t.CPUs),
		"-nographic",
		"-kernel", kernelPath,
		"-initrd", initramfsPath,
		"-append", t.cmdline(),
	}

	if t.Arch == arch.AArch64 {
		args = append(args, "-machine", "virt")
	}
	if t.Arch == t.HostArch && kvmAvailable() {
		args = append(args, "-enable-kvm", "-cpu", "host")
	} else if t.Arch == arch.AArch64 {
		args = append(args, "-cpu", "cortex-a72")
	}

	return run.Command{
		Name:        "qemu-system-" + t.Arch.String(),
		Args:        args,
		Interactive: true,
	}
}

// cmdline builds the fixed serial-console command line plus any caller
// extras.
func (t *Tester) cmdline() string {
	console := "console=ttyS0"
	if t.Arch == arch.AArch64 {
		console = "console=ttyAMA0"
	}

	parts := []string{console}
	if extra := strings.TrimSpace(t.ExtraCmdline); extra != "" {
		parts = append(parts, extra)
	}
	return strings.Join(parts, " ")
}

func kvmAvailable() bool {
	_, err := os.Stat("/dev/kvm")
	return err == nil
}

func (t *Tester) logger() *slog.Logger {
	if t.Logger != nil {
		return t.Logger
	}
	return slog.Default()
}

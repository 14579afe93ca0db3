package qemu

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/run"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func bootArtifacts(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	kernel := filepath.Join(dir, "vmlinuz-x86_64")
	initramfs := filepath.Join(dir, "metalbake-x86_64.cpio.zst")
	for _, path := range []string{kernel, initramfs} {
		if err := os.WriteFile(path, []byte("x"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return kernel, initramfs
}

func TestBootCommandShape(t *testing.T) {
	t.Parallel()

	kernel, initramfs := bootArtifacts(t)
	fake := &run.Fake{}
	tester := &Tester{
		Logger:       discardLogger(),
		Runner:       fake,
		Arch:         arch.X86_64,
		HostArch:     arch.AArch64, // force pure emulation for a stable command shape
		Memory:       "2048M",
		CPUs:         2,
		ExtraCmdline: "metal.registry=registry.example.test:5000",
	}

	if err := tester.Boot(context.Background(), kernel, initramfs); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	cmds := fake.Commands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	cmd := cmds[0]
	if cmd.Name != "qemu-system-x86_64" {
		t.Fatalf("unexpected emulator binary: %q", cmd.Name)
	}
	rendered := cmd.String()
	for _, want := range []string{"-m 2048M", "-smp 2", "-nographic", "console=ttyS0 metal.registry=registry.example.test:5000"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("command missing %q: %q", want, rendered)
		}
	}
	if !cmd.Interactive {
		t.Fatal("boot must attach to the terminal")
	}
}

func TestBootAArch64UsesVirtMachine(t *testing.T) {
	t.Parallel()

	kernel, initramfs := bootArtifacts(t)
	fake := &run.Fake{}
	tester := &Tester{
		Logger:   discardLogger(),
		Runner:   fake,
		Arch:     arch.AArch64,
		HostArch: arch.X86_64,
		Memory:   "1024M",
		CPUs:     1,
	}

	if err := tester.Boot(context.Background(), kernel, initramfs); err != nil {
		t.Fatalf("Boot() error = %v", err)
	}

	rendered := fake.Commands()[0].String()
	for _, want := range []string{"qemu-system-aarch64", "-machine virt", "console=ttyAMA0"} {
		if !strings.Contains(rendered, want) {
			t.Fatalf("command missing %q: %q", want, rendered)
		}
	}
	if strings.Contains(rendered, "-enable-kvm") {
		t.Fatal("cross-architecture boot must not use KVM")
	}
}

func TestBootRequiresArtifacts(t *testing.T) {
	t.Parallel()

	tester := &Tester{
		Logger:   discardLogger(),
		Runner:   &run.Fake{},
		Arch:     arch.X86_64,
		HostArch: arch.X86_64,
		Memory:   "2048M",
		CPUs:     2,
	}

	missing := filepath.Join(t.TempDir(), "vmlinuz-x86_64")
	if err := tester.Boot(context.Background(), missing, missing); err == nil {
		t.Fatal("expected error for missing boot artifacts")
	}
}

package arch

import "testing"

func TestParseAliases(t *testing.T) {
	t.Parallel()

	cases := map[string]Architecture{
		"x86_64":  X86_64,
		"amd64":   X86_64,
		"x86-64":  X86_64,
		"AMD64":   X86_64,
		"aarch64": AArch64,
		"arm64":   AArch64,
		" arm64 ": AArch64,
	}

	for input, want := range cases {
		got, err := Parse(input)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", input, err)
		}
		if got != want {
			t.Fatalf("Parse(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestParseRejectsUnsupported(t *testing.T) {
	t.Parallel()

	for _, input := range []string{"", "riscv64", "i686", "mips", "ppc64le"} {
		if _, err := Parse(input); err == nil {
			t.Fatalf("Parse(%q) succeeded, want error", input)
		}
	}
}

func TestDownloadName(t *testing.T) {
	t.Parallel()

	if name, err := X86_64.DownloadName(); err != nil || name != "amd64" {
		t.Fatalf("X86_64.DownloadName() = %q, %v", name, err)
	}
	if name, err := AArch64.DownloadName(); err != nil || name != "arm64" {
		t.Fatalf("AArch64.DownloadName() = %q, %v", name, err)
	}
	if _, err := Architecture("sparc").DownloadName(); err == nil {
		t.Fatal("expected error for unsupported architecture")
	}
}

func TestKernelArch(t *testing.T) {
	t.Parallel()

	if got := X86_64.KernelArch(); got != "x86_64" {
		t.Fatalf("unexpected kernel arch: %q", got)
	}
	if got := AArch64.KernelArch(); got != "arm64" {
		t.Fatalf("unexpected kernel arch: %q", got)
	}
}

func TestHostFor(t *testing.T) {
	t.Parallel()

	if got := hostFor("amd64"); got != X86_64 {
		t.Fatalf("hostFor(amd64) = %q", got)
	}
	if got := hostFor("arm64"); got != AArch64 {
		t.Fatalf("hostFor(arm64) = %q", got)
	}
	if got := hostFor("riscv64"); got != "" {
		t.Fatalf("hostFor(riscv64) = %q, want empty", got)
	}
}

package arch

import (
	"fmt"
	"runtime"
	"sort"
	"strings"

	"golang.org/x/sys/unix"
)

// Architecture defines the set of target values accepted by the kernel
// build and the image assembler.
type Architecture string

const (
	X86_64  Architecture = "x86_64"
	AArch64 Architecture = "aarch64"
)

// Supported returns the full list of supported architectures.
func Supported() []Architecture {
	return []Architecture{
		X86_64,
		AArch64,
	}
}

// IsValid reports whether a matches a supported architecture value.
func (a Architecture) IsValid() bool {
	switch a {
	case X86_64, AArch64:
		return true
	default:
		return false
	}
}

// String returns the architecture as string.
func (a Architecture) String() string {
	return string(a)
}

// DownloadName returns the naming convention used by the binary release
// providers (containerd, runc, nerdctl, CNI plugins) for this architecture.
func (a Architecture) DownloadName() (string, error) {
	switch a {
	case X86_64:
		return "amd64", nil
	case AArch64:
		return "arm64", nil
	default:
		return "", fmt.Errorf("unsupported architecture %q", string(a))
	}
}

// KernelArch returns the value expected in the kernel build system's
// ARCH variable.
func (a Architecture) KernelArch() string {
	switch a {
	case AArch64:
		return "arm64"
	default:
		return "x86_64"
	}
}

// Parse returns the canonical Architecture for the provided string or an error if unsupported.
func Parse(value string) (Architecture, error) {
	if arch := Normalize(value); arch != "" {
		return arch, nil
	}
	return "", fmt.Errorf("unsupported architecture %q (supported: %s)", value, strings.Join(supportedStrings(), ", "))
}

// MustParse is like Parse but panics on error.
func MustParse(value string) Architecture {
	arch, err := Parse(value)
	if err != nil {
		panic(err)
	}
	return arch
}

// Normalize maps a possibly ambiguous string into a canonical Architecture. Returns ""
// when the string cannot be normalized.
func Normalize(value string) Architecture {
	normalized := strings.ToLower(strings.TrimSpace(value))
	switch normalized {
	case string(X86_64), "x86-64", "amd64":
		return X86_64
	case string(AArch64), "arm64":
		return AArch64
	default:
		return ""
	}
}

// Host reports the architecture of the machine the process runs on. The
// kernel's own uname value takes precedence; the Go runtime is the
// fallback when uname is unavailable.
func Host() Architecture {
	var uts unix.Utsname
	if err := unix.Uname(&uts); err == nil {
		if arch := Normalize(unix.ByteSliceToString(uts.Machine[:])); arch != "" {
			return arch
		}
	}
	return hostFor(runtime.GOARCH)
}

func hostFor(goarch string) Architecture {
	switch goarch {
	case "amd64":
		return X86_64
	case "arm64":
		return AArch64
	default:
		return ""
	}
}

func supportedStrings() []string {
	all := Supported()
	out := make([]string, 0, len(all))
	for _, a := range all {
		out = append(out, a.String())
	}
	sort.Strings(out)
	return out
}

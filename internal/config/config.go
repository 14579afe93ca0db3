// Package config builds the immutable build configuration from the
// process environment. It is the only place that reads environment
// variables; every other component receives a Config value.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/metalbake/metalbake/arch"
)

// Environment variable surface. All values are optional except
// KERNEL_VERSION, which the kernel build stage requires.
const (
	EnvArch            = "ARCH"
	EnvKernelVersion   = "KERNEL_VERSION"
	EnvKernelSourceDir = "KERNEL_SRC_DIR"
	EnvBuilderImage    = "BUILDER_IMAGE"
	EnvRebuildBuilder  = "REBUILD_BUILDER"
	EnvRebuildKernel   = "REBUILD_KERNEL"
	EnvRedownloadTools = "REDOWNLOAD_TOOLS"
	EnvToolVersions    = "TOOL_VERSIONS"
	EnvQemuMemory      = "QEMU_MEM"
	EnvQemuCPUs        = "QEMU_CPUS"
	EnvCmdlineExtra    = "CMDLINE_EXTRA"
)

const (
	defaultBuilderImage = "metalbake-builder"
	defaultQemuMemory   = "2048M"
	defaultQemuCPUs     = 2
)

// ConfigError reports an invalid or missing configuration value. It is
// always raised before any external command runs.
type ConfigError struct {
	Message string
}

func (e *ConfigError) Error() string {
	return e.Message
}

// Config carries every parameter of a single pipeline invocation. It is
// constructed once at process start and never mutated afterwards.
type Config struct {
	Arch            arch.Architecture
	HostArch        arch.Architecture
	KernelVersion   string
	KernelSourceDir string

	BuilderImage    string
	RebuildBuilder  bool
	RebuildKernel   bool
	RedownloadTools bool

	// ToolVersionsPath optionally overrides the embedded pinned tool
	// version manifest.
	ToolVersionsPath string

	QemuMemory   string
	QemuCPUs     int
	CmdlineExtra string

	Paths Paths
}

// Paths groups the filesystem layout of one build tree.
type Paths struct {
	// BaseDir anchors all other paths; defaults to the working directory.
	BaseDir string
	// OutputDir receives the two final artifacts.
	OutputDir string
	// ScratchDir holds downloaded and extracted kernel sources plus the
	// kernel build output trees.
	ScratchDir string
	// StagingDir is the rootfs overlay the assembler merges into the
	// image; downloaded tools land under it.
	StagingDir string
	// BuilderDefinition is the container build recipe for the isolated
	// build environment.
	BuilderDefinition string
	// AssemblerDir holds the mkosi configuration.
	AssemblerDir string
}

// Load constructs a Config from the real process environment.
func Load(baseDir string) (Config, error) {
	return FromEnvironment(baseDir, os.Getenv)
}

// FromEnvironment constructs a Config using the provided lookup
// function, which makes the parsing testable without touching the
// process environment.
func FromEnvironment(baseDir string, getenv func(string) string) (Config, error) {
	if getenv == nil {
		getenv = os.Getenv
	}

	if baseDir == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, fmt.Errorf("determine working directory: %w", err)
		}
		baseDir = wd
	}
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return Config{}, fmt.Errorf("resolve base directory: %w", err)
	}

	target := arch.Host()
	if raw := strings.TrimSpace(getenv(EnvArch)); raw != "" {
		parsed, err := arch.Parse(raw)
		if err != nil {
			return Config{}, &ConfigError{Message: err.Error()}
		}
		target = parsed
	}
	if !target.IsValid() {
		return Config{}, &ConfigError{Message: fmt.Sprintf("cannot determine target architecture; set %s", EnvArch)}
	}

	builderImage := strings.TrimSpace(getenv(EnvBuilderImage))
	if builderImage == "" {
		builderImage = defaultBuilderImage
	}

	qemuMemory := strings.TrimSpace(getenv(EnvQemuMemory))
	if qemuMemory == "" {
		qemuMemory = defaultQemuMemory
	}

	qemuCPUs := defaultQemuCPUs
	if raw := strings.TrimSpace(getenv(EnvQemuCPUs)); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 1 {
			return Config{}, &ConfigError{Message: fmt.Sprintf("invalid %s value %q", EnvQemuCPUs, raw)}
		}
		qemuCPUs = parsed
	}

	cfg := Config{
		Arch:            target,
		HostArch:        arch.Host(),
		KernelVersion:   strings.TrimSpace(getenv(EnvKernelVersion)),
		KernelSourceDir: strings.TrimSpace(getenv(EnvKernelSourceDir)),

		BuilderImage:    builderImage,
		RebuildBuilder:  parseBool(getenv(EnvRebuildBuilder)),
		RebuildKernel:   parseBool(getenv(EnvRebuildKernel)),
		RedownloadTools: parseBool(getenv(EnvRedownloadTools)),

		ToolVersionsPath: strings.TrimSpace(getenv(EnvToolVersions)),

		QemuMemory:   qemuMemory,
		QemuCPUs:     qemuCPUs,
		CmdlineExtra: strings.TrimSpace(getenv(EnvCmdlineExtra)),

		Paths: defaultPaths(absBase),
	}

	if cfg.KernelSourceDir != "" {
		info, err := os.Stat(cfg.KernelSourceDir)
		if err != nil {
			return Config{}, &ConfigError{Message: fmt.Sprintf("kernel source directory %s is not accessible: %v", cfg.KernelSourceDir, err)}
		}
		if !info.IsDir() {
			return Config{}, &ConfigError{Message: fmt.Sprintf("kernel source path %s is not a directory", cfg.KernelSourceDir)}
		}
	}

	return cfg, nil
}

// RequireKernelVersion validates the presence of the kernel version
// parameter. The build stage calls this before any external command.
func (c Config) RequireKernelVersion() error {
	if c.KernelSourceDir != "" {
		return nil
	}
	if c.KernelVersion == "" {
		return &ConfigError{Message: fmt.Sprintf("kernel version is required; set %s or %s", EnvKernelVersion, EnvKernelSourceDir)}
	}
	return nil
}

func defaultPaths(base string) Paths {
	return Paths{
		BaseDir:           base,
		OutputDir:         filepath.Join(base, "out"),
		ScratchDir:        filepath.Join(base, "cache"),
		StagingDir:        filepath.Join(base, "staging"),
		BuilderDefinition: filepath.Join(base, "Dockerfile.builder"),
		AssemblerDir:      filepath.Join(base, "mkosi"),
	}
}

func parseBool(value string) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "y", "on":
		return true
	default:
		return false
	}
}

// Package assemble invokes the external image assembler and collects
// the finished artifacts into the output directory.
package assemble

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/metalbake/metalbake/arch"
	"github.com/metalbake/metalbake/internal/run"
)

// Assembler drives mkosi inside the build environment.
type Assembler struct {
	Logger *slog.Logger
	// Env executes commands inside the builder environment.
	Env run.Runner
	// Host executes commands on the host, used for binfmt registration.
	Host run.Runner

	Arch     arch.Architecture
	HostArch arch.Architecture

	// Dir holds the mkosi configuration; the assembler writes its
	// output beneath it.
	Dir string
}

// Assemble runs one image build, forwarding any pass-through arguments
// the caller supplied.
func (a *Assembler) Assemble(ctx context.Context, passthrough []string) error {
	a.ensureForeignExecution(ctx)

	args := append([]string{"build"}, passthrough...)
	if err := a.Invoke(ctx, args...); err != nil {
		return fmt.Errorf("assemble image: %w", err)
	}
	return nil
}

// Invoke forwards an arbitrary assembler verb, for `summary` and for
// unrecognized subcommands passed through verbatim.
func (a *Assembler) Invoke(ctx context.Context, args ...string) error {
	return a.Env.Run(ctx, run.Command{
		Name: "mkosi",
		Args: args,
		Dir:  a.Dir,
	})
}

// ensureForeignExecution registers binfmt handlers before a
// cross-architecture build. Failure is only a warning: a truly missing
// handler makes the assembler fail with a clear error of its own.
func (a *Assembler) ensureForeignExecution(ctx context.Context) {
	if a.Arch == a.HostArch {
		return
	}

	logger := a.logger().With("host_arch", a.HostArch.String(), "target_arch", a.Arch.String())
	logger.Info("registering foreign binary execution support")

	err := a.Host.Run(ctx, run.Command{
		Name: "docker",
		Args: []string{"run", "--rm", "--privileged", "multiarch/qemu-user-static", "--reset", "-p", "yes"},
	})
	if err != nil {
		logger.Warn("binfmt registration failed; cross-architecture assembly may not work",
			"error", err,
			"hint", "run 'docker run --rm --privileged multiarch/qemu-user-static --reset -p yes' manually",
		)
	}
}

func (a *Assembler) logger() *slog.Logger {
	if a.Logger != nil {
		return a.Logger
	}
	return slog.Default()
}

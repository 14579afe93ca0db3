package builder

import (
	"context"

	"github.com/metalbake/metalbake/internal/run"
)

// Environment executes commands inside the prepared builder image. It
// satisfies run.Runner so downstream stages stay agnostic of whether
// they run on the host or in the container.
type Environment struct {
	Image  string
	Runner run.Runner

	// Mounts lists host directories bind-mounted into the container at
	// identical paths, so stage code can use one set of absolute paths
	// on both sides.
	Mounts []string
}

var _ run.Runner = (*Environment)(nil)

func (e *Environment) Run(ctx context.Context, cmd run.Command) error {
	return e.Runner.Run(ctx, e.wrap(cmd))
}

func (e *Environment) Output(ctx context.Context, cmd run.Command) (string, error) {
	return e.Runner.Output(ctx, e.wrap(cmd))
}

// wrap translates a plain command into a privileged one-shot container
// invocation. Privilege is required for the assembler's loop devices
// and for binfmt registration.
func (e *Environment) wrap(cmd run.Command) run.Command {
	args := []string{"run", "--rm", "--privileged"}
	if cmd.Interactive {
		args = append(args, "-it")
	}
	for _, mount := range e.Mounts {
		args = append(args, "-v", mount+":"+mount)
	}
	for _, kv := range cmd.Env {
		args = append(args, "--env", kv)
	}
	if cmd.Dir != "" {
		args = append(args, "-w", cmd.Dir)
	}
	args = append(args, e.Image, cmd.Name)
	args = append(args, cmd.Args...)

	return run.Command{
		Name:        "docker",
		Args:        args,
		Interactive: cmd.Interactive,
	}
}

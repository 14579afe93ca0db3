// Package run abstracts external command execution so that pipeline
// stages can be exercised in tests without spawning real processes.
package run

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
)

// Command describes one external tool invocation.
type Command struct {
	Name string
	Args []string
	// Dir is the working directory; empty means the process working
	// directory.
	Dir string
	// Env holds additional KEY=VALUE entries appended to the inherited
	// environment.
	Env []string
	// Interactive attaches the child to the caller's stdin, for the
	// `shell` subcommand.
	Interactive bool
}

// String renders the invocation for logs and error messages.
func (c Command) String() string {
	if len(c.Args) == 0 {
		return c.Name
	}
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Runner executes external commands. Every method blocks until the
// child exits and returns a non-nil error on any non-zero exit status.
type Runner interface {
	// Run executes the command, streaming its output.
	Run(ctx context.Context, cmd Command) error
	// Output executes the command and returns its captured stdout,
	// trimmed of surrounding whitespace.
	Output(ctx context.Context, cmd Command) (string, error)
}

// ExecRunner runs commands on the host via os/exec.
type ExecRunner struct {
	// Stdout and Stderr receive the child's streams; they default to
	// the process's own streams.
	Stdout io.Writer
	Stderr io.Writer
}

var _ Runner = (*ExecRunner)(nil)

func (r *ExecRunner) Run(ctx context.Context, cmd Command) error {
	child := r.prepare(ctx, cmd)
	child.Stdout = r.stdout()
	child.Stderr = r.stderr()
	if cmd.Interactive {
		child.Stdin = os.Stdin
	}
	if err := child.Run(); err != nil {
		return fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return nil
}

func (r *ExecRunner) Output(ctx context.Context, cmd Command) (string, error) {
	child := r.prepare(ctx, cmd)
	child.Stderr = r.stderr()
	out, err := child.Output()
	if err != nil {
		return "", fmt.Errorf("%s: %w", cmd.String(), err)
	}
	return strings.TrimSpace(string(out)), nil
}

func (r *ExecRunner) prepare(ctx context.Context, cmd Command) *exec.Cmd {
	child := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	child.Dir = cmd.Dir
	if len(cmd.Env) > 0 {
		child.Env = append(os.Environ(), cmd.Env...)
	}
	return child
}

func (r *ExecRunner) stdout() io.Writer {
	if r.Stdout != nil {
		return r.Stdout
	}
	return os.Stdout
}

func (r *ExecRunner) stderr() io.Writer {
	if r.Stderr != nil {
		return r.Stderr
	}
	return os.Stderr
}

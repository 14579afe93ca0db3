package run

import (
	"context"
	"strings"
	"sync"
)

// Fake records invocations and serves canned results. It is shared by
// the stage tests of several packages, which is why it lives here
// rather than in a _test file.
type Fake struct {
	mu       sync.Mutex
	commands []Command

	// Outputs maps a command prefix (name plus leading args, space
	// separated) to the stdout served for matching invocations.
	Outputs map[string]string
	// Errors maps a command prefix to the error returned for matching
	// invocations.
	Errors map[string]error
}

var _ Runner = (*Fake)(nil)

func (f *Fake) Run(ctx context.Context, cmd Command) error {
	f.record(cmd)
	return f.errorFor(cmd)
}

func (f *Fake) Output(ctx context.Context, cmd Command) (string, error) {
	f.record(cmd)
	if err := f.errorFor(cmd); err != nil {
		return "", err
	}
	for prefix, out := range f.Outputs {
		if strings.HasPrefix(cmd.String(), prefix) {
			return out, nil
		}
	}
	return "", nil
}

// Commands returns a copy of every recorded invocation in order.
func (f *Fake) Commands() []Command {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Command, len(f.commands))
	copy(out, f.commands)
	return out
}

// CommandStrings returns the recorded invocations rendered as strings.
func (f *Fake) CommandStrings() []string {
	cmds := f.Commands()
	out := make([]string, len(cmds))
	for i, cmd := range cmds {
		out[i] = cmd.String()
	}
	return out
}

func (f *Fake) record(cmd Command) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, cmd)
}

func (f *Fake) errorFor(cmd Command) error {
	for prefix, err := range f.Errors {
		if strings.HasPrefix(cmd.String(), prefix) {
			return err
		}
	}
	return nil
}

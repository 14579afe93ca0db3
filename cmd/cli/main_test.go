package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"testing"
)

func TestExitCodeForInterrupt(t *testing.T) {
	t.Parallel()

	err := fmt.Errorf("stage builder: %w", context.Canceled)
	if got := exitCodeFor(err); got != 130 {
		t.Fatalf("exitCodeFor(interrupt) = %d, want 130", got)
	}
}

func TestExitCodeForPropagatesExternalCommandStatus(t *testing.T) {
	t.Parallel()

	err := exec.Command("sh", "-c", "exit 7").Run()
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected ExitError, got %v", err)
	}

	wrapped := fmt.Errorf("stage kernel: %w", fmt.Errorf("compile kernel: %w", err))
	if got := exitCodeFor(wrapped); got != 7 {
		t.Fatalf("exitCodeFor(exit 7) = %d, want 7", got)
	}
}

func TestExitCodeForGenericFailure(t *testing.T) {
	t.Parallel()

	if got := exitCodeFor(errors.New("no archive image found")); got != 1 {
		t.Fatalf("exitCodeFor(generic) = %d, want 1", got)
	}
}

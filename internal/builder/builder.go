// Package builder prepares the isolated container environment every
// other build stage executes in.
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/metalbake/metalbake/internal/run"
)

// Preparer ensures the builder image exists and is newer than its
// definition file.
type Preparer struct {
	Logger *slog.Logger
	Runner run.Runner

	// Image is the builder image name.
	Image string
	// Definition is the container build recipe (Dockerfile) path.
	Definition string
	// ContextDir is the build context passed to the container engine;
	// defaults to the definition's directory semantics of the engine
	// when empty.
	ContextDir string
}

// Ensure builds or rebuilds the builder image as needed and returns an
// Environment handle for executing commands inside it. A force rebuild
// bypasses the engine's layer cache.
func (p *Preparer) Ensure(ctx context.Context, force bool) (*Environment, error) {
	logger := p.logger().With("image", p.Image)

	state := p.inspect(ctx)
	definitionModified, statErr := definitionModTime(p.Definition)
	if statErr != nil {
		logger.Warn("cannot stat builder definition; forcing rebuild", "definition", p.Definition, "error", statErr)
	}

	if !needsRebuild(state, definitionModified, statErr != nil, force) {
		logger.Info("builder image up to date", "created", state.created)
		return p.environment(), nil
	}

	args := []string{"build", "-t", p.Image, "-f", p.Definition}
	if force {
		args = append(args, "--no-cache")
	}
	contextDir := p.ContextDir
	if contextDir == "" {
		contextDir = "."
	}
	args = append(args, contextDir)

	logger.Info("building builder image", "definition", p.Definition, "no_cache", force)
	if err := p.Runner.Run(ctx, run.Command{Name: "docker", Args: args}); err != nil {
		return nil, fmt.Errorf("build builder image: %w", err)
	}

	return p.environment(), nil
}

func (p *Preparer) environment() *Environment {
	return &Environment{
		Image:  p.Image,
		Runner: p.Runner,
	}
}

// imageState captures what is known about an existing builder image.
type imageState struct {
	exists  bool
	created time.Time
}

// needsRebuild is the pure staleness decision: rebuild when forced,
// when no image exists, when the definition's state is unknown, or when
// the definition is newer than the image. Unknown definition state
// falls back to rebuilding, never to skipping.
func needsRebuild(state imageState, definitionModified time.Time, definitionUnknown, force bool) bool {
	if force {
		return true
	}
	if !state.exists {
		return true
	}
	if definitionUnknown {
		return true
	}
	return definitionModified.After(state.created)
}

func (p *Preparer) inspect(ctx context.Context) imageState {
	out, err := p.Runner.Output(ctx, run.Command{
		Name: "docker",
		Args: []string{"image", "inspect", "--format", "{{.Created}}", p.Image},
	})
	if err != nil {
		return imageState{}
	}

	created, err := time.Parse(time.RFC3339Nano, out)
	if err != nil {
		// An unparsable creation time is treated like a missing image.
		return imageState{}
	}
	return imageState{exists: true, created: created}
}

func definitionModTime(path string) (time.Time, error) {
	info, err := os.Stat(path)
	if err != nil {
		return time.Time{}, err
	}
	if info.IsDir() {
		return time.Time{}, errors.New("builder definition is a directory")
	}
	return info.ModTime(), nil
}

func (p *Preparer) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

// Package pipeline sequences the build stages and enforces the
// fail-fast contract: the first stage error aborts the run.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

// Stage is one step of the build pipeline.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Func      func(ctx context.Context) error
}

func (s StageFunc) Name() string { return s.StageName }

func (s StageFunc) Run(ctx context.Context) error { return s.Func(ctx) }

// StageError wraps a stage failure with the stage's name.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Pipeline runs stages strictly in order. There are no retries and no
// resumption beyond the skip conditions the stages implement themselves.
type Pipeline struct {
	Logger *slog.Logger
	Stages []Stage
}

// Run executes every stage in order and stops at the first failure.
func (p *Pipeline) Run(ctx context.Context) error {
	logger := p.logger().With("run_id", uuid.NewString())
	started := time.Now()

	for _, stage := range p.Stages {
		if err := ctx.Err(); err != nil {
			return err
		}

		stageLogger := logger.With("stage", stage.Name())
		stageLogger.Info("stage starting")
		stageStart := time.Now()

		if err := stage.Run(ctx); err != nil {
			stageLogger.Error("stage failed", "error", err, "elapsed", time.Since(stageStart))
			return &StageError{Stage: stage.Name(), Err: err}
		}

		stageLogger.Info("stage completed", "elapsed", time.Since(stageStart))
	}

	logger.Info("pipeline completed", "elapsed", time.Since(started))
	return nil
}

func (p *Pipeline) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}

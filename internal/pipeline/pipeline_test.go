package pipeline

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPipelineRunsStagesInOrder(t *testing.T) {
	t.Parallel()

	var order []string
	stage := func(name string) Stage {
		return StageFunc{StageName: name, Func: func(context.Context) error {
			order = append(order, name)
			return nil
		}}
	}

	p := &Pipeline{
		Logger: discardLogger(),
		Stages: []Stage{stage("builder"), stage("kernel"), stage("tools"), stage("assemble")},
	}

	if err := p.Run(context.Background()); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{"builder", "kernel", "tools", "assemble"}
	if len(order) != len(want) {
		t.Fatalf("expected %d stages, got %d", len(want), len(order))
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("stage %d = %q, want %q", i, order[i], want[i])
		}
	}
}

func TestPipelineHaltsOnFirstFailure(t *testing.T) {
	t.Parallel()

	boom := errors.New("exit status 2")
	var ran []string

	p := &Pipeline{
		Logger: discardLogger(),
		Stages: []Stage{
			StageFunc{StageName: "builder", Func: func(context.Context) error {
				ran = append(ran, "builder")
				return nil
			}},
			StageFunc{StageName: "kernel", Func: func(context.Context) error {
				ran = append(ran, "kernel")
				return boom
			}},
			StageFunc{StageName: "tools", Func: func(context.Context) error {
				ran = append(ran, "tools")
				return nil
			}},
		},
	}

	err := p.Run(context.Background())
	if err == nil {
		t.Fatal("expected error")
	}

	var stageErr *StageError
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected StageError, got %T: %v", err, err)
	}
	if stageErr.Stage != "kernel" {
		t.Fatalf("unexpected failing stage: %q", stageErr.Stage)
	}
	if !errors.Is(err, boom) {
		t.Fatal("expected wrapped stage error")
	}

	if len(ran) != 2 {
		t.Fatalf("expected halt after failing stage, ran %v", ran)
	}
}

func TestPipelineHonorsCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := &Pipeline{
		Logger: discardLogger(),
		Stages: []Stage{StageFunc{StageName: "builder", Func: func(context.Context) error {
			t.Fatal("stage must not run after cancellation")
			return nil
		}}},
	}

	if err := p.Run(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

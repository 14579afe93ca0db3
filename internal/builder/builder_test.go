package builder

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/metalbake/metalbake/internal/run"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func writeDefinition(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "Dockerfile.builder")
	if err := os.WriteFile(path, []byte("FROM debian:trixie\n"), 0o644); err != nil {
		t.Fatalf("write definition: %v", err)
	}
	return path
}

func TestNeedsRebuild(t *testing.T) {
	t.Parallel()

	now := time.Now()
	fresh := imageState{exists: true, created: now}
	stale := imageState{exists: true, created: now.Add(-time.Hour)}

	cases := []struct {
		name       string
		state      imageState
		modified   time.Time
		defUnknown bool
		force      bool
		want       bool
	}{
		{"missing image", imageState{}, now, false, false, true},
		{"up to date", fresh, now.Add(-time.Minute), false, false, false},
		{"definition newer", stale, now, false, false, true},
		{"unknown definition", fresh, time.Time{}, true, false, true},
		{"forced", fresh, now.Add(-time.Minute), false, true, true},
	}

	for _, tc := range cases {
		if got := needsRebuild(tc.state, tc.modified, tc.defUnknown, tc.force); got != tc.want {
			t.Fatalf("%s: needsRebuild = %t, want %t", tc.name, got, tc.want)
		}
	}
}

func TestEnsureSkipsWhenImageFresh(t *testing.T) {
	t.Parallel()

	definition := writeDefinition(t)
	fake := &run.Fake{
		Outputs: map[string]string{
			"docker image inspect": time.Now().Add(time.Hour).Format(time.RFC3339Nano),
		},
	}

	p := &Preparer{Logger: discardLogger(), Runner: fake, Image: "builder", Definition: definition}
	if _, err := p.Ensure(context.Background(), false); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	for _, cmd := range fake.CommandStrings() {
		if strings.HasPrefix(cmd, "docker build") {
			t.Fatalf("unexpected rebuild: %q", cmd)
		}
	}
}

func TestEnsureBuildsWhenImageMissing(t *testing.T) {
	t.Parallel()

	definition := writeDefinition(t)
	fake := &run.Fake{
		Errors: map[string]error{"docker image inspect": errors.New("no such image")},
	}

	p := &Preparer{Logger: discardLogger(), Runner: fake, Image: "builder", Definition: definition}
	if _, err := p.Ensure(context.Background(), false); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var built bool
	for _, cmd := range fake.CommandStrings() {
		if strings.HasPrefix(cmd, "docker build -t builder") {
			built = true
			if strings.Contains(cmd, "--no-cache") {
				t.Fatalf("unforced build must use the cache: %q", cmd)
			}
		}
	}
	if !built {
		t.Fatal("expected a docker build invocation")
	}
}

func TestEnsureForcedBuildBypassesCache(t *testing.T) {
	t.Parallel()

	definition := writeDefinition(t)
	fake := &run.Fake{
		Outputs: map[string]string{
			"docker image inspect": time.Now().Add(time.Hour).Format(time.RFC3339Nano),
		},
	}

	p := &Preparer{Logger: discardLogger(), Runner: fake, Image: "builder", Definition: definition}
	if _, err := p.Ensure(context.Background(), true); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var built bool
	for _, cmd := range fake.CommandStrings() {
		if strings.HasPrefix(cmd, "docker build") && strings.Contains(cmd, "--no-cache") {
			built = true
		}
	}
	if !built {
		t.Fatal("expected forced rebuild with --no-cache")
	}
}

func TestEnsureRebuildsOnMissingDefinition(t *testing.T) {
	t.Parallel()

	fake := &run.Fake{
		Outputs: map[string]string{
			"docker image inspect": time.Now().Format(time.RFC3339Nano),
		},
	}

	p := &Preparer{
		Logger:     discardLogger(),
		Runner:     fake,
		Image:      "builder",
		Definition: filepath.Join(t.TempDir(), "missing"),
	}
	if _, err := p.Ensure(context.Background(), false); err != nil {
		t.Fatalf("Ensure() error = %v", err)
	}

	var built bool
	for _, cmd := range fake.CommandStrings() {
		if strings.HasPrefix(cmd, "docker build") {
			built = true
		}
	}
	if !built {
		t.Fatal("missing definition must fall back to rebuilding")
	}
}

func TestEnsureFailsOnBuildError(t *testing.T) {
	t.Parallel()

	definition := writeDefinition(t)
	boom := errors.New("exit status 1")
	fake := &run.Fake{
		Errors: map[string]error{
			"docker image inspect": errors.New("no such image"),
			"docker build":         boom,
		},
	}

	p := &Preparer{Logger: discardLogger(), Runner: fake, Image: "builder", Definition: definition}
	if _, err := p.Ensure(context.Background(), false); !errors.Is(err, boom) {
		t.Fatalf("expected build failure, got %v", err)
	}
}

func TestEnvironmentWrapsCommands(t *testing.T) {
	t.Parallel()

	fake := &run.Fake{}
	env := &Environment{Image: "builder", Runner: fake, Mounts: []string{"/work"}}

	err := env.Run(context.Background(), run.Command{
		Name: "make",
		Args: []string{"-j4"},
		Dir:  "/work/linux",
		Env:  []string{"ARCH=arm64"},
	})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	cmds := fake.Commands()
	if len(cmds) != 1 {
		t.Fatalf("expected 1 command, got %d", len(cmds))
	}
	got := cmds[0].String()
	want := "docker run --rm --privileged -v /work:/work --env ARCH=arm64 -w /work/linux builder make -j4"
	if got != want {
		t.Fatalf("unexpected wrapped command:\n got %q\nwant %q", got, want)
	}
}

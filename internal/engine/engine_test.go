package engine

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cruciblehq/slipway/internal/artifact"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// Stage executor backed by a function, for driving the engine without
// a sandbox.
type executorFunc func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error)

func (f executorFunc) Execute(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
	return f(ctx, stage, seed)
}

// Produces the stage's declared artifacts with the stage name as
// content.
func producingExecutor(t *testing.T) executorFunc {
	t.Helper()
	return func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		out := artifact.New()
		for _, p := range stage.Artifacts {
			out.Add(p, []byte(stage.Name), 0644)
		}
		return out, nil
	}
}

func twoStagePipeline() *manifest.Pipeline {
	return &manifest.Pipeline{
		Stages: []manifest.Stage{
			{Name: "build", Commands: []string{"make"}, Artifacts: []string{"/out/app.bin"}},
			{Name: "serve", Commands: []string{"true"}, Artifacts: []string{"/srv/app.bin"}},
		},
		Transfers: []manifest.Transfer{
			{From: "build:/out/app.bin", To: "serve:/srv/app.bin"},
		},
	}
}

func TestRun(t *testing.T) {
	var seen []string
	exec := executorFunc(func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		seen = append(seen, stage.Name)
		out := artifact.New()
		for _, p := range stage.Artifacts {
			out.Add(p, []byte(stage.Name), 0644)
		}
		if stage.Name == "serve" {
			if _, ok := seed.Get("/srv/app.bin"); !ok {
				t.Errorf("serve seed missing transferred artifact, got %v", seed.Paths())
			}
		}
		return out, nil
	})

	result, err := Run(context.Background(), exec, Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Status != StatusSucceeded {
		t.Fatalf("Status = %v, want succeeded", result.Status)
	}
	if len(seen) != 2 || seen[0] != "build" || seen[1] != "serve" {
		t.Fatalf("execution order = %v, want [build serve]", seen)
	}
	if result.Stages["build"] != StatusSucceeded || result.Stages["serve"] != StatusSucceeded {
		t.Fatalf("stage statuses = %v", result.Stages)
	}
	if _, ok := result.Final.Get("/srv/app.bin"); !ok {
		t.Fatalf("Final = %v, want serve's artifacts", result.Final.Paths())
	}
}

func TestRunFailFast(t *testing.T) {
	cmdErr := &CommandError{Stage: "build", Index: 0, Command: "make", ExitCode: 2}

	var serveRan bool
	exec := executorFunc(func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		if stage.Name == "build" {
			return nil, cmdErr
		}
		serveRan = true
		return artifact.New(), nil
	})

	result, err := Run(context.Background(), exec, Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatalf("err = %v, want ErrCommandFailed", err)
	}

	var got *CommandError
	if !errors.As(err, &got) || got.ExitCode != 2 {
		t.Fatalf("err = %v, want wrapped CommandError", err)
	}

	if serveRan {
		t.Fatal("stage after a failure was executed")
	}
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
	if result.FailedAt != "build" {
		t.Fatalf("FailedAt = %q, want build", result.FailedAt)
	}
	if result.Stages["build"] != StatusFailed {
		t.Fatalf("build status = %v, want failed", result.Stages["build"])
	}
	if result.Stages["serve"] != StatusPending {
		t.Fatalf("serve status = %v, want pending", result.Stages["serve"])
	}
}

func TestRunUnresolvedTransfer(t *testing.T) {
	// Build succeeds but never produces the transferred path.
	var serveRan bool
	exec := executorFunc(func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		if stage.Name == "serve" {
			serveRan = true
		}
		return artifact.New(), nil
	})

	result, err := Run(context.Background(), exec, Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if !errors.Is(err, ErrUnresolvedTransfer) {
		t.Fatalf("err = %v, want ErrUnresolvedTransfer", err)
	}
	if serveRan {
		t.Fatal("destination stage ran despite unresolved transfer")
	}
	if result.FailedAt != "serve" {
		t.Fatalf("FailedAt = %q, want serve", result.FailedAt)
	}
}

func TestRunUntil(t *testing.T) {
	var seen []string
	exec := executorFunc(func(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		seen = append(seen, stage.Name)
		out := artifact.New()
		for _, p := range stage.Artifacts {
			out.Add(p, []byte(stage.Name), 0644)
		}
		return out, nil
	})

	result, err := Run(context.Background(), exec, Options{
		Pipeline: twoStagePipeline(),
		RunID:    "test",
		Until:    "build",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if len(seen) != 1 || seen[0] != "build" {
		t.Fatalf("executed stages = %v, want [build]", seen)
	}
	if result.Stages["serve"] != StatusPending {
		t.Fatalf("serve status = %v, want pending", result.Stages["serve"])
	}
	if _, ok := result.Final.Get("/out/app.bin"); !ok {
		t.Fatalf("Final = %v, want build's artifacts", result.Final.Paths())
	}
}

func TestRunUntilUnknownStage(t *testing.T) {
	_, err := Run(context.Background(), producingExecutor(t), Options{
		Pipeline: twoStagePipeline(),
		RunID:    "test",
		Until:    "ghost",
	})
	if err == nil {
		t.Fatal("expected error for unknown until stage")
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := Run(ctx, producingExecutor(t), Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if result.Status != StatusFailed {
		t.Fatalf("Status = %v, want failed", result.Status)
	}
}

func TestRunCancelledBetweenStages(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	var seen []string
	exec := executorFunc(func(c context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
		seen = append(seen, stage.Name)
		cancel() // takes effect at the next stage boundary
		out := artifact.New()
		for _, p := range stage.Artifacts {
			out.Add(p, []byte(stage.Name), 0644)
		}
		return out, nil
	})

	_, err := Run(ctx, exec, Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if len(seen) != 1 || seen[0] != "build" {
		t.Fatalf("executed stages = %v, want [build]", seen)
	}
}

func TestRunDeadlineExceeded(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Nanosecond)
	defer cancel()
	<-ctx.Done()

	_, err := Run(ctx, producingExecutor(t), Options{Pipeline: twoStagePipeline(), RunID: "test"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v, want context.DeadlineExceeded", err)
	}
}

func TestCommandErrorUnwrap(t *testing.T) {
	err := error(&CommandError{Stage: "build", Command: "make", ExitCode: 1})
	if !errors.Is(err, ErrCommandFailed) {
		t.Fatal("CommandError does not unwrap to ErrCommandFailed")
	}
}

func TestOutputTail(t *testing.T) {
	short := "hello"
	if got := OutputTail(short); got != short {
		t.Fatalf("OutputTail(short) = %q", got)
	}

	long := make([]byte, 5000)
	for i := range long {
		long[i] = byte('a' + i%26)
	}
	got := OutputTail(string(long))
	if len(got) != 2048 {
		t.Fatalf("len(tail) = %d, want 2048", len(got))
	}
	if got != string(long[len(long)-2048:]) {
		t.Fatal("tail is not the suffix of the output")
	}
}

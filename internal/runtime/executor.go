package runtime

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"

	"github.com/cruciblehq/slipway/internal/artifact"
	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// Shell used to run stage commands inside containers.
const stageShell = "/bin/sh"

// Executes stages in containers backed by containerd.
//
// Each stage runs in a container created from its base image. Transfer
// seeds are streamed into the container as a tar archive before the
// first command, and declared artifacts are streamed back out after the
// last one. Containers are kept until Cleanup so the final stage can be
// exported as an OCI archive.
type Executor struct {
	rt         *Runtime
	runID      string
	platform   string
	containers []*Container
	last       *Container
}

// Creates a containerd executor for a single pipeline run.
func NewExecutor(rt *Runtime, runID string) *Executor {
	return &Executor{
		rt:       rt,
		runID:    runID,
		platform: defaultPlatform(),
	}
}

// Runs the stage's command sequence in a fresh container.
func (e *Executor) Execute(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error) {
	if stage.Base == "" {
		return nil, fmt.Errorf("%w: stage %q declares no base image", engine.ErrProvision, stage.Name)
	}

	image, err := e.rt.Provision(ctx, stage.Base, e.platform)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: %w", engine.ErrProvision, err)
	}

	ctr, err := e.rt.StartContainer(ctx, image, e.containerID(stage.Name), e.platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", engine.ErrProvision, err)
	}
	e.containers = append(e.containers, ctr)
	e.last = ctr

	if err := e.seedContainer(ctx, ctr, seed); err != nil {
		return nil, err
	}

	if stage.Workdir != "" {
		if err := ctr.MkdirAll(ctx, stage.Workdir); err != nil {
			return nil, err
		}
	}

	env := environ(stage.Env)
	for i, command := range stage.Commands {
		// Cancellation is honored between commands, never mid-command.
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		slog.Debug("run", "stage", stage.Name, "command", command)

		result, err := ctr.Exec(ctx, stageShell, command, env, stage.Workdir)
		if err != nil {
			return nil, err
		}
		if result.ExitCode != 0 {
			return nil, &engine.CommandError{
				Stage:    stage.Name,
				Index:    i,
				Command:  command,
				ExitCode: result.ExitCode,
				Output:   engine.OutputTail(result.Output),
			}
		}
	}

	return e.harvest(ctx, ctr, stage)
}

// Streams the seed artifacts into the container root.
func (e *Executor) seedContainer(ctx context.Context, ctr *Container, seed *artifact.Set) error {
	if seed == nil || seed.Len() == 0 {
		return nil
	}

	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(seed.WriteTar(pw))
	}()

	if err := ctr.CopyTo(ctx, pr, "/"); err != nil {
		return fmt.Errorf("seed container: %w", err)
	}
	return nil
}

// Collects the stage's declared artifact paths from the container.
//
// Each path is checked for existence before archiving so a missing
// declaration surfaces as [engine.ErrMissingArtifact] rather than a tar
// failure.
func (e *Executor) harvest(ctx context.Context, ctr *Container, stage manifest.Stage) (*artifact.Set, error) {
	out := artifact.New()
	for _, decl := range stage.Artifacts {
		p := "/" + artifact.Normalize(decl)

		result, err := ctr.Exec(ctx, stageShell, fmt.Sprintf("test -e %q", p), nil, "")
		if err != nil {
			return nil, err
		}
		if result.ExitCode != 0 {
			return nil, fmt.Errorf("%w: %s", engine.ErrMissingArtifact, decl)
		}

		set, err := e.copyOut(ctx, ctr, p)
		if err != nil {
			return nil, err
		}
		out.Merge(set)
	}
	return out, nil
}

// Streams one declared path out of the container into an artifact set.
func (e *Executor) copyOut(ctx context.Context, ctr *Container, p string) (*artifact.Set, error) {
	pr, pw := io.Pipe()

	errc := make(chan error, 1)
	go func() {
		errc <- ctr.CopyFrom(ctx, pw, p)
		pw.Close()
	}()

	set, err := artifact.ReadTar(pr, path.Dir(p))
	if err != nil {
		return nil, err
	}
	if err := <-errc; err != nil {
		return nil, err
	}
	return set, nil
}

// Exports the final stage's filesystem as an OCI archive.
//
// The last executed stage's container is stopped and its snapshot diff
// committed onto the base image.
func (e *Executor) Export(ctx context.Context, output string, entrypoint []string) error {
	if e.last == nil {
		return fmt.Errorf("%w: no stage has been executed", ErrRuntime)
	}
	if err := e.last.Stop(ctx); err != nil {
		return err
	}
	return e.last.Export(ctx, output, entrypoint)
}

// Destroys all stage containers created by this run.
func (e *Executor) Cleanup(ctx context.Context) {
	for _, ctr := range e.containers {
		ctr.Destroy(ctx)
	}
}

// Returns a unique container ID for a stage, scoped to this run.
func (e *Executor) containerID(stage string) string {
	return fmt.Sprintf("slipway-%s-%s", e.runID, stage)
}

// Formats a stage environment as "key=value" pairs for container exec.
func environ(env map[string]string) []string {
	out := make([]string, 0, len(env))
	for k, v := range env {
		out = append(out, k+"="+v)
	}
	return out
}

package engine

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cruciblehq/slipway/internal/artifact"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// Runs the commands of a single stage in an isolated environment.
//
// seed holds the artifacts transferred into the stage's initial
// filesystem; it may be empty. On success the returned set contains
// every path the stage declares as an artifact. Implementations report
// failures using the engine's error taxonomy: [CommandError] for
// non-zero command exits, [ErrMissingArtifact] for declared paths the
// commands never produced, and [ErrProvision] when the base environment
// could not be set up.
type Executor interface {
	Execute(ctx context.Context, stage manifest.Stage, seed *artifact.Set) (*artifact.Set, error)
}

// Controls pipeline execution.
type Options struct {
	Pipeline *manifest.Pipeline // Pipeline to execute.
	RunID    string             // Identifier for this run, used in logs and sandbox naming.
	Until    string             // Stop after this stage. Empty runs all stages.
}

// Returned after pipeline execution.
type Result struct {
	Status   Status            // Overall pipeline status.
	Stages   map[string]Status // Per-stage status at completion.
	Final    *artifact.Set     // Artifact set of the last executed stage.
	FailedAt string            // Name of the failed stage, when Status is failed.
}

// Executes the pipeline's stages in topological order against the
// executor.
//
// Each stage's initial filesystem is seeded from its incoming transfer
// edges before execution; an edge whose source path is absent from the
// source stage's artifact set fails with [ErrUnresolvedTransfer] before
// the destination stage runs any command. The first stage failure
// aborts the pipeline; no subsequent stage starts. Cancellation is
// honored at stage boundaries: a cancelled context prevents the next
// stage from starting but never interrupts a stage mid-run.
func Run(ctx context.Context, exec Executor, opts Options) (*Result, error) {
	order, err := opts.Pipeline.ExecutionOrder()
	if err != nil {
		return nil, err
	}

	edges, err := opts.Pipeline.Edges()
	if err != nil {
		return nil, err
	}

	if opts.Until != "" {
		if _, ok := opts.Pipeline.Stage(opts.Until); !ok {
			return nil, fmt.Errorf("unknown stage %q", opts.Until)
		}
	}

	slog.Info("executing pipeline",
		"run", opts.RunID,
		"stages", len(order),
		"transfers", len(edges),
	)

	result := &Result{
		Status: StatusRunning,
		Stages: make(map[string]Status, len(order)),
	}
	for _, s := range order {
		result.Stages[s.Name] = StatusPending
	}

	sets := make(map[string]*artifact.Set, len(order))

	for _, stage := range order {
		if err := ctx.Err(); err != nil {
			result.Status = StatusFailed
			return result, err
		}

		seed, err := seedFor(stage.Name, edges, sets)
		if err != nil {
			result.Status = StatusFailed
			result.Stages[stage.Name] = StatusFailed
			result.FailedAt = stage.Name
			return result, err
		}

		slog.Info("stage started", "stage", stage.Name, "seed_files", seed.Len())
		result.Stages[stage.Name] = StatusRunning

		out, err := exec.Execute(ctx, stage, seed)
		if err != nil {
			result.Status = StatusFailed
			result.Stages[stage.Name] = StatusFailed
			result.FailedAt = stage.Name
			return result, fmt.Errorf("stage %q: %w", stage.Name, err)
		}

		result.Stages[stage.Name] = StatusSucceeded
		result.Final = out
		sets[stage.Name] = out

		slog.Info("stage succeeded", "stage", stage.Name, "artifacts", out.Len())

		if opts.Until != "" && stage.Name == opts.Until {
			break
		}
	}

	result.Status = StatusSucceeded
	return result, nil
}

// Builds the initial artifact set for a stage from its incoming
// transfer edges.
//
// Every edge is checked against the source stage's completed artifact
// set; a source path the stage never produced is an unresolved
// transfer.
func seedFor(stage string, edges []manifest.Edge, sets map[string]*artifact.Set) (*artifact.Set, error) {
	seed := artifact.New()
	for _, e := range edges {
		if e.ToStage != stage {
			continue
		}

		src, ok := sets[e.FromStage]
		if !ok {
			return nil, fmt.Errorf("%w: source stage %q has no artifact set", ErrUnresolvedTransfer, e.FromStage)
		}

		moved, err := src.Rebase(e.FromPath, e.ToPath)
		if err != nil {
			return nil, fmt.Errorf("%w: %s:%s", ErrUnresolvedTransfer, e.FromStage, e.FromPath)
		}
		seed.Merge(moved)
	}
	return seed, nil
}

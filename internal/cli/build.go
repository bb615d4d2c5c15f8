package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/envcfg"
	"github.com/cruciblehq/slipway/internal/manifest"
	"github.com/cruciblehq/slipway/internal/runtime"
)

// Represents the build command, which executes build stages and
// materializes their artifacts without launching a runtime.
type BuildCmd struct {
	PipelineFile string `arg:"" help:"Path to the pipeline definition file." type:"existingfile"`
	Until        string `help:"Stop after the named stage." placeholder:"STAGE"`
	Output       string `short:"o" help:"Directory for pipeline outputs." default:"dist"`
}

func (c *BuildCmd) Run(ctx context.Context, cfg *envcfg.Config) error {

	pipeline, err := manifest.Load(c.PipelineFile)
	if err != nil {
		return err
	}

	runID := newRunID()
	logger := slog.With("run_id", runID)

	executor, release, err := newExecutor(cfg, runID)
	if err != nil {
		return err
	}
	defer release()

	if RootCmd.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, time.Duration(RootCmd.Timeout)*time.Second)
		defer cancel()
	}

	logger.Info("starting build", "file", c.PipelineFile, "stages", len(pipeline.Stages))

	result, err := engine.Run(ctx, executor, engine.Options{
		Pipeline: pipeline,
		RunID:    runID,
		Until:    c.Until,
	})
	if err != nil {
		return err
	}

	if err := result.Final.WriteDir(c.Output); err != nil {
		return fmt.Errorf("writing outputs: %w", err)
	}

	// Containerd runs additionally export the final stage as an OCI
	// image archive, ready to load into an engine elsewhere.
	if exporter, ok := executor.(*runtime.Executor); ok {
		var entrypoint []string
		if pipeline.Runtime != nil {
			entrypoint = pipeline.Runtime.Command
		}
		if err := exporter.Export(ctx, c.Output, entrypoint); err != nil {
			return err
		}
		logger.Info("exported image archive", "dir", c.Output)
	}

	logger.Info("build finished", "status", result.Status, "outputs", c.Output)
	return nil
}

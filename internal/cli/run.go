package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/envcfg"
	"github.com/cruciblehq/slipway/internal/launch"
	"github.com/cruciblehq/slipway/internal/manifest"
	"github.com/cruciblehq/slipway/internal/paths"
)

// Represents the run command, which executes every stage of a
// pipeline and then launches its runtime stage.
type RunCmd struct {
	PipelineFile string `arg:"" help:"Path to the pipeline definition file." type:"existingfile"`
}

func (c *RunCmd) Run(ctx context.Context, cfg *envcfg.Config) error {

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

	buildCtx := ctx
	if RootCmd.Timeout > 0 {
		var cancel context.CancelFunc
		buildCtx, cancel = context.WithTimeout(ctx, time.Duration(RootCmd.Timeout)*time.Second)
		defer cancel()
	}

	logger.Info("starting pipeline", "file", c.PipelineFile, "stages", len(pipeline.Stages))

	result, err := engine.Run(buildCtx, executor, engine.Options{
		Pipeline: pipeline,
		RunID:    runID,
	})
	if err != nil {
		return err
	}

	runtimeCfg, ok := pipeline.RuntimeConfig()
	if !ok {
		logger.Info("pipeline finished", "status", result.Status)
		return nil
	}

	root := filepath.Join(paths.RunDir(runID), "runtime")
	defer os.RemoveAll(root)

	if err := result.Final.WriteDir(root); err != nil {
		return fmt.Errorf("materializing runtime root: %w", err)
	}

	handle, err := launch.Start(buildCtx, runtimeCfg, root)
	if err != nil {
		return err
	}

	logger.Info("runtime started", "addr", handle.Addr())

	select {
	case <-ctx.Done():
		logger.Info("shutting down runtime")
		return handle.Stop(context.Background())
	case err := <-handle.Done():
		if err != nil {
			return fmt.Errorf("%w: runtime exited: %w", engine.ErrLaunch, err)
		}
		return nil
	}
}

// Generates a short unique identifier for a pipeline run.
func newRunID() string {
	return uuid.NewString()[:8]
}

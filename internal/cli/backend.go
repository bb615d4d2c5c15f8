package cli

import (
	"context"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/envcfg"
	"github.com/cruciblehq/slipway/internal/host"
	"github.com/cruciblehq/slipway/internal/provision"
	"github.com/cruciblehq/slipway/internal/runtime"
)

// Constructs the stage executor for the backend selected on the
// command line. The returned function releases executor resources and
// must be called once the run is finished.
func newExecutor(cfg *envcfg.Config, runID string) (engine.Executor, func(), error) {
	switch RootCmd.Backend {
	case "containerd":
		rt, err := runtime.New(cfg.ContainerdAddress, cfg.ContainerdNamespace)
		if err != nil {
			return nil, nil, err
		}
		executor := runtime.NewExecutor(rt, runID)
		cleanup := func() {
			executor.Cleanup(context.Background())
			rt.Close()
		}
		return executor, cleanup, nil
	default:
		cache := provision.NewCache(cfg.CacheDir, 0)
		executor := host.New(cache, runID)
		return executor, executor.Cleanup, nil
	}
}

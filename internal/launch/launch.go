package launch

import (
	"context"
	"fmt"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/manifest"
)

// A launched long-running serving process.
type Handle interface {

	// Returns a channel that receives exactly one value when the process
	// stops on its own. A nil value means a clean exit.
	Done() <-chan error

	// Stops the process gracefully: no new work is accepted, in-flight
	// work may drain within the handle's grace period, then the process
	// exits.
	Stop(ctx context.Context) error

	// The address the process is serving on, when one is known.
	Addr() string
}

// Starts the runtime stage's long-running process from a materialized
// artifact root.
//
// The static-serve variant maps the configured artifact root to an HTTP
// document root; the process-serve variant execs the configured entry
// point. Launch returns once the initial health check passes: the
// declared port accepts connections and the process is alive. Binding
// failures and immediate exits fail with [engine.ErrLaunch].
func Start(ctx context.Context, cfg manifest.RuntimeConfig, root string) (Handle, error) {
	switch {
	case cfg.ServeRoot != "":
		return startStatic(ctx, cfg, root)
	case len(cfg.Command) > 0:
		return startProcess(ctx, cfg, root)
	default:
		return nil, fmt.Errorf("%w: runtime config has no launch variant", engine.ErrLaunch)
	}
}

// Returns the port the runtime process binds, defaulting to the first
// declared port.
func launchPort(cfg manifest.RuntimeConfig) int {
	if len(cfg.Ports) > 0 {
		return cfg.Ports[0]
	}
	return 0
}

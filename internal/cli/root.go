package cli

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/alecthomas/kong"

	"github.com/cruciblehq/slipway/internal"
	"github.com/cruciblehq/slipway/internal/envcfg"
	"github.com/cruciblehq/slipway/internal/logging"
)

// Represents the root command for the slipway CLI.
var RootCmd struct {
	Quiet   bool   `short:"q" help:"Suppress informational output."`
	Verbose bool   `short:"v" help:"Enable verbose output."`
	Debug   bool   `short:"d" help:"Enable debug output."`
	Timeout int    `short:"t" help:"Overall pipeline deadline in seconds." placeholder:"SECONDS"`
	Backend string `help:"Stage execution backend." enum:"host,containerd" default:"host"`

	Run     RunCmd     `cmd:"" help:"Execute a pipeline and launch its runtime stage."`
	Build   BuildCmd   `cmd:"" help:"Execute build stages without launching."`
	Version VersionCmd `cmd:"" help:"Show version information."`
}

// Parses arguments, configures logging, and runs the selected
// subcommand.
func Execute() error {

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := envcfg.Load()
	if err != nil {
		return err
	}

	kongCtx := kong.Parse(&RootCmd,
		kong.Name(internal.Name),
		kong.Description("Multi-stage build-and-serve orchestrator.\n\nExecutes declarative pipelines: build stages run in isolated environments, artifacts flow forward between them, and the final stage is launched as a serving process."),
		kong.UsageOnError(),
		kong.Vars{
			"version": internal.VersionString(),
		},
		kong.BindTo(ctx, (*context.Context)(nil)),
		kong.Bind(cfg),
	)

	configureLogger(cfg)

	return kongCtx.Run()
}

// Configures the global logger based on CLI flags and environment
// configuration.
func configureLogger(cfg *envcfg.Config) {
	level := logging.ParseLevel(cfg.LogLevel)

	switch {
	case RootCmd.Debug || RootCmd.Verbose || internal.IsDebug() || internal.IsVerbose():
		level = slog.LevelDebug
	case RootCmd.Quiet || internal.IsQuiet():
		level = slog.LevelWarn
	}

	slog.SetDefault(logging.NewLogger(os.Stderr, level))
}

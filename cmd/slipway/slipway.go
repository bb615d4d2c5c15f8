package main

import (
	"log/slog"
	"os"

	"github.com/cruciblehq/slipway/internal"
	"github.com/cruciblehq/slipway/internal/cli"
	"github.com/cruciblehq/slipway/internal/logging"
)

// The entry point for the slipway CLI.
//
// Initializes logging, displays startup information, and executes the root
// command. Each failure class exits with its own code.
func main() {
	slog.SetDefault(logging.NewLogger(os.Stderr, logLevel()))

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("slipway is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		cli.Report(err)
		os.Exit(cli.ExitCode(err))
	}
}

// Returns the log level derived from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}

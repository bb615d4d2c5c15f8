package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/cruciblehq/slipway/internal/engine"
	"github.com/cruciblehq/slipway/internal/provision"
)

// Process exit codes. Each failure class maps to a distinct code so
// callers can react without parsing output.
const (
	ExitOK                 = 0
	ExitCommandFailure     = 1
	ExitMissingArtifact    = 2
	ExitUnresolvedTransfer = 3
	ExitTimeout            = 4
	ExitProvisionFailure   = 5
	ExitLaunchFailure      = 6
)

// Maps an error returned by [Execute] to a process exit code.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return ExitOK
	case errors.Is(err, context.DeadlineExceeded):
		return ExitTimeout
	case errors.Is(err, engine.ErrMissingArtifact):
		return ExitMissingArtifact
	case errors.Is(err, engine.ErrUnresolvedTransfer):
		return ExitUnresolvedTransfer
	case errors.Is(err, engine.ErrProvision), errors.Is(err, provision.ErrProvision):
		return ExitProvisionFailure
	case errors.Is(err, engine.ErrLaunch):
		return ExitLaunchFailure
	default:
		return ExitCommandFailure
	}
}

// Logs a terminal error in a form useful to the operator. Command
// failures additionally replay the command's output tail on stderr.
func Report(err error) {
	var cmdErr *engine.CommandError
	if errors.As(err, &cmdErr) {
		slog.Error("stage command failed",
			"stage", cmdErr.Stage,
			"command", cmdErr.Command,
			"exit_code", cmdErr.ExitCode,
		)
		if cmdErr.Output != "" {
			fmt.Fprintln(os.Stderr, cmdErr.Output)
		}
		return
	}
	slog.Error(err.Error())
}

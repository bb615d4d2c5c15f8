package engine

import (
	"errors"
	"fmt"
)

var (
	ErrCommandFailed      = errors.New("command failed")
	ErrMissingArtifact    = errors.New("missing declared artifact")
	ErrUnresolvedTransfer = errors.New("unresolved transfer")
	ErrProvision          = errors.New("environment provisioning failed")
	ErrLaunch             = errors.New("launch failed")
)

// Maximum number of output bytes retained on a command failure.
const outputTailLimit = 2048

// Reports a stage command that exited with a non-zero status.
type CommandError struct {
	Stage    string // Stage the command belongs to.
	Index    int    // Zero-based position in the stage's command list.
	Command  string // The failing command.
	ExitCode int    // Exit status of the command.
	Output   string // Tail of the captured combined output.
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("stage %q command %d (%s) exited with code %d", e.Stage, e.Index+1, e.Command, e.ExitCode)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandFailed
}

// Returns the last portion of captured command output, bounded so
// failure reports stay readable.
func OutputTail(s string) string {
	if len(s) <= outputTailLimit {
		return s
	}
	return s[len(s)-outputTailLimit:]
}

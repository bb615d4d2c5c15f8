package paths

import (
	"os"
	"path/filepath"

	"github.com/adrg/xdg"
)

const (

	// Name used for directory and file naming.
	toolName = "slipway"

	// Default permission mode for directories.
	DefaultDirMode os.FileMode = 0755

	// Default permission mode for files.
	DefaultFileMode os.FileMode = 0644
)

// Path to the directory for cached base environments.
//
//	Linux:   ~/.cache/slipway/environments
//	macOS:   ~/Library/Caches/slipway/environments
func EnvironmentCache() string {
	return filepath.Join(xdg.CacheHome, toolName, "environments")
}

// Path to the directory for per-run scratch state (stage sandboxes,
// materialized runtime roots).
//
//	Linux:   $XDG_RUNTIME_DIR/slipway or /run/user/<uid>/slipway
//	macOS:   ~/Library/Caches/slipway/run
func Runtime() string {
	if xdg.RuntimeDir != "" {
		return filepath.Join(xdg.RuntimeDir, toolName)
	}
	return filepath.Join(xdg.CacheHome, toolName, "run")
}

// Path to the scratch directory for a single pipeline run.
func RunDir(runID string) string {
	return filepath.Join(Runtime(), runID)
}

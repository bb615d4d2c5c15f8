// Parses flags and dispatches the slipway subcommands.
//
// The CLI accepts the following global flags:
//
//	-q, --quiet     Suppress informational output.
//	-v, --verbose   Enable verbose output.
//	-d, --debug     Enable debug output.
//	-t, --timeout   Overall pipeline deadline in seconds.
//	    --backend   Stage execution backend (host or containerd).
//
// Flags override build-time defaults set via linker flags. After parsing,
// the global logger is reconfigured to reflect the final level before the
// selected subcommand runs.
//
// Every failure class maps to a distinct process exit code; see the Exit
// constants.
package cli

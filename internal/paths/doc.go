// Package paths centralizes filesystem locations used by slipway.
//
// Locations follow the XDG base directory specification: cached base
// environments live under the user cache directory and survive across
// pipeline runs, while per-run scratch directories live under the
// runtime directory and are removed when a run completes.
package paths

// Package artifact implements the artifact set: the immutable
// filesystem output of a successful stage.
//
// A [Set] maps stage-root-relative paths to file contents, with each
// entry content-addressed by digest. Sets are harvested from a stage's
// declared artifact paths (FromDir for host sandboxes, ReadTar for
// container streams), transferred between stages with Rebase and Merge
// (always by copy, never by aliasing), and materialized for the runtime
// launcher with WriteDir.
//
// The canonical set digest makes determinism checks cheap: re-running a
// pipeline against unchanged inputs must reproduce the same digest.
package artifact

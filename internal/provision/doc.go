// Package provision manages the shared base-environment cache.
//
// Host-backend stages name their base environment as a toolchain
// directory, a local archive, or a URL. Archives are fetched with
// bounded retries, unpacked once, and shared read-only by every
// subsequent pipeline run. Cache writes are serialized by an in-process
// single-writer lock plus an on-disk lock file, so concurrent runs
// never observe a partially populated environment.
package provision

// Package host implements the host-sandbox execution backend.
//
// Each stage runs in a freshly created directory under the run's
// scratch area. Declared artifact paths, transfer destinations, and the
// stage workdir all address the sandbox root, so a pipeline written for
// an isolated filesystem behaves the same way here, minus the process
// isolation a container backend provides. Commands run through the
// shell with the sandbox as their working directory and the base
// environment's bin directory prepended to PATH.
//
// The backend exists for local development and for pipelines whose
// toolchain already lives on the host; the runtime package provides the
// containerd-backed equivalent.
package host

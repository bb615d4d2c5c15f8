package runtime

import "errors"

var (
	// Wraps every containerd-level failure in this package.
	ErrRuntime = errors.New("container runtime failure")

	// Returned when a base image's OCI index declares no manifests.
	ErrEmptyIndex = errors.New("empty image index")
)

package runtime

import (
	"context"
	"fmt"
	"log/slog"
	goruntime "runtime"

	"github.com/cenkalti/backoff/v5"
	containerd "github.com/containerd/containerd/v2/client"
	"github.com/containerd/platforms"
)

const (

	// Snapshotter used for container filesystems. fuse-overlayfs provides
	// overlay semantics without requiring root privileges (no mount(2)),
	// allowing slipway to run as a regular user.
	snapshotter = "fuse-overlayfs"

	// OCI runtime shim for running containers.
	ociRuntime = "io.containerd.runc.v2"

	// Attempt bound for image pulls. Registry fetches fail transiently;
	// exhausting the retries marks the stage's provisioning failed.
	pullMaxTries = 3
)

// Manages the containerd client and provides image and container
// operations for stage execution.
type Runtime struct {
	client *containerd.Client // Containerd client for managing containers and images.
}

// Creates a runtime connected to the containerd socket at the given
// address.
//
// The namespace scopes all containerd operations to slipway's own
// images and containers. The runtime must be closed when no longer
// needed.
func New(address, namespace string) (*Runtime, error) {
	client, err := containerd.New(address, containerd.WithDefaultNamespace(namespace))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}
	return &Runtime{client: client}, nil
}

// Closes the containerd client connection.
func (rt *Runtime) Close() error {
	return rt.client.Close()
}

// Pulls a base image and unpacks it for the target platform.
//
// Pull failures are retried with exponential backoff up to the attempt
// bound; a cancelled context aborts the retry loop immediately.
func (rt *Runtime) Provision(ctx context.Context, ref, platform string) (containerd.Image, error) {
	p, err := platforms.Parse(platform)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	image, err := backoff.Retry(ctx, func() (containerd.Image, error) {
		return rt.client.Pull(ctx, ref,
			containerd.WithPullUnpack,
			containerd.WithPullSnapshotter(snapshotter),
			containerd.WithPlatformMatcher(platforms.Only(p)),
		)
	},
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(pullMaxTries),
	)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("%w: pull %s: %w", ErrRuntime, ref, err)
	}

	slog.Debug("image provisioned", "ref", ref, "platform", platform)
	return image, nil
}

// Starts a stage container from a provisioned image.
//
// The container runs a long-lived task (sleep infinity) so subsequent
// Exec calls have a running process to attach to. Any stale container
// with the same ID from a previous run is removed first.
func (rt *Runtime) StartContainer(ctx context.Context, image containerd.Image, id, platform string) (*Container, error) {
	c := &Container{
		client:   rt.client,
		id:       id,
		platform: platform,
	}

	c.remove(ctx)

	ctr, err := c.create(ctx, image)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	if err := c.startTask(ctx, ctr); err != nil {
		ctr.Delete(ctx, containerd.WithSnapshotCleanup)
		return nil, fmt.Errorf("%w: %w", ErrRuntime, err)
	}

	slog.Debug("container started", "id", id, "image", image.Name())
	return c, nil
}

// Returns the default OCI platform for the host architecture.
func defaultPlatform() string {
	return "linux/" + goruntime.GOARCH
}

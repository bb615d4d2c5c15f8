// Package runtime implements the containerd-backed execution backend.
//
// A [Runtime] connects to a containerd daemon and provisions base
// images by pulling and unpacking them for the target platform, with
// bounded retries on transient registry failures. Each stage runs in a
// [Container] wrapping a long-lived containerd task: commands execute
// as additional exec processes, and files move in and out as tar
// streams piped through tar running inside the container.
//
// The [Executor] adapts these operations to the engine's stage
// contract: transfer seeds stream in before the first command, declared
// artifacts stream out after the last one, and the final stage's
// snapshot diff can be committed and exported as an OCI archive, the
// pipeline's deployable artifact.
//
// Example usage:
//
//	rt, err := runtime.New("/run/containerd/containerd.sock", "slipway")
//	if err != nil {
//	    return err
//	}
//	defer rt.Close()
//
//	exec := runtime.NewExecutor(rt, runID)
//	defer exec.Cleanup(context.Background())
//
//	result, err := engine.Run(ctx, exec, opts)
package runtime

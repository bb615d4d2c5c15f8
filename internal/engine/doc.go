// Package engine orchestrates pipeline execution.
//
// A pipeline is an ordered sequence of stages with transfer edges
// between them. The engine drives each stage through pending, running,
// and succeeded or failed states, seeding its initial filesystem from
// incoming transfers and delegating the actual command execution to an
// [Executor] backend (host sandbox or container runtime).
//
// Failure is fail-fast: the first stage failure marks the pipeline
// failed and no subsequent stage starts. The error taxonomy
// distinguishes command failures, missing declared artifacts,
// unresolved transfers, provisioning failures, and launch failures so
// the CLI can exit with a distinct code for each.
//
// Example usage:
//
//	result, err := engine.Run(ctx, exec, engine.Options{
//	    Pipeline: pipeline,
//	    RunID:    uuid.NewString(),
//	})
//	if err != nil {
//	    return err
//	}
//	_ = result.Final // artifact set of the final stage
package engine

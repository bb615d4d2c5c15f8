// Package launch starts the pipeline's final long-running process.
//
// Two variants are supported. The static-serve variant maps the final
// stage's materialized artifact root onto an HTTP document root and
// serves it with no application logic. The process-serve variant execs
// the configured entry point (an HTTP server, an ASGI server runner,
// or any other serving process) rooted at the artifact directory.
//
// A launch completes only after the initial health check: the declared
// port accepts connections and the process is alive. The returned
// handle runs until stopped; Stop performs an orderly shutdown, letting
// in-flight work drain within the configured grace period before the
// process exits.
package launch

// Package manifest defines the pipeline definition format.
//
// A pipeline is an ordered list of stages, each with a base environment
// reference, a command sequence, declared artifact paths, and declared
// ports, plus transfer edges that copy artifacts from an earlier stage
// into a later stage's initial filesystem, and an optional runtime
// block describing how the final stage is launched.
//
// Pipelines are written as YAML documents:
//
//	stages:
//	  - name: build
//	    base: docker.io/library/node:20
//	    workdir: /src
//	    commands:
//	      - npm ci
//	      - npm run build
//	    artifacts:
//	      - /src/dist
//	  - name: serve
//	    ports: [8080]
//	transfers:
//	  - from: build:/src/dist
//	    to: serve:/srv/www
//	runtime:
//	  serve:
//	    root: /srv/www
//
// Load parses and validates a definition file. Validation enforces the
// structural invariants: unique stage names, non-empty command lists
// for build stages, and forward-only transfer edges between declared
// stages.
package manifest

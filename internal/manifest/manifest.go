package manifest

import (
	"fmt"
	"strings"
	"time"
)

// Default drain period granted to the runtime process on shutdown.
const DefaultGracePeriod = 10 * time.Second

// A complete pipeline definition.
//
// Stages are executed in declaration order. Transfers seed a later
// stage's filesystem with artifacts produced by an earlier stage. The
// runtime block configures how the final stage is launched.
type Pipeline struct {
	Stages    []Stage    `yaml:"stages"`
	Transfers []Transfer `yaml:"transfers,omitempty"`
	Runtime   *Runtime   `yaml:"runtime,omitempty"`
}

// One unit of build or runtime work with its own isolated environment.
type Stage struct {
	Name      string            `yaml:"name"`                // Unique stage name.
	Base      string            `yaml:"base,omitempty"`      // Base environment reference (image ref, archive path or URL).
	Workdir   string            `yaml:"workdir,omitempty"`   // Working directory for commands.
	Commands  []string          `yaml:"commands,omitempty"`  // Shell commands, executed in order.
	Env       map[string]string `yaml:"env,omitempty"`       // Environment variables for all commands.
	Artifacts []string          `yaml:"artifacts,omitempty"` // Paths exposed as the stage's artifact set.
	Ports     []int             `yaml:"ports,omitempty"`     // Ports the stage's process binds at runtime.
}

// A declared copy of one stage's artifact into another stage's initial
// filesystem. Both endpoints use the "stage:/path" form.
type Transfer struct {
	From string `yaml:"from"`
	To   string `yaml:"to"`
}

// A transfer parsed into its stage and path components.
type Edge struct {
	FromStage string
	FromPath  string
	ToStage   string
	ToPath    string
}

// Configures how the final stage is launched as a long-running process.
//
// Exactly one of Command (process-serve) or Serve (static-serve) must be
// set.
type Runtime struct {
	Command []string `yaml:"command,omitempty"` // Entry point for the runtime process.
	Serve   *Serve   `yaml:"serve,omitempty"`   // Static file serving configuration.
	Grace   int      `yaml:"grace,omitempty"`   // Drain period in seconds on shutdown.
}

// Static-serve configuration: the artifact path used as the HTTP
// document root.
type Serve struct {
	Root string `yaml:"root"`
}

// Everything the launcher needs to start the final stage's process.
type RuntimeConfig struct {
	Ports     []int         // Ports declared by the final stage.
	Command   []string      // Entry point (process-serve variant).
	ServeRoot string        // Document root within the artifact set (static-serve variant).
	Grace     time.Duration // Drain period on shutdown.
}

// Parses a transfer endpoint of the form "stage:/path".
//
// The stage name must be non-empty and must not contain a path
// separator; the path must be non-empty.
func parseEndpoint(s string) (stage, path string, err error) {
	i := strings.IndexByte(s, ':')
	if i < 1 {
		return "", "", fmt.Errorf("endpoint %q: expected stage:/path", s)
	}
	if strings.ContainsRune(s[:i], '/') {
		return "", "", fmt.Errorf("endpoint %q: stage name contains a path separator", s)
	}
	if s[i+1:] == "" {
		return "", "", fmt.Errorf("endpoint %q: empty path", s)
	}
	return s[:i], s[i+1:], nil
}

// Parses the transfer's endpoints into an [Edge].
func (t Transfer) Parse() (Edge, error) {
	fromStage, fromPath, err := parseEndpoint(t.From)
	if err != nil {
		return Edge{}, fmt.Errorf("transfer source: %w", err)
	}
	toStage, toPath, err := parseEndpoint(t.To)
	if err != nil {
		return Edge{}, fmt.Errorf("transfer destination: %w", err)
	}
	return Edge{
		FromStage: fromStage,
		FromPath:  fromPath,
		ToStage:   toStage,
		ToPath:    toPath,
	}, nil
}

// Returns the parsed transfer edges.
//
// Assumes the pipeline has been validated; malformed transfers still
// produce an error.
func (p *Pipeline) Edges() ([]Edge, error) {
	edges := make([]Edge, 0, len(p.Transfers))
	for i, t := range p.Transfers {
		edge, err := t.Parse()
		if err != nil {
			return nil, fmt.Errorf("transfer %d: %w", i+1, err)
		}
		edges = append(edges, edge)
	}
	return edges, nil
}

// Looks up a stage by name.
func (p *Pipeline) Stage(name string) (Stage, bool) {
	for _, s := range p.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return Stage{}, false
}

// Returns the final stage of the pipeline.
func (p *Pipeline) Final() Stage {
	return p.Stages[len(p.Stages)-1]
}

// Derives the launcher configuration from the runtime block and the
// final stage's declared ports.
//
// Returns false when the pipeline has no runtime block.
func (p *Pipeline) RuntimeConfig() (RuntimeConfig, bool) {
	if p.Runtime == nil {
		return RuntimeConfig{}, false
	}

	grace := DefaultGracePeriod
	if p.Runtime.Grace > 0 {
		grace = time.Duration(p.Runtime.Grace) * time.Second
	}

	cfg := RuntimeConfig{
		Ports:   p.Final().Ports,
		Command: p.Runtime.Command,
		Grace:   grace,
	}
	if p.Runtime.Serve != nil {
		cfg.ServeRoot = p.Runtime.Serve.Root
	}
	return cfg, true
}

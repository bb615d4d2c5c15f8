package manifest

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

var ErrInvalidPipeline = errors.New("invalid pipeline")

// Parses YAML content into a validated [Pipeline].
func Parse(data []byte) (*Pipeline, error) {
	var p Pipeline
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPipeline, err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Reads and parses a pipeline definition file.
func Load(path string) (*Pipeline, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read pipeline file: %w", err)
	}
	return Parse(data)
}

// Checks the structural invariants of the pipeline.
//
// Stage names must be unique and non-empty. Every stage except the
// final runtime stage must declare at least one command. Transfer edges
// must reference declared stages and must only point from an earlier
// stage to a later one. The runtime block, when present, must configure
// exactly one launch variant.
func (p *Pipeline) Validate() error {
	if len(p.Stages) == 0 {
		return fmt.Errorf("%w: no stages declared", ErrInvalidPipeline)
	}

	index := make(map[string]int, len(p.Stages))
	for i, s := range p.Stages {
		if s.Name == "" {
			return fmt.Errorf("%w: stage %d has no name", ErrInvalidPipeline, i+1)
		}
		if _, dup := index[s.Name]; dup {
			return fmt.Errorf("%w: duplicate stage name %q", ErrInvalidPipeline, s.Name)
		}
		index[s.Name] = i

		// Only the final stage may omit commands: a runtime stage can be
		// seeded entirely by transfers.
		if len(s.Commands) == 0 && i != len(p.Stages)-1 {
			return fmt.Errorf("%w: build stage %q declares no commands", ErrInvalidPipeline, s.Name)
		}
	}

	if err := p.validateTransfers(index); err != nil {
		return err
	}

	return p.validateRuntime()
}

func (p *Pipeline) validateTransfers(index map[string]int) error {
	for i, t := range p.Transfers {
		edge, err := t.Parse()
		if err != nil {
			return fmt.Errorf("%w: transfer %d: %w", ErrInvalidPipeline, i+1, err)
		}

		from, ok := index[edge.FromStage]
		if !ok {
			return fmt.Errorf("%w: transfer %d references unknown source stage %q", ErrInvalidPipeline, i+1, edge.FromStage)
		}
		to, ok := index[edge.ToStage]
		if !ok {
			return fmt.Errorf("%w: transfer %d references unknown destination stage %q", ErrInvalidPipeline, i+1, edge.ToStage)
		}
		if from >= to {
			return fmt.Errorf("%w: transfer %d does not point forward (%q -> %q)", ErrInvalidPipeline, i+1, edge.FromStage, edge.ToStage)
		}
	}
	return nil
}

func (p *Pipeline) validateRuntime() error {
	if p.Runtime == nil {
		return nil
	}

	hasCommand := len(p.Runtime.Command) > 0
	hasServe := p.Runtime.Serve != nil && p.Runtime.Serve.Root != ""

	if hasCommand == hasServe {
		return fmt.Errorf("%w: runtime block must set exactly one of command or serve.root", ErrInvalidPipeline)
	}
	if p.Runtime.Grace < 0 {
		return fmt.Errorf("%w: runtime grace period must not be negative", ErrInvalidPipeline)
	}
	return nil
}

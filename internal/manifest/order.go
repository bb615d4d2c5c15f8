package manifest

import "fmt"

// Computes the stage execution order.
//
// The order is the topological order implied by the transfer edges,
// made deterministic by preferring declaration order among ready
// stages. With validated pipelines (forward-only edges) this
// degenerates to the declaration order; the cycle check still guards
// pipelines constructed programmatically.
func (p *Pipeline) ExecutionOrder() ([]Stage, error) {
	edges, err := p.Edges()
	if err != nil {
		return nil, err
	}

	indegree := make(map[string]int, len(p.Stages))
	for _, s := range p.Stages {
		indegree[s.Name] = 0
	}
	for _, e := range edges {
		if _, ok := indegree[e.FromStage]; !ok {
			return nil, fmt.Errorf("%w: transfer references unknown stage %q", ErrInvalidPipeline, e.FromStage)
		}
		if _, ok := indegree[e.ToStage]; !ok {
			return nil, fmt.Errorf("%w: transfer references unknown stage %q", ErrInvalidPipeline, e.ToStage)
		}
		indegree[e.ToStage]++
	}

	order := make([]Stage, 0, len(p.Stages))
	scheduled := make(map[string]bool, len(p.Stages))

	for len(order) < len(p.Stages) {
		progressed := false
		for _, s := range p.Stages {
			if scheduled[s.Name] || indegree[s.Name] != 0 {
				continue
			}
			order = append(order, s)
			scheduled[s.Name] = true
			for _, e := range edges {
				if e.FromStage == s.Name {
					indegree[e.ToStage]--
				}
			}
			progressed = true
			break
		}
		if !progressed {
			return nil, fmt.Errorf("%w: transfer edges form a cycle", ErrInvalidPipeline)
		}
	}

	return order, nil
}

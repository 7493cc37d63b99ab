// Package pipeline defines the asset graph and the scheduler that
// executes it: stages with declared upstream dependencies, topological
// execution with concurrent independent stages, per-fingerprint run
// deduplication, and weekly audit partitions.
package pipeline

import (
	"context"
	"fmt"
	"sort"
)

// Inputs carries upstream outputs into a stage's compute function,
// keyed by upstream stage name.
type Inputs map[string]any

// ComputeFunc is the typed compute function of one stage
type ComputeFunc func(ctx context.Context, in Inputs) (any, error)

// Stage declares one unit of work: a name, the upstream stages whose
// outputs it consumes, and a compute function.
type Stage struct {
	Name     string
	Upstream []string
	Compute  ComputeFunc
}

// Graph is a validated, acyclic stage graph. Built once at startup;
// immutable afterwards.
type Graph struct {
	stages map[string]Stage
	order  []string // topological order, deterministic
}

// NewGraph validates the declared stages and computes their execution order.
// It rejects duplicate names, references to unknown upstreams, and cycles.
func NewGraph(stages ...Stage) (*Graph, error) {
	g := &Graph{stages: make(map[string]Stage, len(stages))}

	for _, s := range stages {
		if s.Name == "" {
			return nil, fmt.Errorf("stage with empty name")
		}
		if s.Compute == nil {
			return nil, fmt.Errorf("stage %s has no compute function", s.Name)
		}
		if _, dup := g.stages[s.Name]; dup {
			return nil, fmt.Errorf("duplicate stage name %s", s.Name)
		}
		g.stages[s.Name] = s
	}

	for _, s := range g.stages {
		seen := make(map[string]bool, len(s.Upstream))
		for _, up := range s.Upstream {
			if _, ok := g.stages[up]; !ok {
				return nil, fmt.Errorf("stage %s references unknown upstream %s", s.Name, up)
			}
			if seen[up] {
				return nil, fmt.Errorf("stage %s lists upstream %s twice", s.Name, up)
			}
			seen[up] = true
		}
	}

	order, err := g.topoSort()
	if err != nil {
		return nil, err
	}
	g.order = order
	return g, nil
}

// Order returns the stage names in topological order. Ties are broken
// alphabetically so the order is stable across runs.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// Stages returns all stage names, sorted
func (g *Graph) Stages() []string {
	out := make([]string, 0, len(g.stages))
	for name := range g.stages {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Upstream returns the declared upstreams of a stage
func (g *Graph) Upstream(name string) []string {
	s, ok := g.stages[name]
	if !ok {
		return nil
	}
	out := make([]string, len(s.Upstream))
	copy(out, s.Upstream)
	return out
}

// stage looks up a stage by name
func (g *Graph) stage(name string) (Stage, bool) {
	s, ok := g.stages[name]
	return s, ok
}

// downstream returns the stages that list name as an upstream
func (g *Graph) downstream(name string) []string {
	var out []string
	for _, s := range g.stages {
		for _, up := range s.Upstream {
			if up == name {
				out = append(out, s.Name)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

// topoSort runs Kahn's algorithm with sorted ready sets for determinism
func (g *Graph) topoSort() ([]string, error) {
	indegree := make(map[string]int, len(g.stages))
	for name := range g.stages {
		indegree[name] = len(g.stages[name].Upstream)
	}

	var ready []string
	for name, deg := range indegree {
		if deg == 0 {
			ready = append(ready, name)
		}
	}
	sort.Strings(ready)

	var order []string
	for len(ready) > 0 {
		name := ready[0]
		ready = ready[1:]
		order = append(order, name)

		next := g.downstream(name)
		var newlyReady []string
		for _, d := range next {
			indegree[d]--
			if indegree[d] == 0 {
				newlyReady = append(newlyReady, d)
			}
		}
		ready = append(ready, newlyReady...)
		sort.Strings(ready)
	}

	if len(order) != len(g.stages) {
		return nil, fmt.Errorf("stage graph contains a cycle")
	}
	return order, nil
}

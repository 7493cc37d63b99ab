package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noop(ctx context.Context, in Inputs) (any, error) { return nil, nil }

func TestNewGraphTopologicalOrder(t *testing.T) {
	g, err := NewGraph(
		Stage{Name: "docs", Upstream: []string{"impact"}, Compute: noop},
		Stage{Name: "graph", Upstream: []string{"changes", "impact"}, Compute: noop},
		Stage{Name: "impact", Upstream: []string{"changes"}, Compute: noop},
		Stage{Name: "changes", Compute: noop},
		Stage{Name: "audit", Compute: noop},
	)
	require.NoError(t, err)

	order := g.Order()
	require.Len(t, order, 5)
	pos := make(map[string]int, len(order))
	for i, name := range order {
		pos[name] = i
	}
	// Every stage appears after all of its upstreams
	for _, name := range g.Stages() {
		for _, up := range g.Upstream(name) {
			assert.Less(t, pos[up], pos[name], "%s must come before %s", up, name)
		}
	}
}

func TestNewGraphOrderIsDeterministic(t *testing.T) {
	build := func() []string {
		g, err := NewGraph(
			Stage{Name: "c", Compute: noop},
			Stage{Name: "a", Compute: noop},
			Stage{Name: "b", Compute: noop},
		)
		require.NoError(t, err)
		return g.Order()
	}
	first := build()
	for i := 0; i < 5; i++ {
		assert.Equal(t, first, build())
	}
}

func TestNewGraphRejectsInvalid(t *testing.T) {
	cases := []struct {
		name   string
		stages []Stage
	}{
		{"empty name", []Stage{{Name: "", Compute: noop}}},
		{"nil compute", []Stage{{Name: "a"}}},
		{"duplicate name", []Stage{
			{Name: "a", Compute: noop},
			{Name: "a", Compute: noop},
		}},
		{"unknown upstream", []Stage{
			{Name: "a", Upstream: []string{"ghost"}, Compute: noop},
		}},
		{"duplicate upstream", []Stage{
			{Name: "a", Compute: noop},
			{Name: "b", Upstream: []string{"a", "a"}, Compute: noop},
		}},
		{"self cycle", []Stage{
			{Name: "a", Upstream: []string{"a"}, Compute: noop},
		}},
		{"two-stage cycle", []Stage{
			{Name: "a", Upstream: []string{"b"}, Compute: noop},
			{Name: "b", Upstream: []string{"a"}, Compute: noop},
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := NewGraph(tc.stages...)
			assert.Error(t, err)
		})
	}
}

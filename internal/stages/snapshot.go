package stages

import (
	"sort"
	"strings"
	"time"

	"github.com/codeintelhq/codeintel/internal/types"
)

// buildSnapshot derives a knowledge-graph snapshot from a batch of
// changes and their assessment. The construction is deterministic:
// the same inputs always produce the same nodes and edges, so snapshot
// versions diff cleanly across runs.
//
// One component node per affected component, one module node per
// changed file. A component contains the modules whose path mentions
// it; components named in breaking changes gain depends_on edges to
// every changed module, since a break touches its consumers.
func buildSnapshot(records []types.ChangeRecord, assessment *types.ImpactAssessment, now time.Time) *types.KnowledgeGraphSnapshot {
	files := changedFiles(records)

	var nodes []types.GraphNode
	for _, f := range files {
		nodes = append(nodes, types.GraphNode{
			ID:   "module:" + f,
			Kind: types.NodeModule,
			Attributes: map[string]string{
				"path": f,
			},
		})
	}

	components := distinctComponents(assessment.AffectedComponents)
	var edges []types.GraphEdge
	for _, c := range components {
		id := "component:" + c
		nodes = append(nodes, types.GraphNode{
			ID:   id,
			Kind: types.NodeComponent,
			Attributes: map[string]string{
				"name": c,
			},
		})
		slug := componentSlug(c)
		for _, f := range files {
			if slug != "" && strings.Contains(strings.ToLower(f), slug) {
				edges = append(edges, types.GraphEdge{
					FromID: id,
					ToID:   "module:" + f,
					Kind:   types.EdgeContains,
				})
			}
		}
	}

	for _, breaking := range assessment.BreakingChanges {
		lower := strings.ToLower(breaking)
		for _, c := range components {
			if !strings.Contains(lower, componentSlug(c)) {
				continue
			}
			for _, f := range files {
				edges = append(edges, types.GraphEdge{
					FromID: "component:" + c,
					ToID:   "module:" + f,
					Kind:   types.EdgeDependsOn,
				})
			}
		}
	}
	edges = dedupeEdges(edges)

	var additions, deletions int
	for _, r := range records {
		additions += r.Additions
		deletions += r.Deletions
	}

	return &types.KnowledgeGraphSnapshot{
		Nodes: nodes,
		Edges: edges,
		Metrics: types.Metrics{
			RunID:     assessment.ID,
			Timestamp: now,
			Values: map[string]float64{
				"commits":             float64(len(records)),
				"files_changed":       float64(len(files)),
				"additions":           float64(additions),
				"deletions":           float64(deletions),
				"affected_components": float64(len(components)),
				"breaking_changes":    float64(len(assessment.BreakingChanges)),
				"risk":                riskScore(assessment.RiskLevel),
			},
		},
	}
}

// changedFiles returns the distinct files across all records, sorted
func changedFiles(records []types.ChangeRecord) []string {
	seen := make(map[string]bool)
	var out []string
	for _, r := range records {
		for _, f := range r.FilesChanged {
			if !seen[f] {
				seen[f] = true
				out = append(out, f)
			}
		}
	}
	sort.Strings(out)
	return out
}

// distinctComponents returns the distinct component names, sorted.
// The agent is free-form and may list the same component twice; a
// repeated name must not produce a duplicate node id.
func distinctComponents(names []string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, n := range names {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	sort.Strings(out)
	return out
}

// componentSlug lowercases a component name and keeps the part most
// likely to appear in file paths.
func componentSlug(name string) string {
	s := strings.ToLower(strings.TrimSpace(name))
	s = strings.ReplaceAll(s, " ", "")
	return s
}

func dedupeEdges(edges []types.GraphEdge) []types.GraphEdge {
	seen := make(map[types.GraphEdge]bool, len(edges))
	out := edges[:0]
	for _, e := range edges {
		if seen[e] {
			continue
		}
		seen[e] = true
		out = append(out, e)
	}
	return out
}

func riskScore(r types.RiskLevel) float64 {
	switch r {
	case types.RiskHigh:
		return 3
	case types.RiskMedium:
		return 2
	default:
		return 1
	}
}

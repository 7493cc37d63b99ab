package graphstore

import (
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeintelhq/codeintel/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testSnapshot(nodeIDs ...string) *types.KnowledgeGraphSnapshot {
	s := &types.KnowledgeGraphSnapshot{
		Metrics: types.Metrics{
			RunID:     "run-1",
			Timestamp: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC),
			Values:    map[string]float64{"commits": 3},
		},
	}
	for _, id := range nodeIDs {
		s.Nodes = append(s.Nodes, types.GraphNode{ID: id, Kind: types.NodeModule})
	}
	return s
}

func TestWriteThenReadLatest(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	snap := testSnapshot("module:a", "module:b")
	snap.Edges = []types.GraphEdge{{FromID: "module:a", ToID: "module:b", Kind: types.EdgeDependsOn}}

	v, err := s.Write(snap)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	got, err := s.Read(Latest)
	require.NoError(t, err)
	assert.Equal(t, snap.Nodes, got.Nodes)
	assert.Equal(t, snap.Edges, got.Edges)
	assert.Equal(t, snap.Metrics.RunID, got.Metrics.RunID)
	assert.Equal(t, snap.Metrics.Values, got.Metrics.Values)
}

func TestVersionsAreMonotonic(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	for i := 1; i <= 3; i++ {
		v, err := s.Write(testSnapshot("module:a"))
		require.NoError(t, err)
		assert.Equal(t, i, v)
	}

	versions, err := s.Versions()
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, versions)
}

func TestInvalidSnapshotLeavesLatestUntouched(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = s.Write(testSnapshot("module:a"))
	require.NoError(t, err)

	bad := testSnapshot("module:a")
	bad.Edges = []types.GraphEdge{{FromID: "module:a", ToID: "module:ghost", Kind: types.EdgeCalls}}
	_, err = s.Write(bad)
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrInvalidGraph)

	versions, err := s.Versions()
	require.NoError(t, err)
	assert.Equal(t, []int{1}, versions)

	got, err := s.Read(Latest)
	require.NoError(t, err)
	assert.Empty(t, got.Edges)
}

func TestReadEmptyStore(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = s.Read(Latest)
	assert.Error(t, err)
}

func TestPublishedVersionIsImmutable(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	_, err = s.Write(testSnapshot("module:a"))
	require.NoError(t, err)
	first, err := s.Read(1)
	require.NoError(t, err)

	_, err = s.Write(testSnapshot("module:a", "module:b"))
	require.NoError(t, err)

	again, err := s.Read(1)
	require.NoError(t, err)
	assert.Equal(t, first, again)
}

func TestDiff(t *testing.T) {
	s, err := New(t.TempDir(), testLogger())
	require.NoError(t, err)

	old := testSnapshot("module:a", "module:b")
	_, err = s.Write(old)
	require.NoError(t, err)

	next := testSnapshot("module:a", "module:c")
	next.Nodes[0].Attributes = map[string]string{"path": "a.go"}
	_, err = s.Write(next)
	require.NoError(t, err)

	d, err := s.Diff(1, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"module:c"}, d.AddedNodes)
	assert.Equal(t, []string{"module:b"}, d.RemovedNodes)
	assert.Equal(t, []string{"module:a"}, d.ModifiedNodes)
	assert.Equal(t, 3, d.Total())
}

func TestLatestPointerFallback(t *testing.T) {
	dir := t.TempDir()
	s, err := New(dir, testLogger())
	require.NoError(t, err)

	_, err = s.Write(testSnapshot("module:a"))
	require.NoError(t, err)
	_, err = s.Write(testSnapshot("module:b"))
	require.NoError(t, err)

	// A lost pointer degrades to a directory scan
	require.NoError(t, os.Remove(dir+"/LATEST"))
	got, err := s.Read(Latest)
	require.NoError(t, err)
	require.Len(t, got.Nodes, 1)
	assert.Equal(t, "module:b", got.Nodes[0].ID)
}

// Package graphstore persists knowledge-graph snapshots as immutable,
// append-only versions on disk.
//
// Layout under the store root:
//
//	v0001/nodes.json
//	v0001/edges.json
//	v0001/metrics.json
//	LATEST            (contains "1")
//
// A snapshot is staged in a temp directory and published with a single
// rename, so readers never observe a partial version. The LATEST pointer
// is replaced the same way.
package graphstore

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/codeintelhq/codeintel/internal/types"
)

const (
	latestFile  = "LATEST"
	nodesFile   = "nodes.json"
	edgesFile   = "edges.json"
	metricsFile = "metrics.json"
)

// Latest selects the highest published version in Read
const Latest = 0

// Store is a versioned snapshot store rooted at one directory.
// Writes are serialized; reads can run concurrently with writes.
type Store struct {
	root   string
	logger *slog.Logger

	mu sync.Mutex // serializes version allocation and publish
}

// New opens (creating if needed) a store at root
func New(root string, logger *slog.Logger) (*Store, error) {
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("creating graph store root: %w", err)
	}
	return &Store{root: root, logger: logger}, nil
}

// Write validates and publishes a new snapshot version. On validation
// failure nothing is written and the previous latest stays authoritative.
func (s *Store) Write(snapshot *types.KnowledgeGraphSnapshot) (int, error) {
	if err := snapshot.Validate(); err != nil {
		return 0, fmt.Errorf("%w: %v", types.ErrInvalidGraph, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	latest, err := s.latestVersion()
	if err != nil {
		return 0, err
	}
	version := latest + 1

	staging, err := os.MkdirTemp(s.root, ".staging-*")
	if err != nil {
		return 0, fmt.Errorf("creating staging dir: %w", err)
	}
	defer os.RemoveAll(staging) // no-op after successful rename

	parts := map[string]any{
		nodesFile:   snapshot.Nodes,
		edgesFile:   snapshot.Edges,
		metricsFile: snapshot.Metrics,
	}
	for name, v := range parts {
		data, err := json.MarshalIndent(v, "", "  ")
		if err != nil {
			return 0, fmt.Errorf("encoding %s: %w", name, err)
		}
		if err := os.WriteFile(filepath.Join(staging, name), data, 0o644); err != nil {
			return 0, fmt.Errorf("writing %s: %w", name, err)
		}
	}

	if err := os.Rename(staging, s.versionDir(version)); err != nil {
		return 0, fmt.Errorf("publishing version %d: %w", version, err)
	}
	if err := s.writeLatest(version); err != nil {
		return 0, err
	}

	s.logger.Info("published knowledge graph snapshot",
		slog.Int("version", version),
		slog.Int("nodes", len(snapshot.Nodes)),
		slog.Int("edges", len(snapshot.Edges)),
	)
	return version, nil
}

// Read loads a snapshot by version; pass Latest for the newest one
func (s *Store) Read(version int) (*types.KnowledgeGraphSnapshot, error) {
	if version == Latest {
		v, err := s.latestVersion()
		if err != nil {
			return nil, err
		}
		if v == 0 {
			return nil, fmt.Errorf("graph store is empty")
		}
		version = v
	}

	dir := s.versionDir(version)
	var snapshot types.KnowledgeGraphSnapshot
	if err := readJSON(filepath.Join(dir, nodesFile), &snapshot.Nodes); err != nil {
		return nil, fmt.Errorf("reading version %d: %w", version, err)
	}
	if err := readJSON(filepath.Join(dir, edgesFile), &snapshot.Edges); err != nil {
		return nil, fmt.Errorf("reading version %d: %w", version, err)
	}
	if err := readJSON(filepath.Join(dir, metricsFile), &snapshot.Metrics); err != nil {
		return nil, fmt.Errorf("reading version %d: %w", version, err)
	}
	return &snapshot, nil
}

// Versions lists all published versions in ascending order
func (s *Store) Versions() ([]int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("listing graph store: %w", err)
	}
	var versions []int
	for _, e := range entries {
		if !e.IsDir() || !strings.HasPrefix(e.Name(), "v") {
			continue
		}
		n, err := strconv.Atoi(strings.TrimPrefix(e.Name(), "v"))
		if err != nil {
			continue
		}
		versions = append(versions, n)
	}
	sort.Ints(versions)
	return versions, nil
}

// GraphDiff summarizes what changed between two snapshot versions
type GraphDiff struct {
	AddedNodes    []string `json:"added_nodes"`
	RemovedNodes  []string `json:"removed_nodes"`
	ModifiedNodes []string `json:"modified_nodes"`
}

// Total returns the number of node-level changes
func (d GraphDiff) Total() int {
	return len(d.AddedNodes) + len(d.RemovedNodes) + len(d.ModifiedNodes)
}

// Diff compares two published versions node by node
func (s *Store) Diff(oldVersion, newVersion int) (*GraphDiff, error) {
	oldSnap, err := s.Read(oldVersion)
	if err != nil {
		return nil, err
	}
	newSnap, err := s.Read(newVersion)
	if err != nil {
		return nil, err
	}

	oldNodes := nodesByID(oldSnap.Nodes)
	newNodes := nodesByID(newSnap.Nodes)

	var out GraphDiff
	for id, n := range newNodes {
		old, ok := oldNodes[id]
		switch {
		case !ok:
			out.AddedNodes = append(out.AddedNodes, id)
		case !nodeEqual(old, n):
			out.ModifiedNodes = append(out.ModifiedNodes, id)
		}
	}
	for id := range oldNodes {
		if _, ok := newNodes[id]; !ok {
			out.RemovedNodes = append(out.RemovedNodes, id)
		}
	}
	sort.Strings(out.AddedNodes)
	sort.Strings(out.RemovedNodes)
	sort.Strings(out.ModifiedNodes)
	return &out, nil
}

func (s *Store) versionDir(version int) string {
	return filepath.Join(s.root, fmt.Sprintf("v%04d", version))
}

// latestVersion reads the LATEST pointer, falling back to a directory scan
// if the pointer is missing. Returns 0 for an empty store.
func (s *Store) latestVersion() (int, error) {
	data, err := os.ReadFile(filepath.Join(s.root, latestFile))
	if err == nil {
		v, convErr := strconv.Atoi(strings.TrimSpace(string(data)))
		if convErr == nil && v > 0 {
			return v, nil
		}
	} else if !os.IsNotExist(err) {
		return 0, fmt.Errorf("reading latest pointer: %w", err)
	}

	versions, err := s.Versions()
	if err != nil {
		return 0, err
	}
	if len(versions) == 0 {
		return 0, nil
	}
	return versions[len(versions)-1], nil
}

// writeLatest atomically replaces the LATEST pointer
func (s *Store) writeLatest(version int) error {
	tmp, err := os.CreateTemp(s.root, ".latest-*")
	if err != nil {
		return fmt.Errorf("staging latest pointer: %w", err)
	}
	name := tmp.Name()
	if _, err := tmp.WriteString(strconv.Itoa(version) + "\n"); err != nil {
		tmp.Close()
		os.Remove(name)
		return fmt.Errorf("writing latest pointer: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return fmt.Errorf("closing latest pointer: %w", err)
	}
	if err := os.Rename(name, filepath.Join(s.root, latestFile)); err != nil {
		os.Remove(name)
		return fmt.Errorf("publishing latest pointer: %w", err)
	}
	return nil
}

func readJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

func nodesByID(nodes []types.GraphNode) map[string]types.GraphNode {
	out := make(map[string]types.GraphNode, len(nodes))
	for _, n := range nodes {
		out[n.ID] = n
	}
	return out
}

func nodeEqual(a, b types.GraphNode) bool {
	if a.ID != b.ID || a.Kind != b.Kind || len(a.Attributes) != len(b.Attributes) {
		return false
	}
	for k, v := range a.Attributes {
		if b.Attributes[k] != v {
			return false
		}
	}
	return true
}

package docs

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeintelhq/codeintel/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testAssessment(components ...string) *types.ImpactAssessment {
	return &types.ImpactAssessment{
		ID:                   "assessment-1",
		ArchitecturalChanges: []string{"split auth into its own service"},
		BreakingChanges:      []string{"renamed /v1/login"},
		AffectedComponents:   components,
		RiskLevel:            types.RiskMedium,
		ChangeIDs:            []string{"abc123"},
	}
}

func TestApplyEmptyComponents(t *testing.T) {
	m, err := NewManager(t.TempDir(), testLogger())
	require.NoError(t, err)

	artifacts, err := m.Apply(testAssessment())
	require.NoError(t, err)
	assert.Empty(t, artifacts)

	artifacts, err = m.Apply(nil)
	require.NoError(t, err)
	assert.Empty(t, artifacts)
}

func TestApplyWritesComponentDocs(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, testLogger())
	require.NoError(t, err)

	artifacts, err := m.Apply(testAssessment("Auth Service", "billing"))
	require.NoError(t, err)
	require.Len(t, artifacts, 2)

	data, err := os.ReadFile(filepath.Join(root, "components", "auth-service.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "# Auth Service")
	assert.Contains(t, content, "renamed /v1/login")
	assert.Contains(t, content, "abc123")
	assert.Contains(t, content, "Created")

	paths, err := m.ManagedPaths()
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join("components", "auth-service.md"),
		filepath.Join("components", "billing.md"),
	}, paths)

	// index.md regenerated alongside
	md, err := os.ReadFile(filepath.Join(root, "index.md"))
	require.NoError(t, err)
	assert.Contains(t, string(md), "auth-service")
}

func TestApplyUpdateIsFullReplace(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, testLogger())
	require.NoError(t, err)

	_, err = m.Apply(testAssessment("billing"))
	require.NoError(t, err)

	second := testAssessment("billing")
	second.ID = "assessment-2"
	second.BreakingChanges = []string{"dropped invoice v1"}
	artifacts, err := m.Apply(second)
	require.NoError(t, err)
	require.Len(t, artifacts, 1)

	data, err := os.ReadFile(filepath.Join(root, "components", "billing.md"))
	require.NoError(t, err)
	content := string(data)
	assert.Contains(t, content, "Updated")
	assert.Contains(t, content, "dropped invoice v1")
	assert.NotContains(t, content, "renamed /v1/login")

	// Still one index entry
	paths, err := m.ManagedPaths()
	require.NoError(t, err)
	assert.Len(t, paths, 1)
}

func TestApplyPathTraversalAbortsOnlySibling(t *testing.T) {
	root := t.TempDir()
	m, err := NewManager(root, testLogger())
	require.NoError(t, err)

	artifacts, err := m.Apply(testAssessment("../../etc/passwd", "billing"))
	require.Error(t, err)
	assert.ErrorIs(t, err, types.ErrPathTraversal)

	// The safe sibling was still written
	require.Len(t, artifacts, 1)
	assert.Equal(t, filepath.Join("components", "billing.md"), artifacts[0].RelativePath)
	_, statErr := os.Stat(filepath.Join(root, "components", "billing.md"))
	assert.NoError(t, statErr)

	// Nothing escaped the root
	parent := filepath.Dir(root)
	entries, err := os.ReadDir(parent)
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.Contains(e.Name(), "passwd"))
	}
}

func TestComponentPath(t *testing.T) {
	assert.Equal(t, "auth-service", componentPath("Auth Service"))
	assert.Equal(t, "api/v2-gateway", componentPath("API/V2 Gateway"))
	assert.Equal(t, "../secrets", componentPath("../secrets"))
}

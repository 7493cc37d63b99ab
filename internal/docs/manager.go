// Package docs maintains the generated documentation tree: one file per
// affected component plus an index of everything the manager owns.
package docs

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/codeintelhq/codeintel/internal/types"
)

const (
	indexFile         = "index.yaml"
	readableIndexFile = "index.md"
	componentsDir     = "components"
)

// IndexEntry records one managed documentation file
type IndexEntry struct {
	Path               string    `yaml:"path"`
	GeneratedAt        time.Time `yaml:"generated_at"`
	SourceAssessmentID string    `yaml:"source_assessment_id"`
}

// index is the on-disk index shape
type index struct {
	UpdatedAt time.Time    `yaml:"updated_at"`
	Entries   []IndexEntry `yaml:"entries"`
}

// Manager writes documentation derived from impact assessments under a
// single configured root and keeps the index in sync with every write.
type Manager struct {
	root   string
	logger *slog.Logger
}

// NewManager opens (creating if needed) the documentation root
func NewManager(root string, logger *slog.Logger) (*Manager, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolving docs root: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("creating docs root: %w", err)
	}
	return &Manager{root: abs, logger: logger}, nil
}

// Apply writes one documentation file per affected component in the
// assessment. An empty affected-components list yields zero artifacts and
// no error. A path-unsafe component aborts only its own artifact; sibling
// writes proceed and the per-artifact errors are joined.
func (m *Manager) Apply(assessment *types.ImpactAssessment) ([]types.DocumentationArtifact, error) {
	if assessment == nil || len(assessment.AffectedComponents) == 0 {
		return nil, nil
	}

	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}

	var artifacts []types.DocumentationArtifact
	var writeErrs []error
	now := time.Now().UTC()

	for _, component := range assessment.AffectedComponents {
		relPath := filepath.Join(componentsDir, componentPath(component)+".md")
		absPath, err := m.securePath(relPath)
		if err != nil {
			m.logger.Warn("refusing unsafe documentation path",
				slog.String("component", component),
				slog.String("error", err.Error()))
			writeErrs = append(writeErrs, fmt.Errorf("component %q: %w", component, err))
			continue
		}

		_, exists := idx[relPath]
		content := renderComponentDoc(component, assessment, now, exists)

		if err := os.MkdirAll(filepath.Dir(absPath), 0o755); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("component %q: %w", component, err))
			continue
		}
		if err := os.WriteFile(absPath, []byte(content), 0o644); err != nil {
			writeErrs = append(writeErrs, fmt.Errorf("component %q: %w", component, err))
			continue
		}

		idx[relPath] = IndexEntry{
			Path:               relPath,
			GeneratedAt:        now,
			SourceAssessmentID: assessment.ID,
		}
		artifacts = append(artifacts, types.DocumentationArtifact{
			RelativePath:       relPath,
			Content:            content,
			GeneratedAt:        now,
			SourceAssessmentID: assessment.ID,
		})
	}

	if len(artifacts) > 0 {
		if err := m.saveIndex(idx, now); err != nil {
			return artifacts, err
		}
	}

	m.logger.Info("documentation updated",
		slog.Int("artifacts", len(artifacts)),
		slog.Int("failures", len(writeErrs)),
	)
	return artifacts, errors.Join(writeErrs...)
}

// ManagedPaths returns the paths currently listed in the index, sorted
func (m *Manager) ManagedPaths() ([]string, error) {
	idx, err := m.loadIndex()
	if err != nil {
		return nil, err
	}
	paths := make([]string, 0, len(idx))
	for p := range idx {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	return paths, nil
}

// securePath resolves a relative path and rejects anything that escapes
// the docs root
func (m *Manager) securePath(relPath string) (string, error) {
	cleaned := filepath.Clean(filepath.Join(m.root, relPath))
	if cleaned != m.root && !strings.HasPrefix(cleaned, m.root+string(filepath.Separator)) {
		return "", fmt.Errorf("%w: %s escapes %s", types.ErrPathTraversal, relPath, m.root)
	}
	return cleaned, nil
}

// loadIndex reads the index file into a path-keyed map; a missing index
// means an empty one
func (m *Manager) loadIndex() (map[string]IndexEntry, error) {
	out := make(map[string]IndexEntry)
	data, err := os.ReadFile(filepath.Join(m.root, indexFile))
	if err != nil {
		if os.IsNotExist(err) {
			return out, nil
		}
		return nil, fmt.Errorf("reading docs index: %w", err)
	}
	var idx index
	if err := yaml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("parsing docs index: %w", err)
	}
	for _, e := range idx.Entries {
		out[e.Path] = e
	}
	return out, nil
}

// saveIndex atomically rewrites index.yaml and regenerates index.md
func (m *Manager) saveIndex(entries map[string]IndexEntry, now time.Time) error {
	idx := index{UpdatedAt: now}
	for _, e := range entries {
		idx.Entries = append(idx.Entries, e)
	}
	sort.Slice(idx.Entries, func(i, j int) bool {
		return idx.Entries[i].Path < idx.Entries[j].Path
	})

	data, err := yaml.Marshal(&idx)
	if err != nil {
		return fmt.Errorf("encoding docs index: %w", err)
	}
	if err := atomicWrite(filepath.Join(m.root, indexFile), data); err != nil {
		return fmt.Errorf("writing docs index: %w", err)
	}

	var md strings.Builder
	md.WriteString("# Documentation Index\n\n")
	for _, e := range idx.Entries {
		name := strings.TrimSuffix(filepath.Base(e.Path), ".md")
		fmt.Fprintf(&md, "- [%s](%s)\n", name, filepath.ToSlash(e.Path))
	}
	if err := atomicWrite(filepath.Join(m.root, readableIndexFile), []byte(md.String())); err != nil {
		return fmt.Errorf("writing readable index: %w", err)
	}
	return nil
}

// atomicWrite replaces path via a temp file and rename so concurrent
// readers never see a torn index
func atomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	name := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(name)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(name)
		return err
	}
	if err := os.Rename(name, path); err != nil {
		os.Remove(name)
		return err
	}
	return nil
}

// renderComponentDoc produces the markdown body for one component
func renderComponentDoc(component string, a *types.ImpactAssessment, now time.Time, update bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", component)
	action := "Created"
	if update {
		action = "Updated"
	}
	fmt.Fprintf(&b, "%s %s from assessment %s (risk: %s).\n\n",
		action, now.Format("2006-01-02"), a.ID, a.RiskLevel)

	writeSection(&b, "Architectural changes", a.ArchitecturalChanges)
	writeSection(&b, "Breaking changes", a.BreakingChanges)
	writeSection(&b, "New patterns", a.NewPatterns)
	writeSection(&b, "Performance implications", a.PerformanceImplications)

	if len(a.ChangeIDs) > 0 {
		b.WriteString("## Source commits\n\n")
		for _, id := range a.ChangeIDs {
			fmt.Fprintf(&b, "- `%s`\n", id)
		}
		b.WriteByte('\n')
	}
	return b.String()
}

func writeSection(b *strings.Builder, title string, items []string) {
	if len(items) == 0 {
		return
	}
	fmt.Fprintf(b, "## %s\n\n", title)
	for _, item := range items {
		fmt.Fprintf(b, "- %s\n", item)
	}
	b.WriteByte('\n')
}

// componentPath turns a component name into a relative file stem.
// Spaces become dashes but path structure ("/", ".") is preserved, so a
// hostile name like "../secrets" survives to securePath and is rejected
// there rather than silently sanitized.
func componentPath(name string) string {
	lower := strings.ToLower(strings.TrimSpace(name))
	var b strings.Builder
	lastDash := false
	for _, r := range lower {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '/', r == '.', r == '_', r == '-':
			b.WriteRune(r)
			lastDash = false
		default:
			if !lastDash {
				b.WriteByte('-')
				lastDash = true
			}
		}
	}
	return strings.Trim(b.String(), "-")
}

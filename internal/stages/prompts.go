package stages

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"

	"github.com/codeintelhq/codeintel/internal/types"
)

// maxAuditFilesListed caps how many file paths are spelled out in the
// audit prompt; the agent sees the full tree through its working dir.
const maxAuditFilesListed = 200

// impactPrompt asks the agent for a structured impact assessment over a
// batch of change records.
func impactPrompt(records []types.ChangeRecord) (string, error) {
	encoded, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encoding change records: %w", err)
	}

	var b strings.Builder
	b.WriteString("Based on the following code change analyses, provide a comprehensive impact assessment.\n\n")
	b.WriteString("Changes:\n")
	b.Write(encoded)
	b.WriteString("\n\n")
	b.WriteString("Respond with a single JSON object with exactly these keys:\n")
	b.WriteString("- architectural_changes: list of strings\n")
	b.WriteString("- breaking_changes: list of strings\n")
	b.WriteString("- new_patterns: list of strings\n")
	b.WriteString("- performance_implications: list of strings\n")
	b.WriteString("- affected_components: list of strings\n")
	b.WriteString("- risk_level: one of \"low\", \"medium\", \"high\"\n")
	return b.String(), nil
}

// auditPrompt asks the agent to audit the codebase and report findings
// as structured JSON.
func auditPrompt(repoPath string, files []string) string {
	listed := files
	truncated := 0
	if len(listed) > maxAuditFilesListed {
		truncated = len(listed) - maxAuditFilesListed
		listed = listed[:maxAuditFilesListed]
	}

	var b strings.Builder
	b.WriteString("Perform a comprehensive code quality audit for this codebase.\n\n")
	fmt.Fprintf(&b, "Repository: %s\n", repoPath)
	fmt.Fprintf(&b, "Number of source files: %d\n\n", len(files))
	b.WriteString("Analyze for:\n")
	b.WriteString("1. Technical debt accumulation\n")
	b.WriteString("2. Inconsistent patterns across modules\n")
	b.WriteString("3. Security vulnerability patterns\n")
	b.WriteString("4. Performance bottlenecks\n")
	b.WriteString("5. Missing abstractions or over-engineering\n")
	b.WriteString("6. Test coverage gaps\n\n")
	b.WriteString("Respond with a JSON array of findings. Each finding is an object with:\n")
	b.WriteString("- severity: one of \"low\", \"medium\", \"high\", \"critical\"\n")
	b.WriteString("- category: one of \"tech_debt\", \"security\", \"performance\", \"consistency\"\n")
	b.WriteString("- file_path: the affected file, if one applies\n")
	b.WriteString("- description: what the issue is\n")
	b.WriteString("- suggested_fix: how to address it\n\n")
	b.WriteString("Source files:\n")
	for _, f := range listed {
		b.WriteString(f)
		b.WriteByte('\n')
	}
	if truncated > 0 {
		fmt.Fprintf(&b, "... and %d more\n", truncated)
	}
	return b.String()
}

var sourceExtensions = map[string]bool{
	".go":   true,
	".py":   true,
	".js":   true,
	".ts":   true,
	".java": true,
	".rb":   true,
	".rs":   true,
}

var skippedDirs = map[string]bool{
	".git":         true,
	"node_modules": true,
	"vendor":       true,
	"__pycache__":  true,
}

// sourceFiles walks the repository and returns repo-relative paths of
// files worth auditing, sorted for stable prompts.
func sourceFiles(repoPath string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(repoPath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if skippedDirs[d.Name()] {
				return filepath.SkipDir
			}
			return nil
		}
		if !sourceExtensions[filepath.Ext(d.Name())] {
			return nil
		}
		rel, err := filepath.Rel(repoPath, path)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scanning %s: %w", repoPath, err)
	}
	sort.Strings(out)
	return out, nil
}

// Package changes reads repository history and produces ordered change
// records for the pipeline. It shells out to the git CLI; ignored paths
// never appear because git history only contains tracked files.
package changes

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/sourcegraph/go-diff/diff"

	"github.com/codeintelhq/codeintel/internal/types"
)

const (
	// fieldSep separates fields in the git log format string. Unit
	// separator, so commit messages with tabs don't break parsing.
	fieldSep = "\x1f"

	// maxExcerptLinesPerFile caps the diff excerpt per changed file
	maxExcerptLinesPerFile = 20
)

// Detector reads commit history via the git CLI
type Detector struct {
	gitPath string
	logger  *slog.Logger
}

// NewDetector creates a detector, verifying that git is available
func NewDetector(ctx context.Context, logger *slog.Logger) (*Detector, error) {
	gitPath, err := exec.LookPath("git")
	if err != nil {
		return nil, fmt.Errorf("git not found in PATH: %w", err)
	}
	cmd := exec.CommandContext(ctx, gitPath, "version")
	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("git command failed: %w", err)
	}
	return &Detector{gitPath: gitPath, logger: logger}, nil
}

// Detect returns the commits on branch since the given time, oldest first.
// An empty slice is a valid result. An invalid repository or unknown branch
// yields types.ErrRepositoryUnavailable.
func (d *Detector) Detect(ctx context.Context, repoPath, branch string, since time.Time) ([]types.ChangeRecord, error) {
	if err := d.checkRepo(ctx, repoPath, branch); err != nil {
		return nil, err
	}

	format := strings.Join([]string{"%H", "%an", "%at", "%s"}, fieldSep)
	out, err := d.run(ctx, repoPath,
		"log", branch,
		"--since="+since.UTC().Format(time.RFC3339),
		"--reverse",
		"--format="+format,
	)
	if err != nil {
		return nil, fmt.Errorf("git log failed in %s: %w", repoPath, err)
	}

	var records []types.ChangeRecord
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if line == "" {
			continue
		}
		parts := strings.SplitN(line, fieldSep, 4)
		if len(parts) != 4 {
			return nil, fmt.Errorf("unexpected git log line: %q", line)
		}
		epoch, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("bad commit timestamp %q: %w", parts[2], err)
		}

		rec := types.ChangeRecord{
			ID:        parts[0],
			Author:    parts[1],
			Timestamp: time.Unix(epoch, 0).UTC(),
			Message:   parts[3],
		}
		if err := d.fillDiff(ctx, repoPath, &rec); err != nil {
			return nil, err
		}
		records = append(records, rec)
	}

	d.logger.Info("change detection complete",
		slog.String("branch", branch),
		slog.Time("since", since),
		slog.Int("commits", len(records)),
	)
	return records, nil
}

// LatestCommit returns the hash the branch currently points at
func (d *Detector) LatestCommit(ctx context.Context, repoPath, branch string) (string, error) {
	if err := d.checkRepo(ctx, repoPath, branch); err != nil {
		return "", err
	}
	out, err := d.run(ctx, repoPath, "rev-parse", branch)
	if err != nil {
		return "", fmt.Errorf("git rev-parse failed in %s: %w", repoPath, err)
	}
	return strings.TrimSpace(out), nil
}

// checkRepo validates the local preconditions. Failures here are fatal to
// the run, never retried.
func (d *Detector) checkRepo(ctx context.Context, repoPath, branch string) error {
	if _, err := d.run(ctx, repoPath, "rev-parse", "--is-inside-work-tree"); err != nil {
		return fmt.Errorf("%w: %s is not a git repository", types.ErrRepositoryUnavailable, repoPath)
	}
	if _, err := d.run(ctx, repoPath, "rev-parse", "--verify", "--quiet", branch); err != nil {
		return fmt.Errorf("%w: branch %s does not exist", types.ErrRepositoryUnavailable, branch)
	}
	return nil
}

// fillDiff populates files changed, add/delete counts, and the diff excerpt
// for one commit by parsing its patch
func (d *Detector) fillDiff(ctx context.Context, repoPath string, rec *types.ChangeRecord) error {
	patch, err := d.run(ctx, repoPath, "show", "--format=", "--patch", rec.ID)
	if err != nil {
		return fmt.Errorf("git show %s failed: %w", rec.ID, err)
	}
	if strings.TrimSpace(patch) == "" {
		return nil // empty commit
	}

	fileDiffs, err := diff.ParseMultiFileDiff([]byte(patch))
	if err != nil {
		// A patch git produced that go-diff cannot parse (binary files,
		// exotic headers) should not sink the whole detection.
		d.logger.Warn("could not parse patch, keeping commit without diff details",
			slog.String("commit", rec.ID),
			slog.String("error", err.Error()))
		return nil
	}

	var excerpt bytes.Buffer
	for _, fd := range fileDiffs {
		name := strings.TrimPrefix(fd.NewName, "b/")
		if name == "/dev/null" {
			name = strings.TrimPrefix(fd.OrigName, "a/")
		}
		rec.FilesChanged = append(rec.FilesChanged, name)

		stat := fd.Stat()
		rec.Additions += int(stat.Added + stat.Changed)
		rec.Deletions += int(stat.Deleted + stat.Changed)

		fmt.Fprintf(&excerpt, "--- %s\n", name)
		lines := 0
		for _, hunk := range fd.Hunks {
			for _, l := range strings.Split(strings.TrimRight(string(hunk.Body), "\n"), "\n") {
				if lines >= maxExcerptLinesPerFile {
					excerpt.WriteString("[...]\n")
					break
				}
				excerpt.WriteString(l)
				excerpt.WriteByte('\n')
				lines++
			}
			if lines >= maxExcerptLinesPerFile {
				break
			}
		}
	}
	rec.DiffExcerpt = excerpt.String()
	return nil
}

// run executes a git subcommand against the repository
func (d *Detector) run(ctx context.Context, repoPath string, args ...string) (string, error) {
	cmd := exec.CommandContext(ctx, d.gitPath, append([]string{"-C", repoPath}, args...)...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("git %s: %w (%s)", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.String(), nil
}

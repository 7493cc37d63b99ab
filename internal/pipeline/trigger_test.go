package pipeline

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeintelhq/codeintel/internal/changes"
	"github.com/codeintelhq/codeintel/internal/config"
)

func triggerGit(t *testing.T, dir string, args ...string) {
	t.Helper()
	cmd := exec.Command("git", append([]string{"-C", dir}, args...)...)
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=Test Author",
		"GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=Test Author",
		"GIT_COMMITTER_EMAIL=test@example.com",
	)
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
}

func triggerCommit(t *testing.T, dir, name, message string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(message+"\n"), 0o644))
	triggerGit(t, dir, "add", ".")
	triggerGit(t, dir, "commit", "-m", message)
}

func TestCheckCommitsFiresOncePerHead(t *testing.T) {
	repo := t.TempDir()
	triggerGit(t, repo, "init", "-b", "main")
	triggerCommit(t, repo, "a.go", "first commit")

	detector, err := changes.NewDetector(context.Background(), testLogger())
	require.NoError(t, err)
	log := openLog(t)

	var computed atomic.Int32
	g, err := NewGraph(Stage{
		Name: "only",
		Compute: func(ctx context.Context, in Inputs) (any, error) {
			computed.Add(1)
			return nil, nil
		},
	})
	require.NoError(t, err)

	cfg := config.Config{
		RepoPath:            repo,
		Branch:              "main",
		LookbackDays:        7,
		PollIntervalSeconds: 1,
	}
	sched := NewScheduler(g, log, testLogger())
	w := NewWatcher(cfg, detector, sched, nil, log, testLogger())

	ctx := context.Background()
	require.NoError(t, w.checkCommits(ctx))
	waitForRuns(t, sched)
	assert.Equal(t, int32(1), computed.Load())

	// Same head again: no new run
	require.NoError(t, w.checkCommits(ctx))
	waitForRuns(t, sched)
	assert.Equal(t, int32(1), computed.Load())

	// A new commit moves the head and fires again
	triggerCommit(t, repo, "b.go", "second commit")
	require.NoError(t, w.checkCommits(ctx))
	waitForRuns(t, sched)
	assert.Equal(t, int32(2), computed.Load())

	commit, _, err := log.LastSeenCommit(ctx, "main")
	require.NoError(t, err)
	head, err := detector.LatestCommit(ctx, repo, "main")
	require.NoError(t, err)
	assert.Equal(t, head, commit)
}

// waitForRuns blocks until the scheduler has no in-flight runs
func waitForRuns(t *testing.T, sched *Scheduler) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for {
		sched.mu.Lock()
		n := len(sched.inflight)
		sched.mu.Unlock()
		if n == 0 {
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("runs did not complete")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/codeintelhq/codeintel/internal/changes"
	"github.com/codeintelhq/codeintel/internal/config"
	"github.com/codeintelhq/codeintel/internal/runlog"
	"github.com/codeintelhq/codeintel/internal/types"
)

// Fingerprint derives the trigger identity of a batch of change records:
// the branch plus the commit range.
func Fingerprint(branch string, records []types.ChangeRecord) string {
	if len(records) == 0 {
		return branch + "@empty"
	}
	return fmt.Sprintf("%s@%s..%s", branch, records[0].ID, records[len(records)-1].ID)
}

// Watcher drives the two trigger sources: a commit sensor for the main
// pipeline and a weekly schedule for the audit partition. The sensor polls
// on an interval and additionally wakes up on filesystem events under the
// repository's .git directory so new commits are noticed promptly.
type Watcher struct {
	cfg      config.Config
	detector *changes.Detector
	sched    *Scheduler
	audit    *AuditRunner
	log      *runlog.Store
	logger   *slog.Logger
}

// NewWatcher wires the trigger sources to a scheduler and audit runner
func NewWatcher(cfg config.Config, detector *changes.Detector, sched *Scheduler, audit *AuditRunner, log *runlog.Store, logger *slog.Logger) *Watcher {
	return &Watcher{
		cfg:      cfg,
		detector: detector,
		sched:    sched,
		audit:    audit,
		log:      log,
		logger:   logger,
	}
}

// Run blocks, firing triggers until ctx is canceled
func (w *Watcher) Run(ctx context.Context) error {
	wake := make(chan struct{}, 1)

	fsWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		w.logger.Warn("filesystem watcher unavailable, falling back to polling only",
			slog.String("error", err.Error()))
	} else {
		defer fsWatcher.Close()
		gitDir := filepath.Join(w.cfg.RepoPath, ".git")
		for _, p := range []string{gitDir, filepath.Join(gitDir, "refs", "heads")} {
			if err := fsWatcher.Add(p); err != nil {
				w.logger.Warn("could not watch path",
					slog.String("path", p),
					slog.String("error", err.Error()))
			}
		}
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case _, ok := <-fsWatcher.Events:
					if !ok {
						return
					}
					select {
					case wake <- struct{}{}:
					default: // a wakeup is already queued
					}
				case _, ok := <-fsWatcher.Errors:
					if !ok {
						return
					}
				}
			}
		}()
	}

	ticker := time.NewTicker(w.cfg.PollInterval())
	defer ticker.Stop()

	// First check runs immediately
	if err := w.checkOnce(ctx); err != nil {
		w.logger.Error("trigger check failed", slog.String("error", err.Error()))
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		case <-wake:
			// Let git finish writing refs before reading history
			time.Sleep(200 * time.Millisecond)
		}
		if err := w.checkOnce(ctx); err != nil {
			w.logger.Error("trigger check failed", slog.String("error", err.Error()))
		}
	}
}

// checkOnce evaluates both trigger sources
func (w *Watcher) checkOnce(ctx context.Context) error {
	if err := w.checkCommits(ctx); err != nil {
		return err
	}
	return w.checkAuditSchedule(ctx)
}

// checkCommits fires a change-event run when the branch moved and the
// window contains at least one new commit
func (w *Watcher) checkCommits(ctx context.Context) error {
	head, err := w.detector.LatestCommit(ctx, w.cfg.RepoPath, w.cfg.Branch)
	if err != nil {
		return err
	}

	lastSeen, lastAt, err := w.log.LastSeenCommit(ctx, w.cfg.Branch)
	if err != nil {
		return err
	}
	if head == lastSeen {
		return nil
	}

	since := lastAt
	if since.IsZero() {
		since = time.Now().Add(-w.cfg.Lookback())
	}

	records, err := w.detector.Detect(ctx, w.cfg.RepoPath, w.cfg.Branch, since)
	if err != nil {
		return err
	}
	if len(records) == 0 {
		// Branch moved but nothing new in the window (rebase, force push).
		// Record the head so we don't re-check it every tick.
		return w.log.SetLastSeenCommit(ctx, w.cfg.Branch, head, time.Now().UTC())
	}

	fp := Fingerprint(w.cfg.Branch, records)
	_, started := w.sched.Trigger(ctx, fp, types.TriggerEvent)
	if started {
		w.logger.Info("change event triggered run",
			slog.String("fingerprint", fp),
			slog.Int("commits", len(records)))
	}
	return w.log.SetLastSeenCommit(ctx, w.cfg.Branch, head, time.Now().UTC())
}

// checkAuditSchedule runs the current week's audit partition if it has not
// executed yet. The audit is independent of the main pipeline and runs in
// parallel with it.
func (w *Watcher) checkAuditSchedule(ctx context.Context) error {
	week := WeekStart(time.Now())
	_, ok, err := w.log.GetPartition(ctx, week)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}

	go func() {
		if _, err := w.audit.RunPartition(ctx, week, false); err != nil {
			w.logger.Error("scheduled audit failed",
				slog.String("week", week),
				slog.String("error", err.Error()))
		}
	}()
	return nil
}

package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codeintelhq/codeintel/internal/runlog"
	"github.com/codeintelhq/codeintel/internal/types"
)

// Run is one in-flight or completed execution of the graph. The scheduler
// that created it is the only writer of its record.
type Run struct {
	ID          string
	Fingerprint string

	mu      sync.Mutex
	record  *types.RunRecord
	outputs map[string]any

	done   chan struct{}
	cancel context.CancelFunc
}

// Output returns the output a succeeded stage produced in this run
func (r *Run) Output(stage string) (any, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out, ok := r.outputs[stage]
	return out, ok
}

// Record returns a snapshot of the run's current state
func (r *Run) Record() *types.RunRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.record.Clone()
}

// Cancel signals all in-progress stage tasks to stop at their next
// suspension point
func (r *Run) Cancel() {
	r.cancel()
}

// Wait blocks until the run completes or ctx expires, returning the final record
func (r *Run) Wait(ctx context.Context) (*types.RunRecord, error) {
	select {
	case <-r.done:
		return r.Record(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Done exposes the run's completion channel
func (r *Run) Done() <-chan struct{} {
	return r.done
}

// Scheduler executes the stage graph. At most one run per trigger
// fingerprint is in flight at any time; a duplicate trigger observes the
// existing run instead of starting another.
type Scheduler struct {
	graph  *Graph
	log    *runlog.Store
	logger *slog.Logger

	mu       sync.Mutex
	inflight map[string]*Run
}

// NewScheduler builds a scheduler over a validated graph. The run log may
// be nil (runs are then not persisted), which the tests use.
func NewScheduler(graph *Graph, log *runlog.Store, logger *slog.Logger) *Scheduler {
	return &Scheduler{
		graph:    graph,
		log:      log,
		logger:   logger,
		inflight: make(map[string]*Run),
	}
}

// Trigger starts a run for the fingerprint, or returns the in-flight run
// for the same fingerprint. started reports whether a new run began.
func (s *Scheduler) Trigger(ctx context.Context, fingerprint string, kind types.TriggerKind) (run *Run, started bool) {
	return s.trigger(ctx, fingerprint, kind, "")
}

func (s *Scheduler) trigger(ctx context.Context, fingerprint string, kind types.TriggerKind, partition string) (*Run, bool) {
	s.mu.Lock()
	if existing, ok := s.inflight[fingerprint]; ok {
		s.mu.Unlock()
		s.logger.Info("duplicate trigger observed in-flight run",
			slog.String("fingerprint", fingerprint),
			slog.String("run_id", existing.ID))
		return existing, false
	}

	record := &types.RunRecord{
		RunID:       uuid.NewString(),
		Fingerprint: fingerprint,
		TriggerKind: kind,
		Partition:   partition,
		StartedAt:   time.Now().UTC(),
		Status:      types.RunRunning,
		Stages:      make(map[string]types.StageStatus),
		StageErrors: make(map[string]string),
	}
	for _, name := range s.graph.Stages() {
		record.Stages[name] = types.StagePending
	}

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	run := &Run{
		ID:          record.RunID,
		Fingerprint: fingerprint,
		record:      record,
		outputs:     make(map[string]any),
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	s.inflight[fingerprint] = run
	s.mu.Unlock()

	s.persist(runCtx, run)
	s.logger.Info("run started",
		slog.String("run_id", run.ID),
		slog.String("fingerprint", fingerprint),
		slog.String("trigger", string(kind)))

	go s.execute(runCtx, run)
	return run, true
}

// execute drives the run to completion: repeatedly launch every ready
// stage, wait for the wave, propagate skips, and stop when nothing is
// pending. Stages with no dependency relation run concurrently.
func (s *Scheduler) execute(ctx context.Context, run *Run) {
	defer func() {
		s.mu.Lock()
		delete(s.inflight, run.Fingerprint)
		s.mu.Unlock()
		close(run.done)
	}()

	for {
		if ctx.Err() != nil {
			s.skipRemaining(run, "canceled")
			break
		}

		s.propagateSkips(run)
		ready := s.readyStages(run)
		if len(ready) == 0 {
			break
		}

		var wg sync.WaitGroup
		for _, name := range ready {
			stage, _ := s.graph.stage(name)
			run.setStageStatus(name, types.StageRunning)

			wg.Add(1)
			go func(st Stage) {
				defer wg.Done()

				in := make(Inputs, len(st.Upstream))
				run.mu.Lock()
				for _, up := range st.Upstream {
					in[up] = run.outputs[up]
				}
				run.mu.Unlock()

				start := time.Now()
				out, err := st.Compute(ctx, in)
				if err != nil {
					run.setStageError(st.Name, err)
					s.logger.Error("stage failed",
						slog.String("run_id", run.ID),
						slog.String("stage", st.Name),
						slog.Duration("duration", time.Since(start)),
						slog.String("error", err.Error()),
						slog.String("kind", types.ErrorKind(err)))
					return
				}

				run.mu.Lock()
				run.outputs[st.Name] = out
				run.mu.Unlock()
				run.setStageStatus(st.Name, types.StageSucceeded)
				s.logger.Info("stage succeeded",
					slog.String("run_id", run.ID),
					slog.String("stage", st.Name),
					slog.Duration("duration", time.Since(start)))
			}(stage)
		}
		wg.Wait()
		s.persist(ctx, run)
	}

	run.finish()
	s.persist(ctx, run)

	rec := run.Record()
	s.logger.Info("run finished",
		slog.String("run_id", run.ID),
		slog.String("status", string(rec.Status)))
}

// readyStages returns pending stages whose upstreams all succeeded
func (s *Scheduler) readyStages(run *Run) []string {
	rec := run.Record()
	var ready []string
	for _, name := range s.graph.Order() {
		if rec.Stages[name] != types.StagePending {
			continue
		}
		ok := true
		for _, up := range s.graph.Upstream(name) {
			if rec.Stages[up] != types.StageSucceeded {
				ok = false
				break
			}
		}
		if ok {
			ready = append(ready, name)
		}
	}
	return ready
}

// propagateSkips marks every pending stage with a failed or skipped
// upstream as skipped, transitively
func (s *Scheduler) propagateSkips(run *Run) {
	for changed := true; changed; {
		changed = false
		rec := run.Record()
		for _, name := range s.graph.Order() {
			if rec.Stages[name] != types.StagePending {
				continue
			}
			for _, up := range s.graph.Upstream(name) {
				if st := rec.Stages[up]; st == types.StageFailed || st == types.StageSkipped {
					run.setStageStatus(name, types.StageSkipped)
					changed = true
					break
				}
			}
		}
	}
}

// skipRemaining marks all pending stages skipped after cancellation
func (s *Scheduler) skipRemaining(run *Run, reason string) {
	rec := run.Record()
	for name, st := range rec.Stages {
		if st == types.StagePending {
			run.setStageStatus(name, types.StageSkipped)
		}
	}
	s.logger.Warn("run interrupted, remaining stages skipped",
		slog.String("run_id", run.ID),
		slog.String("reason", reason))
}

// persist best-effort saves the run record; scheduling never fails on
// run-log errors
func (s *Scheduler) persist(ctx context.Context, run *Run) {
	if s.log == nil {
		return
	}
	// The record must land even when the run's own context was canceled
	if err := s.log.SaveRun(context.WithoutCancel(ctx), run.Record()); err != nil {
		s.logger.Warn("failed to persist run record",
			slog.String("run_id", run.ID),
			slog.String("error", err.Error()))
	}
}

func (r *Run) setStageStatus(name string, st types.StageStatus) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Stages[name] = st
}

func (r *Run) setStageError(name string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.record.Stages[name] = types.StageFailed
	r.record.StageErrors[name] = types.ErrorKind(err)
}

// finish computes the run's terminal status. Failed if any stage failed;
// artifacts from succeeded stages are retained either way.
func (r *Run) finish() {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now().UTC()
	r.record.CompletedAt = &now
	r.record.Status = types.RunSucceeded
	for _, st := range r.record.Stages {
		if st == types.StageFailed || st == types.StageSkipped {
			r.record.Status = types.RunFailed
			break
		}
	}
}

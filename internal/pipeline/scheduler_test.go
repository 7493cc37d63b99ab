package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeintelhq/codeintel/internal/types"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func constStage(name string, out any, upstream ...string) Stage {
	return Stage{
		Name:     name,
		Upstream: upstream,
		Compute: func(ctx context.Context, in Inputs) (any, error) {
			return out, nil
		},
	}
}

func waitRecord(t *testing.T, run *Run) *types.RunRecord {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	rec, err := run.Wait(ctx)
	require.NoError(t, err)
	return rec
}

func TestRunAllStagesSucceed(t *testing.T) {
	g, err := NewGraph(
		constStage("changes", []string{"c1", "c2"}),
		Stage{
			Name:     "impact",
			Upstream: []string{"changes"},
			Compute: func(ctx context.Context, in Inputs) (any, error) {
				// Upstream output must be visible here
				got, ok := in["changes"].([]string)
				if !ok || len(got) != 2 {
					return nil, errors.New("missing upstream output")
				}
				return "assessment", nil
			},
		},
		constStage("docs", 3, "impact"),
	)
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())
	run, started := sched.Trigger(context.Background(), "main@c1..c2", types.TriggerEvent)
	require.True(t, started)

	rec := waitRecord(t, run)
	assert.Equal(t, types.RunSucceeded, rec.Status)
	for name, st := range rec.Stages {
		assert.Equal(t, types.StageSucceeded, st, name)
	}
	require.NotNil(t, rec.CompletedAt)

	out, ok := run.Output("docs")
	require.True(t, ok)
	assert.Equal(t, 3, out)
}

func TestFailedStageSkipsDependentsOnly(t *testing.T) {
	boom := errors.New("agent exploded")
	g, err := NewGraph(
		constStage("changes", "x"),
		Stage{
			Name:     "impact",
			Upstream: []string{"changes"},
			Compute: func(ctx context.Context, in Inputs) (any, error) {
				return nil, boom
			},
		},
		constStage("docs", nil, "impact"),
		constStage("graph", nil, "changes", "impact"),
		constStage("audit", []string{"finding"}),
	)
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())
	run, _ := sched.Trigger(context.Background(), "fp", types.TriggerEvent)
	rec := waitRecord(t, run)

	assert.Equal(t, types.RunFailed, rec.Status)
	assert.Equal(t, types.StageSucceeded, rec.Stages["changes"])
	assert.Equal(t, types.StageFailed, rec.Stages["impact"])
	assert.Equal(t, types.StageSkipped, rec.Stages["docs"])
	assert.Equal(t, types.StageSkipped, rec.Stages["graph"])
	// The independent stage still ran
	assert.Equal(t, types.StageSucceeded, rec.Stages["audit"])
	assert.NotEmpty(t, rec.StageErrors["impact"])

	// Succeeded artifacts retained
	_, ok := run.Output("audit")
	assert.True(t, ok)
	_, ok = run.Output("docs")
	assert.False(t, ok)
}

func TestIndependentStagesRunConcurrently(t *testing.T) {
	var running atomic.Int32
	var peak atomic.Int32
	parallel := func(ctx context.Context, in Inputs) (any, error) {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		running.Add(-1)
		return nil, nil
	}

	g, err := NewGraph(
		Stage{Name: "a", Compute: parallel},
		Stage{Name: "b", Compute: parallel},
		Stage{Name: "c", Compute: parallel},
	)
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())
	run, _ := sched.Trigger(context.Background(), "fp", types.TriggerEvent)
	waitRecord(t, run)

	assert.GreaterOrEqual(t, peak.Load(), int32(2))
}

func TestFingerprintDedup(t *testing.T) {
	release := make(chan struct{})
	g, err := NewGraph(Stage{
		Name: "block",
		Compute: func(ctx context.Context, in Inputs) (any, error) {
			<-release
			return nil, nil
		},
	})
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())

	const n = 16
	var startedCount atomic.Int32
	runs := make([]*Run, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			run, started := sched.Trigger(context.Background(), "same-fp", types.TriggerEvent)
			runs[i] = run
			if started {
				startedCount.Add(1)
			}
		}(i)
	}
	wg.Wait()

	// Exactly one run began; every caller observes it
	assert.Equal(t, int32(1), startedCount.Load())
	for i := 1; i < n; i++ {
		assert.Same(t, runs[0], runs[i])
	}

	close(release)
	waitRecord(t, runs[0])

	// After completion the fingerprint is free again
	_, started := sched.Trigger(context.Background(), "same-fp", types.TriggerEvent)
	assert.True(t, started)
}

func TestDifferentFingerprintsRunIndependently(t *testing.T) {
	g, err := NewGraph(constStage("only", nil))
	require.NoError(t, err)
	sched := NewScheduler(g, nil, testLogger())

	a, startedA := sched.Trigger(context.Background(), "fp-a", types.TriggerEvent)
	b, startedB := sched.Trigger(context.Background(), "fp-b", types.TriggerEvent)
	assert.True(t, startedA)
	assert.True(t, startedB)
	assert.NotEqual(t, a.ID, b.ID)
	waitRecord(t, a)
	waitRecord(t, b)
}

func TestCancelSkipsPendingStages(t *testing.T) {
	started := make(chan struct{})
	g, err := NewGraph(
		Stage{
			Name: "slow",
			Compute: func(ctx context.Context, in Inputs) (any, error) {
				close(started)
				<-ctx.Done()
				return nil, ctx.Err()
			},
		},
		constStage("after", nil, "slow"),
	)
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())
	run, _ := sched.Trigger(context.Background(), "fp", types.TriggerEvent)

	<-started
	run.Cancel()
	rec := waitRecord(t, run)

	assert.Equal(t, types.RunFailed, rec.Status)
	assert.Equal(t, types.StageFailed, rec.Stages["slow"])
	assert.Equal(t, "canceled", rec.StageErrors["slow"])
	assert.Equal(t, types.StageSkipped, rec.Stages["after"])
}

func TestWaitHonorsContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	g, err := NewGraph(Stage{
		Name: "block",
		Compute: func(ctx context.Context, in Inputs) (any, error) {
			<-release
			return nil, nil
		},
	})
	require.NoError(t, err)

	sched := NewScheduler(g, nil, testLogger())
	run, _ := sched.Trigger(context.Background(), "fp", types.TriggerEvent)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = run.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

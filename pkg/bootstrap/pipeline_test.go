package bootstrap

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/voltloop/internal/testutils"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type progressLog struct {
	mu     sync.Mutex
	events []Progress
}

func (l *progressLog) record(p Progress) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, p)
}

func (l *progressLog) statuses(stageID string) []StageStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []StageStatus
	for _, ev := range l.events {
		if ev.StageID == stageID {
			out = append(out, ev.Status)
		}
	}
	return out
}

type stageMetrics struct {
	mu       sync.Mutex
	observed map[string]StageStatus
}

func (m *stageMetrics) ObserveStage(stageID string, status StageStatus, attempts int, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.observed == nil {
		m.observed = make(map[string]StageStatus)
	}
	m.observed[stageID] = status
}

func failingTimes(n int, err error) (func(ctx context.Context) error, *int) {
	calls := 0
	return func(ctx context.Context) error {
		calls++
		if calls <= n {
			return err
		}
		return nil
	}, &calls
}

func newTestPipeline(t *testing.T, stages []Stage, opts ...Option) *Pipeline {
	t.Helper()
	clock := testutils.NewInstantClock()
	orch := retry.NewOrchestrator(retry.WithClock(clock), retry.WithSeed(1))
	p, err := New(stages, append([]Option{WithOrchestrator(orch)}, opts...)...)
	require.NoError(t, err)
	return p
}

func TestPipeline_RetriesStageUntilSuccess(t *testing.T) {
	transient := &types.TransientDependencyError{Dependency: "numeric-library", Err: errors.New("timeout")}
	workA, callsA := failingTimes(2, transient)
	workB, callsB := failingTimes(0, nil)

	log := &progressLog{}
	metrics := &stageMetrics{}
	p := newTestPipeline(t, []Stage{
		{ID: "A", Work: workA, Policy: retry.DependencyLoad},
		{ID: "B", Work: workB, Policy: retry.Initialization},
	}, WithProgress(log.record), WithMetrics(metrics))

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.NotNil(t, result)

	assert.Equal(t, 3, *callsA)
	assert.Equal(t, 1, *callsB)
	assert.True(t, p.Completed())
	assert.Equal(t, StateCompleted, p.State())

	reports := p.Reports()
	require.Len(t, reports, 2)
	assert.Equal(t, StageReport{ID: "A", Status: StageCompleted, Attempts: 3, Duration: reports[0].Duration}, reports[0])
	assert.Equal(t, 1, reports[1].Attempts)
	assert.Equal(t, StageCompleted, reports[1].Status)

	assert.Equal(t, []StageStatus{StageActive, StageCompleted}, log.statuses("A"))
	assert.Equal(t, []StageStatus{StageActive, StageCompleted}, log.statuses("B"))
	assert.Equal(t, StageCompleted, metrics.observed["A"])
	assert.Equal(t, p.ID(), result.RunID)
}

func TestPipeline_FailingStageAbortsRemaining(t *testing.T) {
	boom := errors.New("module missing")
	workA, _ := failingTimes(0, nil)
	workB, callsB := failingTimes(100, boom)
	workC, callsC := failingTimes(0, nil)

	log := &progressLog{}
	p := newTestPipeline(t, []Stage{
		{ID: "A", Work: workA, Policy: retry.DependencyLoad},
		{ID: "B", Work: workB, Policy: retry.Initialization},
		{ID: "C", Work: workC, Policy: retry.Initialization},
	}, WithProgress(log.record))

	result, err := p.Run(context.Background())
	require.Error(t, err)

	var failed *types.BootstrapFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "B", failed.StageID)
	assert.Equal(t, retry.Initialization.MaxAttempts, failed.Attempts)
	assert.ErrorIs(t, err, boom)

	assert.Equal(t, retry.Initialization.MaxAttempts, *callsB)
	assert.Equal(t, 0, *callsC)
	assert.False(t, p.Completed())
	assert.Equal(t, StateFailed, p.State())

	require.Len(t, result.Stages, 3)
	assert.Equal(t, StageCompleted, result.Stages[0].Status)
	assert.Equal(t, StageError, result.Stages[1].Status)
	assert.Equal(t, StagePending, result.Stages[2].Status)
	assert.Empty(t, log.statuses("C"))

	log.mu.Lock()
	last := log.events[len(log.events)-1]
	log.mu.Unlock()
	assert.Equal(t, StageError, last.Status)
	assert.Equal(t, 1, last.Completed)
	assert.Equal(t, 3, last.Total)
	assert.Same(t, boom, last.Err)
}

func TestPipeline_RunOnlyOnce(t *testing.T) {
	work, calls := failingTimes(0, nil)
	p := newTestPipeline(t, []Stage{{ID: "runtime", Work: work, Policy: retry.Initialization}})

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	_, err = p.Run(context.Background())
	assert.ErrorIs(t, err, types.ErrBootstrapAlreadyRun)
	assert.Equal(t, 1, *calls)
}

func TestPipeline_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := newTestPipeline(t, []Stage{
		{ID: "A", Work: func(context.Context) error { cancel(); return errors.New("flaky") }, Policy: retry.DependencyLoad},
		{ID: "B", Work: func(context.Context) error { return nil }, Policy: retry.DependencyLoad},
	})

	_, err := p.Run(ctx)
	require.Error(t, err)

	var failed *types.BootstrapFailedError
	require.True(t, errors.As(err, &failed))
	assert.Equal(t, "A", failed.StageID)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNew_Validation(t *testing.T) {
	ok := func(context.Context) error { return nil }

	tests := []struct {
		name   string
		stages []Stage
	}{
		{"no stages", nil},
		{"empty id", []Stage{{Work: ok, Policy: retry.Initialization}}},
		{"nil work", []Stage{{ID: "a", Policy: retry.Initialization}}},
		{"duplicate id", []Stage{
			{ID: "a", Work: ok, Policy: retry.Initialization},
			{ID: "a", Work: ok, Policy: retry.Initialization},
		}},
		{"invalid policy", []Stage{{ID: "a", Work: ok, Policy: retry.Policy{Name: "bad"}}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.stages)
			assert.Error(t, err)
			assert.Nil(t, p)
		})
	}
}

func TestStageStatus_String(t *testing.T) {
	assert.Equal(t, "pending", StagePending.String())
	assert.Equal(t, "active", StageActive.String())
	assert.Equal(t, "completed", StageCompleted.String())
	assert.Equal(t, "error", StageError.String())
	assert.Equal(t, "unknown", StageStatus(42).String())
	assert.Equal(t, "Failed", StateFailed.String())
}

package retry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/voltloop/internal/testutils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fastPolicy = Policy{
	Name:          "fast",
	MaxAttempts:   4,
	InitialDelay:  100 * time.Millisecond,
	MaxDelay:      time.Second,
	BackoffFactor: 2,
}

func TestRun_SucceedsAfterKFailures(t *testing.T) {
	for k := 0; k < fastPolicy.MaxAttempts; k++ {
		t.Run(fmt.Sprintf("k=%d", k), func(t *testing.T) {
			clock := testutils.NewInstantClock()
			orch := NewOrchestrator(WithClock(clock), WithSeed(1))

			calls := 0
			outcome := Run(orch, context.Background(), "op", fastPolicy, func(ctx context.Context, attempt int) (string, error) {
				calls++
				assert.Equal(t, calls, attempt)
				if attempt <= k {
					return "", errors.New("not yet")
				}
				return "ok", nil
			})

			assert.True(t, outcome.Success)
			assert.NoError(t, outcome.Err)
			assert.Equal(t, "ok", outcome.Result)
			assert.Equal(t, k+1, outcome.Attempts)
			assert.Len(t, clock.Delays(), k)
		})
	}
}

func TestRun_AlwaysFails(t *testing.T) {
	clock := testutils.NewInstantClock()
	orch := NewOrchestrator(WithClock(clock))

	var last error
	outcome := Run(orch, context.Background(), "op", fastPolicy, func(ctx context.Context, attempt int) (int, error) {
		last = fmt.Errorf("failure %d", attempt)
		return 0, last
	})

	assert.False(t, outcome.Success)
	assert.Equal(t, fastPolicy.MaxAttempts, outcome.Attempts)
	assert.Same(t, last, outcome.Err)
	assert.Zero(t, outcome.Result)

	// no wait after the final attempt
	assert.Equal(t, []time.Duration{
		100 * time.Millisecond,
		200 * time.Millisecond,
		400 * time.Millisecond,
	}, clock.Delays())
}

func TestRun_RecoversPanics(t *testing.T) {
	orch := NewOrchestrator(WithClock(testutils.NewInstantClock()))

	outcome := Run(orch, context.Background(), "op", fastPolicy.WithMaxAttempts(2), func(ctx context.Context, attempt int) (int, error) {
		if attempt == 1 {
			panic("boom")
		}
		return 42, nil
	})

	assert.True(t, outcome.Success)
	assert.Equal(t, 42, outcome.Result)
	assert.Equal(t, 2, outcome.Attempts)
}

func TestRun_InvalidPolicy(t *testing.T) {
	orch := NewOrchestrator()

	called := false
	outcome := Run(orch, context.Background(), "op", Policy{}, func(ctx context.Context, attempt int) (int, error) {
		called = true
		return 0, nil
	})

	assert.False(t, outcome.Success)
	assert.Error(t, outcome.Err)
	assert.Equal(t, 0, outcome.Attempts)
	assert.False(t, called)
}

func TestRun_ContextCanceledDuringDelay(t *testing.T) {
	mock := testutils.NewMockClock(t)
	orch := NewOrchestrator(WithClock(testutils.NewClockWrapper(mock)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	outcome := Run(orch, ctx, "op", fastPolicy, func(ctx context.Context, attempt int) (int, error) {
		// the mock clock never advances, so only cancellation can end the wait
		cancel()
		return 0, errors.New("transient")
	})

	assert.False(t, outcome.Success)
	assert.ErrorIs(t, outcome.Err, context.Canceled)
	assert.Equal(t, 1, outcome.Attempts)
}

func TestRun_WaitsOnClock(t *testing.T) {
	mock := testutils.NewMockClock(t)
	orch := NewOrchestrator(WithClock(testutils.NewClockWrapper(mock)))
	tc := testutils.NewTestContext(t, 0)

	done := make(chan Outcome[string], 1)
	attempts := make(chan int, fastPolicy.MaxAttempts)
	go func() {
		done <- Run(orch, tc.Context(), "op", fastPolicy, func(ctx context.Context, attempt int) (string, error) {
			attempts <- attempt
			if attempt < 2 {
				return "", errors.New("transient")
			}
			return "loaded", nil
		})
	}()

	require.Equal(t, 1, <-attempts)
	// first retry waits exactly InitialDelay; AdvanceNext fires it once registered
	tc.AssertEventually(func() bool {
		d, ok := mock.Peek()
		return ok && d == fastPolicy.InitialDelay
	})
	mock.Advance(fastPolicy.InitialDelay).MustWait(tc.Context())

	require.Equal(t, 2, <-attempts)
	outcome := <-done
	assert.True(t, outcome.Success)
	assert.Equal(t, "loaded", outcome.Result)
	assert.Equal(t, 2, outcome.Attempts)
}

type recordingHandler struct {
	mu        sync.Mutex
	attempts  []int
	successes []int
	exhausted []int
}

func (h *recordingHandler) OnRetryAttempt(ctx context.Context, name string, attempt int, delay time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.attempts = append(h.attempts, attempt)
}

func (h *recordingHandler) OnRetrySuccess(ctx context.Context, name string, attempts int, duration time.Duration) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.successes = append(h.successes, attempts)
}

func (h *recordingHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempts int, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.exhausted = append(h.exhausted, attempts)
}

func TestRun_EventsAndStats(t *testing.T) {
	handler := &recordingHandler{}
	orch := NewOrchestrator(
		WithClock(testutils.NewInstantClock()),
		WithEventHandler(MultiEventHandler{handler, NewLoggingEventHandler(nil)}),
	)

	fails := 0
	Run(orch, context.Background(), "a", fastPolicy, func(ctx context.Context, attempt int) (int, error) {
		if attempt < 3 {
			fails++
			return 0, errors.New("transient")
		}
		return 1, nil
	})
	Run(orch, context.Background(), "b", fastPolicy.WithMaxAttempts(2), func(ctx context.Context, attempt int) (int, error) {
		return 0, errors.New("permanent")
	})

	assert.Equal(t, []int{1, 2, 1}, handler.attempts)
	assert.Equal(t, []int{3}, handler.successes)
	assert.Equal(t, []int{2}, handler.exhausted)

	stats := orch.GetStats()
	assert.EqualValues(t, 5, stats.TotalAttempts)
	assert.EqualValues(t, 3, stats.TotalRetries)
	assert.EqualValues(t, 1, stats.TotalSuccesses)
	assert.EqualValues(t, 1, stats.TotalFailures)
	assert.Equal(t, 400*time.Millisecond, stats.TotalRetryDelay)

	orch.ResetStats()
	assert.Zero(t, orch.GetStats().TotalAttempts)
}

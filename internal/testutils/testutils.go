// Package testutils provides simplified testing utilities and helper functions
package testutils

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/voltloop/pkg/types"
	"github.com/stretchr/testify/assert"
)

// TestContext simplified test context
type TestContext struct {
	t       *testing.T
	timeout time.Duration
	cleanup []func()
	mu      sync.Mutex
}

// NewTestContext creates new test context; timeout defaults to 5s
func NewTestContext(t *testing.T, timeout time.Duration) *TestContext {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	tc := &TestContext{t: t, timeout: timeout}
	t.Cleanup(tc.Cleanup)
	return tc
}

// Context returns context with timeout
func (tc *TestContext) Context() context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), tc.timeout)
	tc.AddCleanup(cancel)
	return ctx
}

// AddCleanup adds cleanup function
func (tc *TestContext) AddCleanup(fn func()) {
	tc.mu.Lock()
	defer tc.mu.Unlock()
	tc.cleanup = append(tc.cleanup, fn)
}

// Cleanup executes cleanup functions in reverse order
func (tc *TestContext) Cleanup() {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	for i := len(tc.cleanup) - 1; i >= 0; i-- {
		tc.cleanup[i]()
	}
	tc.cleanup = nil
}

// AssertEventually waits for condition to be true
func (tc *TestContext) AssertEventually(condition func() bool, msgAndArgs ...interface{}) {
	assert.Eventually(tc.t, condition, tc.timeout, 5*time.Millisecond, msgAndArgs...)
}

// ErrScripted is returned by FakeEngine when a compute failure is scripted
var ErrScripted = errors.New("scripted compute failure")

// FakeEngine is a scripted types.Engine. Each Compute advances time by Step seconds
// and reports the reference on the "reference" channel and a ramp on "ramp".
type FakeEngine struct {
	Step float64

	mu         sync.Mutex
	now        float64
	computes   int
	resets     int
	failAt     map[int]error
	params     map[string]float64
	lastInput  types.ControlInput
	onCompute  func(n int)
	resetError error
}

// NewFakeEngine creates a FakeEngine advancing 0.05s per tick
func NewFakeEngine() *FakeEngine {
	return &FakeEngine{
		Step:   0.05,
		failAt: make(map[int]error),
		params: map[string]float64{"gain": 1},
	}
}

// FailAt scripts Compute call n (1-based) to return err
func (f *FakeEngine) FailAt(n int, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failAt[n] = err
}

// OnCompute registers a hook invoked after each Compute with its call number
func (f *FakeEngine) OnCompute(fn func(n int)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onCompute = fn
}

// FailReset makes Reset return err
func (f *FakeEngine) FailReset(err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.resetError = err
}

// Compute implements types.Engine
func (f *FakeEngine) Compute(ctx context.Context, input types.ControlInput) (types.Sample, error) {
	f.mu.Lock()
	f.computes++
	n := f.computes
	f.lastInput = input
	hook := f.onCompute
	err := f.failAt[n]
	if err == nil {
		f.now += f.Step
	}
	now := f.now
	f.mu.Unlock()

	if hook != nil {
		defer hook(n)
	}
	if err != nil {
		return types.Sample{}, err
	}
	return types.Sample{
		Time: now,
		Channels: map[string]float64{
			"reference": input.Reference,
			"ramp":      now,
		},
		Converged: true,
	}, nil
}

// Configure implements types.Engine; negative values are rejected
func (f *FakeEngine) Configure(ctx context.Context, params map[string]float64) (map[string]float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	applied := make(map[string]float64)
	for k, v := range params {
		if _, known := f.params[k]; !known {
			continue
		}
		if v < 0 {
			return nil, &types.ConfigurationError{Key: k, Value: v, Reason: "must not be negative"}
		}
		applied[k] = v
	}
	for k, v := range applied {
		f.params[k] = v
	}
	return applied, nil
}

// Defaults implements types.Engine
func (f *FakeEngine) Defaults() map[string]float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]float64, len(f.params))
	for k, v := range f.params {
		out[k] = v
	}
	return out
}

// Reset implements types.Engine
func (f *FakeEngine) Reset(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.resetError != nil {
		return f.resetError
	}
	f.resets++
	f.now = 0
	return nil
}

// Computes returns the number of Compute calls
func (f *FakeEngine) Computes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.computes
}

// Resets returns the number of successful Reset calls
func (f *FakeEngine) Resets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.resets
}

// LastInput returns the most recent ControlInput passed to Compute
func (f *FakeEngine) LastInput() types.ControlInput {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.lastInput
}

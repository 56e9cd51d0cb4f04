// Package retry provides the retry orchestrator
package retry

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jzx17/voltloop/pkg/types"
)

// Operation is a unit of work attempted under a policy; attempt starts at 1
type Operation[T any] func(ctx context.Context, attempt int) (T, error)

// Outcome is the result of running an operation under a policy.
// Success implies Err is nil; failure carries the last error.
type Outcome[T any] struct {
	Success  bool
	Result   T
	Err      error
	Attempts int
}

// Orchestrator executes operations under retry policies
type Orchestrator struct {
	clock        types.Clock
	jitter       JitterSource
	eventHandler EventHandler
	stats        Stats
}

// Stats contains retry statistics
type Stats struct {
	TotalAttempts   int64         // total attempt count
	TotalRetries    int64         // attempts after the first
	TotalSuccesses  int64         // operations that eventually succeeded
	TotalFailures   int64         // operations that exhausted their policy
	TotalRetryDelay time.Duration // total time spent waiting between attempts
	mu              sync.RWMutex
}

// EventHandler handles retry events
type EventHandler interface {
	OnRetryAttempt(ctx context.Context, name string, attempt int, delay time.Duration, err error)
	OnRetrySuccess(ctx context.Context, name string, attempts int, duration time.Duration)
	OnMaxAttemptsReached(ctx context.Context, name string, attempts int, err error)
}

// NewOrchestrator creates a retry orchestrator using the real clock and a time-seeded jitter source
func NewOrchestrator(opts ...OrchestratorOption) *Orchestrator {
	o := &Orchestrator{
		clock:  types.NewRealClock(),
		jitter: NewJitterSource(time.Now().UnixNano()),
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// Run attempts op up to policy.MaxAttempts times, waiting Delay between attempts.
// It never returns an error directly: the caller inspects Outcome.Success.
// Errors and panics raised by op are recorded, never propagated mid-loop.
// A cancelled context ends the run early with ctx.Err() as the outcome error.
func Run[T any](o *Orchestrator, ctx context.Context, name string, policy Policy, op Operation[T]) Outcome[T] {
	var out Outcome[T]

	if err := policy.Validate(); err != nil {
		out.Err = err
		return out
	}

	start := o.clock.Now()
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			out.Err = err
			return out
		}

		o.updateStats(func(s *Stats) {
			s.TotalAttempts++
			if attempt > 1 {
				s.TotalRetries++
			}
		})

		out.Attempts = attempt
		result, err := attemptOnce(ctx, op, attempt)
		if err == nil {
			out.Success = true
			out.Result = result
			out.Err = nil
			o.updateStats(func(s *Stats) { s.TotalSuccesses++ })
			if o.eventHandler != nil {
				o.eventHandler.OnRetrySuccess(ctx, name, attempt, o.clock.Since(start))
			}
			return out
		}
		out.Err = err

		if attempt == policy.MaxAttempts {
			break
		}

		delay := Delay(attempt, policy, o.jitter)
		o.updateStats(func(s *Stats) { s.TotalRetryDelay += delay })
		if o.eventHandler != nil {
			o.eventHandler.OnRetryAttempt(ctx, name, attempt, delay, err)
		}

		select {
		case <-ctx.Done():
			out.Err = ctx.Err()
			return out
		case <-o.clock.After(delay):
		}
	}

	o.updateStats(func(s *Stats) { s.TotalFailures++ })
	if o.eventHandler != nil {
		o.eventHandler.OnMaxAttemptsReached(ctx, name, out.Attempts, out.Err)
	}
	return out
}

// attemptOnce runs op, converting a panic into an error
func attemptOnce[T any](ctx context.Context, op Operation[T], attempt int) (result T, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("attempt %d panicked: %v", attempt, r)
		}
	}()
	return op(ctx, attempt)
}

// GetStats gets retry statistics
func (o *Orchestrator) GetStats() Stats {
	o.stats.mu.RLock()
	defer o.stats.mu.RUnlock()
	return Stats{
		TotalAttempts:   o.stats.TotalAttempts,
		TotalRetries:    o.stats.TotalRetries,
		TotalSuccesses:  o.stats.TotalSuccesses,
		TotalFailures:   o.stats.TotalFailures,
		TotalRetryDelay: o.stats.TotalRetryDelay,
	}
}

// ResetStats resets statistics
func (o *Orchestrator) ResetStats() {
	o.stats.mu.Lock()
	defer o.stats.mu.Unlock()

	o.stats.TotalAttempts = 0
	o.stats.TotalRetries = 0
	o.stats.TotalSuccesses = 0
	o.stats.TotalFailures = 0
	o.stats.TotalRetryDelay = 0
}

// updateStats updates statistics (thread-safe)
func (o *Orchestrator) updateStats(fn func(*Stats)) {
	o.stats.mu.Lock()
	defer o.stats.mu.Unlock()
	fn(&o.stats)
}

// OrchestratorOption is a configuration option for the orchestrator
type OrchestratorOption func(*Orchestrator)

// WithEventHandler sets the event handler
func WithEventHandler(handler EventHandler) OrchestratorOption {
	return func(o *Orchestrator) {
		o.eventHandler = handler
	}
}

// WithClock sets the clock used for retry delays
func WithClock(clock types.Clock) OrchestratorOption {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithJitterSource sets the random source used for jitter
func WithJitterSource(src JitterSource) OrchestratorOption {
	return func(o *Orchestrator) {
		o.jitter = src
	}
}

// WithSeed seeds the jitter source, making delays reproducible
func WithSeed(seed int64) OrchestratorOption {
	return WithJitterSource(NewJitterSource(seed))
}

// LoggingEventHandler logs retry events
type LoggingEventHandler struct {
	logger types.Logger
}

// NewLoggingEventHandler creates an event handler that writes to logger
func NewLoggingEventHandler(logger types.Logger) *LoggingEventHandler {
	return &LoggingEventHandler{logger: logger}
}

// OnRetryAttempt handles retry attempt events
func (h *LoggingEventHandler) OnRetryAttempt(ctx context.Context, name string, attempt int, delay time.Duration, err error) {
	if h.logger != nil {
		h.logger.Warnf("%s: attempt %d failed, retrying in %v: %v", name, attempt, delay, err)
	}
}

// OnRetrySuccess handles retry success events
func (h *LoggingEventHandler) OnRetrySuccess(ctx context.Context, name string, attempts int, duration time.Duration) {
	if h.logger != nil && attempts > 1 {
		h.logger.Infof("%s: succeeded on attempt %d after %v", name, attempts, duration)
	}
}

// OnMaxAttemptsReached handles max attempts reached events
func (h *LoggingEventHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempts int, err error) {
	if h.logger != nil {
		h.logger.Errorf("%s: giving up after %d attempts: %v", name, attempts, err)
	}
}

// MultiEventHandler fans events out to several handlers
type MultiEventHandler []EventHandler

func (m MultiEventHandler) OnRetryAttempt(ctx context.Context, name string, attempt int, delay time.Duration, err error) {
	for _, h := range m {
		h.OnRetryAttempt(ctx, name, attempt, delay, err)
	}
}

func (m MultiEventHandler) OnRetrySuccess(ctx context.Context, name string, attempts int, duration time.Duration) {
	for _, h := range m {
		h.OnRetrySuccess(ctx, name, attempts, duration)
	}
}

func (m MultiEventHandler) OnMaxAttemptsReached(ctx context.Context, name string, attempts int, err error) {
	for _, h := range m {
		h.OnMaxAttemptsReached(ctx, name, attempts, err)
	}
}

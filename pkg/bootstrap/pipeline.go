// Package bootstrap provides the staged, sequential engine bootstrap pipeline
package bootstrap

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/types"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jzx17/voltloop/pkg/bootstrap"

// StageStatus defines the lifecycle of a stage
type StageStatus int32

const (
	// StagePending stage has not started
	StagePending StageStatus = iota
	// StageActive stage is executing (possibly retrying)
	StageActive
	// StageCompleted stage succeeded
	StageCompleted
	// StageError stage exhausted its retries
	StageError
)

// String returns string representation of the stage status
func (s StageStatus) String() string {
	switch s {
	case StagePending:
		return "pending"
	case StageActive:
		return "active"
	case StageCompleted:
		return "completed"
	case StageError:
		return "error"
	default:
		return "unknown"
	}
}

// State defines the state of the pipeline as a whole
type State int32

const (
	// StateCreated pipeline is created
	StateCreated State = iota
	// StateRunning pipeline is running
	StateRunning
	// StateCompleted every stage completed
	StateCompleted
	// StateFailed a stage failed and the pipeline aborted
	StateFailed
)

// String returns string representation of state
func (s State) String() string {
	switch s {
	case StateCreated:
		return "Created"
	case StateRunning:
		return "Running"
	case StateCompleted:
		return "Completed"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Stage is one named unit of the bootstrap sequence
type Stage struct {
	ID     string
	Work   func(ctx context.Context) error
	Policy retry.Policy
}

// Progress is emitted after every stage transition
type Progress struct {
	RunID     string
	StageID   string
	Status    StageStatus
	Completed int // stages completed so far
	Total     int
	Attempts  int
	Err       error // last underlying error, set on StageError
}

// ProgressFunc receives progress events in order
type ProgressFunc func(Progress)

// StageReport is the per-stage result of a run
type StageReport struct {
	ID       string
	Status   StageStatus
	Attempts int
	Err      error
	Duration time.Duration
}

// Result summarizes a pipeline run
type Result struct {
	RunID    string
	Stages   []StageReport
	Duration time.Duration
}

// MetricsCollector records stage outcomes
type MetricsCollector interface {
	ObserveStage(stageID string, status StageStatus, attempts int, duration time.Duration)
}

// Pipeline runs its stages exactly once, strictly in declaration order
type Pipeline struct {
	id     string
	stages []Stage
	state  int32 // atomic State

	orchestrator *retry.Orchestrator
	clock        types.Clock
	logger       types.Logger
	metrics      MetricsCollector
	progress     []ProgressFunc

	mu      sync.RWMutex
	reports []StageReport
}

// New validates the stages and creates a pipeline
func New(stages []Stage, opts ...Option) (*Pipeline, error) {
	if len(stages) == 0 {
		return nil, fmt.Errorf("bootstrap pipeline needs at least one stage")
	}

	seen := make(map[string]bool, len(stages))
	for i, s := range stages {
		if s.ID == "" {
			return nil, fmt.Errorf("stage %d has no id", i)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate stage id %q", s.ID)
		}
		seen[s.ID] = true
		if s.Work == nil {
			return nil, fmt.Errorf("stage %q has no work function", s.ID)
		}
		if err := s.Policy.Validate(); err != nil {
			return nil, fmt.Errorf("stage %q: %w", s.ID, err)
		}
	}

	p := &Pipeline{
		id:     uuid.NewString(),
		stages: append([]Stage(nil), stages...),
		state:  int32(StateCreated),
		clock:  types.NewRealClock(),
		logger: types.NopLogger{},
	}

	for _, opt := range opts {
		opt(p)
	}

	if p.orchestrator == nil {
		p.orchestrator = retry.NewOrchestrator(
			retry.WithClock(p.clock),
			retry.WithEventHandler(retry.NewLoggingEventHandler(p.logger)),
		)
	}

	p.reports = make([]StageReport, len(p.stages))
	for i, s := range p.stages {
		p.reports[i] = StageReport{ID: s.ID, Status: StagePending}
	}

	return p, nil
}

// ID returns the run id attached to progress events
func (p *Pipeline) ID() string {
	return p.id
}

// Run executes the stages. It may be called once; later calls return
// types.ErrBootstrapAlreadyRun. On the first failing stage the remaining stages
// are never attempted and a *types.BootstrapFailedError is returned.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	if !atomic.CompareAndSwapInt32(&p.state, int32(StateCreated), int32(StateRunning)) {
		return nil, types.ErrBootstrapAlreadyRun
	}

	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "bootstrap.run", trace.WithAttributes(
		attribute.String("bootstrap.run_id", p.id),
		attribute.Int("bootstrap.stages", len(p.stages)),
	))
	defer span.End()

	start := p.clock.Now()
	p.logger.Infof("bootstrap %s: starting %d stages", p.id, len(p.stages))

	for i, stage := range p.stages {
		p.setReport(i, func(r *StageReport) { r.Status = StageActive })
		p.emit(i, StageActive, 0, nil)

		stageStart := p.clock.Now()
		outcome := p.runStage(ctx, tracer, stage)
		duration := p.clock.Since(stageStart)

		if !outcome.Success {
			p.setReport(i, func(r *StageReport) {
				r.Status = StageError
				r.Attempts = outcome.Attempts
				r.Err = outcome.Err
				r.Duration = duration
			})
			p.observe(stage.ID, StageError, outcome.Attempts, duration)
			p.emit(i, StageError, outcome.Attempts, outcome.Err)

			atomic.StoreInt32(&p.state, int32(StateFailed))
			err := &types.BootstrapFailedError{StageID: stage.ID, Attempts: outcome.Attempts, Err: outcome.Err}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			p.logger.Errorf("bootstrap %s: %v", p.id, err)
			return p.result(start), err
		}

		p.setReport(i, func(r *StageReport) {
			r.Status = StageCompleted
			r.Attempts = outcome.Attempts
			r.Duration = duration
		})
		p.observe(stage.ID, StageCompleted, outcome.Attempts, duration)
		p.emit(i, StageCompleted, outcome.Attempts, nil)
		p.logger.Debugf("bootstrap %s: stage %s completed after %d attempt(s) in %v", p.id, stage.ID, outcome.Attempts, duration)
	}

	atomic.StoreInt32(&p.state, int32(StateCompleted))
	p.logger.Infof("bootstrap %s: all stages completed", p.id)
	return p.result(start), nil
}

func (p *Pipeline) runStage(ctx context.Context, tracer trace.Tracer, stage Stage) retry.Outcome[struct{}] {
	ctx, span := tracer.Start(ctx, "bootstrap.stage", trace.WithAttributes(
		attribute.String("bootstrap.stage_id", stage.ID),
		attribute.String("retry.policy", stage.Policy.Name),
	))
	defer span.End()

	outcome := retry.Run(p.orchestrator, ctx, stage.ID, stage.Policy, func(ctx context.Context, attempt int) (struct{}, error) {
		return struct{}{}, stage.Work(ctx)
	})

	span.SetAttributes(attribute.Int("retry.attempts", outcome.Attempts))
	if !outcome.Success {
		span.RecordError(outcome.Err)
		span.SetStatus(codes.Error, "stage failed")
	}
	return outcome
}

// Completed reports whether every stage completed; it gates the control loop
func (p *Pipeline) Completed() bool {
	return p.State() == StateCompleted
}

// State returns the pipeline state
func (p *Pipeline) State() State {
	return State(atomic.LoadInt32(&p.state))
}

// Reports returns a snapshot of the per-stage status
func (p *Pipeline) Reports() []StageReport {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]StageReport(nil), p.reports...)
}

func (p *Pipeline) setReport(i int, fn func(*StageReport)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fn(&p.reports[i])
}

func (p *Pipeline) completedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	n := 0
	for _, r := range p.reports {
		if r.Status == StageCompleted {
			n++
		}
	}
	return n
}

func (p *Pipeline) emit(i int, status StageStatus, attempts int, err error) {
	if len(p.progress) == 0 {
		return
	}
	ev := Progress{
		RunID:     p.id,
		StageID:   p.stages[i].ID,
		Status:    status,
		Completed: p.completedCount(),
		Total:     len(p.stages),
		Attempts:  attempts,
		Err:       err,
	}
	for _, fn := range p.progress {
		fn(ev)
	}
}

func (p *Pipeline) observe(stageID string, status StageStatus, attempts int, d time.Duration) {
	if p.metrics != nil {
		p.metrics.ObserveStage(stageID, status, attempts, d)
	}
}

func (p *Pipeline) result(start time.Time) *Result {
	return &Result{
		RunID:    p.id,
		Stages:   p.Reports(),
		Duration: p.clock.Since(start),
	}
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithProgress subscribes fn to progress events
func WithProgress(fn ProgressFunc) Option {
	return func(p *Pipeline) {
		if fn != nil {
			p.progress = append(p.progress, fn)
		}
	}
}

// WithOrchestrator sets the retry orchestrator shared by all stages
func WithOrchestrator(o *retry.Orchestrator) Option {
	return func(p *Pipeline) {
		p.orchestrator = o
	}
}

// WithClock sets the clock used for durations and, unless an orchestrator is given, retry delays
func WithClock(clock types.Clock) Option {
	return func(p *Pipeline) {
		p.clock = clock
	}
}

// WithLogger sets the logger
func WithLogger(logger types.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(p *Pipeline) {
		p.metrics = m
	}
}

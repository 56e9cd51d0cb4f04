// Package controller drives an engine on a fixed cadence and feeds its samples
// into rolling, auto-scaling charts
package controller

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	errs "github.com/jzx17/voltloop/internal/errors"
	"github.com/jzx17/voltloop/pkg/axis"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/jzx17/voltloop/pkg/window"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/jzx17/voltloop/pkg/controller"

// simulationIntervalParam is the engine parameter that also sets the loop cadence, in milliseconds
const simulationIntervalParam = "simulation_interval"

type chartState struct {
	Chart
	scaler *axis.Scaler
}

// Controller is the fixed-interval control loop. At most one tick is running
// or scheduled at any time.
type Controller struct {
	engine   types.Engine
	charts   []*chartState
	window   *window.Engine
	clock    types.Clock
	gate     Gate
	logger   types.Logger
	metrics  MetricsCollector
	dispatch func(func())
	baseCtx  context.Context
	registry *errs.Registry
	reporter *errs.Reporter
	tracer   trace.Tracer
	session  string

	// stepMu serializes ticks
	stepMu sync.Mutex
	series map[string]*series

	mu        sync.Mutex
	cfg       Config
	state     types.LoopState
	gen       uint64      // bumped by every Start and Stop; stale callbacks compare against it
	pending   types.Timer // the one scheduled tick or delayed start
	input     types.ControlInput
	ticks     uint64
	observers []Observer
}

// New creates a controller in the Idle state
func New(engine types.Engine, charts []Chart, cfg Config, opts ...Option) (*Controller, error) {
	if engine == nil {
		return nil, fmt.Errorf("controller needs an engine")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid controller config: %w", err)
	}
	if err := validateCharts(charts); err != nil {
		return nil, err
	}

	win, err := window.NewEngine(cfg.Window)
	if err != nil {
		return nil, err
	}

	c := &Controller{
		engine:   engine,
		window:   win,
		clock:    types.NewRealClock(),
		logger:   types.NopLogger{},
		dispatch: func(f func()) { go f() },
		baseCtx:  context.Background(),
		reporter: errs.NewReporter(),
		tracer:   otel.Tracer(tracerName),
		session:  uuid.NewString(),
		series:   make(map[string]*series),
		cfg:      cfg,
		state:    types.StateIdle,
		input:    types.ControlInput{Reference: cfg.InitialReference},
	}

	for _, opt := range opts {
		opt(c)
	}
	if c.registry == nil {
		c.registry = errs.NewRegistry(c.logger)
	}

	for _, ch := range charts {
		ch.Channels = append([]string(nil), ch.Channels...)
		c.charts = append(c.charts, &chartState{Chart: ch, scaler: axis.NewScaler(cfg.Axis, ch.Padding)})
		for _, name := range ch.Channels {
			if _, ok := c.series[name]; !ok {
				c.series[name] = newSeries(cfg.MaxPoints)
			}
		}
	}

	if c.metrics != nil {
		c.metrics.SetLoopState(types.StateIdle)
	}
	return c, nil
}

// Session returns the id attached to tick events and logs
func (c *Controller) Session() string {
	return c.session
}

// State returns the loop state
func (c *Controller) State() types.LoopState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers an observer
func (c *Controller) Subscribe(o Observer) {
	if o == nil {
		return
	}
	c.mu.Lock()
	c.observers = append(c.observers, o)
	c.mu.Unlock()
	c.reporter.Subscribe(o.OnError)
}

// Start begins ticking. The first tick is dispatched immediately. Start is a
// no-op while running or while the gate is not complete, and fails only after Close.
func (c *Controller) Start() error {
	c.mu.Lock()
	switch c.state {
	case types.StateStopped:
		c.mu.Unlock()
		return types.ErrControllerClosed
	case types.StateRunning:
		c.mu.Unlock()
		return nil
	}
	if c.gate != nil && !c.gate.Completed() {
		c.mu.Unlock()
		c.logger.Debugf("controller %s: start ignored, engine not ready", c.session)
		return nil
	}

	c.cancelPendingLocked()
	c.gen++
	gen := c.gen
	c.state = types.StateRunning
	c.mu.Unlock()

	c.logger.Infof("controller %s: started", c.session)
	c.stateChanged(types.StateIdle, types.StateRunning)
	c.dispatch(func() { c.step(gen) })
	return nil
}

// Stop halts the loop and cancels any scheduled tick or pending delayed start.
// A tick already computing runs to completion but is not rescheduled.
func (c *Controller) Stop() {
	c.mu.Lock()
	c.cancelPendingLocked()
	c.gen++
	if c.state != types.StateRunning {
		c.mu.Unlock()
		return
	}
	c.state = types.StateIdle
	c.mu.Unlock()

	c.logger.Infof("controller %s: stopped", c.session)
	c.stateChanged(types.StateRunning, types.StateIdle)
}

// Close stops the loop for good; later Starts return types.ErrControllerClosed
func (c *Controller) Close() error {
	c.Stop()

	c.mu.Lock()
	from := c.state
	c.state = types.StateStopped
	c.mu.Unlock()

	if from != types.StateStopped {
		c.stateChanged(from, types.StateStopped)
	}
	return nil
}

// Reset stops the loop, resets the engine, clears every window, axis and
// series, and schedules a Start after the reset delay.
func (c *Controller) Reset(ctx context.Context) error {
	c.Stop()
	if c.State() == types.StateStopped {
		return types.ErrControllerClosed
	}

	if err := c.engine.Reset(ctx); err != nil {
		return fmt.Errorf("reset engine: %w", err)
	}

	c.stepMu.Lock()
	c.window.Reset()
	initial := c.window.Current()
	for _, s := range c.series {
		s.clear()
	}
	for _, ch := range c.charts {
		ch.scaler.Reset()
		c.renderCall(ctx, ch.ID, "clear", ch.Sink.Clear)
		c.renderCall(ctx, ch.ID, "apply x bounds", func() error {
			return ch.Sink.ApplyBounds(types.AxisX, initial.Min, initial.Max)
		})
	}
	c.stepMu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state == types.StateStopped {
		return types.ErrControllerClosed
	}
	if c.state == types.StateRunning {
		// started again while the reset was in progress
		return nil
	}
	c.cancelPendingLocked()
	gen := c.gen
	c.pending = c.clock.AfterFunc(c.cfg.ResetDelay, func() { c.delayedStart(gen) })
	c.logger.Infof("controller %s: reset, restarting in %v", c.session, c.cfg.ResetDelay)
	return nil
}

func (c *Controller) delayedStart(gen uint64) {
	c.mu.Lock()
	if c.gen != gen {
		c.mu.Unlock()
		return
	}
	c.pending = nil
	c.mu.Unlock()

	if err := c.Start(); err != nil {
		c.logger.Errorf("controller %s: delayed start failed: %v", c.session, err)
		c.reporter.Report(err)
	}
}

// SetUpdateInterval changes the cadence. A running loop is restarted so the old
// and new schedules never overlap.
func (c *Controller) SetUpdateInterval(d time.Duration) error {
	if d <= 0 {
		return fmt.Errorf("update interval must be positive, got %v", d)
	}

	c.mu.Lock()
	c.cfg.UpdateInterval = d
	running := c.state == types.StateRunning
	c.mu.Unlock()

	if !running {
		return nil
	}
	c.Stop()
	return c.Start()
}

// UpdateInterval returns the current cadence
func (c *Controller) UpdateInterval() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.UpdateInterval
}

// SetControlInput sets the reference used from the next tick on
func (c *Controller) SetControlInput(reference float64) {
	c.mu.Lock()
	c.input.Reference = reference
	c.mu.Unlock()
}

// ControlInput returns the current control input
func (c *Controller) ControlInput() types.ControlInput {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.input
}

// SetWindowConfig changes the time window layout from the next tick on
func (c *Controller) SetWindowConfig(cfg window.Config) error {
	if err := c.window.SetConfig(cfg); err != nil {
		return err
	}
	c.mu.Lock()
	c.cfg.Window = cfg
	c.mu.Unlock()
	return nil
}

// SetAxisMode changes the value-axis mode of every chart
func (c *Controller) SetAxisMode(mode axis.Mode) {
	c.mu.Lock()
	c.cfg.Axis = mode
	c.mu.Unlock()
	for _, ch := range c.charts {
		ch.scaler.SetMode(mode)
	}
}

// Configure forwards params to the engine. Rejected values come back as a
// *types.ConfigurationError and leave the loop untouched. An applied
// simulation_interval also sets the loop cadence.
func (c *Controller) Configure(ctx context.Context, params map[string]float64) (map[string]float64, error) {
	applied, err := c.engine.Configure(ctx, params)
	if err != nil {
		c.registry.Handle(ctx, err, "configure")
		return nil, err
	}

	if ms, ok := applied[simulationIntervalParam]; ok {
		if err := c.SetUpdateInterval(time.Duration(ms * float64(time.Millisecond))); err != nil {
			return applied, err
		}
	}
	return applied, nil
}

// Defaults returns the engine's default parameters
func (c *Controller) Defaults() map[string]float64 {
	return c.engine.Defaults()
}

// Window returns the applied time window
func (c *Controller) Window() types.Bounds {
	return c.window.Current()
}

// Series returns a copy of the buffered points of a channel
func (c *Controller) Series(channel string) []types.Point {
	c.stepMu.Lock()
	defer c.stepMu.Unlock()
	if s, ok := c.series[channel]; ok {
		return s.snapshot()
	}
	return nil
}

// Ticks returns the number of ticks started
func (c *Controller) Ticks() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ticks
}

func (c *Controller) cancelPendingLocked() {
	if c.pending != nil {
		c.pending.Stop()
		c.pending = nil
	}
}

// step runs one tick for generation gen. It returns without computing when
// the loop was stopped or restarted since the tick was scheduled.
func (c *Controller) step(gen uint64) {
	var (
		tick    *TickEvent
		failure error
		toIdle  bool
	)

	c.stepMu.Lock()
	func() {
		defer c.stepMu.Unlock()

		c.mu.Lock()
		if c.state != types.StateRunning || c.gen != gen {
			c.mu.Unlock()
			return
		}
		c.pending = nil
		c.ticks++
		seq := c.ticks
		input := c.input
		c.mu.Unlock()

		ctx, span := c.tracer.Start(c.baseCtx, "controller.tick", trace.WithAttributes(
			attribute.String("controller.session", c.session),
			attribute.Int64("controller.tick", int64(seq)),
		))
		defer span.End()

		start := c.clock.Now()
		sample, err := c.engine.Compute(ctx, input)
		if err != nil {
			failure = &types.SimulationError{Tick: seq, Err: err}
			span.RecordError(err)
			span.SetStatus(codes.Error, "compute failed")
			if c.metrics != nil {
				c.metrics.ObserveComputeError()
			}

			c.mu.Lock()
			if c.state == types.StateRunning && c.gen == gen {
				c.cancelPendingLocked()
				c.gen++
				c.state = types.StateIdle
				toIdle = true
			}
			c.mu.Unlock()
			return
		}

		bounds := c.render(ctx, sample)
		duration := c.clock.Since(start)
		if c.metrics != nil {
			c.metrics.ObserveTick(duration, sample.Converged)
		}
		tick = &TickEvent{Session: c.session, Seq: seq, Sample: sample, Window: bounds, Duration: duration}

		c.mu.Lock()
		if c.state == types.StateRunning && c.gen == gen {
			c.pending = c.clock.AfterFunc(c.cfg.UpdateInterval, func() { c.step(gen) })
		}
		c.mu.Unlock()
	}()

	if failure != nil {
		c.logger.Errorf("controller %s: %v", c.session, failure)
		if toIdle {
			c.stateChanged(types.StateRunning, types.StateIdle)
		}
		if err := c.registry.Handle(c.baseCtx, failure, "step"); err != nil {
			c.reporter.Report(err)
		}
		return
	}
	if tick != nil {
		for _, o := range c.snapshotObservers() {
			o.OnTick(*tick)
		}
	}
}

// render pushes the sample through the window and axis engines into each sink.
// Must be called with stepMu held.
func (c *Controller) render(ctx context.Context, sample types.Sample) types.Bounds {
	oldest := sample.Time - c.window.Config().DataSpan()
	for name, s := range c.series {
		if v, ok := sample.Channels[name]; ok {
			s.add(types.Point{X: sample.Time, Y: v}, oldest)
		}
	}

	bounds, changed := c.window.Update(sample.Time)

	for _, ch := range c.charts {
		if changed {
			c.renderCall(ctx, ch.ID, "apply x bounds", func() error {
				return ch.Sink.ApplyBounds(types.AxisX, bounds.Min, bounds.Max)
			})
		}

		var values []float64
		for _, name := range ch.Channels {
			values = append(values, c.series[name].values()...)
		}
		if yb, ok := ch.scaler.Update(values); ok {
			c.renderCall(ctx, ch.ID, "apply y bounds", func() error {
				return ch.Sink.ApplyBounds(types.AxisY, yb.Min, yb.Max)
			})
		}

		for _, name := range ch.Channels {
			points := c.series[name].snapshot()
			c.renderCall(ctx, ch.ID, "set series "+name, func() error {
				return ch.Sink.SetSeries(name, points)
			})
		}
	}
	return bounds
}

// renderCall runs a sink call; failures are wrapped, counted and handed to the registry
func (c *Controller) renderCall(ctx context.Context, chartID, op string, fn func() error) {
	err := fn()
	if err == nil {
		return
	}
	renderErr := &types.RenderError{ChartID: chartID, Op: op, Err: err}
	if c.metrics != nil {
		c.metrics.ObserveRenderError(chartID)
	}
	if herr := c.registry.Handle(ctx, renderErr, "render"); herr != nil {
		c.reporter.Report(herr)
	}
}

func (c *Controller) stateChanged(from, to types.LoopState) {
	if c.metrics != nil {
		c.metrics.SetLoopState(to)
	}
	for _, o := range c.snapshotObservers() {
		o.OnStateChange(from, to)
	}
}

func (c *Controller) snapshotObservers() []Observer {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Observer(nil), c.observers...)
}

// Option configures a Controller
type Option func(*Controller)

// WithClock sets the clock driving the tick schedule
func WithClock(clock types.Clock) Option {
	return func(c *Controller) {
		c.clock = clock
	}
}

// WithGate makes Start a no-op until gate reports completion
func WithGate(gate Gate) Option {
	return func(c *Controller) {
		c.gate = gate
	}
}

// WithLogger sets the logger
func WithLogger(logger types.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics collector
func WithMetrics(m MetricsCollector) Option {
	return func(c *Controller) {
		c.metrics = m
	}
}

// WithDispatch sets how Start hands the first tick to the event loop; the default runs it on a new goroutine
func WithDispatch(dispatch func(func())) Option {
	return func(c *Controller) {
		if dispatch != nil {
			c.dispatch = dispatch
		}
	}
}

// WithContext sets the context passed to engine calls made by ticks
func WithContext(ctx context.Context) Option {
	return func(c *Controller) {
		if ctx != nil {
			c.baseCtx = ctx
		}
	}
}

// WithErrorRegistry replaces the error registry deciding which errors are absorbed
func WithErrorRegistry(r *errs.Registry) Option {
	return func(c *Controller) {
		c.registry = r
	}
}

package controller

import (
	"time"

	"github.com/jzx17/voltloop/pkg/types"
)

// TickEvent describes one completed tick
type TickEvent struct {
	Session  string
	Seq      uint64
	Sample   types.Sample
	Window   types.Bounds
	Duration time.Duration
}

// Observer receives loop events. Calls are made outside the controller's locks,
// so observers may call back into the controller.
type Observer interface {
	OnStateChange(from, to types.LoopState)
	OnTick(ev TickEvent)
	// OnError receives every terminal error exactly once
	OnError(err error)
}

// ObserverFuncs adapts optional functions to Observer
type ObserverFuncs struct {
	StateChange func(from, to types.LoopState)
	Tick        func(ev TickEvent)
	Error       func(err error)
}

// OnStateChange implements Observer
func (o ObserverFuncs) OnStateChange(from, to types.LoopState) {
	if o.StateChange != nil {
		o.StateChange(from, to)
	}
}

// OnTick implements Observer
func (o ObserverFuncs) OnTick(ev TickEvent) {
	if o.Tick != nil {
		o.Tick(ev)
	}
}

// OnError implements Observer
func (o ObserverFuncs) OnError(err error) {
	if o.Error != nil {
		o.Error(err)
	}
}

// MetricsCollector records loop measurements
type MetricsCollector interface {
	ObserveTick(duration time.Duration, converged bool)
	ObserveComputeError()
	ObserveRenderError(chartID string)
	SetLoopState(state types.LoopState)
}

// Gate reports whether the engine is ready to be driven
type Gate interface {
	Completed() bool
}

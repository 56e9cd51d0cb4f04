// Package types defines core interfaces and types shared by the loop components
package types

import (
	"context"
	"math"
)

// Engine is the external numeric engine driven by the control loop
type Engine interface {
	// Compute advances the engine by one tick and returns the new sample
	Compute(ctx context.Context, input ControlInput) (Sample, error)

	// Configure applies validated parameters and echoes the applied values.
	// Unknown keys are ignored; invalid values are rejected with a ConfigurationError.
	Configure(ctx context.Context, params map[string]float64) (map[string]float64, error)

	// Defaults returns the engine's current parameter values, used to seed controls
	Defaults() map[string]float64

	// Reset returns the engine to its baseline state
	Reset(ctx context.Context) error
}

// RenderSink receives bounds and series for a single chart
type RenderSink interface {
	// ApplyBounds sets the visible range of an axis
	ApplyBounds(axis Axis, min, max float64) error

	// SetSeries replaces the points of a series
	SetSeries(seriesID string, points []Point) error

	// Clear removes all series data
	Clear() error
}

// ControlInput is the per-tick input handed to the engine
type ControlInput struct {
	// Reference is the setpoint the engine tracks
	Reference float64
}

// Sample is one labeled bundle of channel values produced by a tick
type Sample struct {
	// Time is the sample timestamp in seconds, non-decreasing across ticks
	Time float64

	// Channels maps channel names to values
	Channels map[string]float64

	// Converged reports whether the engine's solver converged for this tick
	Converged bool
}

// Point is a single x/y pair of a series
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Axis identifies a chart axis
type Axis string

const (
	// AxisX is the time axis
	AxisX Axis = "x"
	// AxisY is the value axis
	AxisY Axis = "y"
)

// Bounds is a closed [Min, Max] range on an axis
type Bounds struct {
	Min float64 `json:"min" yaml:"min"`
	Max float64 `json:"max" yaml:"max"`
}

// Span returns Max - Min
func (b Bounds) Span() float64 {
	return b.Max - b.Min
}

// Valid reports whether both ends are finite and Min <= Max
func (b Bounds) Valid() bool {
	return !math.IsNaN(b.Min) && !math.IsNaN(b.Max) &&
		!math.IsInf(b.Min, 0) && !math.IsInf(b.Max, 0) && b.Min <= b.Max
}

// LoopState defines the state of the control loop
type LoopState int32

const (
	// StateIdle loop is not running and may be started
	StateIdle LoopState = iota
	// StateRunning loop is ticking
	StateRunning
	// StateStopped loop has been closed and cannot be started again
	StateStopped
)

// String returns the string representation of LoopState
func (s LoopState) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateRunning:
		return "Running"
	case StateStopped:
		return "Stopped"
	default:
		return "Unknown"
	}
}

// Logger interface for logging
type Logger interface {
	Debugf(format string, args ...interface{})
	Infof(format string, args ...interface{})
	Warnf(format string, args ...interface{})
	Errorf(format string, args ...interface{})
}

// NopLogger discards all log output
type NopLogger struct{}

func (NopLogger) Debugf(string, ...interface{}) {}
func (NopLogger) Infof(string, ...interface{})  {}
func (NopLogger) Warnf(string, ...interface{})  {}
func (NopLogger) Errorf(string, ...interface{}) {}

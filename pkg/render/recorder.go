// Package render provides render sinks for charts
package render

import (
	"sync"

	"github.com/jzx17/voltloop/pkg/types"
)

// Call is one recorded sink invocation
type Call struct {
	Op       string // "bounds", "series" or "clear"
	Axis     types.Axis
	Bounds   types.Bounds
	SeriesID string
	Points   []types.Point
}

// Recorder is an in-memory sink keeping the latest state and the call log
type Recorder struct {
	mu      sync.Mutex
	calls   []Call
	bounds  map[types.Axis]types.Bounds
	series  map[string][]types.Point
	clears  int
	failing map[string]error
}

// NewRecorder creates an empty recorder
func NewRecorder() *Recorder {
	return &Recorder{
		bounds:  make(map[types.Axis]types.Bounds),
		series:  make(map[string][]types.Point),
		failing: make(map[string]error),
	}
}

// Fail makes every call of op ("bounds", "series" or "clear") return err; a nil err heals it
func (r *Recorder) Fail(op string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err == nil {
		delete(r.failing, op)
		return
	}
	r.failing[op] = err
}

// ApplyBounds implements types.RenderSink
func (r *Recorder) ApplyBounds(axis types.Axis, min, max float64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing["bounds"]; err != nil {
		return err
	}
	b := types.Bounds{Min: min, Max: max}
	r.bounds[axis] = b
	r.calls = append(r.calls, Call{Op: "bounds", Axis: axis, Bounds: b})
	return nil
}

// SetSeries implements types.RenderSink
func (r *Recorder) SetSeries(seriesID string, points []types.Point) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing["series"]; err != nil {
		return err
	}
	cp := append([]types.Point(nil), points...)
	r.series[seriesID] = cp
	r.calls = append(r.calls, Call{Op: "series", SeriesID: seriesID, Points: cp})
	return nil
}

// Clear implements types.RenderSink
func (r *Recorder) Clear() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.failing["clear"]; err != nil {
		return err
	}
	r.clears++
	r.bounds = make(map[types.Axis]types.Bounds)
	r.series = make(map[string][]types.Point)
	r.calls = append(r.calls, Call{Op: "clear"})
	return nil
}

// Bounds returns the last bounds applied to axis
func (r *Recorder) Bounds(axis types.Axis) (types.Bounds, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.bounds[axis]
	return b, ok
}

// Series returns the last points set for seriesID
func (r *Recorder) Series(seriesID string) []types.Point {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]types.Point(nil), r.series[seriesID]...)
}

// Clears returns how many times Clear succeeded
func (r *Recorder) Clears() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.clears
}

// Calls returns the call log
func (r *Recorder) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

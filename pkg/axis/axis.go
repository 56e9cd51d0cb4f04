// Package axis computes value-axis bounds with optional hysteresis
package axis

import (
	"math"
	"sync"

	"github.com/jzx17/voltloop/pkg/types"
)

const (
	// MinRange floors the data range so that flat data still gets a visible axis
	MinRange = 0.001
	// MinHalfRange floors the half range of contracted bounds
	MinHalfRange = 0.0005
	// ContractionRatio is how narrow the candidate must be, relative to the
	// stored range, before the stored bounds shrink
	ContractionRatio = 0.8
)

// Mode selects which directions the stored bounds may move in
type Mode struct {
	Expansion   bool `yaml:"expansion"`
	Contraction bool `yaml:"contraction"`
}

// FullAutoMode recomputes the bounds from scratch every tick
var FullAutoMode = Mode{Expansion: true, Contraction: true}

// FullAuto reports whether both directions are enabled
func (m Mode) FullAuto() bool {
	return m.Expansion && m.Contraction
}

// String returns a short description of the mode
func (m Mode) String() string {
	switch {
	case m.FullAuto():
		return "full-auto"
	case m.Expansion:
		return "expand-only"
	case m.Contraction:
		return "contract-only"
	default:
		return "locked"
	}
}

// Candidate returns the padded bounds for the data range. Ranges narrower than
// MinRange are centered on the data midpoint.
func Candidate(dataMin, dataMax, padding float64) types.Bounds {
	span := dataMax - dataMin
	rng := math.Max(span, MinRange)
	pad := rng * padding

	if span < MinRange {
		center := (dataMax + dataMin) / 2
		half := rng/2 + pad
		return types.Bounds{Min: center - half, Max: center + half}
	}
	return types.Bounds{Min: dataMin - pad, Max: dataMax + pad}
}

// ComputeBounds returns the bounds to apply and the stored bounds to keep for
// the next tick. In full-auto mode nothing is stored. Otherwise the applied
// bounds are always the stored ones; a nil stored value is seeded from the candidate.
func ComputeBounds(dataMin, dataMax float64, stored *types.Bounds, mode Mode, padding float64) (types.Bounds, *types.Bounds) {
	candidate := Candidate(dataMin, dataMax, padding)
	if mode.FullAuto() {
		return candidate, nil
	}
	if stored == nil {
		next := candidate
		return next, &next
	}

	next := *stored
	if mode.Expansion {
		next.Min = math.Min(next.Min, candidate.Min)
		next.Max = math.Max(next.Max, candidate.Max)
	}
	if mode.Contraction && candidate.Span() < ContractionRatio*next.Span() {
		center := (candidate.Min + candidate.Max) / 2
		half := math.Max(candidate.Span()/2, MinHalfRange)
		next = types.Bounds{Min: center - half, Max: center + half}
	}
	return next, &next
}

// Scaler owns the stored bounds of one chart's value axis
type Scaler struct {
	mu      sync.Mutex
	mode    Mode
	padding float64
	stored  *types.Bounds
}

// NewScaler creates a scaler. padding is the fraction of the data range added on each side.
func NewScaler(mode Mode, padding float64) *Scaler {
	return &Scaler{mode: mode, padding: padding}
}

// Update computes the bounds for the visible values. NaN and infinite values
// are skipped; ok is false when no finite value remains.
func (s *Scaler) Update(values []float64) (bounds types.Bounds, ok bool) {
	lo, hi := math.Inf(1), math.Inf(-1)
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			continue
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	if lo > hi {
		return types.Bounds{}, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	bounds, s.stored = ComputeBounds(lo, hi, s.stored, s.mode, s.padding)
	return bounds, true
}

// SetMode changes the mode. Entering full-auto drops the stored bounds.
func (s *Scaler) SetMode(mode Mode) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	if mode.FullAuto() {
		s.stored = nil
	}
}

// Mode returns the current mode
func (s *Scaler) Mode() Mode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Padding returns the padding fraction
func (s *Scaler) Padding() float64 {
	return s.padding
}

// Stored returns the stored bounds, if any
func (s *Scaler) Stored() (types.Bounds, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stored == nil {
		return types.Bounds{}, false
	}
	return *s.stored, true
}

// Reset clears the stored bounds
func (s *Scaler) Reset() {
	s.mu.Lock()
	s.stored = nil
	s.mu.Unlock()
}

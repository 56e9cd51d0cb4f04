package types

import (
	"math"
	"testing"
)

func TestLoopState_String(t *testing.T) {
	tests := []struct {
		state    LoopState
		expected string
	}{
		{StateIdle, "Idle"},
		{StateRunning, "Running"},
		{StateStopped, "Stopped"},
		{LoopState(999), "Unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := tt.state.String()
			if result != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, result)
			}
		})
	}
}

func TestBounds(t *testing.T) {
	tests := []struct {
		name  string
		b     Bounds
		span  float64
		valid bool
	}{
		{"ordinary", Bounds{Min: -1, Max: 9}, 10, true},
		{"zero width", Bounds{Min: 2, Max: 2}, 0, true},
		{"inverted", Bounds{Min: 3, Max: 1}, -2, false},
		{"nan", Bounds{Min: math.NaN(), Max: 1}, math.NaN(), false},
		{"inf", Bounds{Min: 0, Max: math.Inf(1)}, math.Inf(1), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.b.Valid(); got != tt.valid {
				t.Errorf("expected Valid()=%v, got %v", tt.valid, got)
			}
			span := tt.b.Span()
			if math.IsNaN(tt.span) {
				if !math.IsNaN(span) {
					t.Errorf("expected NaN span, got %v", span)
				}
				return
			}
			if span != tt.span {
				t.Errorf("expected span %v, got %v", tt.span, span)
			}
		})
	}
}

func TestNopLogger(t *testing.T) {
	var logger Logger = NopLogger{}
	logger.Debugf("debug %d", 1)
	logger.Infof("info")
	logger.Warnf("warn")
	logger.Errorf("error %v", nil)
}

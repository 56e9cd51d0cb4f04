package render

import (
	"errors"

	"github.com/jzx17/voltloop/pkg/types"
	"github.com/rs/zerolog"
)

// LogSink writes every render call to a zerolog logger. Series are summarized
// by their length and last point.
type LogSink struct {
	logger zerolog.Logger
	chart  string
}

// NewLogSink creates a sink logging under the given chart id
func NewLogSink(logger zerolog.Logger, chart string) *LogSink {
	return &LogSink{logger: logger.With().Str("chart", chart).Logger(), chart: chart}
}

// ApplyBounds implements types.RenderSink
func (s *LogSink) ApplyBounds(axis types.Axis, min, max float64) error {
	s.logger.Debug().
		Str("axis", string(axis)).
		Float64("min", min).
		Float64("max", max).
		Msg("bounds")
	return nil
}

// SetSeries implements types.RenderSink
func (s *LogSink) SetSeries(seriesID string, points []types.Point) error {
	ev := s.logger.Debug().Str("series", seriesID).Int("points", len(points))
	if n := len(points); n > 0 {
		ev = ev.Float64("t", points[n-1].X).Float64("value", points[n-1].Y)
	}
	ev.Msg("series")
	return nil
}

// Clear implements types.RenderSink
func (s *LogSink) Clear() error {
	s.logger.Info().Msg("cleared")
	return nil
}

// Multi fans every call out to all sinks and joins their errors
type Multi []types.RenderSink

// ApplyBounds implements types.RenderSink
func (m Multi) ApplyBounds(axis types.Axis, min, max float64) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.ApplyBounds(axis, min, max))
	}
	return errors.Join(errs...)
}

// SetSeries implements types.RenderSink
func (m Multi) SetSeries(seriesID string, points []types.Point) error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.SetSeries(seriesID, points))
	}
	return errors.Join(errs...)
}

// Clear implements types.RenderSink
func (m Multi) Clear() error {
	var errs []error
	for _, s := range m {
		errs = append(errs, s.Clear())
	}
	return errors.Join(errs...)
}

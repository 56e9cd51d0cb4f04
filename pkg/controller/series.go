package controller

import "github.com/jzx17/voltloop/pkg/types"

// series is the rolling point buffer of one channel
type series struct {
	points []types.Point
	limit  int
}

func newSeries(limit int) *series {
	return &series{limit: limit}
}

// add appends p, then drops points older than oldest and any beyond the limit
func (s *series) add(p types.Point, oldest float64) {
	s.points = append(s.points, p)

	drop := 0
	for drop < len(s.points) && s.points[drop].X < oldest {
		drop++
	}
	if over := len(s.points) - drop - s.limit; over > 0 {
		drop += over
	}
	if drop > 0 {
		s.points = append(s.points[:0], s.points[drop:]...)
	}
}

func (s *series) snapshot() []types.Point {
	return append([]types.Point(nil), s.points...)
}

func (s *series) values() []float64 {
	out := make([]float64, len(s.points))
	for i, p := range s.points {
		out[i] = p.Y
	}
	return out
}

func (s *series) clear() {
	s.points = s.points[:0]
}

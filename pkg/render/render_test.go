package render

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/jzx17/voltloop/pkg/types"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorder(t *testing.T) {
	r := NewRecorder()

	require.NoError(t, r.ApplyBounds(types.AxisX, -0.5, 14.5))
	require.NoError(t, r.SetSeries("voltage_actual", []types.Point{{X: 0.05, Y: 1.01}}))

	b, ok := r.Bounds(types.AxisX)
	require.True(t, ok)
	assert.Equal(t, types.Bounds{Min: -0.5, Max: 14.5}, b)
	assert.Equal(t, []types.Point{{X: 0.05, Y: 1.01}}, r.Series("voltage_actual"))

	boom := errors.New("canvas detached")
	r.Fail("series", boom)
	assert.Same(t, boom, r.SetSeries("voltage_actual", nil))
	r.Fail("series", nil)
	assert.NoError(t, r.SetSeries("voltage_actual", nil))

	require.NoError(t, r.Clear())
	assert.Equal(t, 1, r.Clears())
	_, ok = r.Bounds(types.AxisX)
	assert.False(t, ok)
	assert.Empty(t, r.Series("voltage_actual"))

	ops := make([]string, 0)
	for _, c := range r.Calls() {
		ops = append(ops, c.Op)
	}
	assert.Equal(t, []string{"bounds", "series", "series", "clear"}, ops)
}

func TestLogSink(t *testing.T) {
	var buf bytes.Buffer
	sink := NewLogSink(zerolog.New(&buf).Level(zerolog.DebugLevel), "voltage")

	require.NoError(t, sink.ApplyBounds(types.AxisY, 0.98, 1.02))
	require.NoError(t, sink.SetSeries("voltage_actual", []types.Point{{X: 1, Y: 1.0}, {X: 1.05, Y: 1.01}}))
	require.NoError(t, sink.Clear())

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)

	var series map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &series))
	assert.Equal(t, "voltage", series["chart"])
	assert.Equal(t, "voltage_actual", series["series"])
	assert.Equal(t, float64(2), series["points"])
	assert.Equal(t, 1.01, series["value"])
}

func TestMulti(t *testing.T) {
	a, b := NewRecorder(), NewRecorder()
	boom := errors.New("closed")
	b.Fail("bounds", boom)

	m := Multi{a, b}
	err := m.ApplyBounds(types.AxisX, 0, 1)
	assert.ErrorIs(t, err, boom)
	_, ok := a.Bounds(types.AxisX)
	assert.True(t, ok, "healthy sinks still receive the call")

	assert.NoError(t, m.SetSeries("q", nil))
	assert.NoError(t, m.Clear())
	assert.Equal(t, 1, a.Clears())
	assert.Equal(t, 1, b.Clears())
}

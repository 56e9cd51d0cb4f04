package voltage

import (
	"context"
	"math"
	"testing"

	"github.com/jzx17/voltloop/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietParams() Params {
	p := DefaultParams()
	p.NoiseLevel = 0
	return p
}

func run(t *testing.T, e *Engine, ref float64, ticks int) []types.Sample {
	t.Helper()
	out := make([]types.Sample, 0, ticks)
	for i := 0; i < ticks; i++ {
		s, err := e.Compute(context.Background(), types.ControlInput{Reference: ref})
		require.NoError(t, err)
		out = append(out, s)
	}
	return out
}

func TestEngine_SteadyState(t *testing.T) {
	e, err := New(WithParams(quietParams()))
	require.NoError(t, err)

	samples := run(t, e, 1.0, 20)
	for i, s := range samples {
		assert.InDelta(t, float64(i+1)*0.05, s.Time, 1e-9)
		assert.True(t, s.Converged)
		assert.InDelta(t, 1.0, s.Channels[ChannelVoltageActual], 1e-7)
		assert.InDelta(t, 0.0, s.Channels[ChannelReactiveActual], 1e-6)
		assert.Equal(t, 1.0, s.Channels[ChannelVoltageReference])
	}
	assert.Len(t, samples[0].Channels, 4)

	h := e.Health()
	assert.Equal(t, "healthy", h.Status)
	assert.Equal(t, uint64(20), h.Iterations)
	assert.InDelta(t, 1.0, h.Time, 1e-9)
}

func TestEngine_TracksReferenceStep(t *testing.T) {
	e, err := New(WithParams(quietParams()))
	require.NoError(t, err)

	samples := run(t, e, 1.02, 200)
	last := samples[len(samples)-1]
	assert.InDelta(t, 1.02, last.Channels[ChannelVoltageActual], 0.002)
	assert.Greater(t, last.Channels[ChannelReactiveActual], 0.0, "raising voltage needs reactive injection")
	assert.InDelta(t, 10.0, last.Time, 1e-9)
}

func TestEngine_SeededNoiseIsDeterministic(t *testing.T) {
	a, err := New(WithSeed(42))
	require.NoError(t, err)
	b, err := New(WithSeed(42))
	require.NoError(t, err)

	sa, sb := run(t, a, 1.0, 30), run(t, b, 1.0, 30)
	for i := range sa {
		assert.Equal(t, sa[i].Channels, sb[i].Channels)
	}

	spread := 0.0
	for _, s := range sa {
		spread = math.Max(spread, math.Abs(s.Channels[ChannelVoltageActual]-1))
	}
	assert.Greater(t, spread, 0.0)
	assert.Less(t, spread, 0.05)
}

func TestEngine_Configure(t *testing.T) {
	e, err := New(WithParams(quietParams()))
	require.NoError(t, err)
	ctx := context.Background()

	applied, err := e.Configure(ctx, map[string]float64{
		ParamNoiseLevel:     0.01,
		"chart_head_buffer": 2,
	})
	require.NoError(t, err)
	assert.Equal(t, map[string]float64{ParamNoiseLevel: 0.01}, applied)
	assert.Equal(t, 0.01, e.Params().NoiseLevel)

	// one bad value rejects the whole batch
	_, err = e.Configure(ctx, map[string]float64{ParamNoiseLevel: 0.02, ParamVoltageKp: -1})
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, ParamVoltageKp, cfgErr.Key)
	assert.Equal(t, 0.01, e.Params().NoiseLevel)

	_, err = e.Configure(ctx, map[string]float64{ParamSystemReactance: 0})
	assert.True(t, types.IsConfigurationError(err))
	_, err = e.Configure(ctx, map[string]float64{ParamPlantTimeConstant: math.NaN()})
	assert.True(t, types.IsConfigurationError(err))

	before := e.Snapshot()["system_voltage"]
	_, err = e.Configure(ctx, map[string]float64{ParamSystemReactance: 0.1})
	require.NoError(t, err)
	after := e.Snapshot()["system_voltage"]
	assert.InDelta(t, math.Hypot(1, 0.04), before, 1e-12)
	assert.InDelta(t, math.Hypot(1, 0.08), after, 1e-12)

	_, err = e.Configure(ctx, map[string]float64{ParamSimulationInterval: 100})
	require.NoError(t, err)
	assert.Equal(t, 100.0, e.Snapshot()["max_data_points"])
	s := run(t, e, 1.0, 1)
	assert.InDelta(t, 0.1, s[0].Time, 1e-9)

	assert.Equal(t, DefaultParams().Map(), e.Defaults())
}

func TestEngine_Reset(t *testing.T) {
	e, err := New(WithParams(quietParams()))
	require.NoError(t, err)

	run(t, e, 1.05, 40)
	require.NoError(t, e.Reset(context.Background()))

	s := run(t, e, 1.0, 1)[0]
	assert.InDelta(t, 0.05, s.Time, 1e-9)
	assert.InDelta(t, 1.0, s.Channels[ChannelVoltageActual], 1e-7)
	assert.InDelta(t, 0.0, s.Channels[ChannelReactiveReference], 1e-9)
	assert.Equal(t, 0.05, e.Params().SimulationInterval/1000)
}

func TestEngine_ComputeErrors(t *testing.T) {
	e, err := New()
	require.NoError(t, err)

	_, err = e.Compute(context.Background(), types.ControlInput{Reference: math.NaN()})
	assert.Error(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = e.Compute(ctx, types.ControlInput{Reference: 1})
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, e.Reset(ctx), context.Canceled)
}

func TestEngine_ConfigureOutOfRangeKeepsParams(t *testing.T) {
	e, err := New(WithParams(quietParams()))
	require.NoError(t, err)
	before := e.Params()

	tests := []struct {
		name   string
		params map[string]float64
		key    string
		reason string
	}{
		{"noise above range", map[string]float64{ParamVoltageKi: 20, ParamNoiseLevel: 0.5}, ParamNoiseLevel, "lte 0.1"},
		{"zero reactance", map[string]float64{ParamActivePower: 1, ParamSystemReactance: 0}, ParamSystemReactance, "gt 0"},
		{"power below range", map[string]float64{ParamVoltageKp: 5, ParamActivePower: -3}, ParamActivePower, "gte -2"},
		{"infinite interval", map[string]float64{ParamNoiseLevel: 0.01, ParamSimulationInterval: math.Inf(1)}, ParamSimulationInterval, "must be finite"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := e.Configure(context.Background(), tt.params)
			var cfgErr *types.ConfigurationError
			require.ErrorAs(t, err, &cfgErr)
			assert.Equal(t, tt.key, cfgErr.Key)
			assert.Equal(t, tt.reason, cfgErr.Reason)
			assert.Equal(t, before, e.Params())
		})
	}
}

func TestParams_ValidateReportsParameterKey(t *testing.T) {
	p := DefaultParams()
	p.VoltageKi = 1001
	var cfgErr *types.ConfigurationError
	require.ErrorAs(t, p.Validate(), &cfgErr)
	assert.Equal(t, ParamVoltageKi, cfgErr.Key)
	assert.Equal(t, 1001.0, cfgErr.Value)
	assert.Equal(t, "lte 1000", cfgErr.Reason)
}

func TestNew_InvalidParams(t *testing.T) {
	p := DefaultParams()
	p.PlantTimeConstant = 0
	_, err := New(WithParams(p))
	assert.True(t, types.IsConfigurationError(err))
	assert.NoError(t, DefaultParams().Validate())
}

func TestSelfTest(t *testing.T) {
	assert.NoError(t, SelfTest())
}

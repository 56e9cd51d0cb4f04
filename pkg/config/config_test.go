package config

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/jzx17/voltloop/pkg/axis"
	"github.com/jzx17/voltloop/pkg/engine/voltage"
	"github.com/jzx17/voltloop/pkg/render"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/jzx17/voltloop/pkg/window"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault_Valid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 50*time.Millisecond, cfg.UpdateInterval())

	ctl := cfg.ControllerConfig()
	assert.Equal(t, 50*time.Millisecond, ctl.UpdateInterval)
	assert.Equal(t, time.Second, ctl.ResetDelay)
	assert.Equal(t, 300, ctl.MaxPoints)
	assert.Equal(t, window.DefaultConfig(), ctl.Window)
	assert.True(t, ctl.Axis.FullAuto())
}

func TestParse_OverridesDefaults(t *testing.T) {
	cfg, err := Parse([]byte(`
loop:
  reset_delay: 2s
window:
  total_span: 30
axis:
  expansion: true
  contraction: false
engine:
  simulation_interval: 100
  voltage_kp: 20
bootstrap:
  policies:
    runtime:
      name: fast
      max_attempts: 2
      initial_delay: 100ms
      max_delay: 1s
      backoff_factor: 2
  failures:
    runtime.load: 1
`))
	require.NoError(t, err)

	assert.Equal(t, 2*time.Second, cfg.Loop.ResetDelay)
	assert.Equal(t, 300, cfg.Loop.MaxPoints)
	assert.Equal(t, 30.0, cfg.Window.TotalSpan)
	assert.Equal(t, 1.0, cfg.Window.HeadBuffer)
	assert.Equal(t, "expand-only", cfg.Axis.String())
	assert.Equal(t, 100*time.Millisecond, cfg.UpdateInterval())
	assert.Equal(t, 20.0, cfg.Engine.VoltageKp)
	assert.Equal(t, voltage.DefaultParams().VoltageKi, cfg.Engine.VoltageKi)
	assert.Equal(t, 1, cfg.Bootstrap.Failures["runtime.load"])

	p, ok := cfg.StagePolicy("runtime")
	require.True(t, ok)
	assert.Equal(t, 2, p.MaxAttempts)
	assert.Equal(t, 100*time.Millisecond, p.InitialDelay)

	_, ok = cfg.StagePolicy("bind-functions")
	assert.False(t, ok)
}

func TestParse_Empty(t *testing.T) {
	cfg, err := Parse(nil)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"unknown field", "loop:\n  speed: 3\n"},
		{"malformed", "loop: [\n"},
		{"negative padding", "charts:\n  - id: v\n    channels: [voltage_actual]\n    padding: -0.1\n"},
		{"chart without channels", "charts:\n  - id: v\n"},
		{"no charts", "charts: []\n"},
		{"duplicate chart", "charts:\n  - id: v\n    channels: [a]\n  - id: v\n    channels: [b]\n"},
		{"window without data span", "window:\n  total_span: 1\n  head_buffer: 0.5\n  tail_buffer: 0.5\n"},
		{"engine range", "engine:\n  noise_level: 0.5\n"},
		{"zero max points", "loop:\n  max_points: 0\n"},
		{"bad log format", "logging:\n  format: xml\n"},
		{"sampling rate", "tracing:\n  sampling_rate: 2\n"},
		{"max delay below floor", "bootstrap:\n  policies:\n    runtime:\n      max_attempts: 2\n      initial_delay: 10ms\n      max_delay: 40ms\n      backoff_factor: 2\n"},
		{"negative failures", "bootstrap:\n  failures:\n    runtime.load: -1\n"},
		{"bad policy", "bootstrap:\n  policies:\n    runtime:\n      max_attempts: 1\n      initial_delay: 1s\n      max_delay: 1s\n      backoff_factor: 1\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			assert.Error(t, err)
		})
	}
}

func TestValidate_WrapsErrInvalidConfig(t *testing.T) {
	cfg := Default()
	cfg.Loop.MaxPoints = -1
	assert.True(t, errors.Is(cfg.Validate(), ErrInvalidConfig))
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voltloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window:\n  total_span: 20\n"), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 20.0, cfg.Window.TotalSpan)

	_, err = Load(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}

func TestMarshal_LoadsBack(t *testing.T) {
	data, err := Marshal(Default())
	require.NoError(t, err)
	assert.Contains(t, string(data), "reset_delay: 1s")

	cfg, err := Parse(data)
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestControllerCharts(t *testing.T) {
	sinks := map[string]*render.Recorder{}
	charts := Default().ControllerCharts(func(id string) types.RenderSink {
		sinks[id] = render.NewRecorder()
		return sinks[id]
	})

	require.Len(t, charts, 2)
	assert.Equal(t, "voltage", charts[0].ID)
	assert.Equal(t, []string{voltage.ChannelVoltageReference, voltage.ChannelVoltageActual}, charts[0].Channels)
	assert.Same(t, sinks["reactive"], charts[1].Sink)
}

type fakeTarget struct {
	window    []window.Config
	modes     []axis.Mode
	configure []map[string]float64
	err       error
}

func (f *fakeTarget) SetWindowConfig(cfg window.Config) error {
	f.window = append(f.window, cfg)
	return f.err
}

func (f *fakeTarget) SetAxisMode(mode axis.Mode) {
	f.modes = append(f.modes, mode)
}

func (f *fakeTarget) Configure(ctx context.Context, params map[string]float64) (map[string]float64, error) {
	f.configure = append(f.configure, params)
	return params, nil
}

func TestApply(t *testing.T) {
	ctx := context.Background()
	prev := Default()

	target := &fakeTarget{}
	applied, err := Apply(ctx, target, prev, prev)
	require.NoError(t, err)
	assert.Empty(t, applied)

	next := Default()
	next.Window.TotalSpan = 20
	next.Axis = axis.Mode{}
	next.Engine.ActivePower = 1.2
	applied, err = Apply(ctx, target, prev, next)
	require.NoError(t, err)
	assert.Equal(t, []string{"window", "axis", "engine"}, applied)
	assert.Equal(t, 20.0, target.window[0].TotalSpan)
	assert.Equal(t, "locked", target.modes[0].String())
	assert.Equal(t, 1.2, target.configure[0][voltage.ParamActivePower])

	failing := &fakeTarget{err: types.ErrInvalidWindow}
	_, err = Apply(ctx, failing, prev, next)
	assert.ErrorIs(t, err, types.ErrInvalidWindow)
	assert.Empty(t, failing.configure)
}

func TestRestartRequired(t *testing.T) {
	prev := Default()
	next := Default()
	assert.False(t, RestartRequired(prev, next))

	next.Window.TotalSpan = 20
	assert.False(t, RestartRequired(prev, next))

	next.Charts[0].Padding = 0.3
	assert.True(t, RestartRequired(prev, next))

	next = Default()
	next.Bootstrap.Policies = map[string]retry.Policy{"runtime": retry.NetworkRequest}
	assert.True(t, RestartRequired(prev, next))
}

func TestWatcher_Reloads(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voltloop.yaml")
	require.NoError(t, os.WriteFile(path, []byte("window:\n  total_span: 20\n"), 0o644))

	initial, err := Load(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var mu sync.Mutex
	var spans []float64
	w := NewWatcher(path, initial, WithDebounce(10*time.Millisecond))
	require.NoError(t, w.Watch(ctx, func(prev, next Config) error {
		mu.Lock()
		defer mu.Unlock()
		spans = append(spans, prev.Window.TotalSpan, next.Window.TotalSpan)
		return nil
	}))

	// invalid content is skipped and the previous config stays current
	require.NoError(t, os.WriteFile(path, []byte("window:\n  total_span: -1\n"), 0o644))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, 20.0, w.Current().Window.TotalSpan)

	require.NoError(t, os.WriteFile(path, []byte("window:\n  total_span: 25\n"), 0o644))
	require.Eventually(t, func() bool {
		return w.Current().Window.TotalSpan == 25
	}, 2*time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{20, 25}, spans[len(spans)-2:])
}

func TestWatcher_RejectedChangeKeepsCurrent(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "voltloop.yaml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := make(chan struct{}, 8)
	w := NewWatcher(path, Default(), WithDebounce(10*time.Millisecond))
	require.NoError(t, w.Watch(ctx, func(prev, next Config) error {
		calls <- struct{}{}
		return errors.New("controller closed")
	}))

	require.NoError(t, os.WriteFile(path, []byte("window:\n  total_span: 25\n"), 0o644))
	select {
	case <-calls:
	case <-time.After(2 * time.Second):
		t.Fatal("onChange was not called")
	}
	assert.Equal(t, 15.0, w.Current().Window.TotalSpan)
}

func TestWatcher_MissingDirectory(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "nope", "voltloop.yaml"), Default())
	assert.Error(t, w.Watch(context.Background(), func(prev, next Config) error { return nil }))
}

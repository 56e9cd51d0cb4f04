// Package config loads and validates the YAML configuration of a voltloop run
package config

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jzx17/voltloop/pkg/axis"
	"github.com/jzx17/voltloop/pkg/controller"
	"github.com/jzx17/voltloop/pkg/engine/voltage"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/telemetry"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/jzx17/voltloop/pkg/window"
	"gopkg.in/yaml.v3"
)

// Config is the top-level configuration file
type Config struct {
	Loop      LoopConfig              `yaml:"loop"`
	Window    window.Config           `yaml:"window"`
	Axis      axis.Mode               `yaml:"axis"`
	Charts    []ChartConfig           `yaml:"charts" validate:"min=1,dive"`
	Engine    voltage.Params          `yaml:"engine"`
	Bootstrap BootstrapConfig         `yaml:"bootstrap"`
	Logging   telemetry.LoggingConfig `yaml:"logging"`
	Metrics   telemetry.MetricsConfig `yaml:"metrics"`
	Tracing   telemetry.TracingConfig `yaml:"tracing"`
}

// LoopConfig configures the scheduler. The tick interval comes from
// engine.simulation_interval.
type LoopConfig struct {
	ResetDelay       time.Duration `yaml:"reset_delay" validate:"gte=0"`
	InitialReference float64       `yaml:"initial_reference" validate:"gt=0"`
	MaxPoints        int           `yaml:"max_points" validate:"gt=0"`
}

// ChartConfig describes one chart and the channels drawn on it
type ChartConfig struct {
	ID       string   `yaml:"id" validate:"required"`
	Channels []string `yaml:"channels" validate:"min=1,dive,required"`
	Padding  float64  `yaml:"padding" validate:"gte=0,lte=1"`
}

// BootstrapConfig configures engine loading
type BootstrapConfig struct {
	// Policies overrides the retry policy of a stage, keyed by stage id
	Policies map[string]retry.Policy `yaml:"policies,omitempty" validate:"dive"`

	// Failures injects transient failures per bridge function, for drills
	Failures map[string]int `yaml:"failures,omitempty" validate:"dive,gte=0"`
}

// Default returns the built-in configuration
func Default() Config {
	ctl := controller.DefaultConfig()
	return Config{
		Loop: LoopConfig{
			ResetDelay:       ctl.ResetDelay,
			InitialReference: ctl.InitialReference,
			MaxPoints:        ctl.MaxPoints,
		},
		Window: ctl.Window,
		Axis:   ctl.Axis,
		Charts: []ChartConfig{
			{ID: "voltage", Channels: []string{voltage.ChannelVoltageReference, voltage.ChannelVoltageActual}, Padding: 0.1},
			{ID: "reactive", Channels: []string{voltage.ChannelReactiveReference, voltage.ChannelReactiveActual}, Padding: 0.1},
		},
		Engine:  voltage.DefaultParams(),
		Logging: telemetry.DefaultLoggingConfig(),
		Metrics: telemetry.DefaultMetricsConfig(),
		Tracing: telemetry.DefaultTracingConfig(),
	}
}

// Parse decodes YAML over the defaults and validates the result. Unknown
// fields are rejected.
func Parse(data []byte) (Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Load reads and parses the file at path
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config: %w", err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Marshal encodes cfg as YAML
func Marshal(cfg Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidConfig is wrapped by every validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// Validate checks field constraints, then the cross-field rules of each component
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.Engine.Validate(); err != nil {
		return fmt.Errorf("%w: engine: %w", ErrInvalidConfig, err)
	}
	for stage, p := range c.Bootstrap.Policies {
		if err := p.Validate(); err != nil {
			return fmt.Errorf("%w: bootstrap policy %q: %w", ErrInvalidConfig, stage, err)
		}
	}

	seen := make(map[string]bool, len(c.Charts))
	for _, ch := range c.Charts {
		if seen[ch.ID] {
			return fmt.Errorf("%w: duplicate chart id %q", ErrInvalidConfig, ch.ID)
		}
		seen[ch.ID] = true
	}
	if err := c.ControllerConfig().Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return nil
}

// UpdateInterval is the tick interval derived from the engine parameters
func (c Config) UpdateInterval() time.Duration {
	return time.Duration(c.Engine.SimulationInterval * float64(time.Millisecond))
}

// ControllerConfig builds the scheduler configuration
func (c Config) ControllerConfig() controller.Config {
	return controller.Config{
		UpdateInterval:   c.UpdateInterval(),
		ResetDelay:       c.Loop.ResetDelay,
		InitialReference: c.Loop.InitialReference,
		MaxPoints:        c.Loop.MaxPoints,
		Window:           c.Window,
		Axis:             c.Axis,
	}
}

// ControllerCharts binds each chart to the sink returned by sinkFor
func (c Config) ControllerCharts(sinkFor func(chartID string) types.RenderSink) []controller.Chart {
	charts := make([]controller.Chart, 0, len(c.Charts))
	for _, ch := range c.Charts {
		charts = append(charts, controller.Chart{
			ID:       ch.ID,
			Channels: append([]string(nil), ch.Channels...),
			Padding:  ch.Padding,
			Sink:     sinkFor(ch.ID),
		})
	}
	return charts
}

// StagePolicy returns the override for a bootstrap stage, if any
func (c Config) StagePolicy(stageID string) (retry.Policy, bool) {
	p, ok := c.Bootstrap.Policies[stageID]
	return p, ok
}

// Target is the part of the controller a configuration change is applied to
type Target interface {
	SetWindowConfig(cfg window.Config) error
	SetAxisMode(mode axis.Mode)
	Configure(ctx context.Context, params map[string]float64) (map[string]float64, error)
}

// Apply pushes the live-reloadable differences between prev and next to t.
// Charts, bootstrap and telemetry settings only take effect on restart.
// It reports which sections were applied.
func Apply(ctx context.Context, t Target, prev, next Config) ([]string, error) {
	var applied []string
	if next.Window != prev.Window {
		if err := t.SetWindowConfig(next.Window); err != nil {
			return applied, fmt.Errorf("failed to apply window: %w", err)
		}
		applied = append(applied, "window")
	}
	if next.Axis != prev.Axis {
		t.SetAxisMode(next.Axis)
		applied = append(applied, "axis")
	}
	if next.Engine != prev.Engine {
		if _, err := t.Configure(ctx, next.Engine.Map()); err != nil {
			return applied, fmt.Errorf("failed to apply engine parameters: %w", err)
		}
		applied = append(applied, "engine")
	}
	return applied, nil
}

// RestartRequired reports whether next differs from prev in sections Apply cannot change
func RestartRequired(prev, next Config) bool {
	return prev.Loop != next.Loop ||
		!reflect.DeepEqual(prev.Charts, next.Charts) ||
		!reflect.DeepEqual(prev.Bootstrap, next.Bootstrap) ||
		prev.Logging != next.Logging ||
		prev.Metrics != next.Metrics ||
		prev.Tracing != next.Tracing
}

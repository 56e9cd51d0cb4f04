// Package voltage is the reference engine: a PI voltage controller driving a
// first-order reactive power plant connected to a stiff grid through a
// reactance, solved each tick with a 2-bus Newton-Raphson power flow.
package voltage

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/cmplx"
	"math/rand"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jzx17/voltloop/pkg/types"
)

// Parameter keys accepted by Configure
const (
	ParamSimulationInterval = "simulation_interval" // ms
	ParamNoiseLevel         = "noise_level"         // pu
	ParamSystemReactance    = "system_reactance"    // pu
	ParamPlantTimeConstant  = "plant_time_constant" // s
	ParamVoltageKp          = "voltage_kp"
	ParamVoltageKi          = "voltage_ki"
	ParamActivePower        = "active_power" // pu
)

// Channel names of every sample
const (
	ChannelVoltageReference  = "voltage_reference"
	ChannelVoltageActual     = "voltage_actual"
	ChannelReactiveReference = "reactive_reference"
	ChannelReactiveActual    = "reactive_actual"
)

const (
	initialVoltage  = 1.0
	initialReactive = 0.0
)

// ErrDiverged is returned when a tick produces a non-finite state
var ErrDiverged = errors.New("simulation diverged")

// Params are the tunable model parameters
type Params struct {
	SimulationInterval float64 `yaml:"simulation_interval" validate:"gt=0,lte=1000"`
	NoiseLevel         float64 `yaml:"noise_level" validate:"gte=0,lte=0.1"`
	SystemReactance    float64 `yaml:"system_reactance" validate:"gt=0,lte=1"`
	PlantTimeConstant  float64 `yaml:"plant_time_constant" validate:"gt=0,lte=10"`
	VoltageKp          float64 `yaml:"voltage_kp" validate:"gte=0,lte=1000"`
	VoltageKi          float64 `yaml:"voltage_ki" validate:"gte=0,lte=1000"`
	ActivePower        float64 `yaml:"active_power" validate:"gte=-2,lte=2"`
}

// DefaultParams returns the default model parameters
func DefaultParams() Params {
	return Params{
		SimulationInterval: 50,
		NoiseLevel:         0.002,
		SystemReactance:    0.05,
		PlantTimeConstant:  0.25,
		VoltageKp:          10,
		VoltageKi:          50,
		ActivePower:        0.8,
	}
}

// Map returns the parameters keyed by parameter name
func (p Params) Map() map[string]float64 {
	return map[string]float64{
		ParamSimulationInterval: p.SimulationInterval,
		ParamNoiseLevel:         p.NoiseLevel,
		ParamSystemReactance:    p.SystemReactance,
		ParamPlantTimeConstant:  p.PlantTimeConstant,
		ParamVoltageKp:          p.VoltageKp,
		ParamVoltageKi:          p.VoltageKi,
		ParamActivePower:        p.ActivePower,
	}
}

var paramSetters = map[string]func(*Params, float64){
	ParamSimulationInterval: func(p *Params, v float64) { p.SimulationInterval = v },
	ParamNoiseLevel:         func(p *Params, v float64) { p.NoiseLevel = v },
	ParamSystemReactance:    func(p *Params, v float64) { p.SystemReactance = v },
	ParamPlantTimeConstant:  func(p *Params, v float64) { p.PlantTimeConstant = v },
	ParamVoltageKp:          func(p *Params, v float64) { p.VoltageKp = v },
	ParamVoltageKi:          func(p *Params, v float64) { p.VoltageKi = v },
	ParamActivePower:        func(p *Params, v float64) { p.ActivePower = v },
}

// validate reports field errors under their parameter keys
var validate = func() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}()

// Validate checks every parameter against its range
func (p Params) Validate() error {
	m := p.Map()
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// validator compares NaN as in range
	for _, k := range keys {
		if v := m[k]; math.IsNaN(v) || math.IsInf(v, 0) {
			return &types.ConfigurationError{Key: k, Value: v, Reason: "must be finite"}
		}
	}

	err := validate.Struct(p)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	fe := fieldErrs[0]
	v, _ := fe.Value().(float64)
	return &types.ConfigurationError{Key: fe.Field(), Value: v, Reason: strings.TrimSpace(fe.Tag() + " " + fe.Param())}
}

// Health summarizes the engine state
type Health struct {
	Status              string   `json:"status" yaml:"status"`
	Warnings            []string `json:"warnings,omitempty" yaml:"warnings,omitempty"`
	Time                float64  `json:"current_time" yaml:"current_time"`
	Iterations          uint64   `json:"iteration_count" yaml:"iteration_count"`
	NonConverged        uint64   `json:"non_converged" yaml:"non_converged"`
	ConsecutiveFailures int      `json:"consecutive_failures" yaml:"consecutive_failures"`
	SystemVoltage       float64  `json:"system_voltage" yaml:"system_voltage"`
}

// Engine is the voltage control model. It implements types.Engine.
type Engine struct {
	mu     sync.Mutex
	params Params
	rng    *rand.Rand

	ybus          [][]complex128
	systemVoltage float64

	time        float64
	iterations  uint64
	vLast       float64
	qLast       float64
	kiStore     float64
	tqStore     float64
	lastAngle   float64
	nonConv     uint64
	consecutive int
}

// Option configures an Engine
type Option func(*Engine)

// WithSeed makes the noise sequence deterministic
func WithSeed(seed int64) Option {
	return func(e *Engine) {
		e.rng = rand.New(rand.NewSource(seed))
	}
}

// WithParams sets the initial parameters
func WithParams(p Params) Option {
	return func(e *Engine) {
		e.params = p
	}
}

// New creates an engine in its baseline state
func New(opts ...Option) (*Engine, error) {
	e := &Engine{
		params: DefaultParams(),
		rng:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
	for _, opt := range opts {
		opt(e)
	}
	if err := e.params.Validate(); err != nil {
		return nil, err
	}
	e.rebuildNetwork()
	e.resetState()
	return e, nil
}

// rebuildNetwork recomputes the admittance matrix and the grid voltage that
// holds the plant bus at 1 pu with the configured active power and no reactive power
func (e *Engine) rebuildNetwork() {
	z := complex(0, e.params.SystemReactance)
	y := 1 / z
	e.ybus = [][]complex128{{y, -y}, {-y, y}}

	current := cmplx.Conj(complex(e.params.ActivePower, initialReactive)) / complex(initialVoltage, 0)
	e.systemVoltage = cmplx.Abs(complex(initialVoltage, 0) - current*z)
}

func (e *Engine) resetState() {
	e.time = 0
	e.iterations = 0
	e.vLast = initialVoltage
	e.qLast = initialReactive
	e.kiStore = initialReactive
	e.tqStore = 0
	e.lastAngle = 0
	e.consecutive = 0
}

// Compute advances the model by one interval
func (e *Engine) Compute(ctx context.Context, input types.ControlInput) (types.Sample, error) {
	if err := ctx.Err(); err != nil {
		return types.Sample{}, err
	}
	ref := input.Reference
	if math.IsNaN(ref) || math.IsInf(ref, 0) {
		return types.Sample{}, fmt.Errorf("reference must be finite, got %v", ref)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	p := e.params
	dt := p.SimulationInterval / 1000
	e.time = math.Round((e.time+dt)*100) / 100

	// PI controller with trapezoidal integration
	verr := ref - e.vLast
	dstate := verr * p.VoltageKi
	e.kiStore += dstate * dt
	qcmd := verr*p.VoltageKp + e.kiStore + dt*dstate/2

	// first-order plant
	qerr := qcmd - e.qLast
	dq := qerr / p.PlantTimeConstant
	e.tqStore += dq * dt
	qnew := e.tqStore + dt*dq/2

	vsys := e.systemVoltage + (e.rng.Float64()-0.5)*2*p.NoiseLevel

	v, converged := e.vLast, false
	sol, err := Solve(Problem{
		Y: e.ybus,
		Buses: []Bus{
			{VMag: vsys},
			{Gen: complex(p.ActivePower, qnew)},
		},
		Initial: []complex128{complex(vsys, 0), cmplx.Rect(e.vLast, e.lastAngle)},
	})
	if err == nil {
		v, converged = cmplx.Abs(sol.V[1]), sol.Converged
		if converged {
			e.lastAngle = cmplx.Phase(sol.V[1])
		}
	}

	if math.IsNaN(v) || math.IsInf(v, 0) || math.IsNaN(qnew) || math.IsInf(qnew, 0) {
		return types.Sample{}, fmt.Errorf("%w at t=%.2fs: voltage %v, reactive power %v", ErrDiverged, e.time, v, qnew)
	}

	if converged {
		e.consecutive = 0
	} else {
		e.nonConv++
		e.consecutive++
	}
	e.vLast = v
	e.qLast = qnew
	e.iterations++

	return types.Sample{
		Time: e.time,
		Channels: map[string]float64{
			ChannelVoltageReference:  ref,
			ChannelVoltageActual:     v,
			ChannelReactiveReference: qcmd,
			ChannelReactiveActual:    qnew,
		},
		Converged: converged,
	}, nil
}

// Configure validates every known parameter before applying any of them.
// Unknown keys are ignored. The applied parameters are echoed back.
func (e *Engine) Configure(ctx context.Context, params map[string]float64) (map[string]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	keys := make([]string, 0, len(params))
	for k := range params {
		if _, known := paramSetters[k]; known {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	e.mu.Lock()
	defer e.mu.Unlock()

	applied := make(map[string]float64, len(keys))
	next := e.params
	for _, k := range keys {
		paramSetters[k](&next, params[k])
		applied[k] = params[k]
	}
	if err := next.Validate(); err != nil {
		return nil, err
	}

	rebuild := next.SystemReactance != e.params.SystemReactance || next.ActivePower != e.params.ActivePower
	e.params = next
	if rebuild {
		e.rebuildNetwork()
	}
	return applied, nil
}

// Defaults returns the default parameters
func (e *Engine) Defaults() map[string]float64 {
	return DefaultParams().Map()
}

// Params returns the active parameters
func (e *Engine) Params() Params {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.params
}

// Snapshot returns the active parameters plus derived values
func (e *Engine) Snapshot() map[string]float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	m := e.params.Map()
	m["system_voltage"] = e.systemVoltage
	m["max_data_points"] = math.Floor(10 / (e.params.SimulationInterval / 1000))
	return m
}

// Reset returns the controller and plant to their initial state. Parameters are kept.
func (e *Engine) Reset(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.resetState()
	return nil
}

// Health reports diagnostics
func (e *Engine) Health() Health {
	e.mu.Lock()
	defer e.mu.Unlock()

	h := Health{
		Status:              "healthy",
		Time:                e.time,
		Iterations:          e.iterations,
		NonConverged:        e.nonConv,
		ConsecutiveFailures: e.consecutive,
		SystemVoltage:       e.systemVoltage,
	}
	if e.consecutive > 0 {
		h.Warnings = append(h.Warnings, fmt.Sprintf("power flow failed to converge on the last %d ticks", e.consecutive))
	}
	if e.vLast < 0.9 || e.vLast > 1.1 {
		h.Warnings = append(h.Warnings, fmt.Sprintf("voltage %.4f pu outside 0.9-1.1 pu", e.vLast))
	}
	if len(h.Warnings) > 0 {
		h.Status = "degraded"
	}
	return h
}

// SelfTest solves the base case and checks that the plant bus lands on 1 pu
func SelfTest() error {
	e, err := New(WithSeed(1))
	if err != nil {
		return err
	}
	sol, err := Solve(Problem{
		Y:     e.ybus,
		Buses: []Bus{{VMag: e.systemVoltage}, {Gen: complex(e.params.ActivePower, 0)}},
	})
	if err != nil {
		return fmt.Errorf("solver self-test: %w", err)
	}
	if !sol.Converged {
		return fmt.Errorf("solver self-test: no convergence after %d iterations", sol.Iterations)
	}
	if v := cmplx.Abs(sol.V[1]); math.Abs(v-initialVoltage) > 1e-6 {
		return fmt.Errorf("solver self-test: plant voltage %.9f pu, want %.1f", v, initialVoltage)
	}
	return nil
}

// Package window computes the visible time range of rolling charts
package window

import (
	"fmt"
	"math"
	"sync"

	"github.com/jzx17/voltloop/pkg/types"
)

// Hysteresis is the minimum change, in seconds, of either edge before new bounds are applied
const Hysteresis = 0.1

// Config describes the time axis layout, all values in seconds
type Config struct {
	HeadBuffer float64 `yaml:"head_buffer" validate:"gte=0"`
	TailBuffer float64 `yaml:"tail_buffer" validate:"gte=0"`
	TotalSpan  float64 `yaml:"total_span" validate:"gt=0"`
}

// DefaultConfig returns a 15 second window with 1 s ahead and 0.5 s behind the data
func DefaultConfig() Config {
	return Config{
		HeadBuffer: 1.0,
		TailBuffer: 0.5,
		TotalSpan:  15.0,
	}
}

// DataSpan is the span occupied by data, which is also the transition point
// from the fixed initial window to the rolling window
func (c Config) DataSpan() float64 {
	return c.TotalSpan - c.HeadBuffer - c.TailBuffer
}

// Validate checks the config invariants
func (c Config) Validate() error {
	for name, v := range map[string]float64{"head buffer": c.HeadBuffer, "tail buffer": c.TailBuffer, "total span": c.TotalSpan} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: %s is not finite", types.ErrInvalidWindow, name)
		}
	}
	if c.HeadBuffer < 0 {
		return fmt.Errorf("%w: head buffer must not be negative, got %v", types.ErrInvalidWindow, c.HeadBuffer)
	}
	if c.TailBuffer < 0 {
		return fmt.Errorf("%w: tail buffer must not be negative, got %v", types.ErrInvalidWindow, c.TailBuffer)
	}
	if c.DataSpan() <= 0 {
		return fmt.Errorf("%w: total span %v must exceed head+tail buffers %v",
			types.ErrInvalidWindow, c.TotalSpan, c.HeadBuffer+c.TailBuffer)
	}
	return nil
}

// Initial is the fixed window shown while the buffer is still filling
func Initial(cfg Config) types.Bounds {
	return types.Bounds{Min: -cfg.TailBuffer, Max: cfg.TotalSpan - cfg.TailBuffer}
}

// Compute returns the window for the latest sample time without hysteresis
func Compute(latest float64, cfg Config) types.Bounds {
	dataSpan := cfg.DataSpan()
	if latest < dataSpan {
		return Initial(cfg)
	}

	oldestVisible := latest - dataSpan
	return types.Bounds{
		Min: math.Max(0, round2(oldestVisible-cfg.TailBuffer)),
		Max: round2(latest + cfg.HeadBuffer),
	}
}

// ComputeWindow returns the window to apply given the previously applied bounds.
// The previous bounds are kept unless either edge moved by more than Hysteresis.
// A nil prev always yields the freshly computed window.
func ComputeWindow(latest float64, prev *types.Bounds, cfg Config) types.Bounds {
	next := Compute(latest, cfg)
	if prev == nil {
		return next
	}
	if math.Abs(next.Min-prev.Min) > Hysteresis || math.Abs(next.Max-prev.Max) > Hysteresis {
		return next
	}
	return *prev
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// Engine tracks the applied time window of one chart group
type Engine struct {
	mu      sync.Mutex
	cfg     Config
	current *types.Bounds
}

// NewEngine creates an engine, rejecting an invalid config
func NewEngine(cfg Config) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{cfg: cfg}, nil
}

// Update computes the window for the latest sample time. changed reports
// whether the applied bounds moved and should be pushed to the sink.
func (e *Engine) Update(latest float64) (bounds types.Bounds, changed bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	next := ComputeWindow(latest, e.current, e.cfg)
	changed = e.current == nil || next != *e.current
	e.current = &next
	return next, changed
}

// Current returns the applied bounds, or the initial window if nothing was applied yet
func (e *Engine) Current() types.Bounds {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.current == nil {
		return Initial(e.cfg)
	}
	return *e.current
}

// Config returns the active configuration
func (e *Engine) Config() Config {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.cfg
}

// SetConfig replaces the configuration. It applies from the next Update.
func (e *Engine) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	e.cfg = cfg
	e.mu.Unlock()
	return nil
}

// SetHeadBuffer changes the head buffer
func (e *Engine) SetHeadBuffer(sec float64) error {
	return e.modify(func(c *Config) { c.HeadBuffer = sec })
}

// SetTailBuffer changes the tail buffer
func (e *Engine) SetTailBuffer(sec float64) error {
	return e.modify(func(c *Config) { c.TailBuffer = sec })
}

// SetTotalSpan changes the total span
func (e *Engine) SetTotalSpan(sec float64) error {
	return e.modify(func(c *Config) { c.TotalSpan = sec })
}

func (e *Engine) modify(fn func(*Config)) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	cfg := e.cfg
	fn(&cfg)
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Reset forgets the applied bounds; the configuration is kept
func (e *Engine) Reset() {
	e.mu.Lock()
	e.current = nil
	e.mu.Unlock()
}

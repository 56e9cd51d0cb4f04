package controller

import (
	"fmt"
	"time"

	"github.com/jzx17/voltloop/pkg/axis"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/jzx17/voltloop/pkg/window"
)

// Config configures the control loop
type Config struct {
	// UpdateInterval is the delay between the end of one tick and the start of the next
	UpdateInterval time.Duration

	// ResetDelay is how long Reset waits before restarting the loop
	ResetDelay time.Duration

	// InitialReference is the control input until SetControlInput is called
	InitialReference float64

	// MaxPoints caps every series buffer
	MaxPoints int

	Window window.Config
	Axis   axis.Mode
}

// DefaultConfig returns default controller configuration
func DefaultConfig() Config {
	return Config{
		UpdateInterval:   50 * time.Millisecond,
		ResetDelay:       time.Second,
		InitialReference: 1.0,
		MaxPoints:        300,
		Window:           window.DefaultConfig(),
		Axis:             axis.FullAutoMode,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.UpdateInterval <= 0 {
		return fmt.Errorf("update interval must be positive, got %v", c.UpdateInterval)
	}
	if c.ResetDelay < 0 {
		return fmt.Errorf("reset delay must not be negative, got %v", c.ResetDelay)
	}
	if c.MaxPoints <= 0 {
		return fmt.Errorf("max points must be positive, got %d", c.MaxPoints)
	}
	return c.Window.Validate()
}

// Chart is one rendered chart: a value axis shared by its channels plus a sink
type Chart struct {
	ID       string
	Channels []string
	// Padding is the fraction of the data range added above and below
	Padding float64
	Sink    types.RenderSink
}

func validateCharts(charts []Chart) error {
	seen := make(map[string]bool, len(charts))
	for i, ch := range charts {
		switch {
		case ch.ID == "":
			return fmt.Errorf("chart %d has no id", i)
		case seen[ch.ID]:
			return fmt.Errorf("duplicate chart id %q", ch.ID)
		case len(ch.Channels) == 0:
			return fmt.Errorf("chart %q has no channels", ch.ID)
		case ch.Sink == nil:
			return fmt.Errorf("chart %q has no render sink", ch.ID)
		case ch.Padding < 0:
			return fmt.Errorf("chart %q has negative padding %v", ch.ID, ch.Padding)
		}
		seen[ch.ID] = true
	}
	return nil
}

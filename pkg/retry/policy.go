// Package retry provides retry policies and their presets
package retry

import (
	"fmt"
	"time"

	"github.com/jzx17/voltloop/pkg/types"
)

// Policy is an immutable retry policy value
type Policy struct {
	// Name identifies the policy in logs and metrics
	Name string `yaml:"name"`

	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int `yaml:"max_attempts" validate:"gt=0"`

	// InitialDelay is the delay after the first failed attempt
	InitialDelay time.Duration `yaml:"initial_delay" validate:"gt=0"`

	// MaxDelay caps the computed delay and may not be below MinDelay
	MaxDelay time.Duration `yaml:"max_delay" validate:"gte=50ms,gtefield=InitialDelay"`

	// BackoffFactor multiplies the delay after each failed attempt
	BackoffFactor float64 `yaml:"backoff_factor" validate:"gt=1"`

	// Jitter perturbs each delay by up to ±25%
	Jitter bool `yaml:"jitter"`
}

// Named presets
var (
	// DependencyLoad is used for loading runtimes and libraries over the network
	DependencyLoad = Policy{
		Name:          "dependency-load",
		MaxAttempts:   5,
		InitialDelay:  time.Second,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}

	// NetworkRequest is used for single remote calls
	NetworkRequest = Policy{
		Name:          "network-request",
		MaxAttempts:   3,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2,
		Jitter:        true,
	}

	// Initialization is used for local setup steps that may race with loading
	Initialization = Policy{
		Name:          "initialization",
		MaxAttempts:   3,
		InitialDelay:  2 * time.Second,
		MaxDelay:      8 * time.Second,
		BackoffFactor: 1.5,
		Jitter:        false,
	}
)

var presets = map[string]Policy{
	DependencyLoad.Name: DependencyLoad,
	NetworkRequest.Name: NetworkRequest,
	Initialization.Name: Initialization,
}

// Preset looks up a named preset
func Preset(name string) (Policy, bool) {
	p, ok := presets[name]
	return p, ok
}

// PresetNames returns the names of all presets
func PresetNames() []string {
	return []string{DependencyLoad.Name, NetworkRequest.Name, Initialization.Name}
}

// Validate checks the policy invariants
func (p Policy) Validate() error {
	switch {
	case p.MaxAttempts <= 0:
		return fmt.Errorf("%w: max attempts must be positive, got %d", types.ErrInvalidPolicy, p.MaxAttempts)
	case p.InitialDelay <= 0:
		return fmt.Errorf("%w: initial delay must be positive, got %v", types.ErrInvalidPolicy, p.InitialDelay)
	case p.MaxDelay < MinDelay:
		return fmt.Errorf("%w: max delay %v is below the %v delay floor", types.ErrInvalidPolicy, p.MaxDelay, MinDelay)
	case p.MaxDelay < p.InitialDelay:
		return fmt.Errorf("%w: max delay %v is below initial delay %v", types.ErrInvalidPolicy, p.MaxDelay, p.InitialDelay)
	case p.BackoffFactor <= 1:
		return fmt.Errorf("%w: backoff factor must be greater than 1, got %v", types.ErrInvalidPolicy, p.BackoffFactor)
	}
	return nil
}

// WithMaxAttempts returns a copy of p with a different attempt budget
func (p Policy) WithMaxAttempts(n int) Policy {
	p.MaxAttempts = n
	return p
}

// WithoutJitter returns a copy of p with jitter disabled
func (p Policy) WithoutJitter() Policy {
	p.Jitter = false
	return p
}

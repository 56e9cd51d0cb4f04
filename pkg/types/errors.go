// Package types defines error types
package types

import (
	"errors"
	"fmt"
)

// Predefined errors
var (
	// ErrControllerClosed indicates the controller has been closed and cannot run again
	ErrControllerClosed = errors.New("controller is closed")

	// ErrBootstrapAlreadyRun indicates a bootstrap pipeline was run a second time
	ErrBootstrapAlreadyRun = errors.New("bootstrap pipeline already run")

	// ErrEngineNotReady indicates the engine was used before its functions were bound
	ErrEngineNotReady = errors.New("engine is not ready")

	// ErrInvalidPolicy indicates a retry policy failed validation
	ErrInvalidPolicy = errors.New("invalid retry policy")

	// ErrInvalidWindow indicates a time window configuration failed validation
	ErrInvalidWindow = errors.New("invalid time window")
)

// TransientDependencyError is a retryable failure while loading or binding an engine dependency
type TransientDependencyError struct {
	// Dependency names what was being loaded, e.g. "numeric-library"
	Dependency string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *TransientDependencyError) Error() string {
	return fmt.Sprintf("transient failure loading %s: %v", e.Dependency, e.Err)
}

// Unwrap returns the underlying error
func (e *TransientDependencyError) Unwrap() error {
	return e.Err
}

// BootstrapFailedError is the single terminal error of a bootstrap pipeline
type BootstrapFailedError struct {
	// StageID identifies the stage that exhausted its retries
	StageID string

	// Attempts is the number of attempts made by that stage
	Attempts int

	// Err is the last error returned by the stage
	Err error
}

// Error implements the error interface
func (e *BootstrapFailedError) Error() string {
	return fmt.Sprintf("bootstrap failed at stage %q after %d attempts: %v", e.StageID, e.Attempts, e.Err)
}

// Unwrap returns the underlying error
func (e *BootstrapFailedError) Unwrap() error {
	return e.Err
}

// SimulationError surfaces a compute failure that stopped the loop
type SimulationError struct {
	// Tick is the sequence number of the failed tick, starting at 1
	Tick uint64

	// Err is the error returned by the engine
	Err error
}

// Error implements the error interface
func (e *SimulationError) Error() string {
	return fmt.Sprintf("simulation stopped at tick %d: %v", e.Tick, e.Err)
}

// Unwrap returns the underlying error
func (e *SimulationError) Unwrap() error {
	return e.Err
}

// ConfigurationError reports a parameter value that was rejected before being applied
type ConfigurationError struct {
	Key    string
	Value  float64
	Reason string
}

// Error implements the error interface
func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid value %v for %s: %s", e.Value, e.Key, e.Reason)
}

// RenderError wraps a failure returned by a render sink
type RenderError struct {
	// ChartID identifies the chart whose sink failed
	ChartID string

	// Op is the sink call that failed (apply-bounds, set-series, clear)
	Op string

	// Err is the underlying error
	Err error
}

// Error implements the error interface
func (e *RenderError) Error() string {
	return fmt.Sprintf("render %s on chart %q: %v", e.Op, e.ChartID, e.Err)
}

// Unwrap returns the underlying error
func (e *RenderError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err is a TransientDependencyError
func IsTransient(err error) bool {
	var transient *TransientDependencyError
	return errors.As(err, &transient)
}

// IsConfigurationError reports whether err is a ConfigurationError
func IsConfigurationError(err error) bool {
	var cfgErr *ConfigurationError
	return errors.As(err, &cfgErr)
}

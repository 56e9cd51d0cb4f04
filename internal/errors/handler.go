// Package errors classifies loop and bootstrap errors and routes them to handling strategies
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/jzx17/voltloop/pkg/types"
)

// Class groups errors by how the loop must react to them
type Class int

const (
	// ClassUnknown is any error outside the taxonomy
	ClassUnknown Class = iota
	// ClassTransient is a retryable dependency failure
	ClassTransient
	// ClassBootstrap is a terminal bootstrap failure
	ClassBootstrap
	// ClassSimulation is a failed tick
	ClassSimulation
	// ClassConfiguration is a rejected parameter
	ClassConfiguration
	// ClassRender is a render sink failure
	ClassRender
	// ClassCancelled is a context cancellation or deadline
	ClassCancelled
)

// String returns the string representation of the class
func (c Class) String() string {
	switch c {
	case ClassTransient:
		return "transient"
	case ClassBootstrap:
		return "bootstrap"
	case ClassSimulation:
		return "simulation"
	case ClassConfiguration:
		return "configuration"
	case ClassRender:
		return "render"
	case ClassCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Classify returns the class of err. Wrapped errors are classified by their
// outermost recognised type, so a SimulationError wrapping a transient error is a simulation error.
func Classify(err error) Class {
	if err == nil {
		return ClassUnknown
	}

	var (
		bootstrapErr *types.BootstrapFailedError
		simErr       *types.SimulationError
		renderErr    *types.RenderError
		transientErr *types.TransientDependencyError
	)

	switch {
	case stderrors.As(err, &bootstrapErr):
		return ClassBootstrap
	case stderrors.As(err, &simErr):
		return ClassSimulation
	case stderrors.As(err, &renderErr):
		return ClassRender
	case types.IsConfigurationError(err):
		return ClassConfiguration
	case stderrors.As(err, &transientErr):
		return ClassTransient
	case stderrors.Is(err, context.Canceled), stderrors.Is(err, context.DeadlineExceeded):
		return ClassCancelled
	default:
		return ClassUnknown
	}
}

// Strategy defines error handling strategy types
type Strategy int

const (
	// FailFastStrategy propagates the error and stops the caller
	FailFastStrategy Strategy = iota
	// ContinueOnErrorStrategy records the error and lets the caller continue
	ContinueOnErrorStrategy
)

// String returns the string representation of the strategy
func (s Strategy) String() string {
	switch s {
	case FailFastStrategy:
		return "FailFast"
	case ContinueOnErrorStrategy:
		return "ContinueOnError"
	default:
		return "Unknown"
	}
}

// ErrorContext describes where an error occurred
type ErrorContext struct {
	Err       error
	Operation string
	Class     Class
	Timestamp time.Time
	Metadata  map[string]interface{}
}

// NewErrorContext creates an error context and classifies err
func NewErrorContext(err error, operation string) *ErrorContext {
	return &ErrorContext{
		Err:       err,
		Operation: operation,
		Class:     Classify(err),
		Timestamp: time.Now(),
		Metadata:  make(map[string]interface{}),
	}
}

// With adds a metadata entry and returns the context
func (ec *ErrorContext) With(key string, value interface{}) *ErrorContext {
	ec.Metadata[key] = value
	return ec
}

// ErrorHandler handles one error. A nil return means the error was absorbed.
type ErrorHandler interface {
	HandleError(ctx context.Context, errCtx *ErrorContext) error
	Name() string
	Strategy() Strategy
}

// FailFastHandler returns every error unchanged
type FailFastHandler struct{}

// NewFailFastHandler creates a fail-fast handler
func NewFailFastHandler() *FailFastHandler {
	return &FailFastHandler{}
}

// HandleError returns the original error
func (h *FailFastHandler) HandleError(ctx context.Context, errCtx *ErrorContext) error {
	return errCtx.Err
}

// Name returns the handler name
func (h *FailFastHandler) Name() string { return "FailFast" }

// Strategy returns FailFastStrategy
func (h *FailFastHandler) Strategy() Strategy { return FailFastStrategy }

// ContinueOnErrorHandler logs and absorbs errors, keeping a count per operation
type ContinueOnErrorHandler struct {
	logger types.Logger

	mu     sync.Mutex
	counts map[string]int
}

// NewContinueOnErrorHandler creates a continue-on-error handler; a nil logger discards output
func NewContinueOnErrorHandler(logger types.Logger) *ContinueOnErrorHandler {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &ContinueOnErrorHandler{logger: logger, counts: make(map[string]int)}
}

// HandleError logs the error and returns nil
func (h *ContinueOnErrorHandler) HandleError(ctx context.Context, errCtx *ErrorContext) error {
	h.mu.Lock()
	h.counts[errCtx.Operation]++
	n := h.counts[errCtx.Operation]
	h.mu.Unlock()

	h.logger.Warnf("ignored %s error in %s (%d so far): %v", errCtx.Class, errCtx.Operation, n, errCtx.Err)
	return nil
}

// Name returns the handler name
func (h *ContinueOnErrorHandler) Name() string { return "ContinueOnError" }

// Strategy returns ContinueOnErrorStrategy
func (h *ContinueOnErrorHandler) Strategy() Strategy { return ContinueOnErrorStrategy }

// Count returns how many errors were absorbed for operation
func (h *ContinueOnErrorHandler) Count(operation string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.counts[operation]
}

// Registry maps error classes to handlers
type Registry struct {
	mu             sync.RWMutex
	byClass        map[Class]ErrorHandler
	defaultHandler ErrorHandler
}

// NewRegistry creates a registry with the loop's standard bindings: render and
// configuration errors continue, everything else fails fast.
func NewRegistry(logger types.Logger) *Registry {
	cont := NewContinueOnErrorHandler(logger)
	return &Registry{
		byClass: map[Class]ErrorHandler{
			ClassRender:        cont,
			ClassConfiguration: cont,
		},
		defaultHandler: NewFailFastHandler(),
	}
}

// Bind routes a class to handler
func (r *Registry) Bind(class Class, handler ErrorHandler) error {
	if handler == nil {
		return fmt.Errorf("cannot bind nil handler to %s", class)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byClass[class] = handler
	return nil
}

// Unbind removes the binding for class
func (r *Registry) Unbind(class Class) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byClass, class)
}

// SetDefaultHandler sets the handler used for unbound classes
func (r *Registry) SetDefaultHandler(handler ErrorHandler) error {
	if handler == nil {
		return fmt.Errorf("cannot set nil as default handler")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultHandler = handler
	return nil
}

// HandlerFor returns the handler responsible for class
func (r *Registry) HandlerFor(class Class) ErrorHandler {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if h, ok := r.byClass[class]; ok {
		return h
	}
	return r.defaultHandler
}

// Handle classifies err and dispatches it. The returned error is nil when the error was absorbed.
func (r *Registry) Handle(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}
	errCtx := NewErrorContext(err, operation)
	return r.HandlerFor(errCtx.Class).HandleError(ctx, errCtx)
}

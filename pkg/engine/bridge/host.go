// Package bridge connects the controller to an engine hosted behind a
// JSON function-call boundary, the way a page talks to an embedded runtime
package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"

	"github.com/jzx17/voltloop/pkg/engine/voltage"
	"github.com/jzx17/voltloop/pkg/types"
)

// Function names exposed by a Host
const (
	FnLoadRuntime = "runtime.load"
	FnLoadNumeric = "numeric.load"
	FnLoadModules = "modules.load"
	FnBind        = "functions.bind"

	FnCompute   = "compute"
	FnConfigure = "configure"
	FnDefaults  = "defaults"
	FnReset     = "reset"
	FnHealth    = "health"
	FnSnapshot  = "snapshot"
)

// RuntimeVersion is reported by FnLoadRuntime
const RuntimeVersion = "voltage-host/1"

// Caller invokes a named function with JSON arguments and returns its JSON result.
// Errors are transport failures; function failures come back as an "error" object in the result.
type Caller interface {
	Call(ctx context.Context, fn string, args []byte) ([]byte, error)
}

type handler func(ctx context.Context, args []byte) (interface{}, error)

// Host runs the voltage engine in-process behind the Caller boundary. It must
// be loaded in order: runtime, numeric library, modules, then function binding.
type Host struct {
	opts []voltage.Option

	mu      sync.Mutex
	runtime bool
	numeric bool
	engine  *voltage.Engine
	bound   map[string]handler
}

// NewHost creates an unloaded host; opts are applied when the modules load
func NewHost(opts ...voltage.Option) *Host {
	return &Host{opts: opts}
}

// Call implements Caller
func (h *Host) Call(ctx context.Context, fn string, args []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := h.dispatch(ctx, fn, args)
	if err != nil {
		return json.Marshal(map[string]interface{}{"error": encodeError(err)})
	}
	return json.Marshal(result)
}

func (h *Host) dispatch(ctx context.Context, fn string, args []byte) (interface{}, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	switch fn {
	case FnLoadRuntime:
		h.runtime = true
		return map[string]string{"version": RuntimeVersion}, nil

	case FnLoadNumeric:
		if !h.runtime {
			return nil, notReady("runtime")
		}
		if err := voltage.SelfTest(); err != nil {
			return nil, err
		}
		h.numeric = true
		return map[string]bool{"ok": true}, nil

	case FnLoadModules:
		if !h.numeric {
			return nil, notReady("numeric library")
		}
		e, err := voltage.New(h.opts...)
		if err != nil {
			return nil, err
		}
		if len(args) > 0 {
			var params map[string]float64
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("decode module parameters: %w", err)
			}
			if _, err := e.Configure(ctx, params); err != nil {
				return nil, err
			}
		}
		h.engine = e
		return e.Snapshot(), nil

	case FnBind:
		if h.engine == nil {
			return nil, notReady("modules")
		}
		h.bound = h.bindLocked(h.engine)
		names := make([]string, 0, len(h.bound))
		for name := range h.bound {
			names = append(names, name)
		}
		sort.Strings(names)
		return map[string][]string{"functions": names}, nil
	}

	fnh, ok := h.bound[fn]
	if !ok {
		if h.bound == nil {
			return nil, notReady("functions")
		}
		return nil, fmt.Errorf("unknown function %q", fn)
	}
	return fnh(ctx, args)
}

func (h *Host) bindLocked(e *voltage.Engine) map[string]handler {
	return map[string]handler{
		FnCompute: func(ctx context.Context, args []byte) (interface{}, error) {
			var in struct {
				Reference float64 `json:"reference"`
			}
			if err := json.Unmarshal(args, &in); err != nil {
				return nil, fmt.Errorf("decode compute input: %w", err)
			}
			s, err := e.Compute(ctx, types.ControlInput{Reference: in.Reference})
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"time": s.Time, "channels": s.Channels, "converged": s.Converged}, nil
		},
		FnConfigure: func(ctx context.Context, args []byte) (interface{}, error) {
			var params map[string]float64
			if err := json.Unmarshal(args, &params); err != nil {
				return nil, fmt.Errorf("decode parameters: %w", err)
			}
			applied, err := e.Configure(ctx, params)
			if err != nil {
				return nil, err
			}
			return map[string]interface{}{"applied": applied}, nil
		},
		FnDefaults: func(ctx context.Context, args []byte) (interface{}, error) {
			return e.Defaults(), nil
		},
		FnReset: func(ctx context.Context, args []byte) (interface{}, error) {
			return map[string]bool{"ok": true}, e.Reset(ctx)
		},
		FnHealth: func(ctx context.Context, args []byte) (interface{}, error) {
			return e.Health(), nil
		},
		FnSnapshot: func(ctx context.Context, args []byte) (interface{}, error) {
			return e.Snapshot(), nil
		},
	}
}

func notReady(missing string) error {
	return fmt.Errorf("%w: %s not loaded", types.ErrEngineNotReady, missing)
}

func encodeError(err error) map[string]string {
	var cfgErr *types.ConfigurationError
	switch {
	case errors.As(err, &cfgErr):
		return map[string]string{
			"kind":   "configuration",
			"key":    cfgErr.Key,
			"value":  strconv.FormatFloat(cfgErr.Value, 'g', -1, 64),
			"reason": cfgErr.Reason,
		}
	case errors.Is(err, types.ErrEngineNotReady):
		return map[string]string{"kind": "not_ready", "message": err.Error()}
	default:
		return map[string]string{"kind": "runtime", "message": err.Error()}
	}
}

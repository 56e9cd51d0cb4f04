package bridge

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/jzx17/voltloop/pkg/bootstrap"
	"github.com/jzx17/voltloop/pkg/retry"
	"github.com/jzx17/voltloop/pkg/types"
	"github.com/tidwall/gjson"
)

// Stage ids of the engine load sequence
const (
	StageRuntime        = "runtime"
	StageNumericLibrary = "numeric-library"
	StageDomainModules  = "domain-modules"
	StageBindFunctions  = "bind-functions"
)

// requiredFunctions must be exposed once binding completes
var requiredFunctions = []string{FnCompute, FnConfigure, FnDefaults, FnReset}

// Stages returns the bootstrap stages that load an engine behind caller.
// params, if not empty, are applied while the modules load.
func Stages(caller Caller, params map[string]float64) []bootstrap.Stage {
	client := NewClient(caller, nil)

	load := func(fn string, args interface{}) func(ctx context.Context) error {
		return func(ctx context.Context) error {
			_, err := client.call(ctx, fn, args)
			return err
		}
	}

	var moduleArgs interface{}
	if len(params) > 0 {
		moduleArgs = params
	}

	return []bootstrap.Stage{
		{ID: StageRuntime, Work: load(FnLoadRuntime, nil), Policy: retry.DependencyLoad},
		{ID: StageNumericLibrary, Work: load(FnLoadNumeric, nil), Policy: retry.DependencyLoad},
		{ID: StageDomainModules, Work: load(FnLoadModules, moduleArgs), Policy: retry.NetworkRequest},
		{ID: StageBindFunctions, Work: func(ctx context.Context) error {
			res, err := client.call(ctx, FnBind, nil)
			if err != nil {
				return err
			}
			bound := make(map[string]bool)
			res.Get("functions").ForEach(func(_, v gjson.Result) bool {
				bound[v.String()] = true
				return true
			})
			for _, fn := range requiredFunctions {
				if !bound[fn] {
					return fmt.Errorf("function %q was not bound", fn)
				}
			}
			return nil
		}, Policy: retry.Initialization},
	}
}

// ErrUnavailable is the underlying error of injected transient failures
var ErrUnavailable = errors.New("dependency temporarily unavailable")

// Flaky wraps a Caller and fails the first N calls of selected functions with
// a TransientDependencyError, simulating an unreliable network during load
type Flaky struct {
	next     Caller
	failures map[string]int

	mu    sync.Mutex
	calls map[string]int
}

// NewFlaky creates a Flaky caller. failures maps a function name to the number of calls to fail.
func NewFlaky(next Caller, failures map[string]int) *Flaky {
	f := &Flaky{next: next, failures: make(map[string]int), calls: make(map[string]int)}
	for fn, n := range failures {
		f.failures[fn] = n
	}
	return f
}

// Call implements Caller
func (f *Flaky) Call(ctx context.Context, fn string, args []byte) ([]byte, error) {
	f.mu.Lock()
	f.calls[fn]++
	n := f.calls[fn]
	fail := n <= f.failures[fn]
	f.mu.Unlock()

	if fail {
		return nil, &types.TransientDependencyError{Dependency: fn, Err: ErrUnavailable}
	}
	return f.next.Call(ctx, fn, args)
}

// Calls returns how many times fn was called
func (f *Flaky) Calls(fn string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[fn]
}

package bridge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"github.com/jzx17/voltloop/pkg/types"
	"github.com/tidwall/gjson"
)

// RemoteError is a function failure reported by the far side
type RemoteError struct {
	Function string
	Message  string
}

// Error implements the error interface
func (e *RemoteError) Error() string {
	return fmt.Sprintf("%s: %s", e.Function, e.Message)
}

// Health is the decoded health report of a hosted engine
type Health struct {
	Status   string
	Warnings []string
	Time     float64
}

// Client implements types.Engine over a Caller
type Client struct {
	caller Caller
	logger types.Logger
}

// NewClient creates a client; a nil logger discards output
func NewClient(caller Caller, logger types.Logger) *Client {
	if logger == nil {
		logger = types.NopLogger{}
	}
	return &Client{caller: caller, logger: logger}
}

// call invokes fn and returns the parsed result, turning an "error" object into a Go error
func (c *Client) call(ctx context.Context, fn string, args interface{}) (gjson.Result, error) {
	var payload []byte
	if args != nil {
		var err error
		if payload, err = json.Marshal(args); err != nil {
			return gjson.Result{}, fmt.Errorf("encode %s arguments: %w", fn, err)
		}
	}

	raw, err := c.caller.Call(ctx, fn, payload)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(raw) {
		return gjson.Result{}, &RemoteError{Function: fn, Message: "malformed response"}
	}

	res := gjson.ParseBytes(raw)
	if e := res.Get("error"); e.Exists() {
		return gjson.Result{}, decodeError(fn, e)
	}
	return res, nil
}

func decodeError(fn string, e gjson.Result) error {
	switch e.Get("kind").String() {
	case "configuration":
		return &types.ConfigurationError{
			Key:    e.Get("key").String(),
			Value:  e.Get("value").Float(),
			Reason: e.Get("reason").String(),
		}
	case "not_ready":
		return fmt.Errorf("%w: %s", types.ErrEngineNotReady, e.Get("message").String())
	default:
		return &RemoteError{Function: fn, Message: e.Get("message").String()}
	}
}

// Compute implements types.Engine
func (c *Client) Compute(ctx context.Context, input types.ControlInput) (types.Sample, error) {
	res, err := c.call(ctx, FnCompute, map[string]float64{"reference": input.Reference})
	if err != nil {
		return types.Sample{}, err
	}

	t := res.Get("time")
	if !t.Exists() {
		return types.Sample{}, &RemoteError{Function: FnCompute, Message: "response has no time"}
	}

	sample := types.Sample{
		Time:      t.Float(),
		Channels:  make(map[string]float64),
		Converged: res.Get("converged").Bool(),
	}
	res.Get("channels").ForEach(func(key, value gjson.Result) bool {
		sample.Channels[key.String()] = value.Float()
		return true
	})
	return sample, nil
}

// Configure implements types.Engine. Non-finite values cannot cross the JSON
// boundary and are rejected locally.
func (c *Client) Configure(ctx context.Context, params map[string]float64) (map[string]float64, error) {
	for k, v := range params {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, &types.ConfigurationError{Key: k, Value: v, Reason: "must be finite"}
		}
	}

	res, err := c.call(ctx, FnConfigure, params)
	if err != nil {
		return nil, err
	}
	return floatMap(res.Get("applied")), nil
}

// Defaults implements types.Engine. Transport failures are logged and yield nil.
func (c *Client) Defaults() map[string]float64 {
	res, err := c.call(context.Background(), FnDefaults, nil)
	if err != nil {
		c.logger.Warnf("bridge: fetch defaults: %v", err)
		return nil
	}
	return floatMap(res)
}

// Reset implements types.Engine
func (c *Client) Reset(ctx context.Context) error {
	_, err := c.call(ctx, FnReset, nil)
	return err
}

// Health fetches the engine's health report
func (c *Client) Health(ctx context.Context) (Health, error) {
	res, err := c.call(ctx, FnHealth, nil)
	if err != nil {
		return Health{}, err
	}
	h := Health{Status: res.Get("status").String(), Time: res.Get("current_time").Float()}
	for _, w := range res.Get("warnings").Array() {
		h.Warnings = append(h.Warnings, w.String())
	}
	return h, nil
}

// Snapshot fetches the active parameters and derived values
func (c *Client) Snapshot(ctx context.Context) (map[string]float64, error) {
	res, err := c.call(ctx, FnSnapshot, nil)
	if err != nil {
		return nil, err
	}
	return floatMap(res), nil
}

func floatMap(r gjson.Result) map[string]float64 {
	out := make(map[string]float64)
	r.ForEach(func(key, value gjson.Result) bool {
		out[key.String()] = value.Float()
		return true
	})
	return out
}

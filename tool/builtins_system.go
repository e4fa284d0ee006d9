package tool

import (
	"context"
	"strconv"
	"time"

	"github.com/hupe1980/flowmesh/core"
)

// NewSetContextTool writes values into the run's $ctx key space.
//
// Two calling modes are supported:
//
//	set_context(path="user.name", value="ada")   one dotted path
//	set_context(name="ada", age=36)              every pair becomes a ctx key
func NewSetContextTool() *FunctionTool {
	return NewFunctionTool(
		"set_context",
		"Store values in the workflow context for later nodes to read",
		nil,
		func(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
			if path, ok := args["path"].(string); ok {
				if err := ec.Set(path, core.FromAny(args["value"])); err != nil {
					return nil, err
				}
				return nil, nil
			}
			for key, val := range args {
				if key == "path" || key == "value" {
					continue
				}
				if err := ec.Set(key, core.FromAny(val)); err != nil {
					return nil, err
				}
			}
			return nil, nil
		},
	)
}

// NewTimerTool sleeps for a duration given as "ms" (preferred) or "seconds".
// The sleep aborts early when the run is cancelled.
func NewTimerTool() *FunctionTool {
	return NewFunctionTool(
		"timer",
		"Pause workflow execution for a fixed duration",
		nil,
		func(ctx context.Context, _ *core.ExecutionContext, args map[string]any) (any, error) {
			durationMS := int64(1000)
			if ms, ok := numberArg(args["ms"]); ok {
				durationMS = ms
			} else if secs, ok := numberArg(args["seconds"]); ok {
				durationMS = secs * 1000
			}

			select {
			case <-time.After(time.Duration(durationMS) * time.Millisecond):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
			return map[string]any{"status": "finished", "duration_ms": durationMS}, nil
		},
	)
}

// NewNotifyTool emits a user-facing status line. A "status" argument updates
// $reply.status, which surfaces as a status event on the observer stream.
func NewNotifyTool() *FunctionTool {
	return NewFunctionTool(
		"notify",
		"Publish a status update or notification to the observer stream",
		nil,
		func(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
			if status, ok := args["status"].(string); ok && status != "" {
				if err := ec.Set("reply.status", core.String(status)); err != nil {
					return nil, err
				}
			}
			msg, _ := args["message"].(string)
			if msg != "" {
				ev := core.NewEvent(ec.RunID(), core.EventContent)
				ev.Text = msg
				ec.Emit(ev)
			}
			return map[string]any{"status": "sent", "content": msg}, nil
		},
	)
}

func numberArg(v any) (int64, bool) {
	switch n := v.(type) {
	case float64:
		return int64(n), true
	case int:
		return int64(n), true
	case int64:
		return n, true
	case string:
		parsed, err := strconv.ParseInt(n, 10, 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

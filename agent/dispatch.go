package agent

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolserver"
)

// Dispatcher routes a model-requested tool call through the resolution chain:
// builtin tools first, then registered tool servers. Calls neither layer can
// handle are left to the caller, which forwards them over the client bridge.
type Dispatcher struct {
	builtins *tool.Builtins
	servers  *toolserver.Registry
	logger   logging.Logger
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithDispatcherLogger sets the logger used for dispatch diagnostics.
func WithDispatcherLogger(logger logging.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.logger = logger }
}

// NewDispatcher creates a dispatcher over the given layers. Either layer may
// be nil, in which case it is skipped.
func NewDispatcher(builtins *tool.Builtins, servers *toolserver.Registry, optFns ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{
		builtins: builtins,
		servers:  servers,
		logger:   logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(d)
	}
	return d
}

// Dispatch executes one tool call locally if possible. The returned bool
// reports whether a layer handled the call; when it is false the call belongs
// to the client. Execution failures are folded into the result text so the
// model can react to them, matching tool-result semantics.
func (d *Dispatcher) Dispatch(ctx context.Context, ec *core.ExecutionContext, name, argsJSON string) (string, bool) {
	if d.builtins != nil {
		if t, ok := d.builtins.Get(name); ok {
			d.logger.Debug("dispatch.builtin", "tool", name)
			args := map[string]any{}
			if argsJSON != "" {
				if err := json.Unmarshal([]byte(argsJSON), &args); err != nil {
					return fmt.Sprintf("Error: invalid arguments for tool '%s': %v", name, err), true
				}
			}
			result, err := t.Call(ctx, ec, args)
			if err != nil {
				d.logger.Warn("dispatch.builtin.error", "tool", name, "error", err.Error())
				return fmt.Sprintf("Error during tool execution: %v", err), true
			}
			return renderResult(result), true
		}
	}

	if d.servers != nil {
		args := core.Null()
		if argsJSON != "" {
			if parsed, err := core.ParseJSON([]byte(argsJSON)); err == nil {
				args = parsed
			}
		}
		result, matched, err := d.servers.Call(ctx, name, args)
		if matched {
			if err != nil {
				d.logger.Warn("dispatch.server.error", "tool", name, "error", err.Error())
				return fmt.Sprintf("Error during tool execution: %v", err), true
			}
			d.logger.Debug("dispatch.server", "tool", name)
			return result.Text(), true
		}
	}

	return "", false
}

// renderResult converts a builtin tool result to the text fed back to the
// model. Structured results are serialized as JSON.
func renderResult(result any) string {
	switch v := result.(type) {
	case nil:
		return ""
	case string:
		return v
	case core.Value:
		return v.Text()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(data)
	}
}

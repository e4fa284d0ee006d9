package engine

import (
	"context"
	"errors"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/eval"
	"github.com/hupe1980/flowmesh/graph"
	"github.com/hupe1980/flowmesh/tool"
)

// execNode runs one node's unit of work against the shared execution context
// and returns its output. Loop nodes recurse into a nested scheduler over
// their body subgraph; their own output is always null.
func (e *Engine) execNode(ctx context.Context, ec *core.ExecutionContext, node *graph.Node) (core.Value, error) {
	if err := e.callbacks.Execute(ctx, CallbackBeforeNode, &CallbackContext{Node: node, Execution: ec, CallbackType: CallbackBeforeNode}); err != nil {
		return core.Null(), err
	}

	var out core.Value
	var err error

	switch node.Kind {
	case graph.KindLiteral:
		out = node.Literal
	case graph.KindCall:
		out, err = e.execCall(ctx, ec, node)
	case graph.KindForEach:
		out, err = e.execForEach(ctx, ec, node)
	case graph.KindWhile:
		out, err = e.execWhile(ctx, ec, node)
	default:
		err = core.NewRunError(core.CodeCallFailure, "node %q has unknown kind", node.ID)
	}

	if err != nil {
		cbCtx := &CallbackContext{Node: node, Execution: ec, CallbackType: CallbackOnNodeError, Err: err}
		if cbErr := e.callbacks.Execute(ctx, CallbackOnNodeError, cbCtx); cbErr != nil {
			e.logger.Warn("callback.error", "node", node.ID, "error", cbErr.Error())
		}
		return core.Null(), err
	}

	cbCtx := &CallbackContext{Node: node, Execution: ec, CallbackType: CallbackAfterNode, Output: out}
	if cbErr := e.callbacks.Execute(ctx, CallbackAfterNode, cbCtx); cbErr != nil {
		e.logger.Warn("callback.error", "node", node.ID, "error", cbErr.Error())
	}
	return out, nil
}

// execCall resolves the call's argument expressions and dispatches the target
// through the resolution chain: builtin tools first, then registered tool
// servers. A target neither layer recognizes is a resolution error; client
// bridge tools are only reachable from inside a chat turn, never as workflow
// nodes.
func (e *Engine) execCall(ctx context.Context, ec *core.ExecutionContext, node *graph.Node) (core.Value, error) {
	args := make(map[string]core.Value, len(node.Call.Args))
	for name, raw := range node.Call.Args {
		v, err := eval.Param(raw, ec)
		if err != nil {
			return core.Null(), err
		}
		args[name] = v
	}

	if t, ok := e.builtins.Get(node.Call.Target); ok {
		e.logger.Debug("node.call.builtin", "node", node.ID, "tool", node.Call.Target)
		anyArgs := make(map[string]any, len(args))
		for name, v := range args {
			anyArgs[name] = v.ToAny()
		}
		result, err := t.Call(ctx, ec, anyArgs)
		if err != nil {
			var toolErr *tool.ToolError
			if errors.As(err, &toolErr) && toolErr.Code == tool.CodeMissingArgument {
				return core.Null(), core.NewRunError(core.CodeMissingArgument, "%s", toolErr.Message)
			}
			return core.Null(), err
		}
		return core.FromAny(result), nil
	}

	if e.servers != nil {
		result, matched, err := e.servers.Call(ctx, node.Call.Target, core.Object(args))
		if matched {
			e.logger.Debug("node.call.server", "node", node.ID, "tool", node.Call.Target)
			if err != nil {
				return core.Null(), err
			}
			return result, nil
		}
	}

	return core.Null(), core.NewRunError(core.CodeToolResolution,
		"tool %q is not registered (checked builtins and tool servers)", node.Call.Target)
}

// execForEach iterates the resolved collection sequentially, binding each
// element to the iteration variable and running the body subgraph on the
// shared context.
func (e *Engine) execForEach(ctx context.Context, ec *core.ExecutionContext, node *graph.Node) (core.Value, error) {
	spec := node.ForEach

	collection, err := e.resolveCollection(spec.Collection, ec)
	if err != nil {
		return core.Null(), err
	}
	items, ok := collection.Items()
	if !ok {
		return core.Null(), core.NewRunError(core.CodeCallFailure,
			"foreach collection %q is not an array", spec.Collection)
	}

	for i, item := range items {
		// Each iteration runs on its own context view so a concurrently
		// executing loop node elsewhere in the graph cannot observe or
		// clobber this loop's scope.
		body := ec.WithLoop(core.LoopScope{
			Var:   spec.Var,
			Value: item,
			Index: i,
			First: i == 0,
			Last:  i == len(items)-1,
		})
		if err := e.runBody(ctx, body, spec.Body); err != nil {
			runErr := core.AsRunError(err)
			return core.Null(), core.NewRunError(runErr.Code,
				"error inside foreach body at index %d: %s", i, runErr.Message)
		}
	}
	return core.Null(), nil
}

// execWhile re-evaluates the condition before each pass and runs the body
// until it turns false or the iteration cap is hit.
func (e *Engine) execWhile(ctx context.Context, ec *core.ExecutionContext, node *graph.Node) (core.Value, error) {
	spec := node.While
	limit := e.cfg.WhileLimit
	if limit <= 0 {
		limit = DefaultConfig.WhileLimit
	}

	for i := 0; ; i++ {
		if i >= limit {
			return core.Null(), core.NewRunError(core.CodeCallFailure,
				"loop limit exceeded after %d iterations", limit)
		}

		// The condition is evaluated outside any loop scope of this node so
		// it sees the same bindings on every pass.
		ok, err := eval.EvaluateBool(spec.Condition, ec)
		if err != nil {
			return core.Null(), err
		}
		if !ok {
			return core.Null(), nil
		}

		body := ec.WithLoop(core.LoopScope{Index: i, First: i == 0})
		if err := e.runBody(ctx, body, spec.Body); err != nil {
			runErr := core.AsRunError(err)
			return core.Null(), core.NewRunError(runErr.Code,
				"error inside loop body at iteration %d: %s", i, runErr.Message)
		}
	}
}

// runBody executes a loop body subgraph to quiescence on the shared context.
func (e *Engine) runBody(ctx context.Context, ec *core.ExecutionContext, body *graph.Graph) error {
	if body == nil || body.Len() == 0 {
		return nil
	}
	s := newScheduler(body, ec, func(ctx context.Context, n *graph.Node) (core.Value, error) {
		return e.execNode(ctx, ec, n)
	}, e.logger, e.cfg.MaxConcurrentNodes)
	return s.run(ctx)
}

// resolveCollection resolves a foreach collection expression. Expressions
// containing $references go through the evaluator; bare paths resolve
// directly against the context, tolerating an explicit "ctx." prefix.
func (e *Engine) resolveCollection(spec string, ec *core.ExecutionContext) (core.Value, error) {
	trimmed := strings.TrimSpace(spec)
	if strings.Contains(trimmed, "$") {
		return eval.Param(trimmed, ec)
	}
	if v, ok := ec.Resolve(trimmed); ok {
		return v, nil
	}
	if v, ok := ec.Resolve("ctx." + strings.TrimPrefix(trimmed, "ctx.")); ok {
		return v, nil
	}
	return core.Null(), core.NewRunError(core.CodeUnresolvedVariable,
		"foreach collection %q is not defined", spec)
}

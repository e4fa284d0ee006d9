package engine

import (
	"context"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/graph"
)

// CallbackType defines the lifecycle points where callbacks run.
//
// Callbacks hook into node execution without modifying scheduler or executor
// logic. They run synchronously: a BeforeNode callback that returns an error
// fails the node, which then routes through its OnError edge like any other
// node failure.
type CallbackType string

const (
	// CallbackBeforeNode is triggered before a node executes. Use for
	// validation, instrumentation, or argument auditing. An error fails the
	// node before it runs.
	CallbackBeforeNode CallbackType = "before_node"

	// CallbackAfterNode is triggered after a node completes successfully.
	// Use for metrics collection or result logging. Errors are logged and
	// do not affect the node's outcome.
	CallbackAfterNode CallbackType = "after_node"

	// CallbackOnNodeError is triggered when a node fails. Use for alerting
	// or failure accounting; error routing itself stays with the scheduler.
	CallbackOnNodeError CallbackType = "on_node_error"
)

// CallbackContext carries the information a callback needs to inspect the
// execution state at its lifecycle point.
type CallbackContext struct {
	// Node is the graph node the callback fires for.
	Node *graph.Node

	// Execution is the run's shared execution context.
	Execution *core.ExecutionContext

	// CallbackType indicates which lifecycle point triggered this execution.
	CallbackType CallbackType

	// Output is the node's result. Set for AfterNode only.
	Output core.Value

	// Err is the node's failure. Set for OnNodeError only.
	Err error

	// Metadata provides extensible storage for custom callback data.
	Metadata map[string]any
}

// Callback is one execution lifecycle hook.
//
// Implementations should be fast (they run synchronously on the node's
// goroutine), safe against panics, and stateless between invocations.
type Callback interface {
	// Type returns the callback type this implementation handles.
	Type() CallbackType

	// Execute performs the callback logic. For BeforeNode, a returned error
	// fails the node.
	Execute(ctx context.Context, callbackCtx *CallbackContext) error
}

// FunctionCallback wraps a plain function as a callback.
//
// Example:
//
//	eng.Callbacks().Register(NewFunctionCallback(
//	    CallbackBeforeNode,
//	    func(ctx context.Context, cc *CallbackContext) error {
//	        log.Printf("starting node %s", cc.Node.ID)
//	        return nil
//	    },
//	))
type FunctionCallback struct {
	callbackType CallbackType
	fn           func(ctx context.Context, callbackCtx *CallbackContext) error
}

// NewFunctionCallback creates a function-based callback for the given
// lifecycle point.
func NewFunctionCallback(
	callbackType CallbackType,
	fn func(ctx context.Context, callbackCtx *CallbackContext) error,
) *FunctionCallback {
	return &FunctionCallback{
		callbackType: callbackType,
		fn:           fn,
	}
}

// Type returns the callback type this function handles.
func (c *FunctionCallback) Type() CallbackType {
	return c.callbackType
}

// Execute calls the wrapped function with the provided context.
func (c *FunctionCallback) Execute(ctx context.Context, callbackCtx *CallbackContext) error {
	return c.fn(ctx, callbackCtx)
}

// CallbackManager routes lifecycle events to registered callbacks.
//
// Callbacks run in registration order; the first error stops the chain and
// is returned to the caller. Registration is expected to finish before runs
// start, after which execution is safe for concurrent use.
type CallbackManager struct {
	callbacks map[CallbackType][]Callback
}

// NewCallbackManager creates an empty callback manager.
func NewCallbackManager() *CallbackManager {
	return &CallbackManager{
		callbacks: make(map[CallbackType][]Callback),
	}
}

// Register adds a callback under its declared type. Multiple callbacks per
// type execute in registration order.
func (m *CallbackManager) Register(cb Callback) {
	m.callbacks[cb.Type()] = append(m.callbacks[cb.Type()], cb)
}

// Execute runs every callback registered for the given type, stopping at the
// first error.
func (m *CallbackManager) Execute(ctx context.Context, typ CallbackType, callbackCtx *CallbackContext) error {
	for _, cb := range m.callbacks[typ] {
		if err := cb.Execute(ctx, callbackCtx); err != nil {
			return err
		}
	}
	return nil
}

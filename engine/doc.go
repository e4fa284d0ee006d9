// Package engine executes merged workflow graphs for FlowMesh.
//
// The Engine is the coordination hub of a run: it flattens flow imports into
// a single graph, walks the result with a concurrent scheduler, executes each
// node's unit of work, and routes failures along declared error edges.
//
// # Core Responsibilities
//
// Graph Execution:
//   - Eager convergence scheduling: a node runs the first time any incoming
//     transition fires, exactly once per run
//   - Conditional edges, switch routing, and default transitions decided the
//     moment a source node completes
//   - Unreachability propagation for branches that can no longer fire
//   - Bounded concurrency across independent ready nodes
//
// Node Dispatch:
//   - Literal nodes yield constant values
//   - Call nodes resolve their arguments against the shared context and
//     dispatch through builtins, then registered tool servers
//   - Foreach and while nodes run their body subgraph per iteration with
//     loop-scope variable bindings
//
// Agent Integration:
//   - The chat builtin is registered by default, wired to the engine's model
//     and agent registries, session store, and client tool bridge
//   - Agents that delegate to a nested workflow run it through the engine on
//     the caller's execution context
//
// # Usage
//
// Basic setup and execution:
//
//	eng := engine.New(func(o *engine.Options) {
//	    o.Models = models
//	    o.Agents = agents
//	    o.Sink = sink
//	    o.Logger = logger
//	})
//
//	result, err := eng.Run(ctx, g, core.Object(map[string]core.Value{
//	    "message": core.String("hello"),
//	}))
//	if err != nil {
//	    return err
//	}
//	fmt.Println(result.Output.Text())
//
// Lifecycle hooks:
//
//	eng.Callbacks().Register(engine.NewFunctionCallback(
//	    engine.CallbackBeforeNode,
//	    func(ctx context.Context, cc *engine.CallbackContext) error {
//	        log.Printf("node %s starting", cc.Node.ID)
//	        return nil
//	    },
//	))
//
// # Error Handling
//
// A failing node installs a structured $error object into the context and
// fires its first declared error transition when one exists; otherwise the
// failure is terminal, the run is cancelled, and Run returns the error with
// its code and node attribution intact.
package engine

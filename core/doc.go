// Package core contains the shared primitives of the flowmesh runtime: the
// dynamic Value variant exchanged between workflow nodes, the ExecutionContext
// that carries run-scoped state across a merged graph, the observer event
// stream, and the structured error type used for node failures.
//
// Higher layers (graph, engine, tool, agent) depend on core; core depends on
// nothing but the logging abstraction.
package core

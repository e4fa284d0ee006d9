// Package agent contains the declarative agent layer of FlowMesh: named
// agent definitions, the conversational chat loop that drives a model with
// tool calling, and the dispatch chain that routes requested tool calls to
// builtins, remote tool servers, or the client bridge.
//
// The package focuses on three concerns:
//
//  1. Agent definitions and their registry (Agent, Registry)
//  2. Message state semantics for chat calls (CallState)
//  3. The agent loop itself (Chat), exposed to workflows as a builtin tool
//
// Design principles:
//   - Minimal hidden global state – explicit wiring via Engine options
//   - Observability – structured logging at dispatch and loop boundaries
//   - Extensibility – storage and transports stay behind small interfaces
//
// The package intentionally keeps persistence, model specifics and tool
// registry abstractions in their respective packages to avoid cyclic deps.
package agent

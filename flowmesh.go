// Package flowmesh provides a high-level façade over the workflow engine and
// its collaborating registries (models, agents, tools, sessions & logging)
// enabling rapid construction of declarative agent workflows. Most
// applications interact with this package by:
//  1. Creating a FlowMesh via New() (optionally overriding default in-memory services)
//  2. Registering models, agents and tools
//  3. Running workflow graphs synchronously (Run) or with a streaming event channel (RunStream)
//
// The façade delegates orchestration to engine.Engine while keeping setup and
// usage ergonomics concise. All defaults are safe for local development and
// testing; production deployments typically supply real model adapters, a
// durable session store and a structured logger.
package flowmesh

import (
	"context"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/bridge"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/engine"
	"github.com/hupe1980/flowmesh/graph"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/session"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolserver"
)

// Options configures the FlowMesh instance.
type Options struct {
	// EngineConfig carries concurrency, buffering and loop limits.
	EngineConfig engine.Config

	// Sessions persists chat conversations (defaults to in-memory).
	Sessions session.Store

	// Servers routes namespaced tool calls to external tool servers.
	Servers *toolserver.Registry

	// Bridge relays unresolved tool calls to the connected client.
	Bridge *bridge.Bridge

	// Loader resolves workflow imports and nested agent workflows.
	Loader graph.Loader

	// Logger (defaults to NoOp logger if nil).
	Logger logging.Logger
}

// FlowMesh is the high-level façade aggregating the engine and its registries.
type FlowMesh struct {
	opts   Options
	engine *engine.Engine
}

// New creates a new FlowMesh instance with optional overrides. Any unset
// service is initialized with an in-memory implementation.
func New(optFns ...func(o *Options)) *FlowMesh {
	opts := Options{
		EngineConfig: engine.DefaultConfig,
		Sessions:     session.NewInMemoryStore(),
		Logger:       logging.NoOpLogger{},
	}

	for _, fn := range optFns {
		fn(&opts)
	}

	eng := engine.New(func(o *engine.Options) {
		o.Config = opts.EngineConfig
		o.Sessions = opts.Sessions
		o.Servers = opts.Servers
		o.Bridge = opts.Bridge
		o.Loader = opts.Loader
		o.Logger = opts.Logger
	})

	return &FlowMesh{opts: opts, engine: eng}
}

// Engine exposes the underlying engine for advanced wiring such as lifecycle
// callbacks.
func (m *FlowMesh) Engine() *engine.Engine { return m.engine }

// RegisterModel adds a chat model under a name; the first registered model
// becomes the default.
func (m *FlowMesh) RegisterModel(name string, mdl model.Model) {
	m.engine.Models().Register(name, mdl)
}

// RegisterAgent adds an agent definition to the registry.
func (m *FlowMesh) RegisterAgent(a *agent.Agent) { m.engine.Agents().Register(a) }

// RegisterTool adds a builtin tool available to workflow call nodes and agent
// tool specifications.
func (m *FlowMesh) RegisterTool(t tool.Tool) { m.engine.Builtins().Register(t) }

// Run executes a workflow graph synchronously and returns its result.
func (m *FlowMesh) Run(ctx context.Context, g *graph.Graph, input core.Value) (*engine.RunResult, error) {
	return m.engine.Run(ctx, g, input)
}

// RunFile loads, merges and executes the workflow unit stored at path.
func (m *FlowMesh) RunFile(ctx context.Context, path string, input core.Value) (*engine.RunResult, error) {
	return m.engine.RunFile(ctx, path, input)
}

// RunStream starts an asynchronous run, returning the event channel and a
// single-shot error channel. The event channel closes when the run finishes;
// a terminal failure is delivered on the error channel afterwards.
//
// RunStream builds its own engine wired to a channel sink, so concurrent
// streaming runs do not interleave their events.
func (m *FlowMesh) RunStream(ctx context.Context, g *graph.Graph, input core.Value) (<-chan core.Event, <-chan error) {
	buffer := m.opts.EngineConfig.EventBufferSize
	if buffer <= 0 {
		buffer = engine.DefaultConfig.EventBufferSize
	}
	sink := core.NewChannelSink(buffer)
	errCh := make(chan error, 1)

	eng := engine.New(func(o *engine.Options) {
		o.Config = m.opts.EngineConfig
		o.Sessions = m.opts.Sessions
		o.Servers = m.opts.Servers
		o.Bridge = m.opts.Bridge
		o.Loader = m.opts.Loader
		o.Logger = m.opts.Logger
		o.Sink = sink
		o.Models = m.engine.Models()
		o.Agents = m.engine.Agents()
		o.Builtins = m.engine.Builtins()
	})

	go func() {
		defer close(sink.Ch)
		defer close(errCh)
		if _, err := eng.Run(ctx, g, input); err != nil {
			errCh <- err
		}
	}()

	return sink.Ch, errCh
}

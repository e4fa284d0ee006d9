package engine

import (
	"context"
	"net/http"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/flowmesh/agent"
	"github.com/hupe1980/flowmesh/bridge"
	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/graph"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/model"
	"github.com/hupe1980/flowmesh/session"
	"github.com/hupe1980/flowmesh/tool"
	"github.com/hupe1980/flowmesh/toolserver"
)

// Config defines tuning parameters for the Engine's runtime behavior.
//
// Example:
//
//	cfg := Config{
//	    MaxConcurrentNodes: 50,
//	    EventBufferSize:    256,
//	}
type Config struct {
	// MaxConcurrentNodes limits how many graph nodes execute simultaneously
	// within one run. Independent ready nodes beyond the limit queue until a
	// slot frees up. Set to 0 for unlimited.
	MaxConcurrentNodes int

	// EventBufferSize sets the channel buffer size used when the engine
	// creates its own event sink. Larger buffers reduce blocking but
	// increase memory usage.
	EventBufferSize int

	// WhileLimit caps the iterations of a while node. A loop that reaches
	// the cap fails its node rather than spinning forever.
	WhileLimit int

	// BridgeTimeout bounds how long a chat turn waits for the client to
	// answer bridged tool calls.
	BridgeTimeout time.Duration
}

// DefaultConfig provides production-ready default configuration values.
var DefaultConfig = Config{
	MaxConcurrentNodes: 10,
	EventBufferSize:    100,
	WhileLimit:         100,
	BridgeTimeout:      bridge.DefaultTimeout,
}

// Options configures an Engine instance using the functional options
// pattern. Every collaborator has an in-memory default, so a bare New()
// yields a working engine for development and testing.
//
// Example:
//
//	eng := New(func(o *engine.Options) {
//	    o.Models = models
//	    o.Sink = sink
//	    o.Logger = logger
//	})
type Options struct {
	// Config contains operational parameters for the engine behavior.
	// Defaults to DefaultConfig if not specified.
	Config Config

	// Logger provides structured logging. Defaults to a no-op logger.
	Logger logging.Logger

	// Sink receives run events. Defaults to a no-op sink.
	Sink core.Sink

	// Models is the registry of chat models agents resolve against.
	Models *model.Registry

	// Agents holds the agent definitions available to chat nodes.
	Agents *agent.Registry

	// Tools holds declarative tool resources referenced by agent tool
	// specifications.
	Tools *tool.Registry

	// Builtins is the builtin tool set. When nil the engine creates one and
	// registers the standard builtins plus the chat tool.
	Builtins *tool.Builtins

	// Servers routes namespaced tool calls to external tool servers.
	Servers *toolserver.Registry

	// Bridge relays unresolved tool calls to the connected client.
	Bridge *bridge.Bridge

	// Sessions persists chat conversations across turns.
	Sessions session.Store

	// Prompts backs the prompt builtin and agent system-prompt slugs.
	Prompts *tool.PromptStore

	// Loader resolves workflow imports and nested agent workflows. Runs of
	// graphs without imports work without one.
	Loader graph.Loader

	// HTTPClient is used by the fetch builtin. Defaults to
	// http.DefaultClient.
	HTTPClient *http.Client
}

// Engine compiles and executes workflow graphs. It owns the scheduler, the
// tool resolution chain, and the default builtin set, and it acts as the
// workflow runner for agents that delegate their turn to a nested workflow.
type Engine struct {
	cfg       Config
	logger    logging.Logger
	sink      core.Sink
	models    *model.Registry
	agents    *agent.Registry
	tools     *tool.Registry
	builtins  *tool.Builtins
	servers   *toolserver.Registry
	bridge    *bridge.Bridge
	sessions  session.Store
	prompts   *tool.PromptStore
	loader    graph.Loader
	callbacks *CallbackManager
}

var _ agent.WorkflowRunner = (*Engine)(nil)

// New creates an Engine, filling in defaults for every collaborator that was
// not supplied and registering the standard builtins (set_context, timer,
// notify, fetch, p, chat) on the builtin set.
func New(optFns ...func(o *Options)) *Engine {
	opts := Options{
		Config: DefaultConfig,
		Logger: logging.NoOpLogger{},
		Sink:   core.NoOpSink{},
	}
	for _, fn := range optFns {
		fn(&opts)
	}

	if opts.Models == nil {
		opts.Models = model.NewRegistry()
	}
	if opts.Agents == nil {
		opts.Agents = agent.NewRegistry()
	}
	if opts.Tools == nil {
		opts.Tools = tool.NewRegistry()
	}
	if opts.Builtins == nil {
		opts.Builtins = tool.NewBuiltins()
	}
	if opts.Sessions == nil {
		opts.Sessions = session.NewInMemoryStore()
	}
	if opts.Prompts == nil {
		opts.Prompts = tool.NewPromptStore()
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = http.DefaultClient
	}

	e := &Engine{
		cfg:       opts.Config,
		logger:    opts.Logger,
		sink:      opts.Sink,
		models:    opts.Models,
		agents:    opts.Agents,
		tools:     opts.Tools,
		builtins:  opts.Builtins,
		servers:   opts.Servers,
		bridge:    opts.Bridge,
		sessions:  opts.Sessions,
		prompts:   opts.Prompts,
		loader:    opts.Loader,
		callbacks: NewCallbackManager(),
	}
	e.registerBuiltins(opts.HTTPClient)
	return e
}

// registerBuiltins installs the standard builtin set, skipping names a caller
// already registered.
func (e *Engine) registerBuiltins(client *http.Client) {
	defaults := []tool.Tool{
		tool.NewSetContextTool(),
		tool.NewTimerTool(),
		tool.NewNotifyTool(),
		tool.NewFetchTool(client),
		tool.NewPromptTool(e.prompts),
	}
	for _, t := range defaults {
		if _, ok := e.builtins.Get(t.Name()); !ok {
			e.builtins.Register(t)
		}
	}

	if _, ok := e.builtins.Get("chat"); !ok {
		dispatcher := agent.NewDispatcher(e.builtins, e.servers, agent.WithDispatcherLogger(e.logger))
		chat := agent.NewChat(e.agents, dispatcher, func(o *agent.ChatOptions) {
			o.Models = e.models
			o.Tools = e.tools
			o.Prompts = e.prompts
			o.Sessions = e.sessions
			o.Bridge = e.bridge
			o.Workflows = e
			o.BridgeTimeout = e.cfg.BridgeTimeout
			o.Logger = e.logger
		})
		e.builtins.Register(chat)
	}
}

// Callbacks exposes the engine's callback manager for lifecycle hook
// registration.
func (e *Engine) Callbacks() *CallbackManager { return e.callbacks }

// Agents returns the agent registry.
func (e *Engine) Agents() *agent.Registry { return e.agents }

// Models returns the model registry.
func (e *Engine) Models() *model.Registry { return e.models }

// Builtins returns the builtin tool set.
func (e *Engine) Builtins() *tool.Builtins { return e.builtins }

// Bridge returns the client tool bridge, nil when none is configured.
func (e *Engine) Bridge() *bridge.Bridge { return e.bridge }

// RunResult is the outcome of one workflow run.
type RunResult struct {
	// RunID is the unique id minted for the run.
	RunID string

	// Output is the run's declared result: the output of the single exit
	// node, an object keyed by node id when several exits are declared, or
	// the accumulated reply output when the graph declares none.
	Output core.Value

	// Reply carries the metadata of the last chat turn (chat_id, output).
	Reply core.Value

	// Ctx is a snapshot of the shared context key space at completion.
	Ctx core.Value

	// Statuses maps every node id to its final scheduler status.
	Statuses map[string]string
}

// Run merges and executes a workflow graph against the given input. Graphs
// with flow imports require a configured Loader; already-flat graphs run
// as-is. The call blocks until the run reaches quiescence or fails
// terminally.
func (e *Engine) Run(ctx context.Context, root *graph.Graph, input core.Value) (*RunResult, error) {
	return e.run(ctx, root, ".", input)
}

// RunFile loads, merges, and executes the workflow unit stored at path.
func (e *Engine) RunFile(ctx context.Context, path string, input core.Value) (*RunResult, error) {
	if e.loader == nil {
		return nil, core.NewRunError(core.CodeParse, "no workflow loader configured")
	}
	canonical, err := e.loader.Canonical(".", path)
	if err != nil {
		return nil, err
	}
	g, err := e.loader.Load(canonical)
	if err != nil {
		return nil, err
	}
	return e.run(ctx, g, filepath.Dir(canonical), input)
}

func (e *Engine) run(ctx context.Context, root *graph.Graph, baseDir string, input core.Value) (*RunResult, error) {
	merged, err := e.merge(root, baseDir)
	if err != nil {
		return nil, err
	}

	runID := uuid.NewString()
	ec := core.NewExecutionContext(runID, input, e.sink)

	e.logger.Info("run.start", "run_id", runID, "workflow", merged.Slug, "nodes", merged.Len())

	result, err := e.runGraph(ctx, merged, ec)
	if err != nil {
		e.logger.Error("run.failed", "run_id", runID, "error", err.Error())
		return nil, err
	}

	ev := core.NewEvent(runID, core.EventDone)
	ev.Value = result.Output
	ec.Emit(ev)
	e.logger.Info("run.complete", "run_id", runID)
	return result, nil
}

// RunWorkflow executes the workflow unit at path on an existing execution
// context. It implements the workflow runner used by agents whose definition
// delegates their turn to a nested workflow; the nested graph shares the
// caller's context so its nodes see the rebound input message.
func (e *Engine) RunWorkflow(ctx context.Context, path, baseDir string, ec *core.ExecutionContext) error {
	if e.loader == nil {
		return core.NewRunError(core.CodeParse, "no workflow loader configured")
	}
	canonical, err := e.loader.Canonical(baseDir, path)
	if err != nil {
		return err
	}
	g, err := e.loader.Load(canonical)
	if err != nil {
		return err
	}
	merged, err := e.merge(g, filepath.Dir(canonical))
	if err != nil {
		return err
	}

	e.logger.Debug("run.nested", "run_id", ec.RunID(), "workflow", merged.Slug)
	_, err = e.runGraph(ctx, merged, ec)
	return err
}

// merge flattens flow imports when present and validates the resulting
// graph before any node executes. Flat graphs pass through untouched so
// callers without a loader can still run them.
func (e *Engine) merge(root *graph.Graph, baseDir string) (*graph.Graph, error) {
	merged := root
	if len(root.Imports) > 0 || len(root.PendingEdges) > 0 {
		if e.loader == nil {
			return nil, core.NewRunError(core.CodeParse,
				"workflow %q declares imports but no loader is configured", root.Slug)
		}
		var err error
		merged, err = graph.Merge(root, baseDir, e.loader)
		if err != nil {
			return nil, err
		}
	}
	if err := merged.Validate(); err != nil {
		return nil, err
	}
	return merged, nil
}

func (e *Engine) runGraph(ctx context.Context, g *graph.Graph, ec *core.ExecutionContext) (*RunResult, error) {
	s := newScheduler(g, ec, func(ctx context.Context, n *graph.Node) (core.Value, error) {
		return e.execNode(ctx, ec, n)
	}, e.logger, e.cfg.MaxConcurrentNodes)

	if err := s.run(ctx); err != nil {
		return nil, err
	}

	return &RunResult{
		RunID:    ec.RunID(),
		Output:   e.collectOutput(g, ec),
		Reply:    ec.Reply(),
		Ctx:      ec.Ctx(),
		Statuses: s.statuses(),
	}, nil
}

// collectOutput derives the run's result value from the graph's declared
// exits. Without declared exits the accumulated chat reply output stands in,
// which matches what conversational workflows produce.
func (e *Engine) collectOutput(g *graph.Graph, ec *core.ExecutionContext) core.Value {
	switch len(g.Exits) {
	case 0:
		return ec.Reply().Field("output")
	case 1:
		return ec.Output(g.Exits[0])
	default:
		fields := make(map[string]core.Value, len(g.Exits))
		for _, id := range g.Exits {
			fields[id] = ec.Output(id)
		}
		return core.Object(fields)
	}
}

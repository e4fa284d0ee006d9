package toolserver

import (
	"context"
	"strings"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
	"github.com/hupe1980/flowmesh/tool"
)

// Caller invokes one tool on a configured server. *Client satisfies it;
// tests may substitute fakes.
type Caller interface {
	CallTool(ctx context.Context, config ServerConfig, name string, args core.Value) (core.Value, error)
}

type entry struct {
	config ServerConfig
	name   string
	def    tool.Definition
}

// Registry indexes the tools of all connected servers under namespaced names
// ("alias.tool_name"). It is safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]entry
	caller Caller
	logger logging.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for dispatch diagnostics.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates a registry that dispatches calls through caller.
func NewRegistry(caller Caller, optFns ...RegistryOption) *Registry {
	r := &Registry{
		tools:  map[string]entry{},
		caller: caller,
		logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r
}

// AddServer indexes a server's tools under its namespace. The definitions
// usually come from Client.ListTools at startup.
func (r *Registry) AddServer(config ServerConfig, defs []tool.Definition) {
	ns := config.namespace()
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, def := range defs {
		qualified := ns + "." + def.Name
		r.tools[qualified] = entry{config: config, name: def.Name, def: def}
		r.logger.Debug("toolserver.register", "tool", qualified, "server", config.Name)
	}
}

// Lookup reports whether a namespaced tool name matches a server tool.
func (r *Registry) Lookup(qualified string) (tool.Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.tools[qualified]
	if !ok {
		return tool.Definition{}, false
	}
	return e.def, true
}

// Definitions returns the namespaced definitions of every indexed tool, for
// attaching server tools to a model request.
func (r *Registry) Definitions() []tool.Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]tool.Definition, 0, len(r.tools))
	for qualified, e := range r.tools {
		def := e.def
		def.Name = qualified
		defs = append(defs, def)
	}
	return defs
}

// Call dispatches a namespaced tool invocation to its server. The boolean
// reports whether the name matched a server tool; an unmatched name lets the
// dispatch chain fall through to the client bridge.
func (r *Registry) Call(ctx context.Context, qualified string, args core.Value) (core.Value, bool, error) {
	r.mu.RLock()
	e, ok := r.tools[qualified]
	r.mu.RUnlock()
	if !ok {
		return core.Null(), false, nil
	}

	r.logger.Info("toolserver.call", "tool", qualified, "server", e.config.Name)
	result, err := r.caller.CallTool(ctx, e.config, e.name, args)
	if err != nil {
		return core.Null(), true, err
	}
	return result, true, nil
}

// Namespaces returns the set of server namespaces currently indexed.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	seen := map[string]bool{}
	var out []string
	for qualified := range r.tools {
		ns := qualified[:strings.Index(qualified, ".")]
		if !seen[ns] {
			seen[ns] = true
			out = append(out, ns)
		}
	}
	return out
}

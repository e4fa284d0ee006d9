package tool

import (
	"sync"
)

// Builtins is the in-process tool registry consulted first by the dispatch
// chain. It is safe for concurrent use.
type Builtins struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewBuiltins creates an empty builtin registry.
func NewBuiltins() *Builtins {
	return &Builtins{tools: map[string]Tool{}}
}

// Register adds a tool, replacing any previous tool with the same name.
func (b *Builtins) Register(t Tool) {
	b.mu.Lock()
	b.tools[t.Name()] = t
	b.mu.Unlock()
}

// Get returns the builtin registered under name.
func (b *Builtins) Get(name string) (Tool, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	t, ok := b.tools[name]
	return t, ok
}

// Names returns the registered builtin names.
func (b *Builtins) Names() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	names := make([]string, 0, len(b.tools))
	for name := range b.tools {
		names = append(names, name)
	}
	return names
}

// Definitions returns function-calling definitions for every registered
// builtin, for attaching the builtin set to a model request.
func (b *Builtins) Definitions() []Definition {
	b.mu.RLock()
	defer b.mu.RUnlock()
	defs := make([]Definition, 0, len(b.tools))
	for _, t := range b.tools {
		defs = append(defs, DefinitionOf(t))
	}
	return defs
}

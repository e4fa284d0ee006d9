package tool

import (
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
)

// Definition is a named, described, JSON-schema-parameterized function
// signature in the OpenAI function-calling shape. Definitions describe tools
// to models; they carry no implementation.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Value renders the definition in the wire shape attached to model requests.
func (d Definition) Value() core.Value {
	fn := map[string]core.Value{
		"name": core.String(d.Name),
	}
	if d.Description != "" {
		fn["description"] = core.String(d.Description)
	}
	if d.Parameters != nil {
		fn["parameters"] = core.FromAny(d.Parameters)
	}
	return core.Object(map[string]core.Value{
		"type":     core.String("function"),
		"function": core.Object(fn),
	})
}

// DefinitionOf derives a Definition from a Tool implementation.
func DefinitionOf(t Tool) Definition {
	return Definition{
		Name:        t.Name(),
		Description: t.Description(),
		Parameters:  t.Parameters(),
	}
}

// Resource is a named bundle of tool definitions identified by slug. Agents
// and workflow calls reference bundles by slug instead of repeating inline
// definition lists.
type Resource struct {
	Slug        string
	Name        string
	Description string
	Tools       []Definition
}

// Registry stores tool resources by slug. It is safe for concurrent use.
type Registry struct {
	mu        sync.RWMutex
	resources map[string]Resource
	logger    logging.Logger
}

// RegistryOption customizes a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration diagnostics.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty tool resource registry.
func NewRegistry(optFns ...RegistryOption) *Registry {
	r := &Registry{
		resources: map[string]Resource{},
		logger:    logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r
}

// Register adds a resource, replacing any previous resource with the same
// slug.
func (r *Registry) Register(res Resource) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.resources[res.Slug]; exists {
		r.logger.Warn("tool.registry.overwrite", "slug", res.Slug)
	}
	r.logger.Debug("tool.registry.register", "slug", res.Slug, "tools", len(res.Tools))
	r.resources[res.Slug] = res
}

// RegisterAll adds multiple resources.
func (r *Registry) RegisterAll(resources []Resource) {
	for _, res := range resources {
		r.Register(res)
	}
}

// Get returns the resource registered under slug.
func (r *Registry) Get(slug string) (Resource, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	res, ok := r.resources[slug]
	return res, ok
}

// Contains reports whether a resource is registered under slug.
func (r *Registry) Contains(slug string) bool {
	_, ok := r.Get(slug)
	return ok
}

// Slugs returns all registered resource slugs.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.resources))
	for slug := range r.resources {
		slugs = append(slugs, slug)
	}
	return slugs
}

// Count returns the number of registered resources.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.resources)
}

// ResolveBundles looks up each slug and merges all referenced definitions,
// deduplicating by function name with later bundles overriding same-named
// tools from earlier ones. An unknown slug is a resolution error.
func (r *Registry) ResolveBundles(slugs []string) ([]Definition, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	merged := map[string]int{}
	var out []Definition
	for _, slug := range slugs {
		res, ok := r.resources[slug]
		if !ok {
			return nil, core.NewRunError(core.CodeToolResolution, "tool resource %q not found", slug)
		}
		r.logger.Debug("tool.registry.resolve", "slug", slug, "tools", len(res.Tools))
		for _, def := range res.Tools {
			if idx, seen := merged[def.Name]; seen {
				out[idx] = def
				continue
			}
			merged[def.Name] = len(out)
			out = append(out, def)
		}
	}
	return out, nil
}

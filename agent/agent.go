package agent

import (
	"sync"

	"github.com/hupe1980/flowmesh/logging"
)

// Agent is a declarative agent definition referenced by chat() calls. It
// binds a model, a system prompt (inline or via a prompt slug), sampling
// defaults, a default tool specification, and optionally a workflow path that
// replaces the model loop entirely.
type Agent struct {
	Slug             string   `json:"slug"`
	Model            string   `json:"model,omitempty"`
	SystemPrompt     string   `json:"system_prompt,omitempty"`
	SystemPromptSlug string   `json:"system_prompt_slug,omitempty"`
	Temperature      *float64 `json:"temperature,omitempty"`

	// Tools is the default tool specification applied when a chat() call does
	// not pass its own: "@slug", a JSON array of slugs, or inline JSON
	// definitions.
	Tools string `json:"tools,omitempty"`

	// Workflow, when set, delegates the agent's turns to a workflow file
	// instead of a model conversation.
	Workflow string `json:"workflow,omitempty"`

	// BaseDir resolves a relative Workflow path. Populated by the loader from
	// the location of the agent definition file.
	BaseDir string `json:"-"`
}

// Registry stores agent definitions by slug. Safe for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	logger logging.Logger
}

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithRegistryLogger sets the logger used for registration diagnostics.
func WithRegistryLogger(logger logging.Logger) RegistryOption {
	return func(r *Registry) { r.logger = logger }
}

// NewRegistry creates an empty agent registry.
func NewRegistry(optFns ...RegistryOption) *Registry {
	r := &Registry{
		agents: make(map[string]*Agent),
		logger: logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(r)
	}
	return r
}

// Register adds an agent definition, replacing any previous entry with the
// same slug.
func (r *Registry) Register(a *Agent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.agents[a.Slug]; exists {
		r.logger.Warn("agent.register.overwrite", "slug", a.Slug)
	}
	r.agents[a.Slug] = a
}

// Get returns the agent registered under slug.
func (r *Registry) Get(slug string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.agents[slug]
	return a, ok
}

// Slugs returns the registered agent slugs in unspecified order.
func (r *Registry) Slugs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	slugs := make([]string, 0, len(r.agents))
	for slug := range r.agents {
		slugs = append(slugs, slug)
	}
	return slugs
}

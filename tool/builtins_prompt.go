package tool

import (
	"context"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/internal/util"
)

// PromptStore holds prompt templates by slug. Templates use {{var}} markers;
// call arguments and the run's $ctx keys are available as variables, and a
// marker that matches neither stays literal in the rendered text.
type PromptStore struct {
	mu      sync.RWMutex
	prompts map[string]string
}

// NewPromptStore creates an empty prompt store.
func NewPromptStore() *PromptStore {
	return &PromptStore{prompts: map[string]string{}}
}

// Register adds a template under slug, replacing any previous one.
func (s *PromptStore) Register(slug, template string) {
	s.mu.Lock()
	s.prompts[slug] = template
	s.mu.Unlock()
}

// Get returns the template registered under slug.
func (s *PromptStore) Get(slug string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.prompts[slug]
	return t, ok
}

// NewPromptTool renders a registered prompt template:
//
//	p(slug="greeting", name="Ada")
//
// Call arguments override same-named $ctx keys during rendering.
func NewPromptTool(store *PromptStore) *FunctionTool {
	return NewFunctionTool(
		"p",
		"Render a registered prompt template with the current context",
		nil,
		func(_ context.Context, ec *core.ExecutionContext, args map[string]any) (any, error) {
			slug, _ := args["slug"].(string)
			if slug == "" {
				slug, _ = args["file"].(string)
			}
			if slug == "" {
				return nil, NewToolError("p", "'slug' parameter is required", "VALIDATION_ERROR")
			}

			template, ok := store.Get(slug)
			if !ok {
				return nil, NewToolError("p", "prompt "+slug+" not found", "EXECUTION_ERROR")
			}

			state := map[string]any{}
			if fields, ok := ec.Ctx().Fields(); ok {
				for key, val := range fields {
					state[key] = val.ToAny()
				}
			}
			for key, val := range args {
				if key == "slug" || key == "file" {
					continue
				}
				state[key] = val
			}

			rendered, err := util.RenderTemplate(template, state)
			if err != nil {
				return nil, err
			}
			return rendered, nil
		},
	)
}

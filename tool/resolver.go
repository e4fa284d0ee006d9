package tool

import (
	"encoding/json"
	"strings"

	"github.com/hupe1980/flowmesh/core"
)

// Resolve determines the tool definitions attached to a model call. The
// call's own tools parameter takes priority over the agent's default tool
// configuration; both use the same grammar:
//
//	@slug                          single bundle reference
//	["slug-a", "slug-b"]           multiple bundle references, later bundles
//	                               override same-named tools from earlier ones
//	[{"type":"function", ...}]     inline definition list
//
// An empty configuration yields no tools.
func Resolve(callParam, agentParam string, registry *Registry) ([]Definition, error) {
	spec := strings.TrimSpace(callParam)
	if spec == "" {
		spec = strings.TrimSpace(agentParam)
	}
	if spec == "" {
		return nil, nil
	}
	return ParseSpec(spec, registry)
}

// ParseSpec parses one tool configuration string into definitions, resolving
// bundle references through the registry.
func ParseSpec(spec string, registry *Registry) ([]Definition, error) {
	spec = strings.TrimSpace(spec)

	if strings.HasPrefix(spec, "@") {
		slug := spec[1:]
		res, ok := registry.Get(slug)
		if !ok {
			return nil, core.NewRunError(core.CodeToolResolution, "tool resource %q not found", slug)
		}
		return append([]Definition{}, res.Tools...), nil
	}

	var slugs []string
	if err := json.Unmarshal([]byte(spec), &slugs); err == nil {
		return registry.ResolveBundles(slugs)
	}

	defs, err := parseInline(spec)
	if err != nil {
		return nil, core.NewRunError(core.CodeToolResolution,
			"tools parameter is neither a bundle reference nor an inline definition list: %v", err)
	}
	return defs, nil
}

// parseInline decodes an inline JSON definition list. Both the wrapped
// OpenAI function-calling shape and a flat {name, description, parameters}
// shape are accepted.
func parseInline(spec string) ([]Definition, error) {
	var raw []struct {
		Type     string `json:"type"`
		Function *struct {
			Name        string         `json:"name"`
			Description string         `json:"description"`
			Parameters  map[string]any `json:"parameters"`
		} `json:"function"`
		Name        string         `json:"name"`
		Description string         `json:"description"`
		Parameters  map[string]any `json:"parameters"`
	}
	if err := json.Unmarshal([]byte(spec), &raw); err != nil {
		return nil, err
	}

	defs := make([]Definition, 0, len(raw))
	for _, entry := range raw {
		if entry.Function != nil {
			defs = append(defs, Definition{
				Name:        entry.Function.Name,
				Description: entry.Function.Description,
				Parameters:  entry.Function.Parameters,
			})
			continue
		}
		defs = append(defs, Definition{
			Name:        entry.Name,
			Description: entry.Description,
			Parameters:  entry.Parameters,
		})
	}
	return defs, nil
}

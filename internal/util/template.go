package util

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

var templateVarPattern = regexp.MustCompile(`\{\{\s*([A-Za-z_][\w.]*)\s*\}\}`)

// RenderTemplate substitutes {{var}} markers with values from state. Dotted
// names drill into nested maps. Markers that resolve to nothing are left
// literal in the output and values are inserted verbatim, never escaped,
// since rendered prompts go to models, not browsers.
func RenderTemplate(text string, state map[string]any) (string, error) {
	if !strings.Contains(text, "{{") { // fast path: no template markers
		return text, nil
	}

	rendered := templateVarPattern.ReplaceAllStringFunc(text, func(marker string) string {
		name := templateVarPattern.FindStringSubmatch(marker)[1]
		value, ok := lookupPath(state, name)
		if !ok || value == nil {
			return marker
		}
		return formatValue(value)
	})
	return rendered, nil
}

// lookupPath resolves a dotted name against nested string-keyed maps.
func lookupPath(state map[string]any, name string) (any, bool) {
	segs := strings.Split(name, ".")
	var current any = state
	for _, seg := range segs {
		m, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = m[seg]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

// formatValue renders a substituted value: strings verbatim, everything
// structured as compact JSON.
func formatValue(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case bool, int, int64, float32, float64:
		return fmt.Sprintf("%v", v)
	default:
		encoded, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(encoded)
	}
}

package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseState(t *testing.T) {
	tests := []struct {
		name          string
		raw           string
		input, output string
		stream        bool
		persist       bool
	}{
		{
			name:  "default is context_visible on both sides",
			raw:   "",
			input: StateContextVisible, output: StateContextVisible,
			stream: true, persist: true,
		},
		{
			name:  "single value applies to both sides",
			raw:   "silent",
			input: StateSilent, output: StateSilent,
			stream: false, persist: false,
		},
		{
			name:  "combination splits input and output",
			raw:   "context_hidden:context_visible",
			input: StateContextHidden, output: StateContextVisible,
			stream: true, persist: true,
		},
		{
			name:  "hidden input with display only output",
			raw:   "silent:display_only",
			input: StateSilent, output: StateDisplayOnly,
			stream: true, persist: false,
		},
		{
			name:  "persisted input with silent output",
			raw:   "context_hidden:silent",
			input: StateContextHidden, output: StateSilent,
			stream: false, persist: true,
		},
		{
			name:  "display_only alone streams without persisting",
			raw:   "display_only",
			input: StateDisplayOnly, output: StateDisplayOnly,
			stream: true, persist: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := ParseState(tt.raw)
			assert.Equal(t, tt.input, s.Input)
			assert.Equal(t, tt.output, s.Output)
			assert.Equal(t, tt.stream, s.ShouldStream(), "ShouldStream")
			assert.Equal(t, tt.persist, s.ShouldPersist(), "ShouldPersist")
		})
	}
}

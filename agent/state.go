package agent

import "strings"

// Message states controlling visibility and persistence of a chat exchange.
const (
	// StateContextVisible persists the message and shows it to the user.
	StateContextVisible = "context_visible"
	// StateContextHidden persists the message without showing it.
	StateContextHidden = "context_hidden"
	// StateDisplayOnly shows the message without persisting it.
	StateDisplayOnly = "display_only"
	// StateSilent neither persists nor shows the message.
	StateSilent = "silent"
)

// CallState captures the input/output state pair of one chat() call.
//
// The state parameter accepts a single value ("silent") applied to both
// sides, or an input:output combination ("context_hidden:context_visible").
type CallState struct {
	Raw    string
	Input  string
	Output string
}

// ParseState parses a state parameter. An empty value defaults to
// context_visible on both sides.
func ParseState(raw string) CallState {
	if raw == "" {
		raw = StateContextVisible
	}
	input, output, found := strings.Cut(raw, ":")
	if !found {
		output = input
	}
	return CallState{Raw: raw, Input: input, Output: output}
}

// ShouldStream reports whether the model's reply is visible to the user and
// therefore streamed token by token.
func (s CallState) ShouldStream() bool {
	return s.Output == StateContextVisible || s.Output == StateDisplayOnly
}

// ShouldPersist reports whether the exchange joins the durable conversation,
// inheriting and updating reply.chat_id.
func (s CallState) ShouldPersist() bool {
	return s.Input == StateContextVisible || s.Input == StateContextHidden
}

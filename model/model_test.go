package model

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMockModelCannedResponse(t *testing.T) {
	m := NewMockModel("test-model", "mock")
	m.AddResponse("hello", "hi there")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
	})
	final, err := Collect(respCh, errCh, nil)
	require.NoError(t, err)
	assert.Equal(t, "hi there", final.Content)
	assert.Equal(t, "stop", final.FinishReason)
}

func TestMockModelStreamingDeltas(t *testing.T) {
	m := NewMockModel("test-model", "mock")
	m.AddResponse("hello", "abc")

	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "hello"}},
		Stream:   true,
	})

	var deltas []string
	final, err := Collect(respCh, errCh, func(text string) { deltas = append(deltas, text) })
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, deltas)
	assert.Equal(t, "abc", final.Content)
}

func TestMockModelToolCallTurn(t *testing.T) {
	m := NewMockModel("test-model", "mock")
	m.AddToolCalls("what is the price?",
		ToolCall{ID: "call_1", Name: "get_price", Arguments: `{"symbol":"ACME"}`})
	m.AddResponse(`{"price":42.5}`, "The price is 42.5")

	// First turn answers with a tool call.
	respCh, errCh := m.Generate(context.Background(), Request{
		Messages: []Message{{Role: RoleUser, Content: "what is the price?"}},
	})
	final, err := Collect(respCh, errCh, nil)
	require.NoError(t, err)
	assert.Equal(t, "tool_calls", final.FinishReason)
	require.Len(t, final.ToolCalls, 1)
	assert.Equal(t, "get_price", final.ToolCalls[0].Name)

	// Second turn, keyed by the tool result, produces text.
	respCh, errCh = m.Generate(context.Background(), Request{
		Messages: []Message{
			{Role: RoleUser, Content: "what is the price?"},
			{Role: RoleAssistant, ToolCalls: final.ToolCalls},
			{Role: RoleTool, ToolCallID: "call_1", Content: `{"price":42.5}`},
		},
	})
	final, err = Collect(respCh, errCh, nil)
	require.NoError(t, err)
	assert.Equal(t, "The price is 42.5", final.Content)

	requests := m.Requests()
	require.Len(t, requests, 2)
	assert.Len(t, requests[1].Messages, 3)
}

func TestMockModelEmptyRequest(t *testing.T) {
	m := NewMockModel("test-model", "mock")
	respCh, errCh := m.Generate(context.Background(), Request{})
	_, err := Collect(respCh, errCh, nil)
	assert.Error(t, err)
}

func TestRegistryDefaultAndLookup(t *testing.T) {
	r := NewRegistry()
	first := NewMockModel("first", "mock")
	second := NewMockModel("second", "mock")
	r.Register("first", first)
	r.Register("second", second)

	got, ok := r.Get("")
	require.True(t, ok, "first registered model is the default")
	assert.Equal(t, "first", got.Info().Name)

	r.SetDefault("second")
	got, ok = r.Get("")
	require.True(t, ok)
	assert.Equal(t, "second", got.Info().Name)

	_, ok = r.Get("missing")
	assert.False(t, ok)
	assert.ElementsMatch(t, []string{"first", "second"}, r.Names())
}

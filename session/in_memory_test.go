package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/model"
)

// Interface compliance (compile-time assertion)
var _ Store = (*InMemoryStore)(nil)

func TestInMemoryStoreAppendAndLoad(t *testing.T) {
	s := NewInMemoryStore()

	history, err := s.Messages("chat-1")
	require.NoError(t, err)
	assert.Empty(t, history, "unknown chat id yields empty history")

	require.NoError(t, s.Append("chat-1",
		model.Message{Role: model.RoleUser, Content: "hello"},
		model.Message{Role: model.RoleAssistant, Content: "hi"},
	))
	require.NoError(t, s.Append("chat-1",
		model.Message{Role: model.RoleUser, Content: "how are you?"},
	))

	history, err = s.Messages("chat-1")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "hello", history[0].Content)
	assert.Equal(t, "how are you?", history[2].Content)
	assert.Equal(t, 1, s.Len())
}

func TestInMemoryStoreClonesHistory(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Append("chat-1", model.Message{Role: model.RoleUser, Content: "original"}))

	history, err := s.Messages("chat-1")
	require.NoError(t, err)
	history[0].Content = "mutated"

	again, err := s.Messages("chat-1")
	require.NoError(t, err)
	assert.Equal(t, "original", again[0].Content)
}

func TestInMemoryStoreDelete(t *testing.T) {
	s := NewInMemoryStore()
	require.NoError(t, s.Append("chat-1", model.Message{Role: model.RoleUser, Content: "hello"}))
	require.NoError(t, s.Delete("chat-1"))

	history, err := s.Messages("chat-1")
	require.NoError(t, err)
	assert.Empty(t, history)
	assert.Equal(t, 0, s.Len())
}

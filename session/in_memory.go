package session

import (
	"sync"

	"github.com/hupe1980/flowmesh/model"
)

// Store is the persistence boundary for chat conversations. Implementations
// must be safe for concurrent use.
type Store interface {
	// Messages returns the stored history for a chat id, oldest first.
	// An unknown chat id yields an empty history, not an error.
	Messages(chatID string) ([]model.Message, error)

	// Append adds messages to a chat, creating it on first use.
	Append(chatID string, msgs ...model.Message) error

	// Delete removes a chat and its history.
	Delete(chatID string) error
}

// InMemoryStore is a volatile Store implementation keeping conversations in a
// process local map. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned histories are cloned to prevent
// external mutation of internal state.
type InMemoryStore struct {
	mu    sync.RWMutex
	chats map[string][]model.Message
}

// NewInMemoryStore constructs an empty in‑memory conversation store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{chats: make(map[string][]model.Message)}
}

// Messages returns a clone of the stored history for a chat id.
func (s *InMemoryStore) Messages(chatID string) ([]model.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	history, ok := s.chats[chatID]
	if !ok {
		return nil, nil
	}
	out := make([]model.Message, len(history))
	copy(out, history)
	return out, nil
}

// Append adds messages to an existing or newly created chat.
func (s *InMemoryStore) Append(chatID string, msgs ...model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chats[chatID] = append(s.chats[chatID], msgs...)
	return nil
}

// Delete removes a chat and its history.
func (s *InMemoryStore) Delete(chatID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.chats, chatID)
	return nil
}

// Len returns the number of stored chats.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.chats)
}

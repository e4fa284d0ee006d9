package model

import (
	"context"
	"fmt"
	"sync"
)

// Message roles used throughout the chat history.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// ToolCall represents a function call request surfaced by a model provider.
// Unified across vendors so downstream logic does not need per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"` // JSON string of arguments
}

// Message is one entry in the conversation history sent to a model.
// Assistant messages may carry ToolCalls; tool messages carry the result for
// the call identified by ToolCallID.
type Message struct {
	Role       string     `json:"role"`
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (draft agnostic, minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Request captures the normalized model input produced by agent calls.
type Request struct {
	System      string           `json:"system,omitempty"`
	Messages    []Message        `json:"messages"`
	Temperature *float64         `json:"temperature,omitempty"`
	Tools       []ToolDefinition `json:"tools,omitempty"`
	Stream      bool             `json:"stream,omitempty"`
}

// TokenUsage captures token usage statistics for a response.
type TokenUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Response is a (partial or final) chunk emitted by a model.
// Partial responses carry an incremental Content delta; the final response
// carries the full assistant turn including any tool call requests.
type Response struct {
	ID           string      `json:"id"`
	Partial      bool        `json:"partial"`
	Content      string      `json:"content"`
	ToolCalls    []ToolCall  `json:"tool_calls,omitempty"`
	FinishReason string      `json:"finish_reason"` // "stop", "length", "tool_calls", etc.
	Usage        *TokenUsage `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"` // "openai", "anthropic", "local", etc.
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required by agents to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Collect drains a Generate stream. Partials with content are forwarded to
// onDelta (may be nil); the last non-partial response is returned. Provider
// errors win over a missing final response.
func Collect(respCh <-chan Response, errCh <-chan error, onDelta func(text string)) (Response, error) {
	var final Response
	var sawFinal bool
	for resp := range respCh {
		if resp.Partial {
			if onDelta != nil && resp.Content != "" {
				onDelta(resp.Content)
			}
			continue
		}
		final = resp
		sawFinal = true
	}
	if err := <-errCh; err != nil {
		return Response{}, err
	}
	if !sawFinal {
		return Response{}, fmt.Errorf("model produced no final response")
	}
	return final, nil
}

// Registry maps logical model names to Model implementations so workflows can
// reference models declaratively. Safe for concurrent use.
type Registry struct {
	mu          sync.RWMutex
	models      map[string]Model
	defaultName string
}

// NewRegistry creates an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register adds a model under the given name, replacing any previous entry.
// The first registered model becomes the default.
func (r *Registry) Register(name string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.models) == 0 {
		r.defaultName = name
	}
	r.models[name] = m
}

// SetDefault selects the model returned for an empty name lookup.
func (r *Registry) SetDefault(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.defaultName = name
}

// Get returns the model registered under name. An empty name resolves to the
// default model.
func (r *Registry) Get(name string) (Model, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if name == "" {
		name = r.defaultName
	}
	m, ok := r.models[name]
	return m, ok
}

// Names returns the registered model names in unspecified order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.models))
	for name := range r.models {
		names = append(names, name)
	}
	return names
}

// MockModel is a lightweight in‑memory Model useful for tests & examples.
// Canned completions and tool call turns are keyed by the latest user or tool
// message content.
type MockModel struct {
	mu        sync.Mutex
	info      Info
	responses map[string]string
	toolTurns map[string][]ToolCall
	requests  []Request
}

// NewMockModel constructs a MockModel with basic tool support enabled.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			SupportsTools: true,
		},
		responses: make(map[string]string),
		toolTurns: make(map[string][]ToolCall),
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// AddToolCalls registers a tool-call turn for an input prompt. The model
// answers that prompt with the calls instead of text.
func (m *MockModel) AddToolCalls(prompt string, calls ...ToolCall) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.toolTurns[prompt] = calls
}

// Requests returns every request seen so far, in call order.
func (m *MockModel) Requests() []Request {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Request, len(m.requests))
	copy(out, m.requests)
	return out
}

// Generate implements Model; emits optional streaming char chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.requests = append(m.requests, req)
	var inputText string
	for i := len(req.Messages) - 1; i >= 0; i-- {
		if role := req.Messages[i].Role; role == RoleUser || role == RoleTool {
			inputText = req.Messages[i].Content
			break
		}
	}
	calls := m.toolTurns[inputText]
	delete(m.toolTurns, inputText)
	full := m.responses[inputText]
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if len(req.Messages) == 0 {
			errCh <- fmt.Errorf("no messages provided")
			return
		}
		if len(calls) > 0 {
			respCh <- Response{
				Partial:      false,
				ToolCalls:    calls,
				FinishReason: "tool_calls",
			}
			return
		}
		if full == "" {
			full = fmt.Sprintf("Mock response to: %s", inputText)
		}
		if req.Stream {
			for _, r := range full {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Content: string(r)}:
				}
			}
		}
		respCh <- Response{
			Partial:      false,
			Content:      full,
			FinishReason: "stop",
			Usage: &TokenUsage{
				PromptTokens:     len(inputText),
				CompletionTokens: len(full),
				TotalTokens:      len(inputText) + len(full),
			},
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }

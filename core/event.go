package core

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// EventType categorizes observer stream events.
type EventType string

const (
	// EventNodeStart is emitted when a node begins executing.
	EventNodeStart EventType = "node_start"
	// EventContent carries an incremental model output fragment.
	EventContent EventType = "content"
	// EventNodeComplete is emitted when a node finishes successfully.
	EventNodeComplete EventType = "node_complete"
	// EventStatus carries a reply.status update from the workflow.
	EventStatus EventType = "status"
	// EventToolCall announces a client-bridge tool call awaiting external results.
	EventToolCall EventType = "tool_call"
	// EventError reports a node or run failure.
	EventError EventType = "error"
	// EventDone terminates the stream for a run.
	EventDone EventType = "done"
)

// Event is one entry in the ordered observer stream of a run. After emission
// it must be treated as immutable. Transports (SSE, CLI) consume Events via a
// Sink; the engine guarantees per-run ordering.
type Event struct {
	ID        string    `json:"id"`
	RunID     string    `json:"run_id"`
	Type      EventType `json:"type"`
	Node      string    `json:"node,omitempty"`
	Text      string    `json:"text,omitempty"`
	Value     Value     `json:"value,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// NewEvent creates an event bound to a run with a fresh id and UTC timestamp.
func NewEvent(runID string, typ EventType) Event {
	return Event{
		ID:        uuid.NewString(),
		RunID:     runID,
		Type:      typ,
		Timestamp: time.Now().UTC(),
	}
}

// Sink consumes observer events. Emit is fire-and-forget: implementations
// must not block the caller for long and must preserve arrival order per run.
type Sink interface {
	Emit(ev Event)
}

// NoOpSink discards all events. The default when no observer is attached.
type NoOpSink struct{}

// Emit implements Sink.
func (NoOpSink) Emit(Event) {}

// ChannelSink forwards events to a channel, dropping them if the channel is
// full so a slow consumer cannot stall the run.
type ChannelSink struct {
	Ch chan Event
}

// NewChannelSink creates a ChannelSink with the given buffer size.
func NewChannelSink(buffer int) *ChannelSink {
	return &ChannelSink{Ch: make(chan Event, buffer)}
}

// Emit implements Sink.
func (s *ChannelSink) Emit(ev Event) {
	select {
	case s.Ch <- ev:
	default:
	}
}

// CollectorSink buffers every event in memory. Intended for tests and
// synchronous (non-streaming) invocations.
type CollectorSink struct {
	mu     sync.Mutex
	events []Event
}

// Emit implements Sink.
func (s *CollectorSink) Emit(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
}

// Events returns a snapshot of collected events in arrival order.
func (s *CollectorSink) Events() []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Event, len(s.events))
	copy(out, s.events)
	return out
}

// OfType returns collected events matching the given type, in arrival order.
func (s *CollectorSink) OfType(typ EventType) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, ev := range s.events {
		if ev.Type == typ {
			out = append(out, ev)
		}
	}
	return out
}

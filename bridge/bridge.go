// Package bridge forwards tool calls that no builtin or tool server can
// handle to an external client (CLI, web frontend) and suspends the calling
// agent loop until the client reports results or a deadline elapses.
//
// The outbound side is an observer event carrying the calls and a correlation
// id; the inbound side is Resolve, invoked by the transport when the client
// answers with the same id.
package bridge

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/logging"
)

// DefaultTimeout bounds a client round trip when the caller does not set one.
const DefaultTimeout = 120 * time.Second

// Call is one tool invocation forwarded to the client.
type Call struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Result is the client's answer to one forwarded call.
type Result struct {
	ToolCallID string `json:"tool_call_id"`
	Content    string `json:"content"`
}

// ExecutedOnClient reports whether the result carries the terminal marker:
// the client already rendered the outcome and the agent loop should end
// instead of feeding the result back for another model turn.
func (r Result) ExecutedOnClient() bool {
	v, err := core.ParseJSON([]byte(r.Content))
	if err != nil {
		return false
	}
	return v.Field("executed_on_client").Truthy()
}

// pending owns the single-use completion channel of one in-flight round trip.
type pending struct {
	done chan []Result
	once sync.Once
}

func (p *pending) complete(results []Result) bool {
	delivered := false
	p.once.Do(func() {
		p.done <- results
		close(p.done)
		delivered = true
	})
	return delivered
}

// abandon claims the completion slot so a late Resolve reports false.
func (p *pending) abandon() {
	p.once.Do(func() { close(p.done) })
}

// Bridge correlates outbound tool-call events with inbound client results.
// It is safe for concurrent use; one Bridge serves all runs of an engine.
type Bridge struct {
	mu      sync.Mutex
	waiting map[string]*pending
	logger  logging.Logger
}

// Option customizes a Bridge.
type Option func(*Bridge)

// WithLogger sets the logger used for round-trip diagnostics.
func WithLogger(logger logging.Logger) Option {
	return func(b *Bridge) { b.logger = logger }
}

// New creates a client bridge.
func New(optFns ...Option) *Bridge {
	b := &Bridge{
		waiting: map[string]*pending{},
		logger:  logging.NoOpLogger{},
	}
	for _, fn := range optFns {
		fn(b)
	}
	return b
}

// EmitAndAwait publishes the calls on the run's observer stream and blocks
// until the client resolves them, the timeout elapses, or the run is
// cancelled. Calls with identical name and arguments are de-duplicated
// before emission. A zero timeout applies DefaultTimeout.
func (b *Bridge) EmitAndAwait(ctx context.Context, ec *core.ExecutionContext, calls []Call, timeout time.Duration) ([]Result, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	calls = dedupe(calls)

	id := uuid.NewString()
	p := &pending{done: make(chan []Result, 1)}
	b.mu.Lock()
	b.waiting[id] = p
	b.mu.Unlock()
	defer func() {
		b.mu.Lock()
		delete(b.waiting, id)
		b.mu.Unlock()
	}()

	names := make([]string, len(calls))
	items := make([]core.Value, len(calls))
	for i, call := range calls {
		names[i] = call.Name
		items[i] = core.Object(map[string]core.Value{
			"id":        core.String(call.ID),
			"name":      core.String(call.Name),
			"arguments": core.String(call.Arguments),
		})
	}
	b.logger.Info("bridge.await", "bridge_id", id, "tools", names)

	ev := core.NewEvent(ec.RunID(), core.EventToolCall)
	ev.Value = core.Object(map[string]core.Value{
		"bridge_id": core.String(id),
		"calls":     core.Array(items...),
	})
	ec.Emit(ev)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case results := <-p.done:
		b.logger.Info("bridge.resolved", "bridge_id", id, "results", len(results))
		return results, nil
	case <-timer.C:
		p.abandon()
		b.logger.Warn("bridge.timeout", "bridge_id", id, "timeout", timeout)
		return nil, core.NewRunError(core.CodeToolTimeout,
			"client did not answer tool calls within %s", timeout)
	case <-ctx.Done():
		p.abandon()
		b.logger.Warn("bridge.cancelled", "bridge_id", id)
		return nil, core.NewRunError(core.CodeCanceled, "run cancelled while awaiting client tools")
	}
}

// Resolve delivers the client's results for a bridge id. It reports false
// when the id is unknown or the round trip already completed (timed out,
// cancelled, or double-resolved).
func (b *Bridge) Resolve(bridgeID string, results []Result) bool {
	b.mu.Lock()
	p, ok := b.waiting[bridgeID]
	b.mu.Unlock()
	if !ok {
		return false
	}
	return p.complete(results)
}

// PendingCount returns the number of in-flight round trips.
func (b *Bridge) PendingCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.waiting)
}

func dedupe(calls []Call) []Call {
	seen := map[string]bool{}
	out := calls[:0]
	for _, call := range calls {
		key := call.Name + ":" + call.Arguments
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, call)
	}
	return out
}

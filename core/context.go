package core

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
)

// Reserved variable roots. A path whose first segment matches one of these is
// resolved against the corresponding context area and is never rewritten by
// graph merging.
const (
	RootInput  = "input"
	RootCtx    = "ctx"
	RootOutput = "output"
	RootReply  = "reply"
	RootLoop   = "loop"
)

// IsReservedRoot reports whether seg names a reserved variable root.
func IsReservedRoot(seg string) bool {
	switch seg {
	case RootInput, RootCtx, RootOutput, RootReply, RootLoop:
		return true
	}
	return false
}

// LoopScope is one active loop frame: the iteration variable binding plus the
// loop.index / loop.first / loop.last metadata visible to the body.
type LoopScope struct {
	Var   string // iteration variable name ("" for while loops)
	Value Value  // current element bound to Var
	Index int    // zero-based iteration counter
	First bool   // true only on the first iteration
	Last  bool   // true only on the last iteration (always false for while)
}

// runStack tracks nested sub-workflow executions for recursion and depth
// guarding. It is shared by reference between a context and its forks so a
// runtime-triggered sub-run cannot re-enter an ancestor workflow.
type runStack struct {
	mu       sync.Mutex
	frames   []string
	maxDepth int
}

// runState is the mutable state shared by every view of one run: the run
// input, the $ctx key space, per-node last-output slots, and the $reply
// metadata of the most recent chat-style call.
type runState struct {
	mu         sync.Mutex
	input      Value
	ctx        Value // object
	reply      Value // object
	lastOutput map[string]Value
	nodeErrors map[string]Value
	current    Value
}

// ExecutionContext is a view onto a run's shared state plus the chain of loop
// scopes enclosing the current execution branch. The shared state is held by
// reference, so every view of a run reads and writes the same $ctx and node
// outputs; the loop chain is owned by the view, so concurrently running loop
// nodes each see only their own iteration variable and loop metadata.
//
// One root context exists per top-level run. Compile-time flow imports share
// it (they are spliced into the same graph); loop bodies run on a WithLoop
// view; runtime-triggered sub-workflows receive an isolated Fork whose
// declared outputs are copied back by the engine.
//
// All mutating and reading methods are safe for concurrent use; single-key
// writes are atomic and the last writer wins, per the engine's concurrency
// contract.
type ExecutionContext struct {
	runID string
	sink  Sink
	stack *runStack
	state *runState
	loops []LoopScope // enclosing scopes, innermost last; never mutated after creation
}

// NewExecutionContext creates the root context for a run. A nil sink defaults
// to NoOpSink.
func NewExecutionContext(runID string, input Value, sink Sink) *ExecutionContext {
	if sink == nil {
		sink = NoOpSink{}
	}
	return &ExecutionContext{
		runID: runID,
		sink:  sink,
		stack: &runStack{maxDepth: 10},
		state: &runState{
			input:      input,
			ctx:        Object(nil),
			reply:      Object(nil),
			lastOutput: map[string]Value{},
			nodeErrors: map[string]Value{},
		},
	}
}

// RunID returns the run identifier this context belongs to.
func (ec *ExecutionContext) RunID() string { return ec.runID }

// Input returns the run input.
func (ec *ExecutionContext) Input() Value {
	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()
	return ec.state.input
}

// SetInputField replaces one top-level field of the run input and returns the
// previous binding. Agent workflow delegation uses it to rebind input.message
// around a nested run and restore it afterwards.
func (ec *ExecutionContext) SetInputField(name string, v Value) (Value, bool) {
	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()
	fields, _ := ec.state.input.Fields()
	prev, existed := fields[name]
	next := make(map[string]Value, len(fields)+1)
	for k, e := range fields {
		next[k] = e
	}
	next[name] = v
	ec.state.input = Object(next)
	return prev, existed
}

// Emit forwards an observer event to the run's sink.
func (ec *ExecutionContext) Emit(ev Event) {
	ev.RunID = ec.runID
	ec.sink.Emit(ev)
}

// Sink returns the observer sink attached to this run.
func (ec *ExecutionContext) Sink() Sink { return ec.sink }

// Set writes a dotted path into $ctx, creating intermediate objects as
// needed. Writing "reply.status" is redirected to the reply area and also
// emitted as a status event, mirroring the transparent thinking-stream
// behavior of notify().
func (ec *ExecutionContext) Set(path string, v Value) error {
	if path == "" {
		return fmt.Errorf("cannot set a value with an empty path")
	}
	segs := strings.Split(path, ".")
	if segs[0] == RootReply {
		return ec.setReplyPath(segs[1:], v)
	}
	if segs[0] == RootCtx {
		segs = segs[1:]
		if len(segs) == 0 {
			return fmt.Errorf("cannot overwrite the ctx root")
		}
	}
	ec.state.mu.Lock()
	updated, err := setIn(ec.state.ctx, segs, v)
	if err == nil {
		ec.state.ctx = updated
	}
	ec.state.mu.Unlock()
	return err
}

func (ec *ExecutionContext) setReplyPath(segs []string, v Value) error {
	if len(segs) == 0 {
		return fmt.Errorf("cannot overwrite the reply root")
	}
	ec.state.mu.Lock()
	updated, err := setIn(ec.state.reply, segs, v)
	if err == nil {
		ec.state.reply = updated
	}
	ec.state.mu.Unlock()
	if err != nil {
		return err
	}
	if len(segs) == 1 && segs[0] == "status" {
		ev := NewEvent(ec.runID, EventStatus)
		ev.Text = v.Text()
		ec.Emit(ev)
	}
	return nil
}

// setIn returns a copy of obj with the dotted path set. Intermediate
// non-object values are replaced by fresh objects.
func setIn(obj Value, segs []string, v Value) (Value, error) {
	if len(segs) == 0 {
		return v, nil
	}
	fields, ok := obj.Fields()
	if !ok {
		fields = nil
	}
	next := make(map[string]Value, len(fields)+1)
	for k, e := range fields {
		next[k] = e
	}
	child := next[segs[0]]
	if len(segs) == 1 {
		next[segs[0]] = v
		return Object(next), nil
	}
	if child.Kind() != KindObject {
		child = Object(nil)
	}
	updated, err := setIn(child, segs[1:], v)
	if err != nil {
		return obj, err
	}
	next[segs[0]] = updated
	return Object(next), nil
}

// Ctx returns a snapshot of the $ctx object.
func (ec *ExecutionContext) Ctx() Value {
	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()
	return ec.state.ctx
}

// Reply returns a snapshot of the $reply object.
func (ec *ExecutionContext) Reply() Value {
	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()
	return ec.state.reply
}

// SetOutput records a completed node's output, updating both the per-node
// slot and the "current" $output pointer.
func (ec *ExecutionContext) SetOutput(node string, v Value) {
	ec.state.mu.Lock()
	ec.state.lastOutput[node] = v
	ec.state.current = v
	ec.state.mu.Unlock()
}

// Output returns the recorded output of a node (null if it has not run).
func (ec *ExecutionContext) Output(node string) Value {
	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()
	return ec.state.lastOutput[node]
}

// SetNodeError records a node's failure for `$<node>.error` references and
// installs the $error object consumed by OnError handlers.
func (ec *ExecutionContext) SetNodeError(node string, runErr *RunError) {
	ec.state.mu.Lock()
	ec.state.nodeErrors[node] = runErr.Value()
	ec.state.mu.Unlock()
	// $error is addressed as ctx.error by handler expressions.
	_ = ec.Set("error", runErr.Value())
}

// WithLoop derives a view whose loop chain gains one scope. The loop node
// builds a fresh view from its own incoming context for every iteration;
// $ctx writes made inside the body persist on the shared state, only the
// scope itself (iteration variable, loop metadata) is dropped when the view
// goes out of use.
func (ec *ExecutionContext) WithLoop(scope LoopScope) *ExecutionContext {
	child := *ec
	loops := make([]LoopScope, len(ec.loops)+1)
	copy(loops, ec.loops)
	loops[len(ec.loops)] = scope
	child.loops = loops
	return &child
}
// Resolve evaluates a dotted variable path against the context. The first
// segment is matched against reserved roots, then loop iteration variables
// (innermost first), then node ids in the last-output map using the longest
// matching namespaced id. Missing paths yield (Null, false), never an error.
func (ec *ExecutionContext) Resolve(path string) (Value, bool) {
	segs := strings.Split(path, ".")
	if len(segs) == 0 || segs[0] == "" {
		return Null(), false
	}

	// The loop chain belongs to this view and is immutable, so it is read
	// without holding the state lock.
	switch segs[0] {
	case RootLoop:
		return ec.resolveLoop(segs[1:])
	case RootInput, RootCtx, RootOutput, RootReply:
		ec.state.mu.Lock()
		defer ec.state.mu.Unlock()
		switch segs[0] {
		case RootInput:
			return drill(ec.state.input, segs[1:])
		case RootCtx:
			return drill(ec.state.ctx, segs[1:])
		case RootOutput:
			return drill(ec.state.current, segs[1:])
		default:
			return drill(ec.state.reply, segs[1:])
		}
	}

	// Loop iteration variables shadow node outputs.
	for i := len(ec.loops) - 1; i >= 0; i-- {
		if ec.loops[i].Var != "" && ec.loops[i].Var == segs[0] {
			return drill(ec.loops[i].Value, segs[1:])
		}
	}

	ec.state.mu.Lock()
	defer ec.state.mu.Unlock()

	// Node ids may contain dots after merge; prefer the longest match.
	for n := len(segs); n >= 1; n-- {
		id := strings.Join(segs[:n], ".")
		if out, ok := ec.state.lastOutput[id]; ok {
			return resolveNodeRef(out, ec.state.nodeErrors[id], segs[n:])
		}
		if errVal, ok := ec.state.nodeErrors[id]; ok {
			return resolveNodeRef(Null(), errVal, segs[n:])
		}
	}

	// Bare ctx keys: $foo falls through to ctx.foo for ergonomic parity with
	// set_context writes.
	return drill(ec.state.ctx, segs)
}

func (ec *ExecutionContext) resolveLoop(rest []string) (Value, bool) {
	if len(ec.loops) == 0 || len(rest) == 0 {
		return Null(), false
	}
	scope := ec.loops[len(ec.loops)-1]
	switch rest[0] {
	case "index":
		return drill(Int(scope.Index), rest[1:])
	case "first":
		return drill(Bool(scope.First), rest[1:])
	case "last":
		return drill(Bool(scope.Last), rest[1:])
	default:
		return Null(), false
	}
}

func resolveNodeRef(output, errVal Value, rest []string) (Value, bool) {
	if len(rest) == 0 {
		return output, true
	}
	switch rest[0] {
	case "output":
		return drill(output, rest[1:])
	case "error":
		if errVal.IsNull() {
			return Null(), false
		}
		return drill(errVal, rest[1:])
	default:
		return Null(), false
	}
}

func drill(v Value, segs []string) (Value, bool) {
	for _, seg := range segs {
		switch v.Kind() {
		case KindObject:
			fields, _ := v.Fields()
			child, ok := fields[seg]
			if !ok {
				return Null(), false
			}
			v = child
		case KindArray:
			idx, err := strconv.Atoi(seg)
			if err != nil || idx < 0 || idx >= v.Len() {
				return Null(), false
			}
			v = v.Index(idx)
		default:
			return Null(), false
		}
	}
	return v, true
}

// EnterRun pushes a nested sub-workflow identifier, failing on recursion or
// when the depth limit is exceeded.
func (ec *ExecutionContext) EnterRun(identifier string) error {
	ec.stack.mu.Lock()
	defer ec.stack.mu.Unlock()
	if len(ec.stack.frames) >= ec.stack.maxDepth {
		return fmt.Errorf("maximum execution depth (%d) exceeded; stack: %v", ec.stack.maxDepth, ec.stack.frames)
	}
	for _, f := range ec.stack.frames {
		if f == identifier {
			return fmt.Errorf("circular execution detected: %q already in call stack %v", identifier, ec.stack.frames)
		}
	}
	ec.stack.frames = append(ec.stack.frames, identifier)
	return nil
}

// ExitRun pops the innermost nested sub-workflow identifier.
func (ec *ExecutionContext) ExitRun() {
	ec.stack.mu.Lock()
	if n := len(ec.stack.frames); n > 0 {
		ec.stack.frames = ec.stack.frames[:n-1]
	}
	ec.stack.mu.Unlock()
}

// RunDepth returns the current nested execution depth.
func (ec *ExecutionContext) RunDepth() int {
	ec.stack.mu.Lock()
	defer ec.stack.mu.Unlock()
	return len(ec.stack.frames)
}

// Fork creates an isolated child context for a runtime-triggered sub-run: a
// fresh $ctx and output space with its own input, sharing the parent's sink
// and the recursion-guard stack. The engine copies declared outputs back into
// the parent after the sub-run completes.
func (ec *ExecutionContext) Fork(runID string, input Value) *ExecutionContext {
	return &ExecutionContext{
		runID: runID,
		sink:  ec.sink,
		stack: ec.stack,
		state: &runState{
			input:      input,
			ctx:        Object(nil),
			reply:      Object(nil),
			lastOutput: map[string]Value{},
			nodeErrors: map[string]Value{},
		},
	}
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContextSetAndResolveCtx(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)

	require.NoError(t, ec.Set("user.name", String("ada")))
	require.NoError(t, ec.Set("user.age", Int(36)))
	require.NoError(t, ec.Set("flag", Bool(true)))

	v, ok := ec.Resolve("ctx.user.name")
	require.True(t, ok)
	assert.Equal(t, "ada", v.Text())

	// Bare keys fall through to ctx.
	v, ok = ec.Resolve("flag")
	require.True(t, ok)
	assert.True(t, v.Truthy())

	// Missing paths yield null, not an error.
	v, ok = ec.Resolve("ctx.user.email")
	assert.False(t, ok)
	assert.True(t, v.IsNull())
}

func TestContextResolveInputAndOutput(t *testing.T) {
	input := Object(map[string]Value{"query": String("hello")})
	ec := NewExecutionContext("run-1", input, nil)

	v, ok := ec.Resolve("input.query")
	require.True(t, ok)
	assert.Equal(t, "hello", v.Text())

	ec.SetOutput("fetch", Object(map[string]Value{"status": Int(200)}))

	v, ok = ec.Resolve("output.status")
	require.True(t, ok)
	assert.Equal(t, "200", v.Text())

	v, ok = ec.Resolve("fetch.output.status")
	require.True(t, ok)
	assert.Equal(t, "200", v.Text())
}

func TestContextResolveNamespacedNodeID(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)
	ec.SetOutput("order.payment.charge", Object(map[string]Value{"ok": Bool(true)}))

	// The longest matching node id wins even though segments contain dots.
	v, ok := ec.Resolve("order.payment.charge.output.ok")
	require.True(t, ok)
	assert.True(t, v.Truthy())
}

func TestContextNodeError(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)
	ec.SetNodeError("verify", NewRunError(CodeCallFailure, "upstream unavailable").WithNode("verify"))

	v, ok := ec.Resolve("verify.error.message")
	require.True(t, ok)
	assert.Equal(t, "upstream unavailable", v.Text())

	// The shared $error object is installed for OnError handlers.
	v, ok = ec.Resolve("error.node")
	require.True(t, ok)
	assert.Equal(t, "verify", v.Text())
}

func TestContextLoopScopes(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)
	ec.SetOutput("item", String("node output"))

	first := ec.WithLoop(LoopScope{Var: "item", Value: String("first"), Index: 0, First: true})

	// The iteration variable shadows the node output of the same name.
	v, ok := first.Resolve("item")
	require.True(t, ok)
	assert.Equal(t, "first", v.Text())

	v, _ = first.Resolve("loop.index")
	assert.Equal(t, "0", v.Text())
	v, _ = first.Resolve("loop.first")
	assert.True(t, v.Truthy())
	v, _ = first.Resolve("loop.last")
	assert.False(t, v.Truthy())

	second := ec.WithLoop(LoopScope{Var: "item", Value: String("second"), Index: 1, Last: true})
	v, _ = second.Resolve("item")
	assert.Equal(t, "second", v.Text())
	v, _ = second.Resolve("loop.last")
	assert.True(t, v.Truthy())

	// The base view never sees loop state: the node output stays visible and
	// loop metadata is absent.
	v, _ = ec.Resolve("item")
	assert.Equal(t, "node output", v.Text())
	_, ok = ec.Resolve("loop.index")
	assert.False(t, ok)
}

func TestContextConcurrentLoopViewsAreIsolated(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)

	a := ec.WithLoop(LoopScope{Var: "x", Value: String("a2"), Index: 2, Last: true})
	b := ec.WithLoop(LoopScope{Var: "y", Value: String("b0"), Index: 0, First: true})

	v, _ := a.Resolve("x")
	assert.Equal(t, "a2", v.Text())
	v, _ = a.Resolve("loop.index")
	assert.Equal(t, "2", v.Text())

	v, _ = b.Resolve("y")
	assert.Equal(t, "b0", v.Text())
	v, _ = b.Resolve("loop.index")
	assert.Equal(t, "0", v.Text())

	// Neither view sees the other's iteration variable.
	_, ok := a.Resolve("y")
	assert.False(t, ok)
	_, ok = b.Resolve("x")
	assert.False(t, ok)

	// Shared state still flows through both views.
	require.NoError(t, a.Set("shared", String("written in a")))
	v, _ = b.Resolve("ctx.shared")
	assert.Equal(t, "written in a", v.Text())
}

func TestContextReplyStatusEmitsEvent(t *testing.T) {
	sink := &CollectorSink{}
	ec := NewExecutionContext("run-1", Null(), sink)

	require.NoError(t, ec.Set("reply.status", String("searching the web")))

	v, ok := ec.Resolve("reply.status")
	require.True(t, ok)
	assert.Equal(t, "searching the web", v.Text())

	events := sink.OfType(EventStatus)
	require.Len(t, events, 1)
	assert.Equal(t, "searching the web", events[0].Text)
	assert.Equal(t, "run-1", events[0].RunID)
}

func TestContextRecursionGuard(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)

	require.NoError(t, ec.EnterRun("support-flow"))
	err := ec.EnterRun("support-flow")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "circular execution")
	ec.ExitRun()
	assert.Equal(t, 0, ec.RunDepth())
}

func TestContextDepthLimit(t *testing.T) {
	ec := NewExecutionContext("run-1", Null(), nil)
	for i := 0; i < 10; i++ {
		require.NoError(t, ec.EnterRun(string(rune('a'+i))))
	}
	err := ec.EnterRun("one-too-many")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "maximum execution depth")
}

func TestContextForkIsolation(t *testing.T) {
	parent := NewExecutionContext("run-1", Null(), nil)
	require.NoError(t, parent.Set("shared", String("parent value")))
	require.NoError(t, parent.EnterRun("child-flow"))

	child := parent.Fork("run-1.sub", String("child input"))

	// Fresh ctx: the parent's keys are not visible.
	_, ok := child.Resolve("ctx.shared")
	assert.False(t, ok)
	assert.Equal(t, "child input", child.Input().Text())

	// The recursion guard is shared: the child cannot re-enter an ancestor.
	err := child.EnterRun("child-flow")
	require.Error(t, err)
}

func TestDrillArrayIndex(t *testing.T) {
	ec := NewExecutionContext("run-1", Object(map[string]Value{
		"items": Array(String("a"), String("b")),
	}), nil)

	v, ok := ec.Resolve("input.items.1")
	require.True(t, ok)
	assert.Equal(t, "b", v.Text())

	_, ok = ec.Resolve("input.items.5")
	assert.False(t, ok)
}

package graph

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hupe1980/flowmesh/core"
)

func callNode(id, target string, args map[string]string) *Node {
	if args == nil {
		args = map[string]string{}
	}
	return &Node{ID: id, Kind: KindCall, Call: &CallSpec{Target: target, Args: args}}
}

func TestMergeFlattensImport(t *testing.T) {
	child := New("auth")
	require.NoError(t, child.AddNode(callNode("verify", "check_token", map[string]string{
		"token": "$input.token",
	})))
	require.NoError(t, child.AddNode(callNode("extract", "parse_claims", map[string]string{
		"claims": "$verify.output.claims",
	})))
	child.AddEdge(Edge{From: "verify", To: "extract", Condition: "$verify.output.ok"})
	child.Patterns.Tools = []string{"tools/*.tool"}

	root := New("main")
	require.NoError(t, root.AddNode(callNode("greet", "chat", nil)))
	root.Imports["auth"] = "auth.flow"
	root.AddEdge(Edge{From: "greet", To: "auth.verify"})
	root.AddEdge(Edge{From: "auth.extract", To: "finish"})
	require.NoError(t, root.AddNode(callNode("finish", "chat", nil)))

	merged, err := Merge(root, ".", MapLoader{"auth.flow": child})
	require.NoError(t, err)

	// Child nodes are namespaced; no alias indirection remains.
	require.NotNil(t, merged.Node("auth.verify"))
	require.NotNil(t, merged.Node("auth.extract"))
	assert.Empty(t, merged.Imports)
	assert.Empty(t, merged.PendingEdges)

	// References to child-local nodes are rewritten; reserved roots are not.
	verify := merged.Node("auth.verify")
	assert.Equal(t, "$input.token", verify.Call.Args["token"])
	extract := merged.Node("auth.extract")
	assert.Equal(t, "$auth.verify.output.claims", extract.Call.Args["claims"])

	var condition string
	for _, e := range merged.Edges() {
		if e.From == "auth.verify" && e.To == "auth.extract" {
			condition = e.Condition
		}
	}
	assert.Equal(t, "$auth.verify.output.ok", condition)

	// The cross-namespace pending edges were committed.
	assert.NotEmpty(t, merged.Incoming("auth.verify"))
	assert.NotEmpty(t, merged.Incoming("finish"))

	// Child resource patterns were unioned relative to the child directory.
	assert.Contains(t, merged.Patterns.Tools, "tools/*.tool")
}

func TestMergeNestedImportsChainPrefixes(t *testing.T) {
	charge := New("charge")
	require.NoError(t, charge.AddNode(callNode("charge", "stripe_charge", nil)))
	require.NoError(t, charge.AddNode(callNode("receipt", "send_mail", map[string]string{
		"body": "$charge.output.id",
	})))
	charge.AddEdge(Edge{From: "charge", To: "receipt"})

	payment := New("payment")
	require.NoError(t, payment.AddNode(callNode("validate", "check_card", nil)))
	payment.Imports["inner"] = "charge.flow"
	payment.AddEdge(Edge{From: "validate", To: "inner.charge"})

	root := New("order")
	require.NoError(t, root.AddNode(callNode("start", "chat", nil)))
	root.Imports["pay"] = "payment.flow"
	root.AddEdge(Edge{From: "start", To: "pay.validate"})

	merged, err := Merge(root, ".", MapLoader{
		"payment.flow": payment,
		"charge.flow":  charge,
	})
	require.NoError(t, err)

	// Nesting chains the prefixes.
	require.NotNil(t, merged.Node("pay.validate"))
	require.NotNil(t, merged.Node("pay.inner.charge"))
	receipt := merged.Node("pay.inner.receipt")
	require.NotNil(t, receipt)
	assert.Equal(t, "$pay.inner.charge.output.id", receipt.Call.Args["body"])
}

func TestMergeDetectsImportCycle(t *testing.T) {
	a := New("a")
	require.NoError(t, a.AddNode(callNode("x", "noop", nil)))
	a.Imports["b"] = "b.flow"

	b := New("b")
	require.NoError(t, b.AddNode(callNode("y", "noop", nil)))
	b.Imports["a"] = "a.flow"

	root := New("root")
	require.NoError(t, root.AddNode(callNode("start", "noop", nil)))
	root.Imports["a"] = "a.flow"

	_, err := Merge(root, ".", MapLoader{"a.flow": a, "b.flow": b})
	require.Error(t, err)

	re := core.AsRunError(err)
	assert.Equal(t, core.CodeCircularImport, re.Code)
	// The error names the full import chain.
	assert.Contains(t, re.Message, "a.flow -> b.flow -> a.flow")
}

func TestMergeRewritesSwitchRoutes(t *testing.T) {
	child := New("triage")
	require.NoError(t, child.AddNode(callNode("classify", "chat", nil)))
	require.NoError(t, child.AddNode(callNode("trade", "chat", nil)))
	require.NoError(t, child.AddNode(callNode("faq", "chat", nil)))
	child.AddEdge(Edge{From: "classify", To: "trade", Case: "trade"})
	child.AddEdge(Edge{From: "classify", To: "faq", Case: "faq"})
	child.Routes["classify"] = SwitchRoute{
		Subject: "$classify.output.intent",
		Cases: []SwitchCase{
			{Value: "trade", Target: "trade"},
			{Value: "faq", Target: "faq"},
		},
	}

	root := New("root")
	require.NoError(t, root.AddNode(callNode("start", "chat", nil)))
	root.Imports["t"] = "triage.flow"
	root.AddEdge(Edge{From: "start", To: "t.classify"})

	merged, err := Merge(root, ".", MapLoader{"triage.flow": child})
	require.NoError(t, err)

	route, ok := merged.Routes["t.classify"]
	require.True(t, ok)
	assert.Equal(t, "$t.classify.output.intent", route.Subject)
	assert.Equal(t, "t.trade", route.Cases[0].Target)
}

func TestMergePendingEdgeToUndefinedNode(t *testing.T) {
	root := New("root")
	require.NoError(t, root.AddNode(callNode("start", "chat", nil)))
	root.AddEdge(Edge{From: "start", To: "ghost.node"})

	_, err := Merge(root, ".", MapLoader{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ghost.node")
}

func TestMergeIsIdempotentOverIdenticalInputs(t *testing.T) {
	build := func() (*Graph, MapLoader) {
		child := New("sub")
		_ = child.AddNode(callNode("work", "noop", map[string]string{"v": "$work.output"}))
		root := New("root")
		_ = root.AddNode(callNode("start", "noop", nil))
		root.Imports["s"] = "sub.flow"
		root.AddEdge(Edge{From: "start", To: "s.work"})
		return root, MapLoader{"sub.flow": child}
	}

	rootA, loaderA := build()
	rootB, loaderB := build()

	mergedA, err := Merge(rootA, ".", loaderA)
	require.NoError(t, err)
	mergedB, err := Merge(rootB, ".", loaderB)
	require.NoError(t, err)

	assert.Equal(t, mergedA.NodeIDs(), mergedB.NodeIDs())
	assert.Equal(t, mergedA.Edges(), mergedB.Edges())
}

func TestEntrySetDefaultsToRoots(t *testing.T) {
	g := New("g")
	require.NoError(t, g.AddNode(callNode("a", "noop", nil)))
	require.NoError(t, g.AddNode(callNode("b", "noop", nil)))
	require.NoError(t, g.AddNode(callNode("c", "noop", nil)))
	g.AddEdge(Edge{From: "a", To: "b"})
	g.AddEdge(Edge{From: "b", To: "c"})

	assert.Equal(t, []string{"a"}, g.EntrySet())

	g.Entries = []string{"b"}
	assert.Equal(t, []string{"b"}, g.EntrySet())
}

func TestValidateRejectsDanglingReferences(t *testing.T) {
	g := New("g")
	require.NoError(t, g.AddNode(callNode("a", "noop", nil)))
	g.Entries = []string{"missing"}
	require.Error(t, g.Validate())
}

func TestValidateRejectsGraphWithoutEntry(t *testing.T) {
	// a -> b -> a leaves every node with an incoming edge, so nothing could
	// ever be scheduled.
	g := New("cycle")
	require.NoError(t, g.AddNode(callNode("a", "noop", nil)))
	require.NoError(t, g.AddNode(callNode("b", "noop", nil)))
	g.AddEdge(Edge{From: "a", To: "b"})
	g.AddEdge(Edge{From: "b", To: "a"})

	err := g.Validate()
	require.Error(t, err)
	assert.Equal(t, core.CodeParse, core.AsRunError(err).Code)
	assert.Contains(t, err.Error(), "no entry node")

	// A declared entry makes the same shape runnable.
	g.Entries = []string{"a"}
	require.NoError(t, g.Validate())
}

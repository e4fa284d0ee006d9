// Package graph holds the in-memory workflow graph model and the merger that
// flattens cross-file flow imports into a single executable graph.
package graph

import (
	"fmt"

	"github.com/hupe1980/flowmesh/core"
)

// NodeKind discriminates the unit of work a node performs.
type NodeKind int

const (
	// KindCall invokes a named tool, builtin, or agent with an argument map.
	KindCall NodeKind = iota
	// KindLiteral yields a constant value as the node's output.
	KindLiteral
	// KindForEach runs its body subgraph once per element of a collection.
	KindForEach
	// KindWhile runs its body subgraph while a condition holds.
	KindWhile
)

func (k NodeKind) String() string {
	switch k {
	case KindCall:
		return "call"
	case KindLiteral:
		return "literal"
	case KindForEach:
		return "foreach"
	case KindWhile:
		return "while"
	default:
		return "unknown"
	}
}

// CallSpec names the invocation target and its raw argument expressions. The
// argument values are parameter expressions resolved against the execution
// context at run time.
type CallSpec struct {
	Target string
	Args   map[string]string
}

// ForEachSpec iterates a collection expression, binding each element to Var
// inside the body.
type ForEachSpec struct {
	Var        string
	Collection string
	Body       *Graph
}

// WhileSpec repeats the body while the condition expression holds.
type WhileSpec struct {
	Condition string
	Body      *Graph
}

// Node is one unit of work. Exactly one of the kind-specific fields is set,
// matching Kind. Ids are unique within a compiled unit before merge and
// globally unique after merge (namespace-prefixed); identity never changes
// after creation.
type Node struct {
	ID      string
	Kind    NodeKind
	Call    *CallSpec
	Literal core.Value
	ForEach *ForEachSpec
	While   *WhileSpec
}

// EdgeKind distinguishes the normal data-flow path from error routing.
type EdgeKind int

const (
	// EdgeNormal is followed when the source completes successfully.
	EdgeNormal EdgeKind = iota
	// EdgeOnError is followed only when the source fails. The first-declared
	// OnError edge of a node is authoritative when several exist.
	EdgeOnError
)

// Edge is a directed transition. Condition, when set, must evaluate truthy at
// the moment the source completes for the edge to be satisfied. Case marks
// the edge as one arm of its source's switch route.
type Edge struct {
	From      string
	To        string
	Condition string
	Kind      EdgeKind
	Case      string
}

// SwitchCase is one arm of a switch route.
type SwitchCase struct {
	Value  string
	Target string
}

// SwitchRoute selects exactly one outgoing arm of a node by comparing the
// textual rendering of a subject expression against case values. An empty
// subject compares the node's own output. A condition-free, case-free edge
// from the same source serves as the default arm.
type SwitchRoute struct {
	Subject string
	Cases   []SwitchCase
}

// Patterns are the resource-import globs a unit declares. Merging unions
// them, resolved relative to each unit's directory, without duplicates.
type Patterns struct {
	Prompts []string
	Agents  []string
	Tools   []string
	Modules []string
}

// Graph is one compiled workflow unit. Before merge it may carry flow
// imports and pending edges that reference namespaced nodes; after merge it
// is a single flat structure with no residual alias indirection.
type Graph struct {
	Slug        string
	Name        string
	Version     string
	Description string

	nodes map[string]*Node
	order []string
	edges []Edge

	Entries []string
	Exits   []string

	Routes   map[string]SwitchRoute
	Imports  map[string]string // alias -> relative path
	Patterns Patterns

	// PendingEdges reference nodes that only exist after flow imports are
	// merged. The merger commits them last.
	PendingEdges []Edge
}

// New creates an empty graph unit.
func New(slug string) *Graph {
	return &Graph{
		Slug:    slug,
		nodes:   map[string]*Node{},
		Routes:  map[string]SwitchRoute{},
		Imports: map[string]string{},
	}
}

// AddNode inserts a node, failing on a duplicate id.
func (g *Graph) AddNode(n *Node) error {
	if n.ID == "" {
		return core.NewRunError(core.CodeParse, "node id cannot be empty")
	}
	if _, exists := g.nodes[n.ID]; exists {
		return core.NewRunError(core.CodeParse, "duplicate node id %q", n.ID)
	}
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	return nil
}

// AddEdge appends an edge. Edges whose endpoints are not yet defined are
// parked in PendingEdges for the merger to commit.
func (g *Graph) AddEdge(e Edge) {
	if _, okFrom := g.nodes[e.From]; !okFrom {
		g.PendingEdges = append(g.PendingEdges, e)
		return
	}
	if _, okTo := g.nodes[e.To]; !okTo {
		g.PendingEdges = append(g.PendingEdges, e)
		return
	}
	g.edges = append(g.edges, e)
}

// Node returns the node with the given id, or nil.
func (g *Graph) Node(id string) *Node { return g.nodes[id] }

// NodeIDs returns all node ids in declaration order.
func (g *Graph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Edges returns all committed edges in declaration order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, len(g.edges))
	copy(out, g.edges)
	return out
}

// Outgoing returns the edges leaving a node in declaration order.
func (g *Graph) Outgoing(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.From == id {
			out = append(out, e)
		}
	}
	return out
}

// Incoming returns the edges entering a node in declaration order.
func (g *Graph) Incoming(id string) []Edge {
	var out []Edge
	for _, e := range g.edges {
		if e.To == id {
			out = append(out, e)
		}
	}
	return out
}

// EntrySet returns the declared entry nodes, defaulting to every node with
// no incoming edges when none are declared.
func (g *Graph) EntrySet() []string {
	if len(g.Entries) > 0 {
		return g.Entries
	}
	hasIncoming := map[string]bool{}
	for _, e := range g.edges {
		hasIncoming[e.To] = true
	}
	var entries []string
	for _, id := range g.order {
		if !hasIncoming[id] {
			entries = append(entries, id)
		}
	}
	return entries
}

// Validate checks structural integrity: committed edges reference defined
// nodes, declared entries and exits exist, switch routes target defined
// nodes, and the graph has at least one runnable entry node.
func (g *Graph) Validate() error {
	for _, e := range g.edges {
		if g.nodes[e.From] == nil {
			return core.NewRunError(core.CodeParse, "edge references undefined source node %q", e.From)
		}
		if g.nodes[e.To] == nil {
			return core.NewRunError(core.CodeParse, "edge references undefined target node %q", e.To)
		}
	}
	for _, id := range g.Entries {
		if g.nodes[id] == nil {
			return core.NewRunError(core.CodeParse, "entry references undefined node %q", id)
		}
	}
	for _, id := range g.Exits {
		if g.nodes[id] == nil {
			return core.NewRunError(core.CodeParse, "exit references undefined node %q", id)
		}
	}
	for source, route := range g.Routes {
		if g.nodes[source] == nil {
			return core.NewRunError(core.CodeParse, "switch route on undefined node %q", source)
		}
		for _, c := range route.Cases {
			if g.nodes[c.Target] == nil {
				return core.NewRunError(core.CodeParse, "switch case targets undefined node %q", c.Target)
			}
		}
	}
	// Every node having an incoming edge means nothing can ever start; such
	// a graph would otherwise "complete" without executing a single node.
	if g.Len() > 0 && len(g.EntrySet()) == 0 {
		return core.NewRunError(core.CodeParse,
			"workflow %q has no entry node: every node has incoming edges", g.Slug)
	}
	return nil
}

// String implements fmt.Stringer for debugging.
func (g *Graph) String() string {
	return fmt.Sprintf("graph(%s, %d nodes, %d edges)", g.Slug, len(g.nodes), len(g.edges))
}

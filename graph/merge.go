package graph

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/eval"
)

// Loader supplies already-parsed workflow units to the merger. The surface
// grammar is an external collaborator; the merger only consumes the graph
// data model.
type Loader interface {
	// Load returns the parsed graph stored at a canonical path.
	Load(path string) (*Graph, error)

	// Canonical resolves a unit-relative import path against the directory of
	// the importing unit, producing the identity used for cycle detection.
	Canonical(baseDir, rel string) (string, error)
}

// FileLoader loads workflow units from disk with a pluggable parse function.
type FileLoader struct {
	Parse func(path string, src []byte) (*Graph, error)
}

// Load implements Loader.
func (l *FileLoader) Load(path string) (*Graph, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, core.NewRunError(core.CodeParse, "cannot read workflow unit %q: %v", path, err)
	}
	g, err := l.Parse(path, src)
	if err != nil {
		return nil, core.NewRunError(core.CodeParse, "cannot parse workflow unit %q: %v", path, err)
	}
	return g, nil
}

// Canonical implements Loader.
func (l *FileLoader) Canonical(baseDir, rel string) (string, error) {
	abs, err := filepath.Abs(filepath.Join(baseDir, rel))
	if err != nil {
		return "", core.NewRunError(core.CodeParse, "cannot resolve import path %q (base %q): %v", rel, baseDir, err)
	}
	return abs, nil
}

// MapLoader serves parsed units from memory, keyed by path. Canonical joins
// paths lexically, which keeps in-memory units addressable by plain names.
type MapLoader map[string]*Graph

// Load implements Loader.
func (l MapLoader) Load(path string) (*Graph, error) {
	g, ok := l[path]
	if !ok {
		return nil, core.NewRunError(core.CodeParse, "no workflow unit registered at %q", path)
	}
	return g, nil
}

// Canonical implements Loader.
func (l MapLoader) Canonical(baseDir, rel string) (string, error) {
	if baseDir == "" || baseDir == "." {
		return rel, nil
	}
	return filepath.Join(baseDir, rel), nil
}

// Merge flattens every flow import of root, recursively, into a single
// executable graph. Sub-graph node ids gain their import alias as a dotted
// prefix (chained across nesting levels), variable references to local nodes
// are rewritten accordingly, resource patterns are unioned, and pending
// cross-namespace edges are committed last. Import cycles fail with an error
// naming the full chain.
func Merge(root *Graph, baseDir string, loader Loader) (*Graph, error) {
	if err := resolveImports(root, baseDir, loader, nil); err != nil {
		return nil, err
	}
	if err := root.Validate(); err != nil {
		return nil, err
	}
	return root, nil
}

func resolveImports(g *Graph, baseDir string, loader Loader, stack []string) error {
	if len(g.Imports) == 0 {
		return commitPending(g)
	}

	// Imports merge in a stable order so repeated merges of identical inputs
	// produce identical graphs.
	aliases := make([]string, 0, len(g.Imports))
	for alias := range g.Imports {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	for _, alias := range aliases {
		rel := g.Imports[alias]
		canonical, err := loader.Canonical(baseDir, rel)
		if err != nil {
			return err
		}
		for _, ancestor := range stack {
			if ancestor == canonical {
				chain := append(append([]string{}, stack...), canonical)
				return core.NewRunError(core.CodeCircularImport,
					"circular flow import %q: %s", alias, strings.Join(chain, " -> "))
			}
		}

		child, err := loader.Load(canonical)
		if err != nil {
			return err
		}
		childDir := filepath.Dir(canonical)
		if err := resolveImports(child, childDir, loader, append(stack, canonical)); err != nil {
			return err
		}
		if err := splice(g, child, alias, childDir); err != nil {
			return err
		}
	}
	g.Imports = map[string]string{}

	return commitPending(g)
}

// splice merges a fully-resolved child unit into parent under the alias
// namespace.
func splice(parent, child *Graph, alias, childDir string) error {
	local := map[string]bool{}
	for _, id := range child.order {
		local[id] = true
	}

	for _, id := range child.order {
		n := prefixNode(child.nodes[id], alias, local)
		if err := parent.AddNode(n); err != nil {
			return core.NewRunError(core.CodeParse,
				"flow import %q collides with existing node: %v", alias, err)
		}
	}

	for _, e := range child.edges {
		parent.edges = append(parent.edges, Edge{
			From:      alias + "." + e.From,
			To:        alias + "." + e.To,
			Condition: eval.PrefixVariables(e.Condition, alias, local),
			Kind:      e.Kind,
			Case:      e.Case,
		})
	}

	for source, route := range child.Routes {
		cases := make([]SwitchCase, len(route.Cases))
		for i, c := range route.Cases {
			cases[i] = SwitchCase{Value: c.Value, Target: alias + "." + c.Target}
		}
		parent.Routes[alias+"."+source] = SwitchRoute{
			Subject: eval.PrefixVariables(route.Subject, alias, local),
			Cases:   cases,
		}
	}

	for _, e := range child.PendingEdges {
		parent.PendingEdges = append(parent.PendingEdges, Edge{
			From:      alias + "." + e.From,
			To:        alias + "." + e.To,
			Condition: eval.PrefixVariables(e.Condition, alias, local),
			Kind:      e.Kind,
			Case:      e.Case,
		})
	}

	parent.Patterns.Prompts = unionPatterns(parent.Patterns.Prompts, child.Patterns.Prompts, childDir)
	parent.Patterns.Agents = unionPatterns(parent.Patterns.Agents, child.Patterns.Agents, childDir)
	parent.Patterns.Tools = unionPatterns(parent.Patterns.Tools, child.Patterns.Tools, childDir)
	parent.Patterns.Modules = unionPatterns(parent.Patterns.Modules, child.Patterns.Modules, childDir)

	return nil
}

// prefixNode deep-copies a node, rewriting variable references that name
// local nodes of the child unit. Loop bodies keep their own node ids but
// their references to outer child nodes are rewritten too.
func prefixNode(n *Node, alias string, local map[string]bool) *Node {
	out := &Node{ID: alias + "." + n.ID, Kind: n.Kind, Literal: n.Literal}
	switch n.Kind {
	case KindCall:
		args := make(map[string]string, len(n.Call.Args))
		for k, v := range n.Call.Args {
			args[k] = eval.PrefixVariables(v, alias, local)
		}
		out.Call = &CallSpec{Target: n.Call.Target, Args: args}
	case KindForEach:
		out.ForEach = &ForEachSpec{
			Var:        n.ForEach.Var,
			Collection: eval.PrefixVariables(n.ForEach.Collection, alias, local),
			Body:       prefixBody(n.ForEach.Body, alias, local),
		}
	case KindWhile:
		out.While = &WhileSpec{
			Condition: eval.PrefixVariables(n.While.Condition, alias, local),
			Body:      prefixBody(n.While.Body, alias, local),
		}
	}
	return out
}

// prefixBody rewrites variable references inside a loop body subgraph without
// renaming its nodes; the body executes as a nested graph in the shared
// context.
func prefixBody(body *Graph, alias string, local map[string]bool) *Graph {
	out := New(body.Slug)
	out.Name = body.Name
	out.Entries = append([]string{}, body.Entries...)
	out.Exits = append([]string{}, body.Exits...)
	for _, id := range body.order {
		n := body.nodes[id]
		inner := &Node{ID: n.ID, Kind: n.Kind, Literal: n.Literal}
		switch n.Kind {
		case KindCall:
			args := make(map[string]string, len(n.Call.Args))
			for k, v := range n.Call.Args {
				args[k] = eval.PrefixVariables(v, alias, local)
			}
			inner.Call = &CallSpec{Target: n.Call.Target, Args: args}
		case KindForEach:
			inner.ForEach = &ForEachSpec{
				Var:        n.ForEach.Var,
				Collection: eval.PrefixVariables(n.ForEach.Collection, alias, local),
				Body:       prefixBody(n.ForEach.Body, alias, local),
			}
		case KindWhile:
			inner.While = &WhileSpec{
				Condition: eval.PrefixVariables(n.While.Condition, alias, local),
				Body:      prefixBody(n.While.Body, alias, local),
			}
		}
		out.nodes[inner.ID] = inner
		out.order = append(out.order, inner.ID)
	}
	for _, e := range body.edges {
		out.edges = append(out.edges, Edge{
			From:      e.From,
			To:        e.To,
			Condition: eval.PrefixVariables(e.Condition, alias, local),
			Kind:      e.Kind,
			Case:      e.Case,
		})
	}
	for source, route := range body.Routes {
		out.Routes[source] = SwitchRoute{
			Subject: eval.PrefixVariables(route.Subject, alias, local),
			Cases:   append([]SwitchCase{}, route.Cases...),
		}
	}
	return out
}

// commitPending moves deferred edges into the graph once all imported nodes
// exist.
func commitPending(g *Graph) error {
	pending := g.PendingEdges
	g.PendingEdges = nil
	for _, e := range pending {
		if g.nodes[e.From] == nil {
			return pendingEdgeErr(e.From)
		}
		if g.nodes[e.To] == nil {
			return pendingEdgeErr(e.To)
		}
		g.edges = append(g.edges, e)
	}
	return nil
}

func pendingEdgeErr(id string) error {
	return core.NewRunError(core.CodeParse,
		"edge references undefined node %q; declare it in flows: and define it in the imported workflow", id)
}

func unionPatterns(existing, added []string, baseDir string) []string {
	seen := map[string]bool{}
	for _, p := range existing {
		seen[p] = true
	}
	for _, p := range added {
		resolved := filepath.Join(baseDir, p)
		if !seen[resolved] {
			seen[resolved] = true
			existing = append(existing, resolved)
		}
	}
	return existing
}


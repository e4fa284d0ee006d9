package engine

import (
	"context"
	"sync"

	"github.com/hupe1980/flowmesh/core"
	"github.com/hupe1980/flowmesh/eval"
	"github.com/hupe1980/flowmesh/graph"
	"github.com/hupe1980/flowmesh/logging"
)

// nodeStatus is the lifecycle state of a node within one run.
type nodeStatus int

const (
	statusPending nodeStatus = iota
	statusReady
	statusRunning
	statusDone
	statusFailed
	statusUnreachable
)

func (s nodeStatus) String() string {
	switch s {
	case statusPending:
		return "pending"
	case statusReady:
		return "ready"
	case statusRunning:
		return "running"
	case statusDone:
		return "done"
	case statusFailed:
		return "failed"
	case statusUnreachable:
		return "unreachable"
	default:
		return "unknown"
	}
}

// edgeState tracks whether a transition has fired or become permanently
// impossible. An edge left unsatisfied when its source completes never fires
// later.
type edgeState int

const (
	edgeUndecided edgeState = iota
	edgeFired
	edgeImpossible
)

// nodeExecutor runs one node's unit of work and returns its output.
type nodeExecutor func(ctx context.Context, node *graph.Node) (core.Value, error)

// scheduler walks a merged graph with eager convergence: a node becomes ready
// the first time any incoming edge fires, exactly once. Independent ready
// nodes run concurrently; completion decides the outgoing edges of the source
// and propagates impossibility to nodes that can no longer be reached.
type scheduler struct {
	g      *graph.Graph
	ec     *core.ExecutionContext
	exec   nodeExecutor
	logger logging.Logger

	edges    []graph.Edge
	outgoing map[string][]int
	incoming map[string][]int

	mu        sync.Mutex
	status    map[string]nodeStatus
	edgeState []edgeState
	runErr    *core.RunError

	cancel context.CancelFunc
	wg     sync.WaitGroup
	sem    chan struct{}
}

func newScheduler(g *graph.Graph, ec *core.ExecutionContext, exec nodeExecutor, logger logging.Logger, maxConcurrent int) *scheduler {
	edges := g.Edges()
	s := &scheduler{
		g:         g,
		ec:        ec,
		exec:      exec,
		logger:    logger,
		edges:     edges,
		outgoing:  map[string][]int{},
		incoming:  map[string][]int{},
		status:    map[string]nodeStatus{},
		edgeState: make([]edgeState, len(edges)),
	}
	for i, e := range edges {
		s.outgoing[e.From] = append(s.outgoing[e.From], i)
		s.incoming[e.To] = append(s.incoming[e.To], i)
	}
	for _, id := range g.NodeIDs() {
		s.status[id] = statusPending
	}
	if maxConcurrent > 0 {
		s.sem = make(chan struct{}, maxConcurrent)
	}
	return s
}

// run executes the graph to quiescence and returns the first terminal error.
func (s *scheduler) run(ctx context.Context) error {
	ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	entries := s.g.EntrySet()
	entrySet := map[string]bool{}
	for _, id := range entries {
		entrySet[id] = true
	}

	s.mu.Lock()
	// A non-entry node without incoming edges can never be triggered.
	for _, id := range s.g.NodeIDs() {
		if !entrySet[id] && len(s.incoming[id]) == 0 {
			s.markUnreachableLocked(id)
		}
	}
	for _, id := range entries {
		s.scheduleLocked(ctx, id)
	}
	s.mu.Unlock()

	s.wg.Wait()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runErr != nil {
		return s.runErr
	}
	return nil
}

// scheduleLocked moves a pending node to ready and starts it. Idempotent:
// a node already triggered, finished, or ruled out is left alone.
func (s *scheduler) scheduleLocked(ctx context.Context, id string) {
	if s.status[id] != statusPending || s.runErr != nil {
		return
	}
	s.status[id] = statusReady
	s.wg.Add(1)
	go s.runNode(ctx, id)
}

func (s *scheduler) runNode(ctx context.Context, id string) {
	defer s.wg.Done()

	if s.sem != nil {
		select {
		case s.sem <- struct{}{}:
			defer func() { <-s.sem }()
		case <-ctx.Done():
			return
		}
	}

	s.mu.Lock()
	if s.status[id] != statusReady {
		s.mu.Unlock()
		return
	}
	s.status[id] = statusRunning
	s.mu.Unlock()

	node := s.g.Node(id)
	s.logger.Debug("node.start", "node", id, "kind", node.Kind.String())
	ev := core.NewEvent(s.ec.RunID(), core.EventNodeStart)
	ev.Node = id
	s.ec.Emit(ev)

	select {
	case <-ctx.Done():
		s.fail(ctx, id, core.NewRunError(core.CodeCanceled, "run cancelled").WithNode(id))
		return
	default:
	}

	output, err := s.exec(ctx, node)
	if err != nil {
		s.fail(ctx, id, core.AsRunError(err).WithNode(id))
		return
	}
	s.complete(ctx, id, output)
}

// complete records a successful node and decides its outgoing edges.
func (s *scheduler) complete(ctx context.Context, id string, output core.Value) {
	s.ec.SetOutput(id, output)
	s.logger.Debug("node.complete", "node", id)
	ev := core.NewEvent(s.ec.RunID(), core.EventNodeComplete)
	ev.Node = id
	ev.Value = output
	s.ec.Emit(ev)

	fired, impossible := s.decideEdges(id, output)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = statusDone
	for _, i := range fired {
		s.edgeState[i] = edgeFired
		s.scheduleLocked(ctx, s.edges[i].To)
	}
	for _, i := range impossible {
		s.edgeState[i] = edgeImpossible
	}
	for _, i := range impossible {
		s.checkUnreachableLocked(s.edges[i].To)
	}
}

// decideEdges partitions a completed node's outgoing edges into fired and
// permanently impossible, applying switch routing, edge conditions, and the
// default rule: an unconditional edge alongside conditional or case siblings
// fires only when none of those siblings fired.
func (s *scheduler) decideEdges(id string, output core.Value) (fired, impossible []int) {
	var caseIdx, condIdx, defaultIdx []int
	for _, i := range s.outgoing[id] {
		e := s.edges[i]
		switch {
		case e.Kind == graph.EdgeOnError:
			impossible = append(impossible, i)
		case e.Case != "":
			caseIdx = append(caseIdx, i)
		case e.Condition != "":
			condIdx = append(condIdx, i)
		default:
			defaultIdx = append(defaultIdx, i)
		}
	}

	selectorFired := false

	if len(caseIdx) > 0 {
		subject := output.Text()
		if route, ok := s.g.Routes[id]; ok && route.Subject != "" {
			v, err := eval.Param(route.Subject, s.ec)
			if err != nil {
				s.logger.Warn("switch.subject.error", "node", id, "error", err.Error())
				v = core.Null()
			}
			subject = v.Text()
		}
		matched := false
		for _, i := range caseIdx {
			if !matched && s.edges[i].Case == subject {
				fired = append(fired, i)
				matched = true
				continue
			}
			impossible = append(impossible, i)
		}
		selectorFired = selectorFired || matched
	}

	for _, i := range condIdx {
		ok, err := eval.EvaluateBool(s.edges[i].Condition, s.ec)
		if err != nil {
			s.logger.Warn("edge.condition.error", "from", id, "to", s.edges[i].To, "error", err.Error())
			ok = false
		}
		if ok {
			fired = append(fired, i)
			selectorFired = true
		} else {
			impossible = append(impossible, i)
		}
	}

	hasSelectors := len(caseIdx) > 0 || len(condIdx) > 0
	for _, i := range defaultIdx {
		if hasSelectors && selectorFired {
			impossible = append(impossible, i)
		} else {
			fired = append(fired, i)
		}
	}
	return fired, impossible
}

// fail records a node failure and routes it: the first declared OnError edge
// fires with the $error object installed; without one the failure is
// terminal for the run.
func (s *scheduler) fail(ctx context.Context, id string, runErr *core.RunError) {
	s.ec.SetNodeError(id, runErr)
	s.logger.Error("node.failed", "node", id, "code", string(runErr.Code), "error", runErr.Message)
	ev := core.NewEvent(s.ec.RunID(), core.EventError)
	ev.Node = id
	ev.Value = runErr.Value()
	s.ec.Emit(ev)

	var handler = -1
	for _, i := range s.outgoing[id] {
		if s.edges[i].Kind == graph.EdgeOnError {
			handler = i
			break
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[id] = statusFailed

	var impossible []int
	for _, i := range s.outgoing[id] {
		if i == handler {
			continue
		}
		s.edgeState[i] = edgeImpossible
		impossible = append(impossible, i)
	}
	if handler >= 0 {
		s.edgeState[handler] = edgeFired
		s.scheduleLocked(ctx, s.edges[handler].To)
	} else if s.runErr == nil {
		s.runErr = runErr
		s.cancel()
	}
	for _, i := range impossible {
		s.checkUnreachableLocked(s.edges[i].To)
	}
}

// markUnreachableLocked rules a node out and propagates the impossibility of
// its outgoing edges downstream.
func (s *scheduler) markUnreachableLocked(id string) {
	if s.status[id] != statusPending {
		return
	}
	s.status[id] = statusUnreachable
	s.logger.Debug("node.unreachable", "node", id)
	for _, i := range s.outgoing[id] {
		if s.edgeState[i] == edgeUndecided {
			s.edgeState[i] = edgeImpossible
		}
	}
	for _, i := range s.outgoing[id] {
		s.checkUnreachableLocked(s.edges[i].To)
	}
}

// checkUnreachableLocked marks a pending node unreachable once every incoming
// edge is impossible.
func (s *scheduler) checkUnreachableLocked(id string) {
	if s.status[id] != statusPending {
		return
	}
	in := s.incoming[id]
	if len(in) == 0 {
		return
	}
	for _, i := range in {
		if s.edgeState[i] != edgeImpossible {
			return
		}
	}
	s.markUnreachableLocked(id)
}

// statusOf returns a node's status. Exposed for result reporting and tests.
func (s *scheduler) statusOf(id string) nodeStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[id]
}

// statuses returns a snapshot of every node status keyed by id.
func (s *scheduler) statuses() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.status))
	for id, st := range s.status {
		out[id] = st.String()
	}
	return out
}

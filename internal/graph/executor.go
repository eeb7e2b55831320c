package graph

import (
	"container/heap"
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Result is what a runner reports for a node that succeeded.
type Result struct {
	ArtifactHash string
	FromCache    bool
}

// Runner performs node work. Probe reports whether the node's artifact is
// already up to date; Run produces it. A Run error fails the node.
type Runner interface {
	Probe(ctx context.Context, node *Node) (*Result, bool, error)
	Run(ctx context.Context, node *Node) (*Result, error)
}

// Outcome is the per-node record of an execution.
type Outcome struct {
	State    State
	Result   *Result
	Err      error
	Duration time.Duration
}

// Report is the result of one execution.
type Report struct {
	GraphHash string
	Outcomes  map[string]*Outcome
	// Order lists nodes in the order they finished.
	Order []string
}

// Failed returns failed node names in canonical order.
func (r *Report) Failed(g *Graph) []string {
	var out []string
	for _, n := range g.nodes {
		if o := r.Outcomes[n.Name]; o != nil && o.State == Failed {
			out = append(out, n.Name)
		}
	}
	return out
}

// Executor runs a graph with bounded parallelism. A node starts as soon as
// all its dependencies succeeded.
type Executor struct {
	graph  *Graph
	runner Runner
	logger *zap.Logger

	mu    sync.Mutex
	state ExecutionState
}

// NewExecutor creates an executor with every node PENDING.
func NewExecutor(g *Graph, runner Runner, logger *zap.Logger) (*Executor, error) {
	if g == nil {
		return nil, fmt.Errorf("nil graph")
	}
	if runner == nil {
		return nil, fmt.Errorf("nil runner")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	state := make(ExecutionState, len(g.nodes))
	for _, n := range g.nodes {
		state[n.Name] = Pending
	}
	return &Executor{graph: g, runner: runner, logger: logger, state: state}, nil
}

// Snapshot returns a copy of the current state.
func (e *Executor) Snapshot() ExecutionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	cp := make(ExecutionState, len(e.state))
	for k, v := range e.state {
		cp[k] = v
	}
	return cp
}

type completion struct {
	node     *Node
	result   *Result
	err      error
	duration time.Duration
}

// Run executes the graph with at most parallelism nodes in flight. Node
// failures are recorded in the report and skip their dependents without
// stopping unrelated work. When ctx is cancelled no new node starts, nodes
// in flight are drained, and every node not yet started is SKIPPED; Run then
// returns the partial report with ctx.Err().
func (e *Executor) Run(ctx context.Context, parallelism int) (*Report, error) {
	if parallelism <= 0 {
		return nil, fmt.Errorf("parallelism must be > 0")
	}

	g := e.graph
	report := &Report{
		GraphHash: g.hash,
		Outcomes:  make(map[string]*Outcome, len(g.nodes)),
	}
	remaining := make([]int, len(g.indeg))
	copy(remaining, g.indeg)

	ready := &intMinHeap{}
	for i, d := range remaining {
		if d == 0 {
			heap.Push(ready, i)
		}
	}

	done := make(chan completion, parallelism)
	inFlight := 0

	for {
		for ctx.Err() == nil && inFlight < parallelism && ready.Len() > 0 {
			node := g.nodes[heap.Pop(ready).(int)]
			e.mu.Lock()
			err := Transition(e.state, node.Name, Pending, Running)
			e.mu.Unlock()
			if err != nil {
				// Skipped by an earlier failure.
				continue
			}
			inFlight++
			go e.execute(ctx, node, done)
		}
		if inFlight == 0 {
			break
		}

		c := <-done
		inFlight--
		e.finish(c, report, remaining, ready)
	}

	e.mu.Lock()
	for _, n := range g.nodes {
		if e.state[n.Name] == Pending {
			e.state[n.Name] = Skipped
			report.Outcomes[n.Name] = &Outcome{State: Skipped, Err: ctx.Err()}
		}
	}
	e.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return report, err
	}
	return report, nil
}

func (e *Executor) execute(ctx context.Context, node *Node, done chan<- completion) {
	start := time.Now()
	res, cached, err := e.runner.Probe(ctx, node)
	if err == nil && cached {
		if res == nil {
			res = &Result{}
		}
		res.FromCache = true
	} else if err == nil {
		res, err = e.runner.Run(ctx, node)
		if err == nil && res == nil {
			err = fmt.Errorf("runner returned no result for %q", node.Name)
		}
	}
	done <- completion{node: node, result: res, err: err, duration: time.Since(start)}
}

func (e *Executor) finish(c completion, report *Report, remaining []int, ready *intMinHeap) {
	g := e.graph
	name := c.node.Name

	e.mu.Lock()
	defer e.mu.Unlock()

	report.Order = append(report.Order, name)
	if c.err != nil {
		skipped, err := FailAndPropagate(g, e.state, name)
		if err != nil {
			e.logger.Error("failure propagation", zap.String("node", name), zap.Error(err))
		}
		report.Outcomes[name] = &Outcome{State: Failed, Err: c.err, Duration: c.duration}
		for _, s := range skipped {
			report.Outcomes[s] = &Outcome{
				State: Skipped,
				Err:   fmt.Errorf("dependency %s failed", name),
			}
		}
		e.logger.Debug("node failed",
			zap.String("node", name),
			zap.Strings("skipped", skipped),
			zap.Error(c.err))
		return
	}

	to := Completed
	if c.result.FromCache {
		to = Cached
	}
	if err := Transition(e.state, name, Running, to); err != nil {
		e.logger.Error("state transition", zap.String("node", name), zap.Error(err))
	}
	report.Outcomes[name] = &Outcome{State: to, Result: c.result, Duration: c.duration}
	e.logger.Debug("node finished",
		zap.String("node", name),
		zap.String("state", string(to)),
		zap.Duration("duration", c.duration))

	for _, v := range g.outgoing[c.node.index] {
		remaining[v]--
		if remaining[v] == 0 && e.state[g.nodes[v].Name] == Pending {
			heap.Push(ready, v)
		}
	}
}

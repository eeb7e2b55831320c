package graph

import (
	"container/heap"
	"fmt"
)

// State is the runtime status of a node within one execution.
type State string

const (
	Pending   State = "PENDING"
	Running   State = "RUNNING"
	Completed State = "COMPLETED"
	Cached    State = "CACHED"
	Failed    State = "FAILED"
	Skipped   State = "SKIPPED"
)

// Terminal reports whether the node has finished.
func (s State) Terminal() bool {
	switch s {
	case Completed, Cached, Failed, Skipped:
		return true
	default:
		return false
	}
}

// Successful reports whether dependents may run.
func (s State) Successful() bool {
	return s == Completed || s == Cached
}

// ExecutionState maps node names to their state.
type ExecutionState map[string]State

// Transition moves one node from an expected state to another.
func Transition(state ExecutionState, name string, from, to State) error {
	cur, ok := state[name]
	if !ok {
		return fmt.Errorf("unknown node in state: %q", name)
	}
	if cur != from {
		return fmt.Errorf("invalid transition for %q: expected %s, got %s", name, from, cur)
	}
	if !allowed(from, to) {
		return fmt.Errorf("disallowed transition for %q: %s -> %s", name, from, to)
	}
	state[name] = to
	return nil
}

func allowed(from, to State) bool {
	switch from {
	case Pending:
		return to == Running || to == Skipped
	case Running:
		return to == Completed || to == Cached || to == Failed
	default:
		return false
	}
}

// FailAndPropagate marks name FAILED and every transitive dependent that
// has not started SKIPPED. It returns the skipped names in canonical order.
func FailAndPropagate(g *Graph, state ExecutionState, name string) ([]string, error) {
	node, ok := g.byName[name]
	if !ok {
		return nil, fmt.Errorf("unknown node: %q", name)
	}
	switch state[name] {
	case Running:
		state[name] = Failed
	case Failed:
	default:
		return nil, fmt.Errorf("cannot fail %q from state %s", name, state[name])
	}

	visited := make([]bool, len(g.nodes))
	visited[node.index] = true
	queue := &intMinHeap{}
	for _, d := range g.outgoing[node.index] {
		heap.Push(queue, d)
	}

	var skipped []string
	for queue.Len() > 0 {
		u := heap.Pop(queue).(int)
		if visited[u] {
			continue
		}
		visited[u] = true

		dep := g.nodes[u].Name
		switch state[dep] {
		case Pending:
			state[dep] = Skipped
			skipped = append(skipped, dep)
		case Running:
			return skipped, fmt.Errorf("dependent %q is running while %q failed", dep, name)
		}
		for _, v := range g.outgoing[u] {
			if !visited[v] {
				heap.Push(queue, v)
			}
		}
	}
	return skipped, nil
}

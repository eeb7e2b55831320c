package graph

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func nodes(names ...string) []Node {
	out := make([]Node, 0, len(names))
	for _, n := range names {
		out = append(out, Node{Name: n})
	}
	return out
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name  string
		nodes []Node
		edges []Edge
		kind  error
	}{
		{"empty", nil, nil, ErrInvalidGraph},
		{"unnamed", []Node{{}}, nil, ErrInvalidGraph},
		{"duplicate node", nodes("a", "a"), nil, ErrInvalidGraph},
		{"unknown from", nodes("a"), []Edge{{From: "x", To: "a"}}, ErrInvalidGraph},
		{"unknown to", nodes("a"), []Edge{{From: "a", To: "x"}}, ErrInvalidGraph},
		{"self loop", nodes("a"), []Edge{{From: "a", To: "a"}}, ErrInvalidGraph},
		{"duplicate edge", nodes("a", "b"), []Edge{{"a", "b"}, {"a", "b"}}, ErrInvalidGraph},
		{"cycle", nodes("a", "b", "c"), []Edge{{"a", "b"}, {"b", "c"}, {"c", "a"}}, ErrCycle},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(tt.nodes, tt.edges)
			require.Error(t, err)
			assert.True(t, errors.Is(err, tt.kind), "got %v", err)
		})
	}
}

func TestNew_CycleWitness(t *testing.T) {
	_, err := New(nodes("a", "b", "c", "d"), []Edge{{"a", "b"}, {"b", "c"}, {"c", "b"}, {"c", "d"}})
	var gerr *Error
	require.True(t, errors.As(err, &gerr))
	assert.Equal(t, []string{"b", "c", "b"}, gerr.Cycle)
}

func TestTopologicalOrder(t *testing.T) {
	g, err := New(nodes("merge", "index:b", "index:a", "embed"), []Edge{
		{"index:a", "merge"},
		{"index:b", "merge"},
		{"merge", "embed"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"index:a", "index:b", "merge", "embed"}, g.TopologicalOrder())
	assert.Equal(t, []string{"index:a", "index:b"}, g.Dependencies("merge"))
	assert.Equal(t, []string{"embed"}, g.Dependents("merge"))

	d, ok := g.Depth("embed")
	require.True(t, ok)
	assert.Equal(t, 2, d)
	_, ok = g.Depth("missing")
	assert.False(t, ok)
}

func TestHash_OrderIndependent(t *testing.T) {
	g1, err := New(nodes("a", "b", "c"), []Edge{{"a", "b"}, {"a", "c"}})
	require.NoError(t, err)
	g2, err := New(nodes("c", "a", "b"), []Edge{{"a", "c"}, {"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, g1.Hash(), g2.Hash())

	g3, err := New(nodes("a", "b", "c"), []Edge{{"a", "b"}, {"b", "c"}})
	require.NoError(t, err)
	assert.NotEqual(t, g1.Hash(), g3.Hash())

	g4, err := New(nodes("a", "b", "c"), []Edge{{"a", "b"}})
	require.NoError(t, err)
	assert.NotEqual(t, g1.Hash(), g4.Hash(), "edge count is part of the hash")

	g5, err := New(nodes("a", "b", "c", "d"), []Edge{{"a", "b"}, {"a", "c"}})
	require.NoError(t, err)
	assert.NotEqual(t, g1.Hash(), g5.Hash(), "node count is part of the hash")
}

func TestFailAndPropagate(t *testing.T) {
	g, err := New(nodes("a", "b", "c", "d"), []Edge{{"a", "b"}, {"b", "c"}, {"a", "d"}})
	require.NoError(t, err)

	state := ExecutionState{"a": Running, "b": Pending, "c": Pending, "d": Completed}
	skipped, err := FailAndPropagate(g, state, "a")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, skipped)
	assert.Equal(t, ExecutionState{"a": Failed, "b": Skipped, "c": Skipped, "d": Completed}, state)

	_, err = FailAndPropagate(g, ExecutionState{"a": Pending}, "a")
	assert.Error(t, err)
}

func TestTransition(t *testing.T) {
	state := ExecutionState{"a": Pending}
	require.NoError(t, Transition(state, "a", Pending, Running))
	assert.Error(t, Transition(state, "a", Pending, Running))
	assert.Error(t, Transition(state, "a", Running, Pending))
	require.NoError(t, Transition(state, "a", Running, Cached))
	assert.True(t, state["a"].Terminal())
	assert.True(t, state["a"].Successful())
	assert.Error(t, Transition(state, "missing", Pending, Running))
}

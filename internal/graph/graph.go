package graph

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/dshills/scenariogen/pkg/types"
)

// Node is one unit of pipeline work. Name is unique within a graph.
type Node struct {
	Name   string
	Stage  types.Stage
	Target string
	// Input is the stage-specific subject: a source path for indexing, the
	// target name for the later stages.
	Input string

	index int
}

// Index is the node's position in the graph's canonical order.
func (n *Node) Index() int { return n.index }

// Edge is a dependency: To runs only after From succeeds.
type Edge struct {
	From string
	To   string
}

// Graph is an immutable, validated DAG. It is safe for concurrent reads.
type Graph struct {
	byName map[string]*Node
	nodes  []*Node // canonical order, sorted by name

	edges []edgeIndex // sorted

	outgoing [][]int
	incoming [][]int
	indeg    []int
	depth    []int

	hash string
}

type edgeIndex struct {
	from int
	to   int
}

// New builds and validates a graph. It rejects empty or duplicate names,
// edges to unknown nodes, duplicate edges, self-loops and cycles.
func New(nodes []Node, edges []Edge) (*Graph, error) {
	if len(nodes) == 0 {
		return nil, invalidf("no nodes")
	}

	byName := make(map[string]*Node, len(nodes))
	ordered := make([]*Node, 0, len(nodes))
	for i := range nodes {
		n := nodes[i]
		if n.Name == "" {
			return nil, invalidf("node name is required")
		}
		if _, exists := byName[n.Name]; exists {
			return nil, invalidf("duplicate node name: %q", n.Name)
		}
		byName[n.Name] = &n
		ordered = append(ordered, &n)
	}

	sort.Slice(ordered, func(i, j int) bool { return ordered[i].Name < ordered[j].Name })
	for i, n := range ordered {
		n.index = i
	}

	mapped := make([]edgeIndex, 0, len(edges))
	seen := make(map[edgeIndex]struct{}, len(edges))
	for _, e := range edges {
		from, okFrom := byName[e.From]
		to, okTo := byName[e.To]
		if !okFrom {
			return nil, invalidf("edge references unknown node (from): %q", e.From)
		}
		if !okTo {
			return nil, invalidf("edge references unknown node (to): %q", e.To)
		}
		if from == to {
			return nil, invalidf("self-loop: %q", e.From)
		}
		pair := edgeIndex{from: from.index, to: to.index}
		if _, exists := seen[pair]; exists {
			return nil, invalidf("duplicate edge: %q -> %q", e.From, e.To)
		}
		seen[pair] = struct{}{}
		mapped = append(mapped, pair)
	}
	sort.Slice(mapped, func(i, j int) bool {
		if mapped[i].from != mapped[j].from {
			return mapped[i].from < mapped[j].from
		}
		return mapped[i].to < mapped[j].to
	})

	outgoing := make([][]int, len(ordered))
	incoming := make([][]int, len(ordered))
	indeg := make([]int, len(ordered))
	for _, e := range mapped {
		outgoing[e.from] = append(outgoing[e.from], e.to)
		incoming[e.to] = append(incoming[e.to], e.from)
		indeg[e.to]++
	}

	g := &Graph{
		byName:   byName,
		nodes:    ordered,
		edges:    mapped,
		outgoing: outgoing,
		incoming: incoming,
		indeg:    indeg,
	}
	if err := g.validateAcyclic(); err != nil {
		return nil, err
	}
	g.depth = g.computeDepth()
	g.hash = g.computeHash()
	return g, nil
}

// Len is the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Hash identifies the graph's structure independent of construction order.
func (g *Graph) Hash() string { return g.hash }

// Node returns a node by name.
func (g *Graph) Node(name string) (*Node, bool) {
	n, ok := g.byName[name]
	return n, ok
}

// Nodes returns the nodes in canonical order.
func (g *Graph) Nodes() []*Node {
	out := make([]*Node, len(g.nodes))
	copy(out, g.nodes)
	return out
}

// Edges returns the edges in canonical order.
func (g *Graph) Edges() []Edge {
	out := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		out = append(out, Edge{From: g.nodes[e.from].Name, To: g.nodes[e.to].Name})
	}
	return out
}

// Dependencies returns the names of the nodes name depends on.
func (g *Graph) Dependencies(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.incoming[n.index])
}

// Dependents returns the names of the nodes that depend on name.
func (g *Graph) Dependents(name string) []string {
	n, ok := g.byName[name]
	if !ok {
		return nil
	}
	return g.names(g.outgoing[n.index])
}

// Depth is the length of the longest path from a root to the node.
func (g *Graph) Depth(name string) (int, bool) {
	n, ok := g.byName[name]
	if !ok {
		return 0, false
	}
	return g.depth[n.index], true
}

// TopologicalOrder returns a deterministic topological ordering of names.
func (g *Graph) TopologicalOrder() []string {
	return g.names(g.topoOrderIndices())
}

func (g *Graph) names(indices []int) []string {
	out := make([]string, 0, len(indices))
	for _, i := range indices {
		out = append(out, g.nodes[i].Name)
	}
	return out
}

func (g *Graph) computeDepth() []int {
	depth := make([]int, len(g.nodes))
	for _, u := range g.topoOrderIndices() {
		for _, p := range g.incoming[u] {
			if d := depth[p] + 1; d > depth[u] {
				depth[u] = d
			}
		}
	}
	return depth
}

func (g *Graph) computeHash() string {
	h := sha256.New()
	var lenBuf, intBuf [8]byte
	writeField := func(data []byte) {
		binary.BigEndian.PutUint64(lenBuf[:], uint64(len(data)))
		h.Write(lenBuf[:])
		h.Write(data)
	}
	writeInt := func(v int) {
		binary.BigEndian.PutUint64(intBuf[:], uint64(v))
		writeField(intBuf[:])
	}

	writeInt(len(g.nodes))
	for _, n := range g.nodes {
		writeField([]byte(n.Name))
		writeField([]byte(n.Stage))
		writeField([]byte(n.Target))
		writeField([]byte(n.Input))
	}
	writeInt(len(g.edges))
	for _, e := range g.edges {
		writeInt(e.from)
		writeInt(e.to)
	}
	return hex.EncodeToString(h.Sum(nil))
}

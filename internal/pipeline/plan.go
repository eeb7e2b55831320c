package pipeline

import (
	"fmt"

	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/pkg/types"
)

// NodeName spells the graph node of a stage. Index nodes carry the source
// label; the later stages are one per target. The synthesize stage is
// spelled "synth", as on the command line.
func NodeName(stage types.Stage, target, source string) string {
	switch stage {
	case types.StageIndex:
		return fmt.Sprintf("%s:%s:%s", stage, target, source)
	case types.StageSynthesize:
		return "synth:" + target
	}
	return fmt.Sprintf("%s:%s", stage, target)
}

// BuildGraph lays out the nodes of targets up to and including stage until:
// one index node per source, then a merge barrier, then the embed, synth and
// build chain.
func BuildGraph(targets []Target, until types.Stage) (*graph.Graph, error) {
	limit := -1
	for i, st := range stageOrder {
		if st.stage == until {
			limit = i
		}
	}
	if limit < 0 {
		return nil, fmt.Errorf("%w: unknown final stage %q", types.ErrConfiguration, until)
	}

	var nodes []graph.Node
	var edges []graph.Edge
	seen := make(map[string]bool, len(targets))
	for i := range targets {
		t := &targets[i]
		if err := t.Validate(); err != nil {
			return nil, err
		}
		if seen[t.Name] {
			return nil, fmt.Errorf("%w: target %s defined twice", types.ErrConfiguration, t.Name)
		}
		seen[t.Name] = true

		var indexNodes []string
		for _, u := range t.Units() {
			name := NodeName(types.StageIndex, t.Name, t.sourceLabel(u.Path))
			nodes = append(nodes, graph.Node{Name: name, Stage: types.StageIndex, Target: t.Name, Input: u.Path})
			indexNodes = append(indexNodes, name)
		}

		prev := ""
		for _, st := range stageOrder[1 : limit+1] {
			name := NodeName(st.stage, t.Name, "")
			nodes = append(nodes, graph.Node{Name: name, Stage: st.stage, Target: t.Name, Input: t.Name})
			if st.stage == types.StageMerge {
				for _, in := range indexNodes {
					edges = append(edges, graph.Edge{From: in, To: name})
				}
			} else {
				edges = append(edges, graph.Edge{From: prev, To: name})
			}
			prev = name
		}
	}
	return graph.New(nodes, edges)
}

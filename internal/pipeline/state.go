package pipeline

import (
	"fmt"

	"github.com/dshills/scenariogen/pkg/types"
)

// TargetState is the per-target position in the pipeline.
type TargetState string

const (
	Unbuilt               TargetState = "unbuilt"
	Indexed               TargetState = "indexed"
	Merged                TargetState = "merged"
	Embedded              TargetState = "embedded"
	Synthesized           TargetState = "synthesized"
	CompiledAndRegistered TargetState = "compiled_and_registered"
	Failed                TargetState = "failed"
)

// stageOrder lists the graph stages in pipeline order with the state each
// one leads to.
var stageOrder = []struct {
	stage types.Stage
	state TargetState
}{
	{types.StageIndex, Indexed},
	{types.StageMerge, Merged},
	{types.StageEmbed, Embedded},
	{types.StageSynthesize, Synthesized},
	{types.StageBuild, CompiledAndRegistered},
}

// TargetStatus is the outcome of one target in a run.
type TargetStatus struct {
	Target      string
	State       TargetState
	FailedStage types.Stage
	Err         error
}

// advance moves to the state reached by completing stage. Only the next
// stage in order may complete, and Failed is terminal.
func (s *TargetStatus) advance(stage types.Stage) error {
	if s.State == Failed {
		return fmt.Errorf("target %s: cannot complete %s after failing in %s", s.Target, stage, s.FailedStage)
	}
	for i, st := range stageOrder {
		if st.stage != stage {
			continue
		}
		prev := Unbuilt
		if i > 0 {
			prev = stageOrder[i-1].state
		}
		if s.State != prev {
			return fmt.Errorf("target %s: %s cannot complete from state %s", s.Target, stage, s.State)
		}
		s.State = st.state
		return nil
	}
	return fmt.Errorf("target %s: unknown stage %s", s.Target, stage)
}

func (s *TargetStatus) fail(stage types.Stage, err error) {
	if s.State == Failed {
		return
	}
	s.State = Failed
	s.FailedStage = stage
	s.Err = err
}

// Done reports whether the target reached its final state.
func (s *TargetStatus) Done() bool {
	return s.State == CompiledAndRegistered
}

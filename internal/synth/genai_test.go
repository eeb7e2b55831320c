package synth

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"

	"github.com/dshills/scenariogen/pkg/types"
)

type fakeGenerator struct {
	reply  string
	err    error
	prompt string
	config *genai.GenerateContentConfig
}

func (f *fakeGenerator) GenerateContent(_ context.Context, _ string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.prompt = contents[0].Parts[0].Text
	f.config = config
	if f.err != nil {
		return nil, f.err
	}
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{
		Content: &genai.Content{Parts: []*genai.Part{{Text: f.reply}}},
	}}}, nil
}

const boxPlanJSON = "```json\n" + `{
  "subject": "lib::BoxOfFruits",
  "steps": [
    {"op": "create", "id": "subject", "type": "lib::BoxOfFruits"},
    {"op": "call", "target": "subject", "method": "add", "repeat": 2,
     "args": [{"construct": {"type": "lib::Fruit", "args": [{"str": "apple"}]}}]},
    {"op": "call", "target": "subject", "method": "count", "result": "observed"},
    {"op": "assert", "compare": {"op": "==", "left": {"var": "observed"}, "right": {"int": 2}},
     "clause": "The box contains 2 items."}
  ]
}` + "\n```"

func TestGenAIPlannerMatchesHeuristic(t *testing.T) {
	gen := &fakeGenerator{reply: boxPlanJSON}
	planner := &GenAIPlanner{models: gen, model: "test-model"}

	fromModel, err := Synthesize(context.Background(), boxIndex(), nil, Options{Planner: planner})
	require.NoError(t, err)
	fromHeuristic, err := Synthesize(context.Background(), boxIndex(), nil, Options{})
	require.NoError(t, err)
	assert.Equal(t, fromHeuristic.Source, fromModel.Source)

	assert.Equal(t, "application/json", gen.config.ResponseMIMEType)
	assert.Contains(t, gen.prompt, `"name": "lib::BoxOfFruits"`)
	assert.Contains(t, gen.prompt, "void add(Fruit fruit)")
	assert.Contains(t, gen.prompt, "Fruit(std::string kind)")
	assert.Contains(t, gen.prompt, "The scenario is documented on lib::test_case_0.")
	assert.Contains(t, gen.prompt, `When I place 2 x "apple" in it.`)
	assert.Equal(t, "genai/test-model", planner.Name())
}

func TestGenAIPlannerFailures(t *testing.T) {
	tests := []struct {
		name    string
		gen     *fakeGenerator
		wantErr error
	}{
		{"request error", &fakeGenerator{err: errors.New("quota exceeded")}, types.ErrSynthesis},
		{"empty reply", &fakeGenerator{reply: "  "}, ErrNoPlan},
		{"not json", &fakeGenerator{reply: "I think you should add apples"}, ErrInvalidPlan},
		{"unknown field", &fakeGenerator{reply: `{"subject": "lib::BoxOfFruits", "steps": [], "notes": "x"}`}, ErrInvalidPlan},
		{"invented method", &fakeGenerator{reply: `{"steps": [
			{"op": "create", "id": "b", "type": "lib::BoxOfFruits"},
			{"op": "call", "target": "b", "method": "weigh", "result": "w"},
			{"op": "assert", "compare": {"op": "==", "left": {"var": "w"}, "right": {"int": 1}}}]}`}, ErrUnknownOperation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			planner := &GenAIPlanner{models: tt.gen, model: "m"}
			_, err := Synthesize(context.Background(), boxIndex(), nil, Options{Planner: planner})
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, types.ErrSynthesis)
		})
	}
}

func TestNewGenAIPlannerRequiresKey(t *testing.T) {
	_, err := NewGenAIPlanner(context.Background(), "", "")
	assert.Error(t, err)
}

func TestParsePlan(t *testing.T) {
	plan, err := ParsePlan([]byte(boxPlanJSON))
	require.NoError(t, err)
	assert.Equal(t, "lib::BoxOfFruits", plan.Subject)
	assert.Equal(t, `subject.add(lib::Fruit("apple")) x2`, plan.Steps[1].String())
	assert.Equal(t, "assert observed == 2", plan.Steps[3].String())

	_, err = ParsePlan([]byte(`{"steps": [{"op": "create", "colour": "red"}]}`))
	assert.Error(t, err)
}

package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScenarios_BoxExample(t *testing.T) {
	doc := `Given An empty box.
When I place 2 x "apple" in it.
Then The box contains 2 items.`

	scenarios, err := ParseScenarios(doc)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)

	assert.Equal(t, "An empty box.", scenarios[0].Given)
	assert.Equal(t, `I place 2 x "apple" in it.`, scenarios[0].When)
	assert.Equal(t, "The box contains 2 items.", scenarios[0].Then)
}

func TestParseScenarios_MultipleAndContinuations(t *testing.T) {
	doc := `Scenarios for the box.

Given an empty box
When I place "apple" in it
And I place "pear" in it
Then the box contains 2 items

Given an empty box
When I place 3 x "kiwi"
  in it
Then the box contains
  3 items`

	scenarios, err := ParseScenarios(doc)
	require.NoError(t, err)
	require.Len(t, scenarios, 2)

	assert.Equal(t, `I place "apple" in it and I place "pear" in it`, scenarios[0].When)
	assert.Equal(t, `I place 3 x "kiwi" in it`, scenarios[1].When)
	assert.Equal(t, "the box contains 3 items", scenarios[1].Then)
}

func TestParseScenarios_Inline(t *testing.T) {
	scenarios, err := ParseScenarios(`Given An empty box. When I place 2 x "apple" in it. Then The box contains 2 items.`)
	require.NoError(t, err)
	require.Len(t, scenarios, 1)
	assert.Equal(t, "An empty box.", scenarios[0].Given)
	assert.Equal(t, "The box contains 2 items.", scenarios[0].Then)
}

func TestParseScenarios_NoScenario(t *testing.T) {
	scenarios, err := ParseScenarios("A box holding fruit.\nWhen full it cannot take more.")
	require.NoError(t, err)
	assert.Empty(t, scenarios)
}

func TestParseScenarios_Incomplete(t *testing.T) {
	_, err := ParseScenarios("Given an empty box\nThen it contains 0 items")
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrIncompleteScenario))
}

func TestParseScenarios_RoundTrip(t *testing.T) {
	in := StructuredScenario{Given: "a box", When: `I add "apple"`, Then: "it contains 1 item"}
	out, err := ParseScenarios(in.String())
	require.NoError(t, err)
	require.Len(t, out, 1)
	assert.Equal(t, in, out[0])
}

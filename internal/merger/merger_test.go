package merger

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/scenariogen/pkg/types"
)

func artifact(source string, entities ...types.EntityRecord) *types.IndexArtifact {
	return &types.IndexArtifact{
		SourceIdentity: source,
		SourcePath:     source,
		ParserVersion:  types.ParserVersion,
		Entities:       entities,
	}
}

func entity(name, file string, line int) types.EntityRecord {
	return types.EntityRecord{QualifiedName: name, Name: name, Kind: types.KindType, File: file, Line: line}
}

func TestMerge_Union(t *testing.T) {
	a := artifact("a.cpp@1", entity("lib::B", "a.cpp", 3), entity("lib::A", "a.cpp", 1))
	b := artifact("b.cpp@1", entity("lib::C", "b.cpp", 1))

	merged, err := Merge("lib", []*types.IndexArtifact{b, a})
	require.NoError(t, err)

	var names []string
	for _, e := range merged.Entities {
		names = append(names, e.QualifiedName)
	}
	assert.Equal(t, []string{"lib::A", "lib::B", "lib::C"}, names)
	assert.Equal(t, []string{"a.cpp@1", "b.cpp@1"}, merged.Inputs)
}

func TestMerge_OrderIndependent(t *testing.T) {
	a := artifact("a.cpp@1", entity("x", "a.cpp", 1))
	b := artifact("b.cpp@1", entity("y", "b.cpp", 1))
	c := artifact("c.cpp@1", entity("z", "c.cpp", 1))

	m1, err := Merge("t", []*types.IndexArtifact{a, b, c})
	require.NoError(t, err)
	m2, err := Merge("t", []*types.IndexArtifact{c, a, b})
	require.NoError(t, err)

	if diff := cmp.Diff(m1, m2); diff != "" {
		t.Errorf("merge depends on input order (-first +second):\n%s", diff)
	}
	h1, err := m1.Hash()
	require.NoError(t, err)
	h2, err := m2.Hash()
	require.NoError(t, err)
	assert.Equal(t, h1, h2)
}

func TestMerge_SharedHeaderIsNotDuplicate(t *testing.T) {
	shared := entity("lib::Box", "box.hpp", 8)
	a := artifact("a.cpp@1", shared)
	b := artifact("b.cpp@1", shared)

	merged, err := Merge("lib", []*types.IndexArtifact{a, b})
	require.NoError(t, err)
	assert.Len(t, merged.Entities, 1)
}

func TestMerge_Duplicate(t *testing.T) {
	a := artifact("a.cpp@1", entity("lib::Box", "a.cpp", 1))
	b := artifact("b.cpp@1", entity("lib::Box", "b.cpp", 1))
	c := artifact("c.cpp@1", entity("lib::Box", "c.cpp", 1))

	for _, order := range [][]*types.IndexArtifact{{a, b, c}, {c, b, a}, {b, c, a}} {
		_, err := Merge("lib", order)
		require.Error(t, err)
		assert.True(t, errors.Is(err, types.ErrDuplicateEntity))

		var dup *types.DuplicateEntityError
		require.True(t, errors.As(err, &dup))
		assert.Equal(t, "lib::Box", dup.Name)
		assert.Equal(t, "a.cpp@1", dup.First)
		assert.Equal(t, "b.cpp@1", dup.Second)
	}
}

func TestMerge_SameSiteDifferentContentIsDuplicate(t *testing.T) {
	x := entity("lib::Box", "box.hpp", 8)
	y := entity("lib::Box", "box.hpp", 8)
	y.Doc = "changed under a different define"

	_, err := Merge("lib", []*types.IndexArtifact{artifact("a.cpp@1", x), artifact("b.cpp@1", y)})
	assert.True(t, errors.Is(err, types.ErrDuplicateEntity))
}

func TestMerge_ParserVersionMismatch(t *testing.T) {
	a := artifact("a.cpp@1")
	a.ParserVersion = "old"
	_, err := Merge("lib", []*types.IndexArtifact{a})
	assert.True(t, errors.Is(err, types.ErrConfiguration))
}

func TestMerge_Empty(t *testing.T) {
	merged, err := Merge("lib", nil)
	require.NoError(t, err)
	assert.Empty(t, merged.Entities)
	assert.Equal(t, 0, merged.ScenarioCount())
}

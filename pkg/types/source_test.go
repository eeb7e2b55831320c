package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCompilerArgs(t *testing.T) {
	cfg := ParseCompilerArgs(
		[]string{"-std=c++17", "-Wall"},
		[]string{"-I", "src", "-Iinclude", "-DNDEBUG", "-D", "LEVEL=2", "-std=c++20", "-O2"},
	)

	assert.Equal(t, "c++20", cfg.Standard)
	assert.Equal(t, []string{"src", "include"}, cfg.IncludePaths)
	assert.Equal(t, []string{"NDEBUG", "LEVEL=2"}, cfg.Defines)
	assert.Equal(t, []string{"-Wall", "-O2"}, cfg.Extra)
	assert.Equal(t, map[string]string{"NDEBUG": "", "LEVEL": "2"}, cfg.DefineSet())
}

func TestCompilerConfig_ValidateRequiresStandard(t *testing.T) {
	cfg := ParseCompilerArgs(nil, []string{"-Isrc"})
	err := cfg.Validate()
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrConfiguration))
}

func TestCompilerConfig_HashIgnoresIncludeOrder(t *testing.T) {
	a := CompilerConfig{Standard: "c++20", IncludePaths: []string{"a", "b"}}
	b := CompilerConfig{Standard: "c++20", IncludePaths: []string{"b", "a"}}
	c := CompilerConfig{Standard: "c++17", IncludePaths: []string{"a", "b"}}

	assert.Equal(t, a.Hash(), b.Hash())
	assert.NotEqual(t, a.Hash(), c.Hash())
}

func TestSourceUnit_Identity(t *testing.T) {
	u1 := SourceUnit{Path: "src/lib/box.cpp", Config: CompilerConfig{Standard: "c++20"}}
	u2 := SourceUnit{Path: "src/lib/./box.cpp", Config: CompilerConfig{Standard: "c++20"}}
	u3 := SourceUnit{Path: "src/lib/box.cpp", Config: CompilerConfig{Standard: "c++17"}}

	assert.Equal(t, u1.Identity(), u2.Identity())
	assert.NotEqual(t, u1.Identity(), u3.Identity())
}

func TestIsHeader(t *testing.T) {
	assert.True(t, IsHeader("box.hpp"))
	assert.True(t, IsHeader("fruit.H"))
	assert.False(t, IsHeader("box.cpp"))
	assert.True(t, IsSource("box.cpp"))
	assert.False(t, IsSource("README.md"))
}

func TestStageError(t *testing.T) {
	err := NewStageError(StageBuild, "lib", ErrBuild, errors.New("exit status 1"))
	err.Diagnostic = "box.cpp:3: error: expected ';'"

	assert.True(t, errors.Is(err, ErrBuild))
	assert.Contains(t, err.Error(), "build lib: build error: exit status 1")
	assert.Contains(t, err.Error(), "expected ';'")

	dup := &DuplicateEntityError{Name: "lib::Box", First: "a.cpp", Second: "b.cpp"}
	wrapped := NewStageError(StageMerge, "lib", nil, dup)
	assert.True(t, errors.Is(wrapped, ErrDuplicateEntity))
	assert.Equal(t, ErrDuplicateEntity, wrapped.Kind)

	var de *DuplicateEntityError
	require.True(t, errors.As(wrapped, &de))
	assert.Equal(t, "lib::Box", de.Name)
}

// Package types provides the shared domain types of the scenariogen pipeline.
//
// # Source units and entities
//
// A SourceUnit is one C or C++ translation unit together with its resolved
// CompilerConfig. Its Identity (path plus configuration hash) keys every
// cached result derived from it:
//
//	cfg := types.ParseCompilerArgs([]string{"-std=c++20"}, []string{"-Isrc"})
//	unit := types.SourceUnit{Path: "src/lib/box.cpp", Config: cfg}
//
// The indexer records each documented or undocumented declaration as an
// EntityRecord. Given/When/Then blocks in documentation become
// StructuredScenarios:
//
//	// Given An empty box.
//	// When I place 2 x "apple" in it.
//	// Then The box contains 2 items.
//	using test_case_0 = void;
//
// # Artifacts
//
// Each stage produces an immutable artifact: IndexArtifact, MergedIndex,
// EmbeddingsArtifact, GeneratedScenarioFile and TestArtifact. Artifacts are
// content addressed through ContentHash, which hashes a canonical JSON
// encoding, so equal inputs give byte-identical artifacts.
//
// # Errors
//
// Failures carry one of the kinds ErrConfiguration, ErrParseFailure,
// ErrDuplicateEntity, ErrEmbeddingService, ErrSynthesis, ErrBuild or
// ErrRegistration, usually inside a *StageError that names the stage and the
// offending input:
//
//	if errors.Is(err, types.ErrSynthesis) {
//	    // a scenario clause could not be mapped
//	}
package types

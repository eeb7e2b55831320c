// Package indexer implements the per-file indexing stage.
//
// Index runs once per non-header source file. It parses the file, resolves
// its #include directives against the including directory and the unit's
// include paths, parses each reachable header once, and returns:
//
//   - an IndexArtifact with the entities declared in the unit and in headers
//     under its include paths
//   - a DependencyList of every file consulted, used to decide staleness on
//     later runs without reparsing
//
// Basic usage:
//
//	idx := indexer.New(logger)
//	unit := types.SourceUnit{
//	    Path:   "src/lib/box.cpp",
//	    Config: types.ParseCompilerArgs(nil, []string{"-std=c++20", "-Isrc"}),
//	}
//	artifact, deps, err := idx.Index(ctx, unit)
//
// A unit without a language standard fails with types.ErrConfiguration;
// syntax errors fail with types.ErrParseFailure.
package indexer

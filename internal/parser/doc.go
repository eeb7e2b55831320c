// Package parser extracts declarations from C and C++ source files using the
// tree-sitter C++ grammar.
//
// # Basic Usage
//
//	p := parser.New(logger)
//	result, err := p.ParseFile(ctx, "src/lib/box.hpp", content, cfg.DefineSet())
//	if err != nil {
//	    return err // wraps types.ErrParseFailure for syntax errors
//	}
//
//	for _, entity := range result.Entities {
//	    fmt.Printf("%s %s\n", entity.Kind, entity.QualifiedName)
//	}
//
// # Extraction
//
// The parser records:
//   - Classes and structs, with their public constructors and methods
//   - Free functions, with overloads folded into one entity
//   - using aliases and typedefs
//   - The comment block directly above each declaration
//   - #include directives, for dependency resolution by the indexer
//
// Namespaces qualify names ("lib::BoxOfFruits"). Anonymous namespaces,
// templates and out-of-class member definitions are not recorded.
//
// Documentation containing Given/When/Then clauses is parsed into
// types.StructuredScenario values attached to the entity:
//
//	/**
//	    Given An empty box.
//	    When I place 2 x "apple" in it.
//	    Then The box contains 2 items.
//	*/
//	using test_case_0 = void;
//
// # Preprocessor
//
// There is no preprocessor. #ifdef and #ifndef blocks are resolved against
// the unit's -D defines; branches of #if expressions are all visited.
package parser

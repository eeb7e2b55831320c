// Package synth turns the Given/When/Then scenarios of a merged index into a
// C++ test translation unit.
//
// Each scenario is first planned: a Planner maps its clauses onto the types
// and operations of the index, producing a small plan of create, call and
// assert steps. Check validates the plan against the catalog and lowers it
// to C++ statements; the emitter renders one function per scenario plus a
// main that exits non-zero when any assertion fails.
//
// For the scenario
//
//	Given An empty box.
//	When I place 2 x "apple" in it.
//	Then The box contains 2 items.
//
// the heuristic planner produces
//
//	subject = lib::BoxOfFruits()
//	subject.add(lib::Fruit("apple")) x2
//	observed = subject.count()
//	assert observed == 2
//
// Planning never guesses. A clause naming no operation, an overloaded
// operation, or several equally likely subjects fails the target with a
// synthesis error.
package synth

package synth

import (
	"github.com/dshills/scenariogen/pkg/types"
)

func boxEntity() types.EntityRecord {
	return types.EntityRecord{
		QualifiedName: "lib::BoxOfFruits", Name: "BoxOfFruits", Namespace: "lib", Kind: types.KindType,
		Doc: "class container for fruits", File: "src/lib/box.hpp", Line: 8,
		Operations: []types.Operation{
			{Name: "BoxOfFruits", Kind: types.OpConstructor, Line: 13},
			{Name: "add", Kind: types.OpMethod, Params: []types.Param{{Name: "fruit", Type: "Fruit"}}, ReturnType: "void", Line: 14},
			{Name: "count", Kind: types.OpMethod, ReturnType: "std::size_t", Const: true, Line: 15},
		},
	}
}

func fruitEntity() types.EntityRecord {
	return types.EntityRecord{
		QualifiedName: "lib::Fruit", Name: "Fruit", Namespace: "lib", Kind: types.KindType,
		File: "src/lib/fruit.hpp", Line: 7,
		Operations: []types.Operation{
			{Name: "Fruit", Kind: types.OpConstructor, Params: []types.Param{{Name: "kind", Type: "std::string"}}, Line: 12},
			{Name: "Fruit", Kind: types.OpConstructor, Params: []types.Param{{Name: "other", Type: "const Fruit&"}}, Line: 16},
			{Name: "Fruit", Kind: types.OpConstructor, Params: []types.Param{{Name: "other", Type: "Fruit&&"}}, Line: 17},
			{Name: "get_kind", Kind: types.OpMethod, ReturnType: "std::string_view", Const: true, Line: 23},
		},
	}
}

func markerEntity(s types.StructuredScenario) types.EntityRecord {
	return types.EntityRecord{
		QualifiedName: "lib::test_case_0", Name: "test_case_0", Namespace: "lib", Kind: types.KindAlias,
		Aliased: "void", Doc: s.String(), Scenarios: []types.StructuredScenario{s},
		File: "src/lib/box.hpp", Line: 23,
	}
}

var boxScenario = types.StructuredScenario{
	Given: "An empty box.",
	When:  `I place 2 x "apple" in it.`,
	Then:  "The box contains 2 items.",
}

func counterEntity() types.EntityRecord {
	s := types.StructuredScenario{
		Given: "A counter.",
		When:  "I increment it 3 times.",
		Then:  "The counter value is 3.",
	}
	return types.EntityRecord{
		QualifiedName: "lib::Counter", Name: "Counter", Namespace: "lib", Kind: types.KindType,
		Doc: s.String(), Scenarios: []types.StructuredScenario{s}, File: "src/lib/counter.hpp", Line: 3,
		Operations: []types.Operation{
			{Name: "increment", Kind: types.OpMethod, ReturnType: "void", Line: 5},
			{Name: "value", Kind: types.OpMethod, ReturnType: "int", Const: true, Line: 6},
		},
	}
}

// boxIndex mirrors what the indexer records for the box example. Entities
// are in qualified-name order.
func boxIndex(extra ...types.EntityRecord) *types.MergedIndex {
	entities := []types.EntityRecord{boxEntity()}
	entities = append(entities, extra...)
	entities = append(entities, fruitEntity(), markerEntity(boxScenario))
	return &types.MergedIndex{Target: "app", Inputs: []string{"src/main.cpp"}, Entities: entities}
}

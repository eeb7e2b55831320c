package synth

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dshills/scenariogen/internal/embedder"
	"github.com/dshills/scenariogen/pkg/types"
)

// PlannerHeuristic is the name of the deterministic clause planner.
const PlannerHeuristic = "heuristic"

// Variable names used by heuristic plans.
const (
	subjectVar  = "subject"
	observedVar = "observed"
)

// HeuristicPlanner maps scenarios to plans by lexical analysis of their
// clauses. It never guesses: any ambiguity is an error.
type HeuristicPlanner struct{}

// NewHeuristicPlanner returns the deterministic planner.
func NewHeuristicPlanner() *HeuristicPlanner { return &HeuristicPlanner{} }

func (h *HeuristicPlanner) Name() string { return PlannerHeuristic }

// Plan builds create, call and assert steps from the Given, When and Then
// clauses respectively.
func (h *HeuristicPlanner) Plan(_ context.Context, req PlanRequest) (*Plan, error) {
	subject, err := h.subject(req)
	if err != nil {
		return nil, fmt.Errorf("given: %w", err)
	}
	plan := &Plan{Subject: subject.QualifiedName}

	create, err := h.create(req.Catalog, subject, analyze(req.Scenario.Given))
	if err != nil {
		return nil, fmt.Errorf("given: %w", err)
	}
	plan.Steps = append(plan.Steps, create)

	calls, err := h.when(req.Catalog, subject, analyze(req.Scenario.When))
	if err != nil {
		return nil, fmt.Errorf("when: %w", err)
	}
	plan.Steps = append(plan.Steps, calls...)

	parts := splitConjunction(req.Scenario.Then)
	for i, part := range parts {
		result := observedVar
		if len(parts) > 1 {
			result = fmt.Sprintf("%s_%d", observedVar, i)
		}
		steps, err := h.then(req.Catalog, subject, analyze(part), result)
		if err != nil {
			return nil, fmt.Errorf("then: %w", err)
		}
		plan.Steps = append(plan.Steps, steps...)
	}
	return plan, nil
}

// subject picks the type the Given clause talks about. Types score by the
// clause words found in their name, doubled, and in their documentation.
// Ties fall back to embedding similarity with the scenario's entity.
func (h *HeuristicPlanner) subject(req PlanRequest) (*types.EntityRecord, error) {
	given := analyze(req.Scenario.Given)
	words := given.contentWords()

	best := 0
	var tied []*types.EntityRecord
	for _, t := range req.Catalog.Types() {
		score := 2*overlap(words, nameTokens(t.Name)) + overlap(words, nameTokens(t.Doc))
		if score > 0 && t.QualifiedName == req.Entity.QualifiedName {
			score++
		}
		switch {
		case score == 0 || score < best:
		case score > best:
			best, tied = score, []*types.EntityRecord{t}
		default:
			tied = append(tied, t)
		}
	}

	switch len(tied) {
	case 0:
		if t, ok := req.Catalog.Type(req.Entity.QualifiedName); ok {
			return t, nil
		}
		return nil, fmt.Errorf("%w: %q names no known type", ErrUnmappedClause, req.Scenario.Given)
	case 1:
		return tied[0], nil
	}
	if t, ok := closest(req.Embeddings, req.Entity.QualifiedName, tied); ok {
		return t, nil
	}
	names := make([]string, len(tied))
	for i, t := range tied {
		names[i] = t.QualifiedName
	}
	return nil, fmt.Errorf("%w: %q could describe %s", ErrAmbiguous, req.Scenario.Given, strings.Join(names, ", "))
}

func overlap(words, tokens []string) int {
	set := make(map[string]bool, len(tokens))
	for _, t := range tokens {
		set[t] = true
	}
	n := 0
	for _, w := range words {
		if set[w] {
			n++
		}
	}
	return n
}

// closest returns the candidate whose embedding is strictly most similar to
// the anchor entity's.
func closest(emb *types.EmbeddingsArtifact, anchor string, candidates []*types.EntityRecord) (*types.EntityRecord, bool) {
	ref, ok := emb.Vector(anchor)
	if !ok {
		return nil, false
	}
	var (
		best     *types.EntityRecord
		bestSim  float64
		unique   bool
		anyScore bool
	)
	for _, c := range candidates {
		v, ok := emb.Vector(c.QualifiedName)
		if !ok {
			continue
		}
		sim := embedder.CosineSimilarity(ref, v)
		switch {
		case !anyScore || sim > bestSim:
			best, bestSim, unique, anyScore = c, sim, true, true
		case sim == bestSim:
			unique = false
		}
	}
	return best, anyScore && unique
}

func (h *HeuristicPlanner) create(cat *Catalog, subject *types.EntityRecord, given *clause) (Step, error) {
	step := Step{Op: OpCreate, ID: subjectVar, Type: subject.QualifiedName}
	if len(given.literals) > 0 {
		var match *types.Operation
		ctors := cat.Constructors(subject)
		for i := range ctors {
			if !allStringParams(cat, &ctors[i], subject.QualifiedName, len(given.literals)) {
				continue
			}
			if match != nil {
				return Step{}, fmt.Errorf("%w: several constructors of %s take %d strings", ErrAmbiguous, subject.QualifiedName, len(given.literals))
			}
			match = &ctors[i]
		}
		if match != nil {
			for _, lit := range given.literals {
				step.Args = append(step.Args, StrArg(lit))
			}
			return step, nil
		}
	}
	if !cat.hasDefaultConstructor(subject) {
		return Step{}, fmt.Errorf("%w: %s has no constructor usable from %q", ErrNoMatchingOverload, subject.QualifiedName, given.text)
	}
	return step, nil
}

func allStringParams(cat *Catalog, op *types.Operation, owner string, n int) bool {
	if len(op.Params) != n {
		return false
	}
	for _, p := range op.Params {
		if class, _ := cat.classify(p.Type, owner); class != classString {
			return false
		}
	}
	return true
}

// when maps the clause to one mutating method, called once per quoted
// literal when the method takes a single literal, each call repeated by the
// clause's multiplicity.
func (h *HeuristicPlanner) when(cat *Catalog, subject *types.EntityRecord, when *clause) ([]Step, error) {
	var mutators []types.Operation
	for _, op := range subject.Methods() {
		if !op.Const && !op.Static {
			mutators = append(mutators, op)
		}
	}

	name, err := chooseMethod(mutators, when, func(op types.Operation) bool {
		return verbMatches(when, op.Name)
	})
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, subject.QualifiedName)
	}
	overloads := cat.Methods(subject, name)
	if len(overloads) != 1 {
		return nil, fmt.Errorf("%w: %s::%s is overloaded", ErrAmbiguous, subject.QualifiedName, name)
	}
	op := overloads[0]

	fill := &argFiller{cat: cat, owner: subject.QualifiedName, literals: when.literals, numbers: when.numbers}
	if len(op.Params) == 1 && len(when.literals) > 1 {
		var steps []Step
		for range when.literals {
			args, err := fill.args(op)
			if err != nil {
				return nil, err
			}
			steps = append(steps, Step{Op: OpCall, Target: subjectVar, Method: name, Args: args, Repeat: int(when.count)})
		}
		if fill.used < len(when.literals) {
			return nil, fmt.Errorf("%w: %s(%s) cannot take %q", ErrUnmappedClause, name, op.Params[0].Type, when.literals[fill.used])
		}
		return steps, nil
	}

	args, err := fill.args(op)
	if err != nil {
		return nil, err
	}
	if fill.used < len(when.literals) {
		return nil, fmt.Errorf("%w: literal %q is not used by %s", ErrUnmappedClause, when.literals[fill.used], op.Signature())
	}
	return []Step{{Op: OpCall, Target: subjectVar, Method: name, Args: args, Repeat: int(when.count)}}, nil
}

func verbMatches(when *clause, method string) bool {
	toks := nameTokens(method)
	for _, group := range verbGroups {
		if !when.has(group...) {
			continue
		}
		for _, verb := range group {
			for _, t := range toks {
				if t == verb {
					return true
				}
			}
		}
	}
	return false
}

// chooseMethod prefers methods named literally in the clause and otherwise
// those fallback accepts. Exactly one method name must remain.
func chooseMethod(ops []types.Operation, c *clause, fallback func(types.Operation) bool) (string, error) {
	collect := func(keep func(types.Operation) bool) []string {
		seen := make(map[string]bool)
		var names []string
		for _, op := range ops {
			if keep(op) && !seen[op.Name] {
				seen[op.Name] = true
				names = append(names, op.Name)
			}
		}
		sort.Strings(names)
		return names
	}
	names := collect(func(op types.Operation) bool { return c.names(op.Name) })
	if len(names) == 0 {
		names = collect(fallback)
	}
	switch len(names) {
	case 0:
		return "", fmt.Errorf("%w: %q names no method", ErrUnknownOperation, c.text)
	case 1:
		return names[0], nil
	default:
		return "", fmt.Errorf("%w: %q could mean %s", ErrAmbiguous, c.text, strings.Join(names, ", "))
	}
}

// argFiller supplies method arguments from a clause's literals and numbers
// in order of appearance.
type argFiller struct {
	cat      *Catalog
	owner    string
	literals []string
	numbers  []number
	used     int
	usedNum  int
}

func (f *argFiller) nextLiteral(param string) (string, error) {
	if f.used >= len(f.literals) {
		return "", fmt.Errorf("%w: no quoted value for parameter %s", ErrUnmappedClause, param)
	}
	lit := f.literals[f.used]
	f.used++
	return lit, nil
}

func (f *argFiller) args(op types.Operation) ([]Arg, error) {
	var args []Arg
	for _, p := range op.Params {
		class, typ := f.cat.classify(p.Type, f.owner)
		switch class {
		case classString:
			lit, err := f.nextLiteral(p.Type)
			if err != nil {
				return nil, err
			}
			args = append(args, StrArg(lit))
		case classIntegral, classFloating:
			if f.usedNum >= len(f.numbers) {
				return nil, fmt.Errorf("%w: no number for parameter %s", ErrUnmappedClause, p.Type)
			}
			n := f.numbers[f.usedNum]
			f.usedNum++
			if class == classIntegral {
				if !n.integer {
					return nil, fmt.Errorf("%w: %g is not an integer for parameter %s", ErrUnmappedClause, n.value, p.Type)
				}
				args = append(args, IntArg(int64(n.value)))
			} else {
				args = append(args, FloatArg(n.value))
			}
		case classUser:
			t, _ := f.cat.Type(typ)
			if _, ok := f.cat.stringConstructor(t); ok && f.used < len(f.literals) {
				lit, _ := f.nextLiteral(p.Type)
				args = append(args, ConstructArg(t.QualifiedName, StrArg(lit)))
				continue
			}
			if f.cat.hasDefaultConstructor(t) {
				args = append(args, ConstructArg(t.QualifiedName))
				continue
			}
			return nil, fmt.Errorf("%w: cannot build %s for %s", ErrUnmappedClause, t.QualifiedName, op.Signature())
		default:
			return nil, fmt.Errorf("%w: cannot supply parameter %s of %s", ErrUnmappedClause, p.Type, op.Signature())
		}
	}
	return args, nil
}

// then maps one Then statement to a query call bound to result and an
// assertion on it.
func (h *HeuristicPlanner) then(cat *Catalog, subject *types.EntityRecord, then *clause, result string) ([]Step, error) {
	var integral, boolean []types.Operation
	for _, op := range subject.Methods() {
		if len(op.Params) != 0 {
			continue
		}
		switch class, _ := cat.classify(op.ReturnType, subject.QualifiedName); class {
		case classIntegral:
			integral = append(integral, op)
		case classBool:
			boolean = append(boolean, op)
		}
	}

	call := func(method string) Step {
		return Step{Op: OpCall, Target: subjectVar, Method: method, Result: result}
	}
	assert := func(op string, right Arg) Step {
		return Step{Op: OpAssert, Compare: &Comparison{Op: op, Left: VarArg(result), Right: right}, Clause: then.text}
	}

	// A predicate named by the clause, such as empty(), is asserted directly.
	if len(then.numbers) == 0 {
		if name, err := chooseMethod(boolean, then, func(types.Operation) bool { return false }); err == nil {
			return []Step{call(name), assert("==", BoolArg(!then.negated()))}, nil
		}
	}

	name, err := chooseMethod(integral, then, func(op types.Operation) bool {
		if !then.has(keys(quantityWords)...) {
			return false
		}
		for _, t := range nameTokens(op.Name) {
			for _, q := range quantityNames {
				if t == q {
					return true
				}
			}
		}
		return false
	})
	if err != nil {
		return nil, fmt.Errorf("%w in %s", err, subject.QualifiedName)
	}

	op := comparison(then.text)
	var expected int64
	switch {
	case len(then.numbers) > 0:
		n := then.numbers[0]
		if !n.integer {
			return nil, fmt.Errorf("%w: %g is not a count", ErrUnmappedClause, n.value)
		}
		expected = int64(n.value)
	case then.has(keys(emptinessWords)...):
		expected = 0
		if then.negated() {
			op = "!="
		}
	default:
		return nil, fmt.Errorf("%w: %q states no expected value", ErrUnmappedClause, then.text)
	}
	return []Step{call(name), assert(op, IntArg(expected))}, nil
}

func keys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

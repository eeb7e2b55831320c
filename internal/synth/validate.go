package synth

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/dshills/scenariogen/pkg/types"
)

// Reasons a scenario cannot be synthesized.
var (
	ErrInvalidPlan        = errors.New("invalid plan")
	ErrUnknownType        = errors.New("unknown type")
	ErrUnknownOperation   = errors.New("unknown operation")
	ErrNoMatchingOverload = errors.New("no matching overload")
	ErrAmbiguous          = errors.New("ambiguous")
	ErrUnmappedClause     = errors.New("clause cannot be mapped")
)

var identRe = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Names the generated translation unit already uses.
var reservedNames = map[string]bool{
	"expect": true, "failures": true, "main": true, "i": true,
}

// Statement is one line of a generated scenario function, executed Repeat
// times when Repeat is above one.
type Statement struct {
	Code   string
	Repeat int
}

// Program is a checked plan lowered to C++ statements.
type Program struct {
	Subject    string
	Statements []Statement
	// Entities lists the qualified names of the types and functions the
	// statements reference.
	Entities []string
	Headers  []string
}

type value struct {
	class typeClass
	typ   string
	code  string
	lit   bool
}

type checker struct {
	cat      *Catalog
	scope    string
	label    string
	vars     map[string]value
	entities map[string]bool
	headers  map[string]bool
	prog     *Program
}

// Check validates plan against the catalog and lowers it. scope is the
// namespace unqualified names resolve in; label identifies the scenario in
// assertion messages.
func Check(plan *Plan, cat *Catalog, scope, label string) (*Program, error) {
	if plan == nil {
		return nil, fmt.Errorf("%w: empty plan", ErrInvalidPlan)
	}
	c := &checker{
		cat:      cat,
		scope:    scope,
		label:    label,
		vars:     make(map[string]value),
		entities: make(map[string]bool),
		headers:  map[string]bool{"<cstdlib>": true, "<iostream>": true, "<string>": true},
		prog:     &Program{},
	}
	if plan.Subject != "" {
		t, ok := cat.ResolveType(plan.Subject, scope)
		if !ok {
			return nil, fmt.Errorf("%w: subject %s", ErrUnknownType, plan.Subject)
		}
		c.prog.Subject = t.QualifiedName
	}
	asserts := 0
	for i := range plan.Steps {
		step := &plan.Steps[i]
		var err error
		switch step.Op {
		case OpCreate:
			err = c.create(step)
		case OpCall:
			err = c.call(step)
		case OpAssert:
			asserts++
			err = c.assert(step)
		default:
			err = fmt.Errorf("%w: unknown step op %q", ErrInvalidPlan, step.Op)
		}
		if err != nil {
			return nil, fmt.Errorf("step %d: %w", i, err)
		}
	}
	if asserts == 0 {
		return nil, fmt.Errorf("%w: plan asserts nothing", ErrInvalidPlan)
	}
	if c.prog.Subject == "" {
		for _, s := range plan.Steps {
			if s.Op == OpCreate {
				c.prog.Subject = c.vars[s.ID].typ
				break
			}
		}
	}
	c.prog.Entities = sortedKeys(c.entities)
	c.prog.Headers = sortedKeys(c.headers)
	return c.prog, nil
}

func (c *checker) declare(name string, v value) error {
	if !identRe.MatchString(name) || reservedNames[name] {
		return fmt.Errorf("%w: bad variable name %q", ErrInvalidPlan, name)
	}
	if _, dup := c.vars[name]; dup {
		return fmt.Errorf("%w: variable %q declared twice", ErrInvalidPlan, name)
	}
	c.vars[name] = v
	return nil
}

func (c *checker) create(step *Step) error {
	t, ok := c.cat.ResolveType(step.Type, c.scope)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownType, step.Type)
	}
	args, err := c.values(step.Args)
	if err != nil {
		return err
	}
	code, err := c.construct(t, args)
	if err != nil {
		return err
	}
	if err := c.declare(step.ID, value{class: classUser, typ: t.QualifiedName}); err != nil {
		return err
	}
	c.emit(fmt.Sprintf("auto %s = %s;", step.ID, code), 1)
	return nil
}

func (c *checker) call(step *Step) error {
	args, err := c.values(step.Args)
	if err != nil {
		return err
	}

	var (
		ops   []types.Operation
		owner string
		recv  string
	)
	if step.Target == "" {
		fn, ok := c.cat.ResolveFunction(step.Method, c.scope)
		if !ok {
			return fmt.Errorf("%w: function %s", ErrUnknownOperation, step.Method)
		}
		ops, owner, recv = fn.Operations, fn.Namespace, fn.QualifiedName
		c.entities[fn.QualifiedName] = true
	} else {
		target, ok := c.vars[step.Target]
		if !ok {
			return fmt.Errorf("%w: undefined variable %q", ErrInvalidPlan, step.Target)
		}
		t, ok := c.cat.Type(target.typ)
		if target.class != classUser || !ok {
			return fmt.Errorf("%w: %s is not an object", ErrInvalidPlan, step.Target)
		}
		ops = c.cat.Methods(t, step.Method)
		if len(ops) == 0 {
			return fmt.Errorf("%w: %s has no method %s", ErrUnknownOperation, t.QualifiedName, step.Method)
		}
		owner, recv = t.QualifiedName, step.Target+"."+step.Method
	}

	op, err := c.pick(ops, args, owner, recv)
	if err != nil {
		return err
	}
	expr := recv + "(" + c.render(op, args, owner) + ")"

	if step.Result == "" {
		repeat := step.Repeat
		if repeat < 1 {
			repeat = 1
		}
		c.emit(expr+";", repeat)
		return nil
	}
	if step.Repeat > 1 {
		return fmt.Errorf("%w: repeated call cannot bind %s", ErrInvalidPlan, step.Result)
	}
	class, typ := c.cat.classify(op.ReturnType, owner)
	if class == classVoid || op.ReturnType == "" {
		return fmt.Errorf("%w: %s returns nothing to bind", ErrInvalidPlan, recv)
	}
	if err := c.declare(step.Result, value{class: class, typ: typ}); err != nil {
		return err
	}
	c.emit(fmt.Sprintf("const auto %s = %s;", step.Result, expr), 1)
	return nil
}

func (c *checker) assert(step *Step) error {
	cmp := step.Compare
	if cmp == nil || !comparisonOps[cmp.Op] {
		return fmt.Errorf("%w: assert needs a comparison", ErrInvalidPlan)
	}
	if cmp.Left.Var == "" || cmp.Left.fields() != 1 {
		return fmt.Errorf("%w: assert must compare a variable", ErrInvalidPlan)
	}
	left, ok := c.vars[cmp.Left.Var]
	if !ok {
		return fmt.Errorf("%w: undefined variable %q", ErrInvalidPlan, cmp.Left.Var)
	}
	right, err := c.value(cmp.Right)
	if err != nil {
		return err
	}
	if !right.lit {
		return fmt.Errorf("%w: assert must compare against a literal", ErrInvalidPlan)
	}
	equality := cmp.Op == "==" || cmp.Op == "!="

	var cond string
	switch {
	case left.class == classIntegral && right.class == classIntegral:
		cond = fmt.Sprintf("static_cast<long long>(%s) %s %s", cmp.Left.Var, cmp.Op, right.code)
	case left.class == classFloating && (right.class == classIntegral || right.class == classFloating):
		cond = fmt.Sprintf("static_cast<double>(%s) %s %s", cmp.Left.Var, cmp.Op, right.code)
	case left.class == classBool && right.class == classBool && equality:
		cond = fmt.Sprintf("%s %s %s", cmp.Left.Var, cmp.Op, right.code)
	case left.class == classString && left.typ != "char*" && right.class == classString && equality:
		cond = fmt.Sprintf("%s %s %s", cmp.Left.Var, cmp.Op, right.code)
	default:
		return fmt.Errorf("%w: cannot compare %s value %s with %s using %s",
			ErrInvalidPlan, left.class, cmp.Left.Var, right.class, cmp.Op)
	}
	clause := step.Clause
	if clause == "" {
		clause = cond
	}
	c.emit(fmt.Sprintf("expect(%s, %s, %s);", cond, cLiteral(c.label), cLiteral(clause)), 1)
	return nil
}

func (c *checker) emit(code string, repeat int) {
	c.prog.Statements = append(c.prog.Statements, Statement{Code: code, Repeat: repeat})
}

func (c *checker) values(args []Arg) ([]value, error) {
	out := make([]value, len(args))
	for i, a := range args {
		v, err := c.value(a)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *checker) value(a Arg) (value, error) {
	if a.fields() != 1 {
		return value{}, fmt.Errorf("%w: argument must set exactly one field", ErrInvalidPlan)
	}
	switch {
	case a.Str != nil:
		return value{class: classString, typ: "literal", code: cLiteral(*a.Str), lit: true}, nil
	case a.Int != nil:
		return value{class: classIntegral, typ: "int", code: strconv.FormatInt(*a.Int, 10), lit: true}, nil
	case a.Float != nil:
		s := strconv.FormatFloat(*a.Float, 'g', -1, 64)
		if !strings.ContainsAny(s, ".eEn") {
			s += ".0"
		}
		return value{class: classFloating, typ: "double", code: s, lit: true}, nil
	case a.Bool != nil:
		return value{class: classBool, typ: "bool", code: strconv.FormatBool(*a.Bool), lit: true}, nil
	case a.Var != "":
		v, ok := c.vars[a.Var]
		if !ok {
			return value{}, fmt.Errorf("%w: undefined variable %q", ErrInvalidPlan, a.Var)
		}
		v.code = a.Var
		return v, nil
	default:
		t, ok := c.cat.ResolveType(a.Construct.Type, c.scope)
		if !ok {
			return value{}, fmt.Errorf("%w: %s", ErrUnknownType, a.Construct.Type)
		}
		args, err := c.values(a.Construct.Args)
		if err != nil {
			return value{}, err
		}
		code, err := c.construct(t, args)
		if err != nil {
			return value{}, err
		}
		return value{class: classUser, typ: t.QualifiedName, code: code}, nil
	}
}

func (c *checker) construct(t *types.EntityRecord, args []value) (string, error) {
	c.entities[t.QualifiedName] = true
	op, err := c.pick(c.cat.Constructors(t), args, t.QualifiedName, t.QualifiedName)
	if err != nil {
		return "", err
	}
	return t.QualifiedName + "(" + c.render(op, args, t.QualifiedName) + ")", nil
}

// pick selects the single overload of ops accepting args. An overload
// needing no arithmetic conversion beats the others, and overloads that
// differ only in constness resolve to the non-const one, as they would on a
// non-const object.
func (c *checker) pick(ops []types.Operation, args []value, owner, what string) (*types.Operation, error) {
	var matches, exact []*types.Operation
	for i := range ops {
		if c.accepts(&ops[i], args, owner) {
			matches = append(matches, &ops[i])
			if c.exact(&ops[i], args, owner) {
				exact = append(exact, &ops[i])
			}
		}
	}
	if len(matches) > 1 && len(exact) == 1 {
		matches = exact
	}
	if len(matches) == 2 && matches[0].Const != matches[1].Const {
		a, b := *matches[0], *matches[1]
		a.Const, b.Const = false, false
		if a.SameParams(b) {
			if matches[0].Const {
				matches = matches[1:]
			} else {
				matches = matches[:1]
			}
		}
	}
	switch len(matches) {
	case 1:
		return matches[0], nil
	case 0:
		kinds := make([]string, len(args))
		for i, a := range args {
			kinds[i] = a.typ
		}
		return nil, fmt.Errorf("%w: %s(%s)", ErrNoMatchingOverload, what, strings.Join(kinds, ", "))
	default:
		sigs := make([]string, len(matches))
		for i, m := range matches {
			sigs[i] = m.Signature()
		}
		return nil, fmt.Errorf("%w: %s matches %s", ErrAmbiguous, what, strings.Join(sigs, "; "))
	}
}

func (c *checker) accepts(op *types.Operation, args []value, owner string) bool {
	if len(op.Params) != len(args) {
		return false
	}
	for i, p := range op.Params {
		if !c.compatible(args[i], p.Type, owner) {
			return false
		}
	}
	return true
}

// exact reports whether every argument has the category of its parameter,
// so no arithmetic conversion is needed.
func (c *checker) exact(op *types.Operation, args []value, owner string) bool {
	for i, p := range op.Params {
		if class, _ := c.cat.classify(p.Type, owner); class != args[i].class {
			return false
		}
	}
	return true
}

func (c *checker) compatible(v value, param, owner string) bool {
	class, typ := c.cat.classify(param, owner)
	switch class {
	case classString:
		return v.class == classString && (v.lit || typ != "char*")
	case classIntegral:
		return v.class == classIntegral
	case classFloating:
		return v.class == classIntegral || v.class == classFloating
	case classBool:
		return v.class == classBool
	case classUser, classUnknown:
		return (v.class == classUser || v.class == classUnknown) && v.typ == typ
	}
	return false
}

// render spells args for op's parameters. String literals become the
// parameter's string type so overloads taking user types never see a raw
// character array.
func (c *checker) render(op *types.Operation, args []value, owner string) string {
	parts := make([]string, len(args))
	for i, a := range args {
		parts[i] = a.code
		if !a.lit || a.class != classString {
			continue
		}
		switch _, typ := c.cat.classify(op.Params[i].Type, owner); typ {
		case "std::string", "string":
			parts[i] = "std::string(" + a.code + ")"
		case "std::string_view", "string_view":
			parts[i] = "std::string_view(" + a.code + ")"
			c.headers["<string_view>"] = true
		}
	}
	return strings.Join(parts, ", ")
}

// cLiteral quotes s as a C++ string literal. Control bytes use octal
// escapes, which cannot absorb following characters.
func cLiteral(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		ch := s[i]
		switch {
		case ch == '"' || ch == '\\':
			b.WriteByte('\\')
			b.WriteByte(ch)
		case ch == '\n':
			b.WriteString(`\n`)
		case ch == '\t':
			b.WriteString(`\t`)
		case ch < 0x20 || ch == 0x7f:
			fmt.Fprintf(&b, `\%03o`, ch)
		case ch == '?' && i > 0 && s[i-1] == '?':
			// Avoid trigraphs.
			b.WriteString(`\?`)
		default:
			b.WriteByte(ch)
		}
	}
	b.WriteByte('"')
	return b.String()
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

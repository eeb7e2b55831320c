package synth

import (
	"sort"
	"strings"

	"github.com/dshills/scenariogen/pkg/types"
)

// Catalog indexes the types and free functions of a merged index for
// scenario planning.
type Catalog struct {
	types     map[string]*types.EntityRecord
	functions map[string]*types.EntityRecord
	ordered   []*types.EntityRecord
}

// NewCatalog builds a catalog. Aliases of catalog types resolve to their
// target; aliases of anything else are ignored.
func NewCatalog(merged *types.MergedIndex) *Catalog {
	c := &Catalog{
		types:     make(map[string]*types.EntityRecord),
		functions: make(map[string]*types.EntityRecord),
	}
	var aliases []*types.EntityRecord
	for i := range merged.Entities {
		e := &merged.Entities[i]
		switch e.Kind {
		case types.KindType:
			c.types[e.QualifiedName] = e
			c.ordered = append(c.ordered, e)
		case types.KindFunction:
			c.functions[e.QualifiedName] = e
		case types.KindAlias:
			aliases = append(aliases, e)
		}
	}
	// Alias chains resolve in passes until nothing changes.
	for changed := true; changed; {
		changed = false
		for _, a := range aliases {
			if _, done := c.types[a.QualifiedName]; done {
				continue
			}
			if t, ok := c.ResolveType(a.Aliased, a.Namespace); ok {
				c.types[a.QualifiedName] = t
				changed = true
			}
		}
	}
	sort.Slice(c.ordered, func(i, j int) bool {
		return c.ordered[i].QualifiedName < c.ordered[j].QualifiedName
	})
	return c
}

// Types returns the declared types ordered by qualified name. Aliases are
// not repeated.
func (c *Catalog) Types() []*types.EntityRecord {
	return c.ordered
}

// Type looks up a type by exact qualified name.
func (c *Catalog) Type(qualifiedName string) (*types.EntityRecord, bool) {
	t, ok := c.types[qualifiedName]
	return t, ok
}

// ResolveType resolves a type as written in declarations inside scope.
// Qualifiers, references and a leading :: are stripped.
func (c *Catalog) ResolveType(name, scope string) (*types.EntityRecord, bool) {
	base, ptr := normalizeType(name)
	if ptr || base == "" {
		return nil, false
	}
	return lookupScoped(base, scope, c.types)
}

// ResolveFunction resolves a free function name inside scope.
func (c *Catalog) ResolveFunction(name, scope string) (*types.EntityRecord, bool) {
	return lookupScoped(strings.TrimSpace(name), scope, c.functions)
}

// Constructors returns the constructors of t. A type without declared
// constructors gets an implicit default one.
func (c *Catalog) Constructors(t *types.EntityRecord) []types.Operation {
	ctors := t.Constructors()
	if len(ctors) == 0 {
		return []types.Operation{{Name: t.Name, Kind: types.OpConstructor, Line: t.Line}}
	}
	return ctors
}

// Methods returns the overloads of method name declared by t.
func (c *Catalog) Methods(t *types.EntityRecord, name string) []types.Operation {
	var out []types.Operation
	for _, op := range t.Methods() {
		if op.Name == name {
			out = append(out, op)
		}
	}
	return out
}

func lookupScoped(name, scope string, table map[string]*types.EntityRecord) (*types.EntityRecord, bool) {
	if strings.HasPrefix(name, "::") {
		e, ok := table[strings.TrimPrefix(name, "::")]
		return e, ok
	}
	for scope != "" {
		if e, ok := table[scope+"::"+name]; ok {
			return e, true
		}
		i := strings.LastIndex(scope, "::")
		if i < 0 {
			break
		}
		scope = scope[:i]
	}
	e, ok := table[name]
	return e, ok
}

// typeClass is the coarse category of a C++ type used for argument
// compatibility.
type typeClass int

const (
	classUnknown typeClass = iota
	classVoid
	classBool
	classIntegral
	classFloating
	classString
	classUser
)

func (k typeClass) String() string {
	switch k {
	case classVoid:
		return "void"
	case classBool:
		return "bool"
	case classIntegral:
		return "integral"
	case classFloating:
		return "floating"
	case classString:
		return "string"
	case classUser:
		return "user"
	}
	return "unknown"
}

var integralTypes = map[string]bool{
	"int": true, "signed": true, "signed int": true, "unsigned": true, "unsigned int": true,
	"short": true, "short int": true, "unsigned short": true, "unsigned short int": true,
	"long": true, "long int": true, "unsigned long": true, "unsigned long int": true,
	"long long": true, "long long int": true, "unsigned long long": true, "unsigned long long int": true,
	"char": true, "signed char": true, "unsigned char": true,
	"size_t": true, "ssize_t": true, "ptrdiff_t": true,
	"int8_t": true, "int16_t": true, "int32_t": true, "int64_t": true,
	"uint8_t": true, "uint16_t": true, "uint32_t": true, "uint64_t": true,
	"intmax_t": true, "uintmax_t": true, "intptr_t": true, "uintptr_t": true,
}

var stringTypes = map[string]bool{
	"std::string": true, "string": true, "std::string_view": true, "string_view": true,
}

// normalizeType strips cv-qualifiers, references, attributes and
// redundant whitespace. ptr reports a pointer declarator.
func normalizeType(t string) (base string, ptr bool) {
	t = strings.ReplaceAll(t, "&&", " ")
	t = strings.ReplaceAll(t, "&", " ")
	if strings.Contains(t, "*") {
		ptr = true
		t = strings.ReplaceAll(t, "*", " ")
	}
	var words []string
	for _, w := range strings.Fields(t) {
		switch w {
		case "const", "volatile", "constexpr", "typename", "struct", "class", "enum":
			continue
		}
		words = append(words, w)
	}
	return strings.Join(words, " "), ptr
}

// classify categorizes a declared type. User types are resolved in scope;
// qualified is the catalog name for them and the normalized spelling
// otherwise.
func (c *Catalog) classify(t, scope string) (class typeClass, qualified string) {
	base, ptr := normalizeType(t)
	if ptr {
		if base == "char" {
			return classString, "char*"
		}
		return classUnknown, base + "*"
	}
	plain := strings.TrimPrefix(base, "::")
	switch {
	case base == "void":
		return classVoid, base
	case base == "bool":
		return classBool, base
	case integralTypes[plain] || integralTypes[strings.TrimPrefix(plain, "std::")]:
		return classIntegral, plain
	case plain == "float" || plain == "double" || plain == "long double":
		return classFloating, plain
	case stringTypes[plain]:
		return classString, plain
	}
	if e, ok := c.ResolveType(base, scope); ok {
		return classUser, e.QualifiedName
	}
	return classUnknown, plain
}

// stringConstructor returns the unique constructor of t taking a single
// string-compatible parameter.
func (c *Catalog) stringConstructor(t *types.EntityRecord) (*types.Operation, bool) {
	var found *types.Operation
	ctors := c.Constructors(t)
	for i := range ctors {
		op := &ctors[i]
		if len(op.Params) != 1 {
			continue
		}
		if class, _ := c.classify(op.Params[0].Type, t.QualifiedName); class != classString {
			continue
		}
		if found != nil {
			return nil, false
		}
		found = op
	}
	return found, found != nil
}

// hasDefaultConstructor reports whether t can be built without arguments.
func (c *Catalog) hasDefaultConstructor(t *types.EntityRecord) bool {
	for _, op := range c.Constructors(t) {
		if len(op.Params) == 0 {
			return true
		}
	}
	return false
}

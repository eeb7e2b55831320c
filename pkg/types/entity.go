package types

import (
	"errors"
	"strings"
)

// EntityKind is the kind of a top-level declaration recorded in an index.
type EntityKind string

const (
	KindType     EntityKind = "type"
	KindFunction EntityKind = "function"
	KindAlias    EntityKind = "alias"
)

// OperationKind distinguishes the callable members of a type.
type OperationKind string

const (
	OpConstructor OperationKind = "constructor"
	OpMethod      OperationKind = "method"
	OpFunction    OperationKind = "function"
)

// Param is a single declared parameter.
type Param struct {
	Name string `json:"name,omitempty"`
	Type string `json:"type"`
}

// Operation is a callable declaration: a constructor or method of a type, or
// one overload of a free function.
type Operation struct {
	Name       string        `json:"name"`
	Kind       OperationKind `json:"kind"`
	Params     []Param       `json:"params,omitempty"`
	ReturnType string        `json:"return_type,omitempty"`
	Const      bool          `json:"const,omitempty"`
	Static     bool          `json:"static,omitempty"`
	Doc        string        `json:"doc,omitempty"`
	Line       int           `json:"line"`
}

// Signature renders the operation in declaration form, without the owner.
func (o *Operation) Signature() string {
	var b strings.Builder
	if o.Static {
		b.WriteString("static ")
	}
	if o.ReturnType != "" {
		b.WriteString(o.ReturnType)
		b.WriteByte(' ')
	}
	b.WriteString(o.Name)
	b.WriteByte('(')
	for i, p := range o.Params {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(p.Type)
		if p.Name != "" {
			b.WriteByte(' ')
			b.WriteString(p.Name)
		}
	}
	b.WriteByte(')')
	if o.Const {
		b.WriteString(" const")
	}
	return b.String()
}

// SameParams reports whether two operations have the same parameter types
// and constness, i.e. declare the same overload.
func (o *Operation) SameParams(other Operation) bool {
	if len(o.Params) != len(other.Params) || o.Const != other.Const {
		return false
	}
	for i := range o.Params {
		if o.Params[i].Type != other.Params[i].Type {
			return false
		}
	}
	return true
}

// EntityRecord describes one named declaration discovered by the indexer.
type EntityRecord struct {
	QualifiedName string     `json:"qualified_name"`
	Name          string     `json:"name"`
	Namespace     string     `json:"namespace,omitempty"`
	Kind          EntityKind `json:"kind"`

	// Doc is the raw documentation attached to the declaration, comment
	// markers removed. Empty when the declaration is undocumented.
	Doc       string               `json:"doc,omitempty"`
	Scenarios []StructuredScenario `json:"scenarios,omitempty"`

	// Operations holds constructors and methods for types and the overload
	// set for functions.
	Operations []Operation `json:"operations,omitempty"`

	// Aliased is the target type of an alias declaration.
	Aliased string `json:"aliased,omitempty"`

	File string `json:"file"`
	Line int    `json:"line"`
}

// Documented reports whether the entity carries any documentation.
func (e *EntityRecord) Documented() bool {
	return strings.TrimSpace(e.Doc) != ""
}

// Signature renders a one-line declaration of the entity.
func (e *EntityRecord) Signature() string {
	switch e.Kind {
	case KindAlias:
		return "using " + e.Name + " = " + e.Aliased
	case KindFunction:
		if len(e.Operations) > 0 {
			return e.Operations[0].Signature()
		}
		return e.Name + "()"
	default:
		return "class " + e.Name
	}
}

// Constructors returns the declared constructors of a type.
func (e *EntityRecord) Constructors() []Operation {
	return e.operationsOfKind(OpConstructor)
}

// Methods returns the declared methods of a type.
func (e *EntityRecord) Methods() []Operation {
	return e.operationsOfKind(OpMethod)
}

func (e *EntityRecord) operationsOfKind(kind OperationKind) []Operation {
	var out []Operation
	for _, op := range e.Operations {
		if op.Kind == kind {
			out = append(out, op)
		}
	}
	return out
}

// SameDeclaration reports whether two records were produced from the same
// declaration site with identical content. Units sharing a header observe
// the same declaration more than once.
func (e *EntityRecord) SameDeclaration(other *EntityRecord) bool {
	if e.QualifiedName != other.QualifiedName || e.File != other.File || e.Line != other.Line {
		return false
	}
	a, errA := canonicalJSON(e)
	b, errB := canonicalJSON(other)
	return errA == nil && errB == nil && string(a) == string(b)
}

// Validate checks the structural requirements of a record.
func (e *EntityRecord) Validate() error {
	if e.QualifiedName == "" || e.Name == "" {
		return errors.New("entity name is required")
	}
	switch e.Kind {
	case KindType, KindFunction, KindAlias:
	default:
		return errors.New("invalid entity kind")
	}
	if e.File == "" {
		return ErrMissingFileInfo
	}
	for i := range e.Scenarios {
		if err := e.Scenarios[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}

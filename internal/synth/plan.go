package synth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// StepOp names a plan step.
type StepOp string

const (
	OpCreate StepOp = "create"
	OpCall   StepOp = "call"
	OpAssert StepOp = "assert"
)

// Comparison operators accepted by assert steps.
var comparisonOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// Plan is the executable form of one scenario: create the subject, drive it
// through calls, then assert on observed values.
type Plan struct {
	Subject string `json:"subject"`
	Steps   []Step `json:"steps"`
}

// Step is one plan instruction. Which fields apply depends on Op.
type Step struct {
	Op StepOp `json:"op"`

	// create
	ID   string `json:"id,omitempty"`
	Type string `json:"type,omitempty"`

	// call. An empty Target calls the free function named by Method.
	Target string `json:"target,omitempty"`
	Method string `json:"method,omitempty"`
	Result string `json:"result,omitempty"`
	Repeat int    `json:"repeat,omitempty"`

	Args []Arg `json:"args,omitempty"`

	// assert
	Compare *Comparison `json:"compare,omitempty"`
	Clause  string      `json:"clause,omitempty"`
}

// Comparison is an assert step's predicate.
type Comparison struct {
	Op    string `json:"op"`
	Left  Arg    `json:"left"`
	Right Arg    `json:"right"`
}

// Arg is a literal, a variable reference or a nested construction. Exactly
// one field is set.
type Arg struct {
	Str       *string    `json:"str,omitempty"`
	Int       *int64     `json:"int,omitempty"`
	Float     *float64   `json:"float,omitempty"`
	Bool      *bool      `json:"bool,omitempty"`
	Var       string     `json:"var,omitempty"`
	Construct *Construct `json:"construct,omitempty"`
}

// Construct builds a temporary value of Type.
type Construct struct {
	Type string `json:"type"`
	Args []Arg  `json:"args,omitempty"`
}

// StrArg returns a string literal argument.
func StrArg(s string) Arg { return Arg{Str: &s} }

// IntArg returns an integer literal argument.
func IntArg(n int64) Arg { return Arg{Int: &n} }

// FloatArg returns a floating point literal argument.
func FloatArg(f float64) Arg { return Arg{Float: &f} }

// BoolArg returns a boolean literal argument.
func BoolArg(b bool) Arg { return Arg{Bool: &b} }

// VarArg references a variable bound by an earlier step.
func VarArg(name string) Arg { return Arg{Var: name} }

// ConstructArg builds a temporary of typ from args.
func ConstructArg(typ string, args ...Arg) Arg {
	return Arg{Construct: &Construct{Type: typ, Args: args}}
}

func (a Arg) fields() int {
	n := 0
	if a.Str != nil {
		n++
	}
	if a.Int != nil {
		n++
	}
	if a.Float != nil {
		n++
	}
	if a.Bool != nil {
		n++
	}
	if a.Var != "" {
		n++
	}
	if a.Construct != nil {
		n++
	}
	return n
}

func (a Arg) String() string {
	switch {
	case a.Str != nil:
		return fmt.Sprintf("%q", *a.Str)
	case a.Int != nil:
		return fmt.Sprintf("%d", *a.Int)
	case a.Float != nil:
		return fmt.Sprintf("%g", *a.Float)
	case a.Bool != nil:
		return fmt.Sprintf("%t", *a.Bool)
	case a.Var != "":
		return a.Var
	case a.Construct != nil:
		parts := make([]string, len(a.Construct.Args))
		for i, arg := range a.Construct.Args {
			parts[i] = arg.String()
		}
		return a.Construct.Type + "(" + strings.Join(parts, ", ") + ")"
	}
	return "<empty>"
}

// String renders the plan one step per line for logs.
func (p *Plan) String() string {
	lines := make([]string, len(p.Steps))
	for i, s := range p.Steps {
		lines[i] = s.String()
	}
	return strings.Join(lines, "\n")
}

func (s Step) String() string {
	var b strings.Builder
	args := make([]string, len(s.Args))
	for j, a := range s.Args {
		args[j] = a.String()
	}
	switch s.Op {
	case OpCreate:
		fmt.Fprintf(&b, "%s = %s(%s)", s.ID, s.Type, strings.Join(args, ", "))
	case OpCall:
		if s.Result != "" {
			fmt.Fprintf(&b, "%s = ", s.Result)
		}
		if s.Target != "" {
			fmt.Fprintf(&b, "%s.", s.Target)
		}
		fmt.Fprintf(&b, "%s(%s)", s.Method, strings.Join(args, ", "))
		if s.Repeat > 1 {
			fmt.Fprintf(&b, " x%d", s.Repeat)
		}
	case OpAssert:
		if s.Compare != nil {
			fmt.Fprintf(&b, "assert %s %s %s", s.Compare.Left, s.Compare.Op, s.Compare.Right)
		}
	default:
		fmt.Fprintf(&b, "%s?", s.Op)
	}
	return b.String()
}

// ParsePlan decodes a JSON plan strictly. Markdown code fences around the
// document are tolerated since model output often carries them.
func ParsePlan(data []byte) (*Plan, error) {
	data = bytes.TrimSpace(data)
	if bytes.HasPrefix(data, []byte("```")) {
		if nl := bytes.IndexByte(data, '\n'); nl >= 0 {
			data = data[nl+1:]
		}
		data = bytes.TrimSuffix(bytes.TrimSpace(data), []byte("```"))
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var p Plan
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("invalid plan: %w", err)
	}
	return &p, nil
}

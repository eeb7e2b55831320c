package parser

import (
	"strings"

	sitter "github.com/smacker/go-tree-sitter"

	"github.com/dshills/scenariogen/pkg/types"
)

// visitClass records a class or struct definition with its public
// constructors and methods. docNode is the node the documentation comment
// precedes, which differs from n when the class is part of a declaration.
func (e *extractor) visitClass(n, docNode *sitter.Node, ns []string) {
	nameNode := n.ChildByFieldName("name")
	body := n.ChildByFieldName("body")
	if nameNode == nil || body == nil {
		// Forward declarations and anonymous types.
		return
	}
	if nameNode.Type() == "template_type" {
		return
	}
	name := e.text(nameNode)
	if i := strings.LastIndex(name, "::"); i >= 0 {
		ns = append(append([]string{}, ns...), strings.Split(name[:i], "::")...)
		name = name[i+2:]
	}

	rec := types.EntityRecord{
		QualifiedName: qualify(ns, name),
		Name:          name,
		Namespace:     strings.Join(ns, "::"),
		Kind:          types.KindType,
		Doc:           cleanComment(e.precedingComments(docNode)),
		File:          e.path,
		Line:          e.line(n),
	}
	scope := append(append([]string{}, ns...), name)

	access := "private"
	if n.Type() == "struct_specifier" {
		access = "public"
	}

	for i := 0; i < int(body.ChildCount()); i++ {
		member := body.Child(i)
		if member == nil {
			continue
		}
		switch member.Type() {
		case "access_specifier":
			access = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(e.text(member)), ":"))
		case "field_declaration", "declaration", "function_definition":
			if access != "public" {
				continue
			}
			if typ := member.ChildByFieldName("type"); typ != nil {
				if t := typ.Type(); (t == "class_specifier" || t == "struct_specifier") && typ.ChildByFieldName("body") != nil {
					e.visitClass(typ, member, scope)
					continue
				}
			}
			if op, ok := e.memberOperation(member, name); ok {
				rec.Operations = append(rec.Operations, op)
			}
		}
	}

	e.addEntity(rec, docNode)
}

// memberOperation extracts a constructor or method. Operators, destructors,
// deleted functions and data members are not operations.
func (e *extractor) memberOperation(member *sitter.Node, className string) (types.Operation, bool) {
	fn := findFunctionDeclarator(member.ChildByFieldName("declarator"))
	if fn == nil {
		return types.Operation{}, false
	}
	nameNode := fn.ChildByFieldName("declarator")
	if nameNode == nil {
		return types.Operation{}, false
	}
	switch nameNode.Type() {
	case "identifier", "field_identifier":
	default:
		return types.Operation{}, false
	}
	for i := 0; i < int(member.ChildCount()); i++ {
		if member.Child(i).Type() == "delete_method_clause" {
			return types.Operation{}, false
		}
	}
	if strings.HasSuffix(collapseSpace(strings.TrimSuffix(strings.TrimSpace(e.text(member)), ";")), "= delete") {
		return types.Operation{}, false
	}

	kind := types.OpMethod
	if e.text(nameNode) == className && member.ChildByFieldName("type") == nil {
		kind = types.OpConstructor
	}
	op := e.operation(member, fn, kind)
	op.Doc = cleanComment(e.precedingComments(member))
	return op, true
}

// operation builds an Operation from a declaration node and its function
// declarator.
func (e *extractor) operation(n, fn *sitter.Node, kind types.OperationKind) types.Operation {
	op := types.Operation{
		Name: e.text(fn.ChildByFieldName("declarator")),
		Kind: kind,
		Line: e.line(n),
	}

	var quals []string
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		switch c.Type() {
		case "storage_class_specifier":
			if e.text(c) == "static" {
				op.Static = true
			}
		case "type_qualifier":
			quals = append(quals, e.text(c))
		}
	}

	if typ := n.ChildByFieldName("type"); typ != nil && kind != types.OpConstructor {
		rt := collapseSpace(e.text(typ))
		if len(quals) > 0 {
			rt = strings.Join(quals, " ") + " " + rt
		}
		op.ReturnType = rt + e.declaratorSuffix(n.ChildByFieldName("declarator"), fn)
	}

	if params := fn.ChildByFieldName("parameters"); params != nil {
		for i := 0; i < int(params.NamedChildCount()); i++ {
			p := params.NamedChild(i)
			switch p.Type() {
			case "parameter_declaration", "optional_parameter_declaration":
				param := e.param(p)
				if param.Type == "void" && param.Name == "" {
					continue
				}
				op.Params = append(op.Params, param)
			}
		}
	}

	for i := 0; i < int(fn.ChildCount()); i++ {
		c := fn.Child(i)
		if c.Type() == "type_qualifier" && e.text(c) == "const" {
			op.Const = true
		}
	}
	return op
}

func (e *extractor) param(p *sitter.Node) types.Param {
	var quals []string
	for i := 0; i < int(p.ChildCount()); i++ {
		c := p.Child(i)
		if c.Type() == "type_qualifier" {
			quals = append(quals, e.text(c))
		}
	}
	typ := collapseSpace(e.text(p.ChildByFieldName("type")))
	if len(quals) > 0 {
		typ = strings.Join(quals, " ") + " " + typ
	}
	name, suffix := e.declaratorParts(p.ChildByFieldName("declarator"))
	return types.Param{Name: name, Type: typ + suffix}
}

// declaratorParts unwraps pointer, reference and array declarators, returning
// the declared name and the type suffix they contribute.
func (e *extractor) declaratorParts(d *sitter.Node) (string, string) {
	var suffix string
	for d != nil {
		switch d.Type() {
		case "identifier", "field_identifier":
			return e.text(d), suffix
		case "reference_declarator", "abstract_reference_declarator":
			if strings.HasPrefix(strings.TrimSpace(e.text(d)), "&&") {
				suffix += "&&"
			} else {
				suffix += "&"
			}
			d = innerDeclarator(d)
		case "pointer_declarator", "abstract_pointer_declarator":
			suffix += "*"
			d = innerDeclarator(d)
		case "array_declarator", "abstract_array_declarator":
			suffix += "[]"
			d = innerDeclarator(d)
		default:
			return "", suffix
		}
	}
	return "", suffix
}

// declaratorSuffix collects reference and pointer markers between a
// declaration's declarator and its function declarator, i.e. those belonging
// to the return type.
func (e *extractor) declaratorSuffix(d, fn *sitter.Node) string {
	var suffix string
	for d != nil && !(d.StartByte() == fn.StartByte() && d.EndByte() == fn.EndByte()) {
		switch d.Type() {
		case "reference_declarator":
			if strings.HasPrefix(strings.TrimSpace(e.text(d)), "&&") {
				suffix += "&&"
			} else {
				suffix += "&"
			}
		case "pointer_declarator":
			suffix += "*"
		}
		d = innerDeclarator(d)
	}
	return suffix
}

// findFunctionDeclarator descends through pointer, reference and
// parenthesized declarators to a function declarator.
func findFunctionDeclarator(d *sitter.Node) *sitter.Node {
	for d != nil {
		switch d.Type() {
		case "function_declarator":
			return d
		case "pointer_declarator", "reference_declarator", "parenthesized_declarator":
			d = innerDeclarator(d)
		default:
			return nil
		}
	}
	return nil
}

func innerDeclarator(d *sitter.Node) *sitter.Node {
	if inner := d.ChildByFieldName("declarator"); inner != nil {
		return inner
	}
	for i := 0; i < int(d.NamedChildCount()); i++ {
		c := d.NamedChild(i)
		switch c.Type() {
		case "type_qualifier", "attribute_declaration", "ms_pointer_modifier", "comment":
			continue
		}
		return c
	}
	return nil
}

// precedingComments returns the comment block directly above n. A blank line
// ends the block, as does a comment trailing the previous declaration.
func (e *extractor) precedingComments(n *sitter.Node) string {
	var parts []string
	row := int(n.StartPoint().Row)
	for p := n.PrevSibling(); p != nil; p = p.PrevSibling() {
		if p.Type() != "comment" {
			break
		}
		if int(p.EndPoint().Row) < row-1 {
			break
		}
		if prev := p.PrevSibling(); prev != nil && prev.Type() != "comment" && prev.EndPoint().Row == p.StartPoint().Row {
			break
		}
		parts = append(parts, e.text(p))
		row = int(p.StartPoint().Row)
	}
	for i, j := 0, len(parts)-1; i < j; i, j = i+1, j-1 {
		parts[i], parts[j] = parts[j], parts[i]
	}
	return strings.Join(parts, "\n")
}

// cleanComment strips comment markers and decoration from a comment block.
func cleanComment(raw string) string {
	if raw == "" {
		return ""
	}
	var out []string
	for _, l := range strings.Split(raw, "\n") {
		t := strings.TrimSpace(l)
		switch {
		case strings.HasPrefix(t, "///"), strings.HasPrefix(t, "//!"):
			t = t[3:]
		case strings.HasPrefix(t, "//"):
			t = t[2:]
		}
		for _, prefix := range []string{"/**", "/*!", "/*"} {
			if strings.HasPrefix(t, prefix) {
				t = t[len(prefix):]
				break
			}
		}
		t = strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "*/"))
		if strings.HasPrefix(t, "*") {
			t = strings.TrimSpace(strings.TrimLeft(t, "*"))
		}
		out = append(out, t)
	}
	for len(out) > 0 && out[0] == "" {
		out = out[1:]
	}
	for len(out) > 0 && out[len(out)-1] == "" {
		out = out[:len(out)-1]
	}
	return strings.Join(out, "\n")
}

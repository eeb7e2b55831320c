package parser

import (
	"context"
	"fmt"
	"strings"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/cpp"
	"go.uber.org/zap"

	"github.com/dshills/scenariogen/pkg/types"
)

// Include is one #include directive found in a file.
type Include struct {
	Path   string // path as written between the delimiters
	System bool   // <...> form
	Line   int
}

// FileResult holds everything extracted from a single file.
type FileResult struct {
	Path     string
	Entities []types.EntityRecord
	Includes []Include
}

// Parser handles tree-sitter based parsing of C and C++ source files
type Parser struct {
	logger *zap.Logger
}

// New creates a new Parser instance
func New(logger *zap.Logger) *Parser {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Parser{logger: logger}
}

// ParseFile parses one file and extracts its declarations and include
// directives. Conditional blocks guarded by #ifdef/#ifndef are evaluated
// against defines. Any syntax error in the file, including one inside an
// anonymous namespace or a function body, produces a ParseFailure naming the
// first ERROR or MISSING node.
func (p *Parser) ParseFile(ctx context.Context, path string, content []byte, defines map[string]string) (*FileResult, error) {
	tsParser := sitter.NewParser()
	defer tsParser.Close()
	tsParser.SetLanguage(cpp.GetLanguage())

	tree, err := tsParser.ParseCtx(ctx, nil, content)
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	defer tree.Close()

	e := &extractor{
		path:    path,
		src:     content,
		defines: defines,
		logger:  p.logger,
		result:  &FileResult{Path: path},
	}
	root := tree.RootNode()
	if root.HasError() {
		if bad := firstError(root); bad != nil {
			e.syntaxError(bad)
			return nil, e.err
		}
	}
	e.walkScope(root, nil)
	if e.err != nil {
		return nil, e.err
	}
	return e.result, nil
}

// extractor walks a syntax tree collecting entities
type extractor struct {
	path    string
	src     []byte
	defines map[string]string
	logger  *zap.Logger
	result  *FileResult
	err     error
}

func (e *extractor) text(n *sitter.Node) string {
	if n == nil {
		return ""
	}
	return n.Content(e.src)
}

func (e *extractor) line(n *sitter.Node) int {
	return int(n.StartPoint().Row) + 1
}

// fail records the first structural error.
func (e *extractor) fail(n *sitter.Node, msg string) {
	if e.err != nil {
		return
	}
	pt := n.StartPoint()
	e.err = fmt.Errorf("%w: %s:%d:%d: %s", types.ErrParseFailure, e.path, pt.Row+1, pt.Column+1, msg)
}

// syntaxError records n, an ERROR or MISSING node, as the parse failure.
func (e *extractor) syntaxError(n *sitter.Node) {
	if n.IsMissing() {
		e.fail(n, fmt.Sprintf("missing %q", n.Type()))
		return
	}
	e.fail(n, "syntax error near "+strings.TrimSpace(firstLine(e.text(n))))
}

// firstError returns the first ERROR or MISSING node under n in document
// order.
func firstError(n *sitter.Node) *sitter.Node {
	if n.IsMissing() || n.Type() == "ERROR" {
		return n
	}
	if !n.HasError() {
		return nil
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		if c := n.Child(i); c != nil {
			if bad := firstError(c); bad != nil {
				return bad
			}
		}
	}
	return nil
}

// walkScope visits the declarations of a translation unit, namespace body,
// linkage block or active preprocessor branch.
func (e *extractor) walkScope(scope *sitter.Node, ns []string) {
	for i := 0; i < int(scope.ChildCount()); i++ {
		child := scope.Child(i)
		if child == nil || e.err != nil {
			continue
		}
		switch child.Type() {
		case "namespace_definition":
			e.visitNamespace(child, ns)
		case "linkage_specification":
			if body := child.ChildByFieldName("body"); body != nil {
				if body.Type() == "declaration_list" {
					e.walkScope(body, ns)
				} else {
					e.visitDeclaration(body, child, ns)
				}
			}
		case "class_specifier", "struct_specifier":
			e.visitClass(child, child, ns)
		case "declaration", "function_definition":
			e.visitDeclaration(child, child, ns)
		case "alias_declaration":
			e.visitAlias(child, ns)
		case "type_definition":
			e.visitTypedef(child, ns)
		case "template_declaration":
			e.logger.Debug("skipping template declaration",
				zap.String("file", e.path), zap.Int("line", e.line(child)))
		case "preproc_include":
			e.visitInclude(child)
		case "preproc_ifdef":
			e.visitIfdef(child, ns)
		case "preproc_if", "preproc_else", "preproc_elif":
			e.walkConditional(child, ns)
		}
	}
}

func (e *extractor) visitNamespace(n *sitter.Node, ns []string) {
	body := n.ChildByFieldName("body")
	if body == nil {
		return
	}
	name := e.text(n.ChildByFieldName("name"))
	if name == "" {
		// Anonymous namespaces are internal to the unit.
		return
	}
	inner := append(append([]string{}, ns...), strings.Split(name, "::")...)
	e.walkScope(body, inner)
}

func (e *extractor) visitInclude(n *sitter.Node) {
	pathNode := n.ChildByFieldName("path")
	if pathNode == nil {
		return
	}
	raw := strings.TrimSpace(e.text(pathNode))
	inc := Include{Line: e.line(n)}
	switch {
	case strings.HasPrefix(raw, "<") && strings.HasSuffix(raw, ">"):
		inc.Path = strings.TrimSuffix(strings.TrimPrefix(raw, "<"), ">")
		inc.System = true
	case strings.HasPrefix(raw, `"`) && strings.HasSuffix(raw, `"`) && len(raw) >= 2:
		inc.Path = raw[1 : len(raw)-1]
	default:
		// Macro-expanded include; cannot be resolved without a preprocessor.
		return
	}
	e.result.Includes = append(e.result.Includes, inc)
}

// visitIfdef walks the branch of an #ifdef/#ifndef selected by the defines.
func (e *extractor) visitIfdef(n *sitter.Node, ns []string) {
	name := e.text(n.ChildByFieldName("name"))
	_, defined := e.defines[name]
	negated := n.ChildCount() > 0 && n.Child(0).Type() == "#ifndef"
	alt := n.ChildByFieldName("alternative")

	if defined != negated {
		e.walkBranch(n, ns, n.ChildByFieldName("name"), alt)
		return
	}
	if alt != nil {
		e.walkConditional(alt, ns)
	}
}

// walkConditional walks every branch of a condition that cannot be
// evaluated statically.
func (e *extractor) walkConditional(n *sitter.Node, ns []string) {
	alt := n.ChildByFieldName("alternative")
	e.walkBranch(n, ns, n.ChildByFieldName("condition"), alt)
	if alt != nil {
		e.walkConditional(alt, ns)
	}
}

// walkBranch walks the children of a preprocessor block except the given
// control nodes.
func (e *extractor) walkBranch(n *sitter.Node, ns []string, skip ...*sitter.Node) {
	isSkipped := func(c *sitter.Node) bool {
		for _, s := range skip {
			if s != nil && s.StartByte() == c.StartByte() && s.EndByte() == c.EndByte() {
				return true
			}
		}
		return false
	}
	for i := 0; i < int(n.ChildCount()); i++ {
		c := n.Child(i)
		if c == nil || isSkipped(c) {
			continue
		}
		switch c.Type() {
		case "namespace_definition":
			e.visitNamespace(c, ns)
		case "class_specifier", "struct_specifier":
			e.visitClass(c, c, ns)
		case "declaration", "function_definition":
			e.visitDeclaration(c, c, ns)
		case "alias_declaration":
			e.visitAlias(c, ns)
		case "type_definition":
			e.visitTypedef(c, ns)
		case "preproc_include":
			e.visitInclude(c)
		case "preproc_ifdef":
			e.visitIfdef(c, ns)
		case "preproc_if":
			e.walkConditional(c, ns)
		}
	}
}

// visitDeclaration handles a namespace-scope declaration or definition: a
// class definition with a trailing declarator, or a free function.
func (e *extractor) visitDeclaration(n, docNode *sitter.Node, ns []string) {
	if typ := n.ChildByFieldName("type"); typ != nil {
		if t := typ.Type(); (t == "class_specifier" || t == "struct_specifier") && typ.ChildByFieldName("body") != nil {
			e.visitClass(typ, docNode, ns)
			return
		}
	}
	fn := findFunctionDeclarator(n.ChildByFieldName("declarator"))
	if fn == nil {
		return
	}
	nameNode := fn.ChildByFieldName("declarator")
	if nameNode == nil || nameNode.Type() != "identifier" {
		// Qualified names define members declared elsewhere; operators and
		// destructors are not entities.
		return
	}
	op := e.operation(n, fn, types.OpFunction)
	name := e.text(nameNode)
	doc := cleanComment(e.precedingComments(docNode))
	e.addEntity(types.EntityRecord{
		QualifiedName: qualify(ns, name),
		Name:          name,
		Namespace:     strings.Join(ns, "::"),
		Kind:          types.KindFunction,
		Doc:           doc,
		Operations:    []types.Operation{op},
		File:          e.path,
		Line:          e.line(n),
	}, docNode)
}

func (e *extractor) visitAlias(n *sitter.Node, ns []string) {
	name := e.text(n.ChildByFieldName("name"))
	if name == "" {
		return
	}
	e.addEntity(types.EntityRecord{
		QualifiedName: qualify(ns, name),
		Name:          name,
		Namespace:     strings.Join(ns, "::"),
		Kind:          types.KindAlias,
		Doc:           cleanComment(e.precedingComments(n)),
		Aliased:       collapseSpace(e.text(n.ChildByFieldName("type"))),
		File:          e.path,
		Line:          e.line(n),
	}, n)
}

func (e *extractor) visitTypedef(n *sitter.Node, ns []string) {
	decl := n.ChildByFieldName("declarator")
	if decl == nil || decl.Type() != "type_identifier" {
		return
	}
	name := e.text(decl)
	e.addEntity(types.EntityRecord{
		QualifiedName: qualify(ns, name),
		Name:          name,
		Namespace:     strings.Join(ns, "::"),
		Kind:          types.KindAlias,
		Doc:           cleanComment(e.precedingComments(n)),
		Aliased:       collapseSpace(e.text(n.ChildByFieldName("type"))),
		File:          e.path,
		Line:          e.line(n),
	}, n)
}

// addEntity attaches scenarios parsed from the documentation and appends the
// record, merging overload sets of functions seen more than once. Any other
// repeated name is a DuplicateEntityError.
func (e *extractor) addEntity(rec types.EntityRecord, at *sitter.Node) {
	if rec.Doc != "" {
		scenarios, err := types.ParseScenarios(rec.Doc)
		if err != nil {
			e.fail(at, fmt.Sprintf("%s: %v", rec.QualifiedName, err))
			return
		}
		rec.Scenarios = scenarios
	}
	for i := range e.result.Entities {
		prev := &e.result.Entities[i]
		if prev.QualifiedName != rec.QualifiedName {
			continue
		}
		switch {
		case prev.Kind == types.KindFunction && rec.Kind == types.KindFunction:
			prev.Operations = appendOverloads(prev.Operations, rec.Operations)
		case prev.SameDeclaration(&rec):
		case e.err == nil:
			e.err = &types.DuplicateEntityError{
				Name:   rec.QualifiedName,
				First:  fmt.Sprintf("%s:%d", prev.File, prev.Line),
				Second: fmt.Sprintf("%s:%d", rec.File, rec.Line),
			}
		}
		return
	}
	e.result.Entities = append(e.result.Entities, rec)
}

// appendOverloads adds operations whose parameter lists are not yet present.
func appendOverloads(have, add []types.Operation) []types.Operation {
	for _, op := range add {
		dup := false
		for _, h := range have {
			if h.SameParams(op) {
				dup = true
				break
			}
		}
		if !dup {
			have = append(have, op)
		}
	}
	return have
}

func qualify(ns []string, name string) string {
	if len(ns) == 0 {
		return name
	}
	return strings.Join(ns, "::") + "::" + name
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

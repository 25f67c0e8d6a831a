//go:build cgo

package parser

import (
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_python "github.com/tree-sitter/tree-sitter-python/bindings/go"

	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/pkg/types"
)

// PythonPlugin parses Python source with the tree-sitter grammar
type PythonPlugin struct {
	lang *tree_sitter.Language
}

// NewPythonPlugin creates a new Python parser plugin
func NewPythonPlugin() *PythonPlugin {
	return &PythonPlugin{lang: tree_sitter.NewLanguage(tree_sitter_python.Language())}
}

func (p *PythonPlugin) Name() string { return "python" }

func (p *PythonPlugin) Extensions() []string { return []string{".py", ".pyw", ".pyi"} }

func (p *PythonPlugin) Languages() []string { return []string{language.Python} }

func (p *PythonPlugin) CanParse(path string) bool {
	return hasExtension(path, p.Extensions())
}

// ParseFile extracts classes, functions, methods, module-level variables,
// imports, calls and decorators
func (p *PythonPlugin) ParseFile(filePath string, content []byte) types.ParseResult {
	w := &pyWalker{
		content: content,
		factory: NewNodeFactory(filePath, language.Python),
		dir:     path.Dir(filePath),
	}

	err := parseTree(p.lang, content, func(root *tree_sitter.Node) {
		w.fileID = w.factory.AddFile(pyDocstring(root, content))
		w.walkBlock(root, w.fileID, false)
	})
	if err != nil {
		return types.Failed(err.Error())
	}
	return w.factory.Result()
}

type pyWalker struct {
	content []byte
	factory *NodeFactory
	fileID  int64
	dir     string
}

// walkBlock visits the statements of a module, class or function body
func (w *pyWalker) walkBlock(block *tree_sitter.Node, scope int64, inClass bool) {
	for _, stmt := range namedChildren(block) {
		w.walkStatement(stmt, scope, inClass, nil)
	}
}

func (w *pyWalker) walkStatement(node *tree_sitter.Node, scope int64, inClass bool, decorators []string) {
	switch node.Kind() {
	case "class_definition":
		w.class(node, scope, decorators)
	case "function_definition":
		w.function(node, scope, inClass, decorators)
	case "decorated_definition":
		var names []string
		for _, child := range namedChildren(node) {
			if child.Kind() == "decorator" {
				if name := w.decoratorName(child); name != "" {
					names = append(names, name)
				}
				w.calls(child, scope)
			}
		}
		if def := node.ChildByFieldName("definition"); def != nil {
			w.walkStatement(def, scope, inClass, names)
		}
	case "import_statement":
		w.importStatement(node)
	case "import_from_statement":
		w.importFrom(node)
	case "expression_statement":
		if scope == w.fileID {
			w.assignment(node)
		}
		w.calls(node, scope)
	case "if_statement", "try_statement", "with_statement", "for_statement", "while_statement",
		"block", "else_clause", "elif_clause", "except_clause", "finally_clause":
		// Conditional imports and definitions keep the enclosing scope
		for _, child := range namedChildren(node) {
			switch child.Kind() {
			case "block", "else_clause", "elif_clause", "except_clause", "finally_clause":
				w.walkStatement(child, scope, inClass, nil)
			case "import_statement", "import_from_statement", "class_definition",
				"function_definition", "decorated_definition", "expression_statement",
				"if_statement", "try_statement", "with_statement":
				w.walkStatement(child, scope, inClass, nil)
			default:
				w.calls(child, scope)
			}
		}
	default:
		w.calls(node, scope)
	}
}

func (w *pyWalker) class(node *tree_sitter.Node, scope int64, decorators []string) {
	line, col := position(node)
	body := node.ChildByFieldName("body")
	id := w.factory.Add(types.NodeClass, fieldText(node, "name", w.content), line, col, pyDocstring(body, w.content))
	w.factory.Link(scope, id, types.RelContains)

	if supers := node.ChildByFieldName("superclasses"); supers != nil {
		for _, arg := range namedChildren(supers) {
			switch arg.Kind() {
			case "identifier", "attribute":
				w.factory.Refer(id, types.RelInherits, types.RefSymbol, lastSegment(arg.Utf8Text(w.content)))
			}
		}
	}
	for _, d := range decorators {
		w.factory.Refer(id, types.RelUses, types.RefSymbol, d)
	}

	if body != nil {
		w.walkBlock(body, id, true)
	}
}

func (w *pyWalker) function(node *tree_sitter.Node, scope int64, inClass bool, decorators []string) {
	nodeType := types.NodeFunction
	if inClass {
		nodeType = types.NodeMethod
	}

	line, col := position(node)
	body := node.ChildByFieldName("body")
	summary := pyDocstring(body, w.content)
	if summary == "" {
		summary = "def " + fieldText(node, "name", w.content) + fieldText(node, "parameters", w.content)
	}

	id := w.factory.Add(nodeType, fieldText(node, "name", w.content), line, col, summary)
	w.factory.Link(scope, id, types.RelContains)
	for _, d := range decorators {
		w.factory.Refer(id, types.RelUses, types.RefSymbol, d)
	}

	if body != nil {
		w.walkBlock(body, id, false)
	}
}

// assignment records module-level names bound by simple assignments
func (w *pyWalker) assignment(stmt *tree_sitter.Node) {
	for _, child := range namedChildren(stmt) {
		if child.Kind() != "assignment" {
			continue
		}
		left := child.ChildByFieldName("left")
		if left == nil || left.Kind() != "identifier" {
			continue
		}
		line, col := position(left)
		id := w.factory.Add(types.NodeVariable, left.Utf8Text(w.content), line, col, "")
		w.factory.Link(w.fileID, id, types.RelContains)
	}
}

// calls records every call site below node as a reference from scope
func (w *pyWalker) calls(node *tree_sitter.Node, scope int64) {
	if node == nil {
		return
	}
	if node.Kind() == "call" {
		if fn := node.ChildByFieldName("function"); fn != nil {
			switch fn.Kind() {
			case "identifier":
				w.factory.Refer(scope, types.RelCalls, types.RefSymbol, fn.Utf8Text(w.content))
			case "attribute":
				w.factory.Refer(scope, types.RelCalls, types.RefSymbol, fieldText(fn, "attribute", w.content))
			}
		}
	}
	switch node.Kind() {
	case "lambda", "class_definition", "function_definition":
		return
	}
	for i := uint(0); i < node.NamedChildCount(); i++ {
		w.calls(node.NamedChild(i), scope)
	}
}

func (w *pyWalker) decoratorName(dec *tree_sitter.Node) string {
	for _, child := range namedChildren(dec) {
		switch child.Kind() {
		case "identifier", "attribute":
			return lastSegment(child.Utf8Text(w.content))
		case "call":
			return lastSegment(fieldText(child, "function", w.content))
		}
	}
	return ""
}

// importStatement handles `import a.b` and `import a.b as c`
func (w *pyWalker) importStatement(node *tree_sitter.Node) {
	for _, child := range namedChildren(node) {
		name := child
		if child.Kind() == "aliased_import" {
			name = child.ChildByFieldName("name")
		}
		if name == nil || name.Kind() != "dotted_name" {
			continue
		}
		module := name.Utf8Text(w.content)
		w.factory.Refer(w.fileID, types.RelImports, types.RefModule, module, w.absoluteCandidates(module)...)
	}
}

// importFrom handles absolute and relative `from x import y` forms.
// Imported names may themselves be submodules, so each adds candidates.
func (w *pyWalker) importFrom(node *tree_sitter.Node) {
	moduleNode := node.ChildByFieldName("module_name")
	if moduleNode == nil {
		return
	}

	var (
		module string
		base   string // directory the module path is resolved against
		rel    bool
	)
	if moduleNode.Kind() == "relative_import" {
		rel = true
		text := moduleNode.Utf8Text(w.content)
		dots := len(text) - len(strings.TrimLeft(text, "."))
		module = strings.TrimLeft(text, ".")
		base = w.dir
		for i := 1; i < dots; i++ {
			base = path.Dir(base)
		}
	} else {
		module = moduleNode.Utf8Text(w.content)
	}

	var names []string
	for _, child := range namedChildren(node) {
		if child.StartByte() == moduleNode.StartByte() {
			continue
		}
		switch child.Kind() {
		case "dotted_name":
			names = append(names, child.Utf8Text(w.content))
		case "aliased_import":
			names = append(names, fieldText(child, "name", w.content))
		}
	}

	var candidates []string
	modPath := strings.ReplaceAll(module, ".", "/")
	if rel {
		if module != "" {
			candidates = append(candidates, path.Join(base, modPath)+".py", path.Join(base, modPath, "__init__.py"))
		} else {
			candidates = append(candidates, path.Join(base, "__init__.py"))
		}
		for _, n := range names {
			candidates = append(candidates, path.Join(base, modPath, strings.ReplaceAll(n, ".", "/"))+".py")
		}
	} else {
		candidates = append(candidates, w.absoluteCandidates(module)...)
		for _, n := range names {
			candidates = append(candidates, w.absoluteCandidates(module+"."+n)...)
		}
	}

	target := module
	if rel {
		target = moduleNode.Utf8Text(w.content)
		if module == "" && len(names) == 1 {
			target += names[0]
		}
	}
	w.factory.Refer(w.fileID, types.RelImports, types.RefModule, target, joinCandidates(candidates...)...)
}

// absoluteCandidates resolves a dotted module against the project root and
// against the importing file's directory
func (w *pyWalker) absoluteCandidates(module string) []string {
	modPath := strings.ReplaceAll(module, ".", "/")
	return joinCandidates(
		modPath+".py",
		path.Join(modPath, "__init__.py"),
		path.Join(w.dir, modPath)+".py",
		path.Join(w.dir, modPath, "__init__.py"),
	)
}

// pyDocstring returns the leading string literal of a module or body block
func pyDocstring(block *tree_sitter.Node, content []byte) string {
	if block == nil || block.NamedChildCount() == 0 {
		return ""
	}
	first := block.NamedChild(0)
	if first == nil || first.Kind() != "expression_statement" || first.NamedChildCount() == 0 {
		return ""
	}
	str := first.NamedChild(0)
	if str == nil || str.Kind() != "string" {
		return ""
	}
	return strings.TrimSpace(unquote(str.Utf8Text(content)))
}

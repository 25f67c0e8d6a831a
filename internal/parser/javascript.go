//go:build cgo

package parser

import (
	"path"
	"strings"

	tree_sitter "github.com/tree-sitter/go-tree-sitter"
	tree_sitter_javascript "github.com/tree-sitter/tree-sitter-javascript/bindings/go"
	tree_sitter_typescript "github.com/tree-sitter/tree-sitter-typescript/bindings/go"

	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/pkg/types"
)

// resolvable suffixes tried for extension-less relative module specifiers
var jsModuleSuffixes = []string{
	".js", ".ts", ".jsx", ".tsx", ".mjs", ".cjs",
	"/index.js", "/index.ts", "/index.jsx", "/index.tsx",
}

// JavaScriptPlugin parses JavaScript, TypeScript and TSX with the
// tree-sitter grammars
type JavaScriptPlugin struct {
	javascript *tree_sitter.Language
	typescript *tree_sitter.Language
	tsx        *tree_sitter.Language
}

// NewJavaScriptPlugin creates a new JavaScript/TypeScript parser plugin
func NewJavaScriptPlugin() *JavaScriptPlugin {
	return &JavaScriptPlugin{
		javascript: tree_sitter.NewLanguage(tree_sitter_javascript.Language()),
		typescript: tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTypescript()),
		tsx:        tree_sitter.NewLanguage(tree_sitter_typescript.LanguageTSX()),
	}
}

func (p *JavaScriptPlugin) Name() string { return "javascript" }

func (p *JavaScriptPlugin) Extensions() []string {
	return []string{".js", ".jsx", ".mjs", ".cjs", ".ts", ".tsx", ".mts", ".cts"}
}

func (p *JavaScriptPlugin) Languages() []string {
	return []string{language.JavaScript, language.TypeScript}
}

func (p *JavaScriptPlugin) CanParse(path string) bool {
	return hasExtension(path, p.Extensions())
}

// ParseFile extracts classes, interfaces, functions, methods, top-level
// bindings, ES and CommonJS imports, calls and constructor usage
func (p *JavaScriptPlugin) ParseFile(filePath string, content []byte) types.ParseResult {
	grammar, lang := p.javascript, language.JavaScript
	switch strings.ToLower(path.Ext(filePath)) {
	case ".ts", ".mts", ".cts":
		grammar, lang = p.typescript, language.TypeScript
	case ".tsx":
		grammar, lang = p.tsx, language.TypeScript
	}

	w := &jsWalker{
		content: content,
		factory: NewNodeFactory(filePath, lang),
		dir:     path.Dir(filePath),
	}

	err := parseTree(grammar, content, func(root *tree_sitter.Node) {
		summary := ""
		if first := root.NamedChild(0); first != nil && first.Kind() == "comment" {
			summary = w.commentText(first)
		}
		w.fileID = w.factory.AddFile(summary)
		for _, stmt := range namedChildren(root) {
			w.statement(stmt, w.fileID, true)
		}
	})
	if err != nil {
		return types.Failed(err.Error())
	}
	return w.factory.Result()
}

type jsWalker struct {
	content []byte
	factory *NodeFactory
	fileID  int64
	dir     string
}

// statement handles one statement. topLevel is true for program-level
// statements, where plain bindings become variable nodes.
func (w *jsWalker) statement(node *tree_sitter.Node, scope int64, topLevel bool) {
	switch node.Kind() {
	case "import_statement":
		w.module(node.ChildByFieldName("source"))
	case "export_statement":
		if src := node.ChildByFieldName("source"); src != nil {
			w.module(src)
		}
		if decl := node.ChildByFieldName("declaration"); decl != nil {
			w.statement(decl, scope, topLevel)
			return
		}
		if value := node.ChildByFieldName("value"); value != nil {
			w.expression(value, scope)
		}
	case "class_declaration", "abstract_class_declaration":
		w.class(node, scope)
	case "interface_declaration":
		w.iface(node, scope)
	case "function_declaration", "generator_function_declaration":
		w.function(node, fieldText(node, "name", w.content), types.NodeFunction, scope, node)
	case "lexical_declaration", "variable_declaration":
		for _, decl := range namedChildren(node) {
			if decl.Kind() == "variable_declarator" {
				w.declarator(decl, node, scope, topLevel)
			}
		}
	case "type_alias_declaration", "enum_declaration":
		line, col := position(node)
		nodeType := types.NodeType("type")
		if node.Kind() == "enum_declaration" {
			nodeType = types.NodeClass
		}
		id := w.factory.Add(nodeType, fieldText(node, "name", w.content), line, col, w.leadingComment(node))
		w.factory.Link(scope, id, types.RelContains)
	default:
		w.expression(node, scope)
	}
}

func (w *jsWalker) class(node *tree_sitter.Node, scope int64) int64 {
	line, col := position(node)
	id := w.factory.Add(types.NodeClass, fieldText(node, "name", w.content), line, col, w.leadingComment(node))
	w.factory.Link(scope, id, types.RelContains)

	for _, child := range namedChildren(node) {
		if child.Kind() == "class_heritage" {
			w.heritage(id, child)
		}
	}

	if body := node.ChildByFieldName("body"); body != nil {
		for _, member := range namedChildren(body) {
			switch member.Kind() {
			case "method_definition", "method_signature", "abstract_method_signature":
				w.function(member, fieldText(member, "name", w.content), types.NodeMethod, id, member)
			case "field_definition", "public_field_definition":
				if value := member.ChildByFieldName("value"); value != nil {
					w.expression(value, id)
				}
			}
		}
	}
	return id
}

// heritage records extends/implements targets as inheritance references.
// JavaScript puts the expression directly under class_heritage while
// TypeScript wraps it in extends_clause and implements_clause.
func (w *jsWalker) heritage(classID int64, node *tree_sitter.Node) {
	for _, child := range namedChildren(node) {
		switch child.Kind() {
		case "extends_clause", "implements_clause", "extends_type_clause":
			for _, target := range namedChildren(child) {
				w.inherit(classID, target)
			}
		default:
			w.inherit(classID, child)
		}
	}
}

func (w *jsWalker) inherit(id int64, target *tree_sitter.Node) {
	switch target.Kind() {
	case "identifier", "type_identifier", "member_expression", "nested_type_identifier":
		w.factory.Refer(id, types.RelInherits, types.RefSymbol, lastSegment(target.Utf8Text(w.content)))
	case "generic_type":
		w.factory.Refer(id, types.RelInherits, types.RefSymbol, lastSegment(fieldText(target, "name", w.content)))
	case "call_expression":
		w.expression(target, id)
	}
}

func (w *jsWalker) iface(node *tree_sitter.Node, scope int64) {
	line, col := position(node)
	id := w.factory.Add(types.NodeInterface, fieldText(node, "name", w.content), line, col, w.leadingComment(node))
	w.factory.Link(scope, id, types.RelContains)
	for _, child := range namedChildren(node) {
		if child.Kind() == "extends_type_clause" {
			for _, target := range namedChildren(child) {
				w.inherit(id, target)
			}
		}
	}
}

// function creates a function or method node and walks its body
func (w *jsWalker) function(node *tree_sitter.Node, name string, nodeType types.NodeType, scope int64, docNode *tree_sitter.Node) int64 {
	line, col := position(node)
	summary := w.leadingComment(docNode)
	if summary == "" {
		summary = name + fieldText(node, "parameters", w.content)
	}

	id := w.factory.Add(nodeType, name, line, col, summary)
	w.factory.Link(scope, id, types.RelContains)

	if body := node.ChildByFieldName("body"); body != nil {
		w.body(body, id)
	}
	return id
}

// body walks a function body. Nested declarations are contained by the
// enclosing function rather than promoted to the file.
func (w *jsWalker) body(node *tree_sitter.Node, scope int64) {
	switch node.Kind() {
	case "statement_block":
		for _, stmt := range namedChildren(node) {
			w.statement(stmt, scope, false)
		}
	default:
		// arrow functions with an expression body
		w.expression(node, scope)
	}
}

func (w *jsWalker) declarator(decl, stmt *tree_sitter.Node, scope int64, topLevel bool) {
	nameNode := decl.ChildByFieldName("name")
	value := decl.ChildByFieldName("value")
	name := ""
	if nameNode != nil && nameNode.Kind() == "identifier" {
		name = nameNode.Utf8Text(w.content)
	}

	if value != nil && name != "" {
		switch value.Kind() {
		case "arrow_function", "function_expression", "function", "generator_function":
			w.function(value, name, types.NodeFunction, scope, stmt)
			return
		case "class":
			line, col := position(decl)
			id := w.factory.Add(types.NodeClass, name, line, col, w.leadingComment(stmt))
			w.factory.Link(scope, id, types.RelContains)
			for _, child := range namedChildren(value) {
				if child.Kind() == "class_heritage" {
					w.heritage(id, child)
				}
			}
			return
		}
	}

	source := scope
	if topLevel && name != "" {
		line, col := position(decl)
		source = w.factory.Add(types.NodeVariable, name, line, col, w.leadingComment(stmt))
		w.factory.Link(scope, source, types.RelContains)
	}
	if value != nil {
		w.expression(value, source)
	}
}

// expression records calls, require() imports and constructor usage
// below node, attributing them to scope
func (w *jsWalker) expression(node *tree_sitter.Node, scope int64) {
	if node == nil {
		return
	}

	switch node.Kind() {
	case "call_expression":
		fn := node.ChildByFieldName("function")
		if fn != nil {
			switch fn.Kind() {
			case "identifier":
				name := fn.Utf8Text(w.content)
				if name == "require" {
					if args := node.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
						w.module(args.NamedChild(0))
					}
				} else {
					w.factory.Refer(scope, types.RelCalls, types.RefSymbol, name)
				}
			case "member_expression":
				w.factory.Refer(scope, types.RelCalls, types.RefSymbol, fieldText(fn, "property", w.content))
			case "import":
				if args := node.ChildByFieldName("arguments"); args != nil && args.NamedChildCount() > 0 {
					w.module(args.NamedChild(0))
				}
			}
		}
	case "new_expression":
		if ctor := node.ChildByFieldName("constructor"); ctor != nil {
			w.factory.Refer(scope, types.RelUses, types.RefSymbol, lastSegment(ctor.Utf8Text(w.content)))
		}
	case "arrow_function", "function_expression", "function", "generator_function":
		if body := node.ChildByFieldName("body"); body != nil {
			w.body(body, scope)
		}
		return
	case "class":
		return
	}

	for i := uint(0); i < node.NamedChildCount(); i++ {
		w.expression(node.NamedChild(i), scope)
	}
}

// module records an import of the module named by a string literal node
func (w *jsWalker) module(src *tree_sitter.Node) {
	if src == nil || (src.Kind() != "string" && src.Kind() != "template_string") {
		return
	}
	spec := unquote(src.Utf8Text(w.content))
	if spec == "" {
		return
	}

	var candidates []string
	if strings.HasPrefix(spec, "./") || strings.HasPrefix(spec, "../") || spec == "." || spec == ".." {
		base := path.Join(w.dir, spec)
		if path.Ext(spec) != "" {
			candidates = append(candidates, base)
		}
		for _, suffix := range jsModuleSuffixes {
			candidates = append(candidates, base+suffix)
		}
	} else if strings.HasPrefix(spec, "/") {
		candidates = append(candidates, strings.TrimPrefix(spec, "/"))
	}
	w.factory.Refer(w.fileID, types.RelImports, types.RefModule, spec, joinCandidates(candidates...)...)
}

// leadingComment returns the text of a /** */ or // comment directly above
// node, looking through an enclosing export statement
func (w *jsWalker) leadingComment(node *tree_sitter.Node) string {
	if node == nil {
		return ""
	}
	if parent := node.Parent(); parent != nil && parent.Kind() == "export_statement" {
		node = parent
	}
	prev := node.PrevSibling()
	if prev == nil || prev.Kind() != "comment" {
		return ""
	}
	if prev.EndPosition().Row+1 < node.StartPosition().Row {
		return ""
	}
	return w.commentText(prev)
}

// commentText strips comment markers and joins the remaining lines
func (w *jsWalker) commentText(comment *tree_sitter.Node) string {
	text := comment.Utf8Text(w.content)
	text = strings.TrimPrefix(text, "/**")
	text = strings.TrimPrefix(text, "/*")
	text = strings.TrimSuffix(text, "*/")
	text = strings.TrimPrefix(text, "//")

	var lines []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), "*"))
		if line != "" {
			lines = append(lines, line)
		}
	}
	return strings.Join(lines, " ")
}

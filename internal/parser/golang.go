package parser

import (
	"fmt"
	"go/ast"
	goparser "go/parser"
	"go/token"
	"strconv"
	"strings"

	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/pkg/types"
)

// GoPlugin parses Go source with the standard library AST
type GoPlugin struct{}

// NewGoPlugin creates a new Go parser plugin
func NewGoPlugin() *GoPlugin {
	return &GoPlugin{}
}

func (p *GoPlugin) Name() string { return "go" }

func (p *GoPlugin) Extensions() []string { return []string{".go"} }

func (p *GoPlugin) Languages() []string { return []string{language.Go} }

func (p *GoPlugin) CanParse(path string) bool {
	return hasExtension(path, p.Extensions())
}

// ParseFile extracts types, functions, methods, package-level values,
// imports and call sites from a Go file
func (p *GoPlugin) ParseFile(path string, content []byte) types.ParseResult {
	fset := token.NewFileSet()
	file, err := goparser.ParseFile(fset, path, content, goparser.ParseComments)
	if err != nil {
		return types.Failed(fmt.Sprintf("syntax error: %v", err))
	}

	e := &goExtractor{
		fset:    fset,
		factory: NewNodeFactory(path, language.Go),
		types:   make(map[string]int64),
	}
	e.extract(file)
	return e.factory.Result()
}

// goExtractor walks one file's declarations
type goExtractor struct {
	fset    *token.FileSet
	factory *NodeFactory
	fileID  int64
	types   map[string]int64 // type name -> node id, for method containment
}

func (e *goExtractor) extract(file *ast.File) {
	summary := extractDocComment(file.Doc)
	if summary == "" && file.Name != nil {
		summary = "package " + file.Name.Name
	}
	e.fileID = e.factory.AddFile(summary)

	for _, imp := range file.Imports {
		importPath, err := strconv.Unquote(imp.Path.Value)
		if err != nil || importPath == "" || importPath == "C" {
			continue
		}
		e.factory.Refer(e.fileID, types.RelImports, types.RefPackage, importPath)
	}

	// Types first so methods declared before their receiver still nest
	for _, decl := range file.Decls {
		if gen, ok := decl.(*ast.GenDecl); ok && gen.Tok == token.TYPE {
			e.extractGenDecl(gen)
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			e.extractFunction(d)
		case *ast.GenDecl:
			if d.Tok == token.VAR || d.Tok == token.CONST {
				e.extractGenDecl(d)
			}
		}
	}
}

// extractFunction extracts function and method declarations
func (e *goExtractor) extractFunction(funcDecl *ast.FuncDecl) {
	pos := e.fset.Position(funcDecl.Pos())
	summary := extractDocComment(funcDecl.Doc)
	if summary == "" {
		summary = e.functionSignature(funcDecl)
	}

	parent := e.fileID
	nodeType := types.NodeFunction
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		nodeType = types.NodeMethod
		if id, ok := e.types[receiverType(funcDecl.Recv.List[0].Type)]; ok {
			parent = id
		}
	}

	id := e.factory.Add(nodeType, funcDecl.Name.Name, pos.Line, pos.Column-1, summary)
	e.factory.Link(parent, id, types.RelContains)

	if funcDecl.Body != nil {
		e.extractReferences(id, funcDecl.Body)
	}
}

// extractGenDecl extracts type, const and var declarations
func (e *goExtractor) extractGenDecl(genDecl *ast.GenDecl) {
	for _, spec := range genDecl.Specs {
		switch s := spec.(type) {
		case *ast.TypeSpec:
			e.extractTypeSpec(s, genDecl.Doc)
		case *ast.ValueSpec:
			e.extractValueSpec(s, genDecl.Doc)
		}
	}
}

// extractTypeSpec maps structs and named types to classes and interfaces
// to interfaces. Embedded types become inheritance references.
func (e *goExtractor) extractTypeSpec(typeSpec *ast.TypeSpec, groupDoc *ast.CommentGroup) {
	pos := e.fset.Position(typeSpec.Pos())
	doc := typeSpec.Doc
	if doc == nil {
		doc = groupDoc
	}
	summary := extractDocComment(doc)

	nodeType := types.NodeClass
	var embedded []ast.Expr
	switch t := typeSpec.Type.(type) {
	case *ast.StructType:
		if summary == "" {
			summary = fmt.Sprintf("type %s struct", typeSpec.Name.Name)
		}
		if t.Fields != nil {
			for _, field := range t.Fields.List {
				if len(field.Names) == 0 {
					embedded = append(embedded, field.Type)
				}
			}
		}
	case *ast.InterfaceType:
		nodeType = types.NodeInterface
		if summary == "" {
			summary = fmt.Sprintf("type %s interface", typeSpec.Name.Name)
		}
		if t.Methods != nil {
			for _, m := range t.Methods.List {
				if len(m.Names) == 0 {
					embedded = append(embedded, m.Type)
				}
			}
		}
	default:
		if summary == "" {
			summary = fmt.Sprintf("type %s %s", typeSpec.Name.Name, exprToString(typeSpec.Type))
		}
	}

	id := e.factory.Add(nodeType, typeSpec.Name.Name, pos.Line, pos.Column-1, summary)
	e.types[typeSpec.Name.Name] = id
	e.factory.Link(e.fileID, id, types.RelContains)

	for _, emb := range embedded {
		if name := baseTypeName(emb); name != "" {
			e.factory.Refer(id, types.RelInherits, types.RefSymbol, name)
		}
	}
}

// extractValueSpec extracts package-level const and var declarations
func (e *goExtractor) extractValueSpec(valueSpec *ast.ValueSpec, groupDoc *ast.CommentGroup) {
	doc := valueSpec.Doc
	if doc == nil {
		doc = groupDoc
	}
	summary := extractDocComment(doc)

	for _, name := range valueSpec.Names {
		if name.Name == "_" {
			continue
		}
		pos := e.fset.Position(name.Pos())
		id := e.factory.Add(types.NodeVariable, name.Name, pos.Line, pos.Column-1, summary)
		e.factory.Link(e.fileID, id, types.RelContains)

		for _, v := range valueSpec.Values {
			e.extractReferences(id, v)
		}
	}
}

// extractReferences records call targets and composite literal types
// used inside node
func (e *goExtractor) extractReferences(source int64, node ast.Node) {
	ast.Inspect(node, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.CallExpr:
			if name := calleeName(x.Fun); name != "" && !goBuiltins[name] {
				e.factory.Refer(source, types.RelCalls, types.RefSymbol, name)
			}
		case *ast.CompositeLit:
			if name := baseTypeName(x.Type); name != "" {
				e.factory.Refer(source, types.RelUses, types.RefSymbol, name)
			}
		}
		return true
	})
}

// functionSignature builds a one-line signature used as a fallback summary
func (e *goExtractor) functionSignature(funcDecl *ast.FuncDecl) string {
	var sig strings.Builder

	sig.WriteString("func ")
	if funcDecl.Recv != nil && len(funcDecl.Recv.List) > 0 {
		sig.WriteString("(")
		sig.WriteString(exprToString(funcDecl.Recv.List[0].Type))
		sig.WriteString(") ")
	}
	sig.WriteString(funcDecl.Name.Name)
	sig.WriteString("(")
	sig.WriteString(fieldListToString(funcDecl.Type.Params))
	sig.WriteString(")")

	if results := fieldListToString(funcDecl.Type.Results); results != "" {
		if funcDecl.Type.Results.NumFields() > 1 {
			sig.WriteString(" (" + results + ")")
		} else {
			sig.WriteString(" " + results)
		}
	}

	return sig.String()
}

var goBuiltins = map[string]bool{
	"append": true, "cap": true, "clear": true, "close": true, "complex": true,
	"copy": true, "delete": true, "imag": true, "len": true, "make": true,
	"max": true, "min": true, "new": true, "panic": true, "print": true,
	"println": true, "real": true, "recover": true,
	"bool": true, "byte": true, "error": true, "float32": true, "float64": true,
	"int": true, "int8": true, "int16": true, "int32": true, "int64": true,
	"rune": true, "string": true, "uint": true, "uint8": true, "uint16": true,
	"uint32": true, "uint64": true, "uintptr": true, "any": true,
}

// receiverType extracts the receiver type name from a method
func receiverType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverType(t.X)
	case *ast.IndexExpr:
		return receiverType(t.X)
	case *ast.IndexListExpr:
		return receiverType(t.X)
	case *ast.Ident:
		return t.Name
	}
	return ""
}

// calleeName returns the called function or method name
func calleeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return calleeName(t.X)
	case *ast.IndexListExpr:
		return calleeName(t.X)
	case *ast.ParenExpr:
		return calleeName(t.X)
	}
	return ""
}

// baseTypeName strips pointers, package qualifiers and type arguments
func baseTypeName(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return baseTypeName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return baseTypeName(t.X)
	case *ast.IndexListExpr:
		return baseTypeName(t.X)
	}
	return ""
}

// fieldListToString converts a field list to a string representation
func fieldListToString(fieldList *ast.FieldList) string {
	if fieldList == nil || len(fieldList.List) == 0 {
		return ""
	}

	var parts []string
	for _, field := range fieldList.List {
		typeStr := exprToString(field.Type)
		if len(field.Names) == 0 {
			parts = append(parts, typeStr)
			continue
		}
		for _, name := range field.Names {
			parts = append(parts, name.Name+" "+typeStr)
		}
	}

	return strings.Join(parts, ", ")
}

// exprToString converts a type expression to a short string
func exprToString(expr ast.Expr) string {
	switch t := expr.(type) {
	case nil:
		return ""
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprToString(t.X)
	case *ast.ArrayType:
		return "[]" + exprToString(t.Elt)
	case *ast.MapType:
		return fmt.Sprintf("map[%s]%s", exprToString(t.Key), exprToString(t.Value))
	case *ast.ChanType:
		return "chan " + exprToString(t.Value)
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		return "interface{}"
	case *ast.SelectorExpr:
		return exprToString(t.X) + "." + t.Sel.Name
	case *ast.Ellipsis:
		return "..." + exprToString(t.Elt)
	case *ast.IndexExpr:
		return exprToString(t.X) + "[" + exprToString(t.Index) + "]"
	default:
		return "..."
	}
}

// extractDocComment extracts documentation from a comment group
func extractDocComment(doc *ast.CommentGroup) string {
	if doc == nil {
		return ""
	}
	return strings.TrimSpace(doc.Text())
}

// Package parser turns source files into graph nodes, relationships and
// unresolved references.
//
// Each language is a Plugin. A Registry holds plugins in priority order
// and dispatches every file to the first plugin that claims it, falling
// back to a generic plugin that emits a single file node.
//
// # Basic Usage
//
//	reg := parser.NewDefaultRegistry()
//	result := reg.Parse("app/main.py", content)
//	if !result.OK() {
//	    log.Printf("degraded: %s", result.Failure)
//	}
//
//	for _, node := range result.Nodes {
//	    fmt.Printf("%s %s:%d\n", node.NodeType, node.Name, node.LineNumber)
//	}
//
// # Built-in Plugins
//
//   - Go, using go/parser and go/ast
//   - Python, using the tree-sitter Python grammar
//   - JavaScript, TypeScript and TSX, using the tree-sitter grammars
//
// The tree-sitter plugins need cgo. Builds without cgo register only the
// Go plugin.
//
// # Results
//
// ParseFile never panics and never returns an error. Syntax errors produce
// a failed types.ParseResult, which the indexer turns into a minimal file
// node so the rest of the tree is still indexed. Registry.Parse recovers
// from plugin panics the same way.
//
// Node ids in a result are file-local. Names the plugin cannot determine
// are synthesized by NodeFactory as {node_type}_{basename}, with a numeric
// suffix on repeats.
//
// # References
//
// Calls, inheritance and imports usually cross file boundaries, so plugins
// report them as types.Reference values naming their target. Module
// references carry candidate file paths computed from the importing file.
//
// # Extending
//
// Register a new language without touching the indexer or storage:
//
//	reg.Register(myPlugin)
package parser

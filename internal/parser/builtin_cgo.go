//go:build cgo

package parser

// builtinPlugins returns the plugins preloaded by NewDefaultRegistry.
// The tree-sitter grammars need cgo.
func builtinPlugins() []Plugin {
	return []Plugin{
		NewGoPlugin(),
		NewPythonPlugin(),
		NewJavaScriptPlugin(),
	}
}

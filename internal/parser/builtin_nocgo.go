//go:build !cgo

package parser

// builtinPlugins returns the plugins preloaded by NewDefaultRegistry.
// Without cgo the tree-sitter grammars are unavailable and Python and
// JavaScript files fall back to file-level nodes.
func builtinPlugins() []Plugin {
	return []Plugin{
		NewGoPlugin(),
	}
}

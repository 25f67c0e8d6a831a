package parser

import (
	"fmt"
	"runtime/debug"
	"sort"
	"sync"

	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/pkg/types"
)

// Registry holds parser plugins in priority order plus a fallback used
// when no plugin claims a file
type Registry struct {
	mu       sync.RWMutex
	plugins  []Plugin
	fallback Plugin
}

// NewRegistry creates an empty registry with the generic fallback
func NewRegistry() *Registry {
	return &Registry{fallback: NewGenericPlugin()}
}

// NewDefaultRegistry creates a registry preloaded with the built-in plugins
func NewDefaultRegistry() *Registry {
	r := NewRegistry()
	for _, p := range builtinPlugins() {
		r.Register(p)
	}
	return r
}

// Register appends a plugin. Earlier plugins take priority.
func (r *Registry) Register(p Plugin) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.plugins = append(r.plugins, p)
}

// Plugins returns the registered plugins in priority order
func (r *Registry) Plugins() []Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Plugin, len(r.plugins))
	copy(out, r.plugins)
	return out
}

// Dispatch selects the plugin for a file: the first plugin whose CanParse
// accepts the path, then the first plugin claiming the detected language,
// then the fallback. It has no side effects.
func (r *Registry) Dispatch(path string, content []byte) Plugin {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, p := range r.plugins {
		if p.CanParse(path) {
			return p
		}
	}

	if lang, ok := language.Detect(path, content); ok {
		for _, p := range r.plugins {
			m, ok := p.(LanguageMatcher)
			if !ok {
				continue
			}
			for _, l := range m.Languages() {
				if l == lang {
					return p
				}
			}
		}
	}

	return r.fallback
}

// Parse dispatches path and runs the selected plugin. A panicking plugin
// yields a failed result instead of crashing the caller.
func (r *Registry) Parse(path string, content []byte) (result types.ParseResult) {
	p := r.Dispatch(path, content)

	defer func() {
		if rec := recover(); rec != nil {
			result = types.Failed(fmt.Sprintf("%s parser panic: %v\n%s", p.Name(), rec, debug.Stack()))
		}
	}()

	return p.ParseFile(path, content)
}

// SupportedExtensions returns the union of all plugin extensions, sorted
func (r *Registry) SupportedExtensions() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	set := make(map[string]struct{})
	for _, p := range r.plugins {
		for _, ext := range p.Extensions() {
			set[ext] = struct{}{}
		}
	}
	exts := make([]string, 0, len(set))
	for ext := range set {
		exts = append(exts, ext)
	}
	sort.Strings(exts)
	return exts
}

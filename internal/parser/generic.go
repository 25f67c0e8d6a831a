package parser

import (
	"github.com/dshills/codegraph/internal/language"
	"github.com/dshills/codegraph/pkg/types"
)

// GenericPlugin emits a single file node and no relationships
type GenericPlugin struct{}

// NewGenericPlugin creates the fallback plugin
func NewGenericPlugin() *GenericPlugin {
	return &GenericPlugin{}
}

func (g *GenericPlugin) Name() string { return "generic" }

func (g *GenericPlugin) Extensions() []string { return nil }

// CanParse accepts every file; the registry only reaches it as a fallback
func (g *GenericPlugin) CanParse(string) bool { return true }

func (g *GenericPlugin) ParseFile(path string, content []byte) types.ParseResult {
	lang, _ := language.Detect(path, content)
	f := NewNodeFactory(path, lang)
	f.AddFile("")
	return f.Result()
}

package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/codegraph/internal/searcher"
	"github.com/dshills/codegraph/internal/service"
)

func projectPathProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Absolute path to the project root",
	}
}

func limitProperty(defaultValue int) map[string]interface{} {
	return map[string]interface{}{
		"type":        "integer",
		"description": "Maximum number of entities to return",
		"default":     defaultValue,
		"minimum":     1,
		"maximum":     searcher.MaxLimit,
	}
}

// searchCodeTool returns the tool definition for search_code
func searchCodeTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolSearchCode,
		Description: "Search the code graph of an indexed project by entity name, path and summary",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
				"terms": map[string]interface{}{
					"type":        "string",
					"description": `Search terms separated by spaces. "quoted phrase", -excluded, prefix*`,
				},
				"limit": limitProperty(50),
				"mode": map[string]interface{}{
					"type":        "string",
					"description": "any: a term must match; all: every term must match",
					"enum":        []string{string(searcher.ModeAny), string(searcher.ModeAll)},
					"default":     string(searcher.ModeAny),
				},
				"use_fts": map[string]interface{}{
					"type":        "boolean",
					"description": "Use the full-text index when it can serve the terms",
					"default":     true,
				},
				"node_type": map[string]interface{}{
					"type":        "string",
					"description": "Only return entities of this type (file, class, interface, function, method, variable, import, ...)",
				},
			},
			Required: []string{"project_path", "terms"},
		},
	}
}

// listEntitiesTool returns the tool definition for list_entities
func listEntitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolListEntities,
		Description: "List the entities of one type in an indexed project, most important first",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
				"node_type": map[string]interface{}{
					"type":        "string",
					"description": "Entity type to list",
				},
				"limit": limitProperty(50),
			},
			Required: []string{"project_path", "node_type"},
		},
	}
}

// topEntitiesTool returns the tool definition for top_entities
func topEntitiesTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolTopEntities,
		Description: "Rank the entities of an indexed project by importance",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
				"limit":        limitProperty(20),
				"node_type": map[string]interface{}{
					"type":        "string",
					"description": "Only rank entities of this type",
				},
			},
			Required: []string{"project_path"},
		},
	}
}

// getEntityTool returns the tool definition for get_entity
func getEntityTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolGetEntity,
		Description: "Show one entity with the entities it is directly connected to",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
				"id": map[string]interface{}{
					"type":        "integer",
					"description": "Entity id as shown in search results",
				},
			},
			Required: []string{"project_path", "id"},
		},
	}
}

// getProjectStatsTool returns the tool definition for get_project_stats
func getProjectStatsTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolGetProjectStats,
		Description: "Query index statistics for a project: counts by type, storage size, recent runs",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
			},
			Required: []string{"project_path"},
		},
	}
}

// indexProjectTool returns the tool definition for index_project
func indexProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolIndexProject,
		Description: "Index a project directory, re-parsing only files that changed since the last run",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
				"full_rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, discard the stored graph and re-parse every file",
					"default":     false,
				},
				"rescore": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, recompute references and importance even when no file changed",
					"default":     false,
				},
			},
			Required: []string{"project_path"},
		},
	}
}

// removeProjectTool returns the tool definition for remove_project
func removeProjectTool() mcp.Tool {
	return mcp.Tool{
		Name:        service.ToolRemoveProject,
		Description: "Delete the index of a project",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"project_path": projectPathProperty(),
			},
			Required: []string{"project_path"},
		},
	}
}

// tools lists every tool definition the server registers
func tools() []mcp.Tool {
	return []mcp.Tool{
		searchCodeTool(),
		listEntitiesTool(),
		topEntitiesTool(),
		getEntityTool(),
		getProjectStatsTool(),
		indexProjectTool(),
		removeProjectTool(),
	}
}

package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"
)

func targetProperty() map[string]interface{} {
	return map[string]interface{}{
		"type":        "string",
		"description": "Name of a configured target that has been merged at least once",
	}
}

// searchSymbolsTool returns the tool definition for search_symbols
func searchSymbolsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_symbols",
		Description: "Search a target's C++ declarations with natural language or keyword queries",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": targetProperty(),
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query (natural language or identifiers)",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"filters": map[string]interface{}{
					"type":        "object",
					"description": "Optional filters to narrow search",
					"properties": map[string]interface{}{
						"kinds": map[string]interface{}{
							"type":        "array",
							"description": "Filter by declaration kind",
							"items": map[string]interface{}{
								"type": "string",
								"enum": []string{"type", "function", "alias"},
							},
						},
						"namespace_prefix": map[string]interface{}{
							"type":        "string",
							"description": "Only declarations in this namespace or below (e.g. 'lib::detail')",
						},
					},
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "Search strategy: hybrid (vector + keyword), vector (semantic only), or keyword (names only)",
					"enum":        []string{"hybrid", "vector", "keyword"},
					"default":     "hybrid",
				},
			},
			Required: []string{"target", "query"},
		},
	}
}

// searchByNameTool returns the tool definition for search_by_name
func searchByNameTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_by_name",
		Description: "Find classes, functions, aliases, constructors and methods whose name contains a substring",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": targetProperty(),
				"name": map[string]interface{}{
					"type":        "string",
					"description": "Case-insensitive name fragment",
				},
			},
			Required: []string{"target", "name"},
		},
	}
}

// getSymbolTool returns the tool definition for get_symbol
func getSymbolTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_symbol",
		Description: "Get the declaration, documentation and scenarios of a fully qualified symbol",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": targetProperty(),
				"qualified_name": map[string]interface{}{
					"type":        "string",
					"description": "Fully qualified name, e.g. 'lib::BoxOfFruits' or 'lib::BoxOfFruits::add'",
				},
			},
			Required: []string{"target", "qualified_name"},
		},
	}
}

// getClassMethodsTool returns the tool definition for get_class_methods
func getClassMethodsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_class_methods",
		Description: "List the constructors and methods of a class",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"target": targetProperty(),
				"class": map[string]interface{}{
					"type":        "string",
					"description": "Fully qualified class name",
				},
			},
			Required: []string{"target", "class"},
		},
	}
}

// runPipelineTool returns the tool definition for run_pipeline
func runPipelineTool() mcp.Tool {
	return mcp.Tool{
		Name:        "run_pipeline",
		Description: "Bring targets up to date, re-running only the stages whose inputs changed",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"targets": map[string]interface{}{
					"type":        "array",
					"description": "Target names; all configured targets when omitted",
					"items":       map[string]interface{}{"type": "string"},
				},
				"until": map[string]interface{}{
					"type":        "string",
					"description": "Last stage to run",
					"enum":        []string{"index", "merge", "embed", "synthesize", "build"},
					"default":     "build",
				},
			},
		},
	}
}

// listTestsTool returns the tool definition for list_tests
func listTestsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "list_tests",
		Description: "List registered scenario tests with their most recent result",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Query the pipeline state of every target",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

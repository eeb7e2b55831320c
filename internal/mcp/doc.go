// Package mcp exposes the scenario pipeline and symbol search over the Model
// Context Protocol, so an assistant can look up C++ declarations, read their
// scenarios and bring test targets up to date.
//
// The server speaks JSON-RPC over stdio through github.com/mark3labs/mcp-go.
// It shares storage, the blob cache and the embedder with the pipeline, so
// anything a run produced is immediately searchable.
//
// # Tool: search_symbols
//
// Rank a target's declarations against a query:
//
//	Request:
//	{
//	  "name": "search_symbols",
//	  "arguments": {
//	    "target": "box",
//	    "query": "add fruit to a box",
//	    "limit": 5,
//	    "search_mode": "hybrid",
//	    "filters": {"kinds": ["type"], "namespace_prefix": "lib"}
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "qualified_name": "lib::BoxOfFruits",
//	      "kind": "type",
//	      "signature": "class BoxOfFruits",
//	      "score": 1,
//	      "scenarios": 0
//	    }
//	  ]
//	}
//
// # Symbol Tools
//
//   - search_by_name: case-insensitive name fragment over classes, functions,
//     aliases, constructors and methods
//   - get_symbol: declaration, documentation and scenarios of a qualified name
//   - get_class_methods: constructors and methods of a class
//
// # Pipeline Tools
//
//   - run_pipeline: runs the named targets (all when omitted) up to a stage.
//     Only stale nodes do work. A concurrent run is rejected with -32002.
//   - list_tests: registered tests with their latest result
//   - get_status: the recorded state of every target
//
// # MCP Client Configuration
//
//	{
//	  "mcpServers": {
//	    "scenariogen": {
//	      "command": "/usr/local/bin/scenariogen",
//	      "args": ["serve", "--config", "/path/to/scenariogen.yaml"],
//	      "env": {"GEMINI_API_KEY": "your-api-key"}
//	    }
//	  }
//	}
//
// # Error Handling
//
// Error codes:
//   - -32602: Invalid params (missing/invalid arguments)
//   - -32603: Internal error (database, filesystem, etc.)
//   - -32001: Target not configured
//   - -32002: Pipeline run in progress
//   - -32003: Target not indexed
//   - -32004: Empty query
//   - -32005: Symbol not found
//
// # Logging
//
// The server logs through zap to stderr; stdout is reserved for the protocol.
package mcp

package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/scenariogen/internal/graph"
	"github.com/dshills/scenariogen/internal/pipeline"
	"github.com/dshills/scenariogen/internal/searcher"
	"github.com/dshills/scenariogen/internal/storage"
	"github.com/dshills/scenariogen/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams  = -32602 // Invalid method parameters
	ErrorCodeInternalError  = -32603 // Internal JSON-RPC error
	ErrorCodeTargetNotFound = -32001 // Target is not configured
	ErrorCodePipelineBusy   = -32002 // Another pipeline run is in progress
	ErrorCodeNotIndexed     = -32003 // Target has no merged index yet
	ErrorCodeEmptyQuery     = -32004 // Query parameter is empty
	ErrorCodeSymbolNotFound = -32005 // No declaration with that name
)

// handleSearchSymbols handles the search_symbols tool invocation
func (s *Server) handleSearchSymbols(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, target, err := targetArgs(request)
	if err != nil {
		return nil, err
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", searcher.DefaultLimit)
	if limit < 1 || limit > searcher.MaxLimit {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	searchMode := getStringDefault(args, "search_mode", string(searcher.SearchModeHybrid))
	switch searcher.SearchMode(searchMode) {
	case searcher.SearchModeHybrid, searcher.SearchModeVector, searcher.SearchModeKeyword:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   searchMode,
			"allowed": []string{"hybrid", "vector", "keyword"},
		})
	}

	filters, err := parseFilters(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Target:   target,
		Query:    query,
		Limit:    limit,
		Mode:     searcher.SearchMode(searchMode),
		Filters:  filters,
		UseCache: true,
	})
	if err != nil {
		return nil, lookupError(target, "search failed", err)
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		results = append(results, map[string]interface{}{
			"rank":           r.Rank,
			"qualified_name": r.Entity.QualifiedName,
			"kind":           r.Entity.Kind,
			"signature":      r.Entity.Signature(),
			"file":           r.Entity.File,
			"line":           r.Entity.Line,
			"score":          round3(r.RelevanceScore),
			"vector_score":   round3(r.VectorScore),
			"text_score":     round3(r.TextScore),
			"scenarios":      len(r.Entity.Scenarios),
		})
	}
	response := map[string]interface{}{
		"target":         target,
		"query":          query,
		"search_mode":    resp.SearchMode,
		"results":        results,
		"total_results":  resp.TotalResults,
		"vector_results": resp.VectorResults,
		"text_results":   resp.TextResults,
		"cache_hit":      resp.CacheHit,
		"duration_ms":    resp.Duration.Milliseconds(),
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchByName handles the search_by_name tool invocation
func (s *Server) handleSearchByName(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, target, err := targetArgs(request)
	if err != nil {
		return nil, err
	}
	name, err := requiredString(args, "name")
	if err != nil {
		return nil, err
	}
	symbols, err := s.searcher.SearchByName(ctx, target, name)
	if err != nil {
		return nil, lookupError(target, "search failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"target":  target,
		"name":    name,
		"symbols": symbolList(symbols),
	})), nil
}

// handleGetSymbol handles the get_symbol tool invocation
func (s *Server) handleGetSymbol(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, target, err := targetArgs(request)
	if err != nil {
		return nil, err
	}
	qualified, err := requiredString(args, "qualified_name")
	if err != nil {
		return nil, err
	}
	symbols, err := s.searcher.GetSymbol(ctx, target, qualified)
	if err != nil {
		return nil, lookupError(target, "symbol lookup failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"target":  target,
		"symbols": symbols,
	})), nil
}

// handleGetClassMethods handles the get_class_methods tool invocation
func (s *Server) handleGetClassMethods(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, target, err := targetArgs(request)
	if err != nil {
		return nil, err
	}
	class, err := requiredString(args, "class")
	if err != nil {
		return nil, err
	}
	methods, err := s.searcher.GetClassMethods(ctx, target, class)
	if err != nil {
		return nil, lookupError(target, "class lookup failed", err)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"target":  target,
		"class":   class,
		"methods": symbolList(methods),
	})), nil
}

// handleRunPipeline handles the run_pipeline tool invocation
func (s *Server) handleRunPipeline(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, _ := request.Params.Arguments.(map[string]interface{})

	var names []string
	if raw, ok := args["targets"].([]interface{}); ok {
		for _, v := range raw {
			name, ok := v.(string)
			if !ok || name == "" {
				return nil, newMCPError(ErrorCodeInvalidParams, "targets must be a list of names", map[string]interface{}{
					"param": "targets",
				})
			}
			names = append(names, name)
		}
	}

	until := types.Stage(getStringDefault(args, "until", string(types.StageBuild)))
	switch until {
	case types.StageIndex, types.StageMerge, types.StageEmbed, types.StageSynthesize, types.StageBuild:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid until stage", map[string]interface{}{
			"param": "until",
			"value": until,
		})
	}

	targets, err := s.targets(names...)
	if err != nil {
		return nil, newMCPError(ErrorCodeTargetNotFound, "cannot resolve targets", map[string]interface{}{
			"error": err.Error(),
		})
	}

	report, err := s.pipeline.Run(ctx, targets, until)
	if errors.Is(err, pipeline.ErrBusy) {
		return nil, newMCPError(ErrorCodePipelineBusy, "a pipeline run is already in progress", nil)
	}
	if report == nil {
		return nil, newMCPError(ErrorCodeInternalError, "pipeline run failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	statuses := make([]map[string]interface{}, 0, len(report.Targets))
	for _, st := range report.Targets {
		entry := map[string]interface{}{
			"target": st.Target,
			"state":  st.State,
		}
		if st.Err != nil {
			entry["failed_stage"] = st.FailedStage
			entry["error"] = st.Err.Error()
		}
		statuses = append(statuses, entry)
	}
	counts := report.Counts()
	response := map[string]interface{}{
		"run_id":      report.RunID,
		"succeeded":   err == nil,
		"targets":     statuses,
		"completed":   counts[graph.Completed],
		"cached":      counts[graph.Cached],
		"failed":      counts[graph.Failed],
		"skipped":     counts[graph.Skipped],
		"duration_ms": report.Duration.Milliseconds(),
	}
	if err != nil {
		response["error"] = err.Error()
	}
	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleListTests handles the list_tests tool invocation
func (s *Server) handleListTests(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	regs, err := s.storage.ListRegistrations(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to list registrations", map[string]interface{}{
			"error": err.Error(),
		})
	}
	tests := make([]map[string]interface{}, 0, len(regs))
	for _, reg := range regs {
		entry := map[string]interface{}{
			"name":    reg.Name,
			"target":  reg.Target,
			"command": reg.Command,
		}
		runs, err := s.storage.ListTestRuns(ctx, reg.Name, 1)
		if err != nil {
			return nil, newMCPError(ErrorCodeInternalError, "failed to list test runs", map[string]interface{}{
				"error": err.Error(),
			})
		}
		if len(runs) > 0 {
			entry["last_run"] = map[string]interface{}{
				"passed":      runs[0].Passed,
				"exit_code":   runs[0].ExitCode,
				"started_at":  runs[0].StartedAt.Format(time.RFC3339),
				"duration_ms": runs[0].Duration.Milliseconds(),
			}
		}
		tests = append(tests, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{"tests": tests})), nil
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	heads, err := s.storage.ListTargetHeads(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}
	targets := make([]map[string]interface{}, 0, len(heads))
	for _, h := range heads {
		entry := map[string]interface{}{
			"target":     h.Target,
			"state":      h.State,
			"run_id":     h.RunID,
			"updated_at": h.UpdatedAt.Format(time.RFC3339),
			"merged":     h.MergedHash != "",
			"embedded":   h.EmbeddingsHash != "",
		}
		if h.FailedStage != "" {
			entry["failed_stage"] = h.FailedStage
			entry["error"] = h.Error
		}
		targets = append(targets, entry)
	}
	return mcp.NewToolResultText(formatJSON(map[string]interface{}{
		"busy":    s.pipeline.Busy(),
		"targets": targets,
	})), nil
}

// Helper functions

// newMCPError creates a properly formatted MCP error
func newMCPError(code int, message string, data interface{}) error {
	// MCP errors are returned as regular errors, the framework handles encoding
	return &MCPError{
		Code:    code,
		Message: message,
		Data:    data,
	}
}

// MCPError represents an MCP protocol error
type MCPError struct {
	Code    int
	Message string
	Data    interface{}
}

func (e *MCPError) Error() string {
	return fmt.Sprintf("MCP error %d: %s", e.Code, e.Message)
}

// targetArgs extracts the argument map and the required target name.
func targetArgs(request mcp.CallToolRequest) (map[string]interface{}, string, error) {
	args, ok := request.Params.Arguments.(map[string]interface{})
	if !ok {
		return nil, "", newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}
	target, err := requiredString(args, "target")
	if err != nil {
		return nil, "", err
	}
	return args, target, nil
}

func requiredString(args map[string]interface{}, key string) (string, error) {
	val, ok := args[key].(string)
	if !ok || val == "" {
		return "", newMCPError(ErrorCodeInvalidParams, key+" parameter is required", map[string]interface{}{
			"param":  key,
			"reason": "missing or empty",
		})
	}
	return val, nil
}

func parseFilters(args map[string]interface{}) (*searcher.SearchFilters, error) {
	raw, ok := args["filters"].(map[string]interface{})
	if !ok {
		return nil, nil
	}
	filters := &searcher.SearchFilters{}
	if kinds, ok := raw["kinds"].([]interface{}); ok {
		for _, k := range kinds {
			kind, _ := k.(string)
			switch types.EntityKind(kind) {
			case types.KindType, types.KindFunction, types.KindAlias:
				filters.Kinds = append(filters.Kinds, types.EntityKind(kind))
			default:
				return nil, newMCPError(ErrorCodeInvalidParams, "invalid kind filter", map[string]interface{}{
					"param":   "filters.kinds",
					"value":   k,
					"allowed": []string{"type", "function", "alias"},
				})
			}
		}
	}
	filters.NamespacePrefix, _ = raw["namespace_prefix"].(string)
	return filters, nil
}

// lookupError maps searcher failures to MCP error codes.
func lookupError(target, message string, err error) error {
	switch {
	case errors.Is(err, searcher.ErrEmptyQuery):
		return newMCPError(ErrorCodeEmptyQuery, message, map[string]interface{}{"error": err.Error()})
	case errors.Is(err, searcher.ErrNotIndexed):
		return newMCPError(ErrorCodeNotIndexed, message, map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
	case errors.Is(err, storage.ErrNotFound):
		return newMCPError(ErrorCodeSymbolNotFound, message, map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
	default:
		return newMCPError(ErrorCodeInternalError, message, map[string]interface{}{
			"target": target,
			"error":  err.Error(),
		})
	}
}

func symbolList(symbols []searcher.Symbol) []map[string]interface{} {
	out := make([]map[string]interface{}, 0, len(symbols))
	for _, sym := range symbols {
		entry := map[string]interface{}{
			"qualified_name": sym.QualifiedName,
			"kind":           sym.Kind,
			"signature":      sym.Signature,
		}
		if sym.Owner != "" {
			entry["owner"] = sym.Owner
		}
		out = append(out, entry)
	}
	return out
}

func round3(f float64) float64 {
	return float64(int64(f*1000+0.5)) / 1000
}

// formatJSON formats a value as indented JSON
func formatJSON(data interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getIntDefault extracts an integer parameter with a default value
func getIntDefault(args map[string]interface{}, key string, defaultValue int) int {
	if val, ok := args[key].(float64); ok {
		return int(val)
	}
	if val, ok := args[key].(int); ok {
		return val
	}
	return defaultValue
}

// getStringDefault extracts a string parameter with a default value
func getStringDefault(args map[string]interface{}, key string, defaultValue string) string {
	if val, ok := args[key].(string); ok {
		return val
	}
	return defaultValue
}

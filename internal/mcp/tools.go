package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/sessionindex/internal/indexer"
	"github.com/dshills/sessionindex/internal/searcher"
	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// MCP error codes
const (
	ErrorCodeInvalidParams   = -32602 // Invalid method parameters
	ErrorCodeInternalError   = -32603 // Internal JSON-RPC error
	ErrorCodeSessionNotFound = -32001 // No indexed session with that source and ID
	ErrorCodeIndexerClosed   = -32002 // Server is shutting down
	ErrorCodeEmptyQuery      = -32004 // Query parameter is empty
)

// maxErrorsReported caps the error messages included in a refresh response
const maxErrorsReported = 5

// handleRefreshIndex handles the refresh_index tool invocation
func (s *Server) handleRefreshIndex(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	run := s.indexer.Refresh
	if getBoolDefault(args, "full_rebuild", false) {
		run = s.indexer.FullBuild
	}

	stats, err := run(ctx)
	if err != nil {
		if errors.Is(err, indexer.ErrClosed) {
			return nil, newMCPError(ErrorCodeIndexerClosed, "indexer is shutting down", nil)
		}
		return nil, newMCPError(ErrorCodeInternalError, "indexing failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	return mcp.NewToolResultText(formatJSON(statisticsResponse(stats))), nil
}

func statisticsResponse(stats *indexer.Statistics) map[string]interface{} {
	response := map[string]interface{}{
		"run_id":           stats.RunID,
		"kind":             stats.Kind,
		"files_discovered": stats.FilesDiscovered,
		"files_indexed":    stats.FilesIndexed,
		"files_skipped":    stats.FilesSkipped,
		"files_failed":     stats.FilesFailed,
		"files_removed":    stats.FilesRemoved,
		"not_sessions":     stats.NotSessions,
		"sources_failed":   stats.SourcesFailed,
		"tool_io_pruned":   stats.ToolIOPruned,
		"duration_ms":      stats.Duration.Milliseconds(),
	}

	if len(stats.ErrorMessages) > 0 {
		errorCount := len(stats.ErrorMessages)
		if errorCount > maxErrorsReported {
			response["errors"] = stats.ErrorMessages[:maxErrorsReported]
			response["error_count"] = errorCount
		} else {
			response["errors"] = stats.ErrorMessages
		}
	}
	return response
}

// handleGetStatus handles the get_status tool invocation
func (s *Server) handleGetStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	status, err := s.storage.GetStatus(ctx)
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get status", map[string]interface{}{
			"error": err.Error(),
		})
	}

	sourceList := make([]map[string]interface{}, 0, len(status.Sources))
	for _, src := range status.Sources {
		entry := map[string]interface{}{
			"source":            src.Source.String(),
			"files":             src.Files,
			"sessions":          src.Sessions,
			"search_documents":  src.SearchDocuments,
			"tool_io_documents": src.ToolIODocuments,
		}
		if !src.LastIndexedAt.IsZero() {
			entry["last_indexed_at"] = src.LastIndexedAt.Format(time.RFC3339)
		}
		sourceList = append(sourceList, entry)
	}

	progress := s.indexer.Progress()
	job := map[string]interface{}{
		"running": progress.Running,
	}
	if progress.Running {
		job["run_id"] = progress.RunID
		job["kind"] = progress.Kind
		job["phase"] = progress.Phase
		job["processed"] = progress.Processed
		job["total"] = progress.Total
		job["started_at"] = progress.StartedAt.Format(time.RFC3339)
		if progress.Source.Valid() {
			job["source"] = progress.Source.String()
		}
	}
	if progress.LastRun != nil {
		job["last_run"] = statisticsResponse(progress.LastRun)
	}

	response := map[string]interface{}{
		"sources":        sourceList,
		"tool_io_bytes":  status.ToolIOBytes,
		"index_size_mb":  fmt.Sprintf("%.2f", status.IndexSizeMB),
		"schema_version": status.SchemaVersion,
		"job":            job,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleSearchSessions handles the search_sessions tool invocation
func (s *Server) handleSearchSessions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	query, ok := args["query"].(string)
	if !ok || query == "" {
		return nil, newMCPError(ErrorCodeEmptyQuery, "query parameter is required and cannot be empty", map[string]interface{}{
			"param":  "query",
			"reason": "missing or empty",
		})
	}

	limit := getIntDefault(args, "limit", 10)
	if limit < 1 || limit > 100 {
		return nil, newMCPError(ErrorCodeInvalidParams, "limit must be between 1 and 100", map[string]interface{}{
			"param": "limit",
			"value": limit,
		})
	}

	mode := searcher.SearchMode(getStringDefault(args, "search_mode", string(searcher.SearchModeAll)))
	switch mode {
	case searcher.SearchModeAll, searcher.SearchModeSessions, searcher.SearchModeToolIO:
	default:
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid search_mode", map[string]interface{}{
			"param":   "search_mode",
			"value":   mode,
			"allowed": []string{"all", "sessions", "tool_io"},
		})
	}

	srcs, err := getSources(args)
	if err != nil {
		return nil, err
	}

	var since time.Time
	if raw := getStringDefault(args, "since", ""); raw != "" {
		since, err = parseSince(raw)
		if err != nil {
			return nil, newMCPError(ErrorCodeInvalidParams, "invalid since", map[string]interface{}{
				"param":  "since",
				"reason": err.Error(),
			})
		}
	}

	resp, err := s.searcher.Search(ctx, searcher.SearchRequest{
		Query:    query,
		Limit:    limit,
		Mode:     mode,
		Sources:  srcs,
		Since:    since,
		UseCache: true,
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "search failed", map[string]interface{}{
			"error": err.Error(),
		})
	}

	results := make([]map[string]interface{}, 0, len(resp.Results))
	for _, r := range resp.Results {
		matched := make([]string, len(r.MatchedIn))
		for i, m := range r.MatchedIn {
			matched[i] = string(m)
		}
		entry := map[string]interface{}{
			"rank":       r.Rank,
			"score":      r.Score,
			"source":     r.Source.String(),
			"session_id": r.SessionID,
			"path":       r.Path,
			"title":      r.Title,
			"snippet":    r.Snippet,
			"matched_in": matched,
		}
		if !r.Reference.IsZero() {
			entry["reference_time"] = r.Reference.Format(time.RFC3339)
		}
		results = append(results, entry)
	}

	response := map[string]interface{}{
		"results":       results,
		"total_results": resp.TotalResults,
		"search_mode":   resp.SearchMode,
		"duration_ms":   resp.Duration.Milliseconds(),
		"cache_hit":     resp.CacheHit,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetRollups handles the get_rollups tool invocation
func (s *Server) handleGetRollups(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	srcs, err := getSources(args)
	if err != nil {
		return nil, err
	}

	resp, err := s.searcher.Rollups(ctx, searcher.RollupRequest{
		Sources: srcs,
		From:    getStringDefault(args, "from", ""),
		To:      getStringDefault(args, "to", ""),
	})
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid day range", map[string]interface{}{
			"error": err.Error(),
		})
	}

	days := make([]map[string]interface{}, 0, len(resp.Rollups))
	for _, r := range resp.Rollups {
		days = append(days, map[string]interface{}{
			"day":              r.Day,
			"source":           r.Source.String(),
			"sessions":         r.Sessions,
			"messages":         r.Messages,
			"commands":         r.Commands,
			"duration_seconds": r.DurationSeconds,
		})
	}

	response := map[string]interface{}{
		"rollups": days,
		"totals": map[string]interface{}{
			"sessions":         resp.Totals.Sessions,
			"messages":         resp.Totals.Messages,
			"commands":         resp.Totals.Commands,
			"duration_seconds": resp.Totals.DurationSeconds,
		},
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
}

// handleGetSession handles the get_session tool invocation
func (s *Server) handleGetSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	args, ok := arguments(request)
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid arguments", nil)
	}

	src, err := types.ParseSource(getStringDefault(args, "source", ""))
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid source", map[string]interface{}{
			"param":  "source",
			"reason": err.Error(),
		})
	}

	id, ok := args["session_id"].(string)
	if !ok || id == "" {
		return nil, newMCPError(ErrorCodeInvalidParams, "session_id parameter is required", map[string]interface{}{
			"param":  "session_id",
			"reason": "missing or empty",
		})
	}

	detail, err := s.searcher.Session(ctx, src, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, newMCPError(ErrorCodeSessionNotFound, "session not found", map[string]interface{}{
			"source":     src.String(),
			"session_id": id,
		})
	}
	if err != nil {
		return nil, newMCPError(ErrorCodeInternalError, "failed to get session", map[string]interface{}{
			"error": err.Error(),
		})
	}

	meta := detail.Meta
	days := make([]map[string]interface{}, 0, len(detail.Days))
	for _, d := range detail.Days {
		days = append(days, map[string]interface{}{
			"day":              d.Day,
			"messages":         d.Messages,
			"commands":         d.Commands,
			"duration_seconds": d.DurationSeconds,
		})
	}

	response := map[string]interface{}{
		"source":         meta.Source.String(),
		"session_id":     meta.SessionID,
		"path":           meta.Path,
		"title":          meta.Title,
		"model":          meta.Model,
		"cwd":            meta.CWD,
		"repo":           meta.RepoName,
		"message_count":  meta.MessageCount,
		"command_count":  meta.CommandCount,
		"start_time":     formatTime(meta.StartTime),
		"end_time":       formatTime(meta.EndTime),
		"reference_time": formatTime(meta.ReferenceTime),
		"days":           days,
	}

	return mcp.NewToolResultText(formatJSON(response)), nil
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

// arguments returns the call's arguments. A call without any is treated as
// an empty object.
func arguments(request mcp.CallToolRequest) (map[string]interface{}, bool) {
	if request.Params.Arguments == nil {
		return map[string]interface{}{}, true
	}
	args, ok := request.Params.Arguments.(map[string]interface{})
	return args, ok
}

// getSources parses the optional sources array
func getSources(args map[string]interface{}) ([]types.Source, error) {
	raw, ok := args["sources"]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, newMCPError(ErrorCodeInvalidParams, "sources must be an array of strings", map[string]interface{}{
			"param": "sources",
		})
	}

	names := make([]string, 0, len(list))
	for _, v := range list {
		name, ok := v.(string)
		if !ok {
			return nil, newMCPError(ErrorCodeInvalidParams, "sources must be an array of strings", map[string]interface{}{
				"param": "sources",
			})
		}
		names = append(names, name)
	}

	srcs, err := types.ParseSources(names)
	if err != nil {
		return nil, newMCPError(ErrorCodeInvalidParams, "invalid sources", map[string]interface{}{
			"param":   "sources",
			"reason":  err.Error(),
			"allowed": sourceNames(),
		})
	}
	return srcs, nil
}

// parseSince accepts an RFC 3339 timestamp or a local calendar day
func parseSince(raw string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	t, err := time.ParseInLocation(types.DayLayout, raw, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("want RFC 3339 or YYYY-MM-DD, got %q", raw)
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(time.RFC3339)
}

// formatJSON formats a map as indented JSON
func formatJSON(data map[string]interface{}) string {
	bytes, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", data)
	}
	return string(bytes)
}

// getBoolDefault extracts a boolean parameter with a default value
func getBoolDefault(args map[string]interface{}, key string, defaultValue bool) bool {
	if val, ok := args[key].(bool); ok {
		return val
	}
	return defaultValue
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

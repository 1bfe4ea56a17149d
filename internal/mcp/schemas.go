package mcp

import (
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/dshills/sessionindex/pkg/types"
)

func sourceNames() []string {
	all := types.AllSources()
	names := make([]string, len(all))
	for i, src := range all {
		names[i] = src.String()
	}
	return names
}

// refreshIndexTool returns the tool definition for refresh_index
func refreshIndexTool() mcp.Tool {
	return mcp.Tool{
		Name:        "refresh_index",
		Description: "Bring the session index up to date with the agent transcript logs on disk",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"full_rebuild": map[string]interface{}{
					"type":        "boolean",
					"description": "If true, purge each source and reindex every file instead of only changed ones",
					"default":     false,
				},
			},
		},
	}
}

// getStatusTool returns the tool definition for get_status
func getStatusTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_status",
		Description: "Report per-source index counts, tool-IO size and the progress of any running job",
		InputSchema: mcp.ToolInputSchema{
			Type:       "object",
			Properties: map[string]interface{}{},
		},
	}
}

// searchSessionsTool returns the tool definition for search_sessions
func searchSessionsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "search_sessions",
		Description: "Full-text search over past agent sessions, their conversation text and tool input/output",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search terms; every term must match",
				},
				"limit": map[string]interface{}{
					"type":        "integer",
					"description": "Maximum number of results to return (1-100)",
					"default":     10,
					"minimum":     1,
					"maximum":     100,
				},
				"search_mode": map[string]interface{}{
					"type":        "string",
					"description": "all (conversation + tool IO, fused), sessions (conversation only) or tool_io (tool input/output only)",
					"enum":        []string{"all", "sessions", "tool_io"},
					"default":     "all",
				},
				"sources": map[string]interface{}{
					"type":        "array",
					"description": "Restrict to these agent CLIs",
					"items": map[string]interface{}{
						"type": "string",
						"enum": sourceNames(),
					},
				},
				"since": map[string]interface{}{
					"type":        "string",
					"description": "Only sessions active on or after this RFC 3339 time or YYYY-MM-DD day",
				},
			},
			Required: []string{"query"},
		},
	}
}

// getRollupsTool returns the tool definition for get_rollups
func getRollupsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_rollups",
		Description: "Per-day, per-source session, message, command and duration totals",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"from": map[string]interface{}{
					"type":        "string",
					"description": "First day, YYYY-MM-DD (inclusive)",
				},
				"to": map[string]interface{}{
					"type":        "string",
					"description": "Last day, YYYY-MM-DD (inclusive)",
				},
				"sources": map[string]interface{}{
					"type":        "array",
					"description": "Restrict to these agent CLIs",
					"items": map[string]interface{}{
						"type": "string",
						"enum": sourceNames(),
					},
				},
			},
		},
	}
}

// getSessionTool returns the tool definition for get_session
func getSessionTool() mcp.Tool {
	return mcp.Tool{
		Name:        "get_session",
		Description: "Metadata and per-day statistics for one indexed session",
		InputSchema: mcp.ToolInputSchema{
			Type: "object",
			Properties: map[string]interface{}{
				"source": map[string]interface{}{
					"type":        "string",
					"description": "Agent CLI the session came from",
					"enum":        sourceNames(),
				},
				"session_id": map[string]interface{}{
					"type":        "string",
					"description": "Session identifier as returned by search_sessions",
				},
			},
			Required: []string{"source", "session_id"},
		},
	}
}

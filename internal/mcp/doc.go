// Package mcp implements the Model Context Protocol (MCP) server for sessionindex.
//
// The server exposes the session index to AI coding assistants over stdio:
//   - refresh_index: Bring the index up to date, or rebuild it from scratch
//   - get_status: Per-source counts and the progress of any running job
//   - search_sessions: Full-text search over conversation text and tool IO
//   - get_rollups: Per-day, per-source activity totals
//   - get_session: Metadata and daily statistics for one session
//
// # Protocol Overview
//
// MCP is a JSON-RPC 2.0 protocol over stdio transport:
//
//	Client → Server: {"method": "tools/call", "params": {...}}
//	Server → Client: {"result": {...}}
//
// Stdout carries protocol messages only. Logs go to stderr.
//
// # Basic Usage
//
// The server is started by the serve command, which also runs the indexer
// and the log watcher:
//
//	sessionindex serve
//
// # Tool: search_sessions
//
//	Request:
//	{
//	  "name": "search_sessions",
//	  "arguments": {
//	    "query": "flaky login test",
//	    "limit": 5,
//	    "search_mode": "all",
//	    "sources": ["claude"],
//	    "since": "2025-03-01"
//	  }
//	}
//
//	Response:
//	{
//	  "results": [
//	    {
//	      "rank": 1,
//	      "score": 0.0328,
//	      "source": "claude",
//	      "session_id": "cf568042-7147-4fba-a2ca-c6a646581260",
//	      "path": "/home/me/.claude/projects/-src-webapp/cf568042.jsonl",
//	      "title": "Fix flaky login test",
//	      "snippet": "the login test is [flaky]",
//	      "matched_in": ["sessions", "tool_io"],
//	      "reference_time": "2025-03-10T09:01:00Z"
//	    }
//	  ],
//	  "total_results": 1,
//	  "search_mode": "all",
//	  "duration_ms": 3,
//	  "cache_hit": false
//	}
//
// In "all" mode conversation text and tool IO are searched separately and
// merged with Reciprocal Rank Fusion, so score is an RRF score. The single
// index modes report BM25 (lower is better).
//
// # Tool: get_rollups
//
//	Request:
//	{"name": "get_rollups", "arguments": {"from": "2025-03-01", "to": "2025-03-07"}}
//
//	Response:
//	{
//	  "rollups": [
//	    {"day": "2025-03-03", "source": "codex", "sessions": 4, "messages": 61,
//	     "commands": 23, "duration_seconds": 9120}
//	  ],
//	  "totals": {"sessions": 4, "messages": 61, "commands": 23, "duration_seconds": 9120}
//	}
//
// # Error Handling
//
// Invalid arguments and internal failures are returned as MCPError with a
// JSON-RPC code:
//
//	-32602  Invalid params (bad limit, unknown source, malformed day)
//	-32603  Internal error
//	-32001  Session not found
//	-32002  Indexer shutting down
//	-32004  Empty query
//
// Files that fail to parse or commit do not fail refresh_index. They are
// counted in files_failed and the first few messages are returned in errors.
package mcp

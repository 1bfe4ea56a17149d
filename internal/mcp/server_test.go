package mcp

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sessionindex/internal/indexer"
	"github.com/dshills/sessionindex/internal/searcher"
	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/storage"
)

const sessionID = "cf568042-7147-4fba-a2ca-c6a646581260"

const claudeLog = `{"type":"summary","summary":"Fix flaky login test","leafUuid":"x"}
{"type":"user","timestamp":"2025-03-10T09:00:00.000Z","sessionId":"cf568042-7147-4fba-a2ca-c6a646581260","cwd":"/src/webapp","message":{"role":"user","content":"the login test is flaky"}}
{"type":"assistant","timestamp":"2025-03-10T09:00:05.000Z","sessionId":"cf568042-7147-4fba-a2ca-c6a646581260","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"Let me run it."},{"type":"tool_use","id":"t1","name":"Bash","input":{"command":"npm test"}}]}}
{"type":"assistant","timestamp":"2025-03-10T10:00:00.000Z","sessionId":"cf568042-7147-4fba-a2ca-c6a646581260","message":{"role":"assistant","model":"claude-sonnet-4","content":[{"type":"text","text":"Fixed the race."}]}}
`

func newTestServer(t *testing.T) *Server {
	t.Helper()

	claudeRoot := t.TempDir()
	path := filepath.Join(claudeRoot, "webapp", sessionID+".jsonl")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(claudeLog), 0o644))
	old := time.Now().Add(-time.Hour)
	require.NoError(t, os.Chtimes(path, old, old))

	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	srch := searcher.NewSearcher(store)
	cfg := indexer.DefaultConfig()
	cfg.Location = time.UTC
	idx := indexer.New(store, sources.DefaultRegistry(sources.Roots{Claude: claudeRoot, Codex: t.TempDir()}), cfg,
		indexer.WithRunHook(func(*indexer.Statistics) { srch.InvalidateCache() }),
	)
	idx.Start()
	t.Cleanup(idx.Close)

	return NewServer(store, idx, srch, zerolog.Nop())
}

func call(args map[string]interface{}) mcp.CallToolRequest {
	var req mcp.CallToolRequest
	req.Params.Arguments = args
	return req
}

func decode(t *testing.T, res *mcp.CallToolResult) map[string]interface{} {
	t.Helper()
	require.NotNil(t, res)
	require.Len(t, res.Content, 1)
	text, ok := res.Content[0].(mcp.TextContent)
	require.True(t, ok, "expected text content, got %T", res.Content[0])

	var out map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

func requireCode(t *testing.T, err error, code int) {
	t.Helper()
	var mcpErr *MCPError
	require.True(t, errors.As(err, &mcpErr), "expected MCPError, got %v", err)
	assert.Equal(t, code, mcpErr.Code)
}

func TestServer_RefreshIndex(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	res, err := s.handleRefreshIndex(ctx, call(nil))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "refresh", out["kind"])
	assert.EqualValues(t, 1, out["files_indexed"])
	assert.NotEmpty(t, out["run_id"])

	res, err = s.handleRefreshIndex(ctx, call(map[string]interface{}{}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.EqualValues(t, 0, out["files_indexed"])
	assert.EqualValues(t, 1, out["files_skipped"])

	res, err = s.handleRefreshIndex(ctx, call(map[string]interface{}{"full_rebuild": true}))
	require.NoError(t, err)
	out = decode(t, res)
	assert.Equal(t, "full_build", out["kind"])
	assert.EqualValues(t, 1, out["files_indexed"])
}

func TestServer_GetStatus(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRefreshIndex(ctx, call(nil))
	require.NoError(t, err)

	res, err := s.handleGetStatus(ctx, call(nil))
	require.NoError(t, err)
	out := decode(t, res)

	srcs, ok := out["sources"].([]interface{})
	require.True(t, ok)
	require.Len(t, srcs, 1)
	claude := srcs[0].(map[string]interface{})
	assert.Equal(t, "claude", claude["source"])
	assert.EqualValues(t, 1, claude["files"])
	assert.EqualValues(t, 1, claude["sessions"])
	assert.EqualValues(t, 1, claude["search_documents"])

	job := out["job"].(map[string]interface{})
	assert.Equal(t, false, job["running"])
	lastRun := job["last_run"].(map[string]interface{})
	assert.EqualValues(t, 1, lastRun["files_indexed"])
}

func TestServer_SearchSessions(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRefreshIndex(ctx, call(nil))
	require.NoError(t, err)

	res, err := s.handleSearchSessions(ctx, call(map[string]interface{}{
		"query":       "flaky login",
		"search_mode": "sessions",
		"sources":     []interface{}{"claude"},
		"since":       "2025-03-01",
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.EqualValues(t, 1, out["total_results"])
	results := out["results"].([]interface{})
	require.Len(t, results, 1)
	hit := results[0].(map[string]interface{})
	assert.Equal(t, sessionID, hit["session_id"])
	assert.Equal(t, "claude", hit["source"])
	assert.Equal(t, "Fix flaky login test", hit["title"])

	res, err = s.handleSearchSessions(ctx, call(map[string]interface{}{
		"query":   "flaky",
		"sources": []interface{}{"codex"},
	}))
	require.NoError(t, err)
	assert.EqualValues(t, 0, decode(t, res)["total_results"])
}

func TestServer_SearchSessions_InvalidParams(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	tests := []struct {
		name string
		args map[string]interface{}
		code int
	}{
		{"missing query", map[string]interface{}{}, ErrorCodeEmptyQuery},
		{"empty query", map[string]interface{}{"query": ""}, ErrorCodeEmptyQuery},
		{"limit too high", map[string]interface{}{"query": "x", "limit": float64(101)}, ErrorCodeInvalidParams},
		{"limit zero", map[string]interface{}{"query": "x", "limit": float64(0)}, ErrorCodeInvalidParams},
		{"bad mode", map[string]interface{}{"query": "x", "search_mode": "vector"}, ErrorCodeInvalidParams},
		{"unknown source", map[string]interface{}{"query": "x", "sources": []interface{}{"vim"}}, ErrorCodeInvalidParams},
		{"sources not array", map[string]interface{}{"query": "x", "sources": "claude"}, ErrorCodeInvalidParams},
		{"bad since", map[string]interface{}{"query": "x", "since": "last week"}, ErrorCodeInvalidParams},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := s.handleSearchSessions(ctx, call(tt.args))
			requireCode(t, err, tt.code)
		})
	}

	var req mcp.CallToolRequest
	req.Params.Arguments = "not an object"
	_, err := s.handleSearchSessions(ctx, req)
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestServer_GetRollups(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRefreshIndex(ctx, call(nil))
	require.NoError(t, err)

	res, err := s.handleGetRollups(ctx, call(map[string]interface{}{
		"from": "2025-03-01",
		"to":   "2025-03-31",
	}))
	require.NoError(t, err)
	out := decode(t, res)

	days := out["rollups"].([]interface{})
	require.Len(t, days, 1)
	day := days[0].(map[string]interface{})
	assert.Equal(t, "2025-03-10", day["day"])
	assert.Equal(t, "claude", day["source"])
	assert.EqualValues(t, 1, day["sessions"])
	assert.EqualValues(t, 3600, day["duration_seconds"])

	totals := out["totals"].(map[string]interface{})
	assert.EqualValues(t, 1, totals["sessions"])

	_, err = s.handleGetRollups(ctx, call(map[string]interface{}{"from": "2025-04-01", "to": "2025-03-01"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestServer_GetSession(t *testing.T) {
	s := newTestServer(t)
	ctx := context.Background()

	_, err := s.handleRefreshIndex(ctx, call(nil))
	require.NoError(t, err)

	res, err := s.handleGetSession(ctx, call(map[string]interface{}{
		"source":     "claude",
		"session_id": sessionID,
	}))
	require.NoError(t, err)
	out := decode(t, res)
	assert.Equal(t, "webapp", out["repo"])
	assert.Equal(t, "claude-sonnet-4", out["model"])
	assert.Len(t, out["days"], 1)

	_, err = s.handleGetSession(ctx, call(map[string]interface{}{"source": "claude", "session_id": "nope"}))
	requireCode(t, err, ErrorCodeSessionNotFound)

	_, err = s.handleGetSession(ctx, call(map[string]interface{}{"source": "vim", "session_id": sessionID}))
	requireCode(t, err, ErrorCodeInvalidParams)

	_, err = s.handleGetSession(ctx, call(map[string]interface{}{"source": "claude"}))
	requireCode(t, err, ErrorCodeInvalidParams)
}

func TestServer_RefreshAfterClose(t *testing.T) {
	s := newTestServer(t)
	s.indexer.Close()

	_, err := s.handleRefreshIndex(context.Background(), call(nil))
	requireCode(t, err, ErrorCodeIndexerClosed)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2025-03-10T09:00:00Z")
	require.NoError(t, err)
	assert.True(t, got.Equal(time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)))

	got, err = parseSince("2025-03-10")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 10, 0, 0, 0, 0, time.Local), got)

	_, err = parseSince("yesterday")
	assert.Error(t, err)
}

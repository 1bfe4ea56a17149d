package mcp

import (
	"context"
	"os"

	"github.com/mark3labs/mcp-go/server"
	"github.com/rs/zerolog"

	"github.com/dshills/sessionindex/internal/indexer"
	"github.com/dshills/sessionindex/internal/searcher"
	"github.com/dshills/sessionindex/internal/storage"
)

const (
	// ServerName is the MCP server name
	ServerName = "sessionindex"
	// ServerVersion is the current server version
	ServerVersion = "1.0.0"
)

// Server wraps the MCP server with application dependencies
type Server struct {
	mcp      *server.MCPServer
	storage  storage.Storage
	indexer  *indexer.Indexer
	searcher *searcher.Searcher
	log      zerolog.Logger
}

// NewServer creates an MCP server over an already running indexer. The
// caller owns store and idx and closes them after Serve returns.
func NewServer(store storage.Storage, idx *indexer.Indexer, srch *searcher.Searcher, log zerolog.Logger) *Server {
	s := &Server{
		mcp: server.NewMCPServer(
			ServerName,
			ServerVersion,
			server.WithToolCapabilities(false),
		),
		storage:  store,
		indexer:  idx,
		searcher: srch,
		log:      log,
	}
	s.registerTools()
	return s
}

// Serve answers MCP requests on stdio until ctx is cancelled or stdin closes
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcp)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// registerTools registers all MCP tools
func (s *Server) registerTools() {
	s.mcp.AddTool(refreshIndexTool(), s.handleRefreshIndex)
	s.mcp.AddTool(getStatusTool(), s.handleGetStatus)
	s.mcp.AddTool(searchSessionsTool(), s.handleSearchSessions)
	s.mcp.AddTool(getRollupsTool(), s.handleGetRollups)
	s.mcp.AddTool(getSessionTool(), s.handleGetSession)
}

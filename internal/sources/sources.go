// Package sources adapts agent CLI transcript logs into normalized sessions.
//
// Each supported source contributes an Adapter: a Discovery that lists its
// log files and a Parser that turns one file into a types.Session. The
// indexer only sees the Registry; it never inspects file formats.
package sources

import (
	"context"
	"fmt"

	"github.com/dshills/sessionindex/pkg/types"
)

// Discovery lists the log files a source currently has. The result is
// unordered and may be empty.
type Discovery interface {
	Discover(ctx context.Context) ([]string, error)
}

// Parser turns one log file into a session. A nil session with a nil error
// means the file is not a real session. Implementations must be safe for
// concurrent use on distinct files.
type Parser interface {
	Parse(ctx context.Context, path string) (*types.Session, error)
}

// DiscoveryFunc adapts a function to Discovery
type DiscoveryFunc func(ctx context.Context) ([]string, error)

func (f DiscoveryFunc) Discover(ctx context.Context) ([]string, error) { return f(ctx) }

// ParserFunc adapts a function to Parser
type ParserFunc func(ctx context.Context, path string) (*types.Session, error)

func (f ParserFunc) Parse(ctx context.Context, path string) (*types.Session, error) {
	return f(ctx, path)
}

// Adapter binds a source to its discovery and parser
type Adapter struct {
	Source    types.Source
	Discovery Discovery
	Parser    Parser

	// AppendOnly marks sources whose files grow while the agent is running.
	// Only these are subject to the hot-file throttle.
	AppendOnly bool
}

// Registry maps each source to its adapter
type Registry map[types.Source]Adapter

// NewRegistry builds a registry, later adapters replacing earlier ones for the same source
func NewRegistry(adapters ...Adapter) Registry {
	r := make(Registry, len(adapters))
	for _, a := range adapters {
		r[a.Source] = a
	}
	return r
}

// Lookup returns the adapter for src
func (r Registry) Lookup(src types.Source) (Adapter, error) {
	a, ok := r[src]
	if !ok {
		return Adapter{}, fmt.Errorf("%w: %s", types.ErrNoAdapter, src)
	}
	return a, nil
}

// Roots configures where the built-in adapters look for logs
type Roots struct {
	Claude string // Default ~/.claude/projects
	Codex  string // Default ~/.codex/sessions
}

// DefaultRegistry returns the built-in Claude and Codex adapters
func DefaultRegistry(roots Roots) Registry {
	return NewRegistry(
		Adapter{
			Source:     types.SourceClaude,
			Discovery:  NewClaudeDiscovery(roots.Claude),
			Parser:     ParserFunc(ParseClaude),
			AppendOnly: true,
		},
		Adapter{
			Source:     types.SourceCodex,
			Discovery:  NewCodexDiscovery(roots.Codex),
			Parser:     ParserFunc(ParseCodex),
			AppendOnly: true,
		},
	)
}

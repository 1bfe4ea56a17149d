package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sessionindex/internal/logging"
	"github.com/dshills/sessionindex/internal/mcp"
	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/watcher"
	"github.com/dshills/sessionindex/pkg/types"
)

func serveCMD(opts *rootOptions) *cobra.Command {
	var noWatch bool
	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the MCP server on stdio, keeping the index fresh in the background",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			sigCtx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithCancel(sigCtx)
			defer cancel()

			g, ctx := errgroup.WithContext(ctx)

			if addr := a.cfg.Metrics.Addr; addr != "" {
				g.Go(func() error { return a.metrics.Serve(ctx, addr) })
				a.log.Info().Str("addr", addr).Msg("serving metrics")
			}

			if a.cfg.Watch.Enabled && !noWatch {
				srcs, _ := a.cfg.EnabledSources()
				w, err := watcher.New(a.indexer, watcher.Config{
					Roots:       watchRoots(a.roots, srcs),
					MinInterval: a.cfg.Watch.MinInterval,
				}, logging.Component(a.log, "watcher"))
				if err != nil {
					return err
				}
				g.Go(func() error { return w.Run(ctx) })
			}

			// Catch up on anything written while the server was down
			a.indexer.RequestRefresh()

			server := mcp.NewServer(a.store, a.indexer, a.searcher, logging.Component(a.log, "mcp"))
			g.Go(func() error {
				// Stdin closing ends the session
				defer cancel()
				err := server.Serve(ctx)
				if errors.Is(err, context.Canceled) {
					return nil
				}
				return err
			})

			a.log.Info().Str("db", a.cfg.DBPath).Msg("MCP server ready, listening on stdio")
			err = g.Wait()
			a.log.Info().Msg("server stopped")
			return err
		},
	}
	serve.Flags().BoolVar(&noWatch, "no-watch", false, "do not watch log directories for changes")
	return serve
}

// watchRoots maps the enabled sources to the directories their logs live in
func watchRoots(roots sources.Roots, srcs []types.Source) []watcher.Root {
	var out []watcher.Root
	for _, src := range srcs {
		switch src {
		case types.SourceClaude:
			out = append(out, watcher.Root{Path: roots.Claude, MaxDepth: sources.ClaudeMaxDepth})
		case types.SourceCodex:
			out = append(out, watcher.Root{Path: roots.Codex, MaxDepth: sources.CodexMaxDepth})
		}
	}
	return out
}

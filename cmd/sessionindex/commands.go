package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/dshills/sessionindex/internal/indexer"
	"github.com/dshills/sessionindex/internal/searcher"
	"github.com/dshills/sessionindex/pkg/types"
)

func refreshCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Index new and changed session logs and drop removed ones",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, (*indexer.Indexer).Refresh)
		},
	}
}

func rebuildCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "rebuild",
		Short: "Purge the index and rebuild it from every session log",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIndex(cmd, opts, (*indexer.Indexer).FullBuild)
		},
	}
}

func runIndex(cmd *cobra.Command, opts *rootOptions, run func(*indexer.Indexer, context.Context) (*indexer.Statistics, error)) error {
	a, err := newApp(opts)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := run(a.indexer, cmd.Context())
	if err != nil {
		return err
	}
	printStatistics(cmd.OutOrStdout(), stats)
	return nil
}

func printStatistics(out io.Writer, stats *indexer.Statistics) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "run\t%s (%s)\n", stats.RunID, stats.Kind)
	fmt.Fprintf(w, "discovered\t%d\n", stats.FilesDiscovered)
	fmt.Fprintf(w, "indexed\t%d\n", stats.FilesIndexed)
	fmt.Fprintf(w, "skipped\t%d\n", stats.FilesSkipped)
	fmt.Fprintf(w, "removed\t%d\n", stats.FilesRemoved)
	fmt.Fprintf(w, "failed\t%d\n", stats.FilesFailed)
	fmt.Fprintf(w, "not sessions\t%d\n", stats.NotSessions)
	fmt.Fprintf(w, "tool-IO pruned\t%d\n", stats.ToolIOPruned)
	fmt.Fprintf(w, "duration\t%s\n", stats.Duration.Round(time.Millisecond))
	_ = w.Flush()

	for _, msg := range stats.ErrorMessages {
		fmt.Fprintf(out, "error: %s\n", msg)
	}
}

func statusCMD(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show per-source index counts",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			status, err := a.store.GetStatus(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "database: %s (schema %s, %.2f MB)\n", a.cfg.DBPath, status.SchemaVersion, status.IndexSizeMB)
			fmt.Fprintf(out, "tool-IO:  %s\n\n", humanize.IBytes(uint64(status.ToolIOBytes)))

			w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SOURCE\tFILES\tSESSIONS\tSEARCH DOCS\tTOOL-IO DOCS\tLAST INDEXED")
			for _, src := range status.Sources {
				last := "never"
				if !src.LastIndexedAt.IsZero() {
					last = humanize.Time(src.LastIndexedAt)
				}
				fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\t%s\n",
					src.Source, src.Files, src.Sessions, src.SearchDocuments, src.ToolIODocuments, last)
			}
			return w.Flush()
		},
	}
}

func searchCMD(opts *rootOptions) *cobra.Command {
	var (
		limit   int
		mode    string
		srcs    []string
		since   string
		refresh bool
	)
	search := &cobra.Command{
		Use:   "search <query>",
		Short: "Full-text search over indexed sessions",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := types.ParseSources(srcs)
			if err != nil {
				return err
			}
			var sinceTime time.Time
			if since != "" {
				if sinceTime, err = time.ParseInLocation(types.DayLayout, since, time.Local); err != nil {
					return fmt.Errorf("--since: want YYYY-MM-DD: %w", err)
				}
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			if refresh {
				if _, err := a.indexer.Refresh(cmd.Context()); err != nil {
					return err
				}
			}

			resp, err := a.searcher.Search(cmd.Context(), searcher.SearchRequest{
				Query:   strings.Join(args, " "),
				Limit:   limit,
				Mode:    searcher.SearchMode(mode),
				Sources: parsed,
				Since:   sinceTime,
			})
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			for _, r := range resp.Results {
				when := "unknown"
				if !r.Reference.IsZero() {
					when = humanize.Time(r.Reference)
				}
				fmt.Fprintf(out, "%2d. [%s] %s (%s)\n    %s\n", r.Rank, r.Source, r.Title, when, r.Path)
				if r.Snippet != "" {
					fmt.Fprintf(out, "    %s\n", r.Snippet)
				}
			}
			fmt.Fprintf(out, "%d results in %s\n", resp.TotalResults, resp.Duration.Round(time.Microsecond))
			return nil
		},
	}
	search.Flags().IntVarP(&limit, "limit", "n", 10, "maximum results (1-100)")
	search.Flags().StringVar(&mode, "mode", string(searcher.SearchModeAll), "all, sessions or tool_io")
	search.Flags().StringSliceVar(&srcs, "source", nil, "restrict to these sources (repeatable)")
	search.Flags().StringVar(&since, "since", "", "only sessions active on or after this day (YYYY-MM-DD)")
	search.Flags().BoolVar(&refresh, "refresh", false, "refresh the index before searching")
	return search
}

func rollupsCMD(opts *rootOptions) *cobra.Command {
	var (
		from string
		to   string
		srcs []string
		days int
	)
	rollups := &cobra.Command{
		Use:   "rollups",
		Short: "Show per-day session, message, command and duration totals",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			parsed, err := types.ParseSources(srcs)
			if err != nil {
				return err
			}
			if from == "" && days > 0 {
				from = time.Now().AddDate(0, 0, -(days - 1)).Format(types.DayLayout)
			}

			a, err := newApp(opts)
			if err != nil {
				return err
			}
			defer a.Close()

			resp, err := a.searcher.Rollups(cmd.Context(), searcher.RollupRequest{Sources: parsed, From: from, To: to})
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', tabwriter.AlignRight)
			fmt.Fprintln(w, "DAY\tSOURCE\tSESSIONS\tMESSAGES\tCOMMANDS\tDURATION\t")
			for _, r := range resp.Rollups {
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%d\t%s\t\n",
					r.Day, r.Source, r.Sessions, r.Messages, r.Commands, seconds(r.DurationSeconds))
			}
			t := resp.Totals
			fmt.Fprintf(w, "total\t\t%d\t%d\t%d\t%s\t\n", t.Sessions, t.Messages, t.Commands, seconds(t.DurationSeconds))
			return w.Flush()
		},
	}
	rollups.Flags().StringVar(&from, "from", "", "first day, YYYY-MM-DD (inclusive)")
	rollups.Flags().StringVar(&to, "to", "", "last day, YYYY-MM-DD (inclusive)")
	rollups.Flags().StringSliceVar(&srcs, "source", nil, "restrict to these sources (repeatable)")
	rollups.Flags().IntVar(&days, "days", 7, "days back from today when --from is not set (0 for all)")
	return rollups
}

func seconds(n int64) string {
	return (time.Duration(n) * time.Second).String()
}

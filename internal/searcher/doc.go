// Package searcher answers queries against the session index.
//
// Two full-text indexes are kept: conversation text for every session and
// tool input/output for recent ones. The searcher queries either or both:
//
//   - All: both indexes merged with Reciprocal Rank Fusion (default)
//   - Sessions: conversation text only
//   - ToolIO: tool-call inputs and outputs only
//
// # Basic Usage
//
//	s := searcher.NewSearcher(store)
//
//	resp, err := s.Search(ctx, searcher.SearchRequest{
//	    Query:   "flaky integration test",
//	    Limit:   10,
//	    Sources: []types.Source{types.SourceClaude},
//	})
//
//	for _, r := range resp.Results {
//	    fmt.Printf("[%d] %s %s (%s)\n", r.Rank, r.Source, r.Title, r.Path)
//	}
//
// # Reciprocal Rank Fusion
//
// In All mode each index returns up to twice the limit, and every session
// scores Σ 1/(k + rank) over the lists it appears in (k defaults to 60). A
// session whose conversation and tool output both match outranks one that
// matches in only one place. Ties go to the more recent session.
//
// Query text is reduced to plain terms that must all match; FTS5 operators
// and punctuation are ignored.
//
// # Caching
//
// With UseCache set, responses are kept in an LRU of 1000 entries for
// CacheTTL (default 1h). The indexer calls InvalidateCache after every run so
// cached answers never outlive the data they were computed from.
//
// # Rollups
//
// Rollups returns the per-day, per-source aggregates for a day range along
// with their totals:
//
//	resp, _ := s.Rollups(ctx, searcher.RollupRequest{From: "2025-03-01", To: "2025-03-31"})
//	fmt.Printf("%d sessions, %d messages\n", resp.Totals.Sessions, resp.Totals.Messages)
package searcher

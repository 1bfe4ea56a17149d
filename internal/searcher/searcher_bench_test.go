package searcher

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// setupBenchSearcher stores n sessions with varied text
func setupBenchSearcher(b *testing.B, n int) *Searcher {
	b.Helper()

	store, err := storage.NewSQLiteStorage(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { _ = store.Close() })

	ctx := context.Background()
	words := []string{"parser", "migration", "release", "benchmark", "refactor", "auth", "cache", "index"}
	for i := 0; i < n; i++ {
		id := fmt.Sprintf("s%05d", i)
		ref := refTime.Add(-time.Duration(i) * time.Minute)
		text := fmt.Sprintf("%s %s session %d", words[i%len(words)], words[(i/3)%len(words)], i)
		if err := store.UpsertSessionMeta(ctx, &storage.SessionMeta{
			Source: types.SourceClaude, SessionID: id, Path: "/logs/" + id, ReferenceTime: ref,
		}); err != nil {
			b.Fatal(err)
		}
		if err := store.UpsertSearchDocument(ctx, &storage.SearchDocument{
			Source: types.SourceClaude, SessionID: id, Text: text, FormatVersion: 1,
		}); err != nil {
			b.Fatal(err)
		}
		if err := store.UpsertToolIODocument(ctx, &storage.ToolIODocument{
			Source: types.SourceClaude, SessionID: id, ReferenceTime: ref, Text: "bash: go test ./" + words[i%len(words)], FormatVersion: 1,
		}); err != nil {
			b.Fatal(err)
		}
	}
	return NewSearcher(store)
}

// BenchmarkSearchModes benchmarks each search mode
func BenchmarkSearchModes(b *testing.B) {
	search := setupBenchSearcher(b, 2000)
	ctx := context.Background()

	for _, mode := range []SearchMode{SearchModeSessions, SearchModeToolIO, SearchModeAll} {
		b.Run(string(mode), func(b *testing.B) {
			req := SearchRequest{Query: "parser refactor", Mode: mode, Limit: 10}
			b.ReportAllocs()
			for i := 0; i < b.N; i++ {
				if _, err := search.Search(ctx, req); err != nil {
					b.Fatal(err)
				}
			}
		})
	}
}

// BenchmarkSearchCached benchmarks cache hits
func BenchmarkSearchCached(b *testing.B) {
	search := setupBenchSearcher(b, 2000)
	ctx := context.Background()
	req := SearchRequest{Query: "parser", Limit: 10, UseCache: true}
	if _, err := search.Search(ctx, req); err != nil {
		b.Fatal(err)
	}

	b.ResetTimer()
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		if _, err := search.Search(ctx, req); err != nil {
			b.Fatal(err)
		}
	}
}

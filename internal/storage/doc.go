// Package storage provides SQLite-based persistence for the session index.
//
// The storage layer manages:
//   - File state (path, mtime, size) used for change detection
//   - Session metadata, one row per (source, session id)
//   - Search documents and tool input/output documents with FTS5 indexes
//   - Per-session day rows and the per-day, per-source rollups built from them
//
// # Database Schema
//
// Tables:
//   - indexed_files: last indexed (mtime, size) per (source, path)
//   - session_meta: session scalars and reference time
//   - session_search, session_search_fts: full-text search blob
//   - session_tool_io, session_tool_io_fts: recency and byte bounded tool text
//   - rollup_rows: one row per (source, session, day)
//   - rollups: aggregates per (day, source), recomputed from rollup_rows
//   - schema_version: applied migrations
//
// All timestamps are stored as Unix nanoseconds.
//
// # Transactions
//
// Every write for one session goes through a single transaction:
//
//	tx, err := db.BeginTx(ctx)
//	if err != nil {
//	    return err
//	}
//	defer func() { _ = tx.Rollback() }()
//
//	_ = tx.UpsertSessionMeta(ctx, meta)
//	_ = tx.UpsertSearchDocument(ctx, doc)
//	days, _ := tx.ReplaceDayRows(ctx, src, id, rows)
//	for _, d := range days {
//	    _ = tx.RecomputeRollup(ctx, d, src)
//	}
//	_ = tx.UpsertFile(ctx, file)
//
//	return tx.Commit()
//
// The pool holds one connection, so while a transaction is open all calls
// must go through it.
//
// # Build Tags
//
// Pure Go build (default):
//
//   - Uses modernc.org/sqlite
//
//     CGO_ENABLED=0 go build ./...
//
// CGO build (cgo_sqlite tag):
//
//   - Uses github.com/mattn/go-sqlite3, which needs sqlite_fts5 for FTS5
//
//     CGO_ENABLED=1 go build -tags "cgo_sqlite,sqlite_fts5" ./...
package storage

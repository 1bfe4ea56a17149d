package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/dshills/sessionindex/pkg/types"
)

var (
	// ErrNotFound is returned when a requested entity doesn't exist
	ErrNotFound = errors.New("not found")
	// ErrNestedTx is returned when BeginTx is called on a transaction
	ErrNestedTx = errors.New("nested transactions not supported")
)

// SQLiteStorage implements the Storage interface using SQLite
type SQLiteStorage struct {
	db  *sql.DB
	now func() time.Time
}

// openDatabase opens a SQLite database with appropriate settings
func openDatabase(dbPath string) (*sql.DB, error) {
	db, err := sql.Open(DriverName, dbPath)
	if err != nil {
		return nil, err
	}

	// Enable WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}

	// One connection: a single writer, and ":memory:" databases stay shared
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	return db, nil
}

// NewSQLiteStorage creates a new SQLite storage instance
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	db, err := openDatabase(dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Apply migrations
	if err := ApplyMigrations(context.Background(), db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to apply migrations: %w", err)
	}

	return &SQLiteStorage{db: db, now: time.Now}, nil
}

// Close closes the database connection
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// BeginTx starts a new transaction. While a transaction is open every call
// must go through it: the pool holds a single connection.
func (s *SQLiteStorage) BeginTx(ctx context.Context) (Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	return &sqliteTx{tx: tx, storage: s}, nil
}

// querier is an interface that both *sql.DB and *sql.Tx implement
type querier interface {
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row
}

// sqliteTx wraps a SQL transaction
type sqliteTx struct {
	tx      *sql.Tx
	storage *SQLiteStorage
}

func (t *sqliteTx) Commit() error {
	return t.tx.Commit()
}

func (t *sqliteTx) Rollback() error {
	return t.tx.Rollback()
}

// querier returns the transaction querier
func (t *sqliteTx) querier() querier {
	return t.tx
}

// querier returns the DB querier
func (s *SQLiteStorage) querier() querier {
	return s.db
}

// Time columns hold Unix nanoseconds so (mtime, size) comparisons are exact.
// Zero is the zero time.

func toNanos(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNanos(ns int64) time.Time {
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func nullNanos(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixNano(), Valid: true}
}

func fromNullNanos(n sql.NullInt64) time.Time {
	if !n.Valid {
		return time.Time{}
	}
	return fromNanos(n.Int64)
}

func scanSource(name string) (types.Source, error) {
	src, err := types.ParseSource(name)
	if err != nil {
		return 0, fmt.Errorf("corrupt source column: %w", err)
	}
	return src, nil
}

// placeholders returns "?,?,?" for n arguments
func placeholders(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, 0, 2*n-1)
	for i := 0; i < n; i++ {
		if i > 0 {
			b = append(b, ',')
		}
		b = append(b, '?')
	}
	return string(b)
}

func sortedDays(set map[string]struct{}) []string {
	days := make([]string, 0, len(set))
	for d := range set {
		days = append(days, d)
	}
	sort.Strings(days)
	return days
}

// File state operations

// upsertFileWithQuerier is the internal implementation that uses a querier
func (s *SQLiteStorage) upsertFileWithQuerier(ctx context.Context, q querier, file *FileRecord) error {
	query := `
		INSERT INTO indexed_files (source, path, session_id, mtime_ns, size_bytes, indexed_at_ns)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, path) DO UPDATE SET
			session_id = excluded.session_id,
			mtime_ns = excluded.mtime_ns,
			size_bytes = excluded.size_bytes,
			indexed_at_ns = excluded.indexed_at_ns
	`
	if file.IndexedAt.IsZero() {
		file.IndexedAt = s.now()
	}
	_, err := q.ExecContext(ctx, query,
		file.Source.String(), file.Path, file.SessionID, toNanos(file.ModTime), file.Size, toNanos(file.IndexedAt))
	if err != nil {
		return fmt.Errorf("failed to upsert file: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertFile(ctx context.Context, file *FileRecord) error {
	return s.upsertFileWithQuerier(ctx, s.querier(), file)
}

func (s *SQLiteStorage) fetchFileRecordsWithQuerier(ctx context.Context, q querier, source types.Source) (map[string]*FileRecord, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT f.path, f.session_id, f.mtime_ns, f.size_bytes, f.indexed_at_ns, m.reference_ns
		FROM indexed_files f
		LEFT JOIN session_meta m ON m.source = f.source AND m.session_id = f.session_id
		WHERE f.source = ?
	`, source.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch file records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	records := make(map[string]*FileRecord)
	for rows.Next() {
		rec := &FileRecord{Source: source}
		var mtime, indexedAt int64
		var reference sql.NullInt64
		if err := rows.Scan(&rec.Path, &rec.SessionID, &mtime, &rec.Size, &indexedAt, &reference); err != nil {
			return nil, err
		}
		rec.ModTime = fromNanos(mtime)
		rec.IndexedAt = fromNanos(indexedAt)
		rec.ReferenceTime = fromNullNanos(reference)
		records[rec.Path] = rec
	}
	return records, rows.Err()
}

func (s *SQLiteStorage) FetchFileRecords(ctx context.Context, source types.Source) (map[string]*FileRecord, error) {
	return s.fetchFileRecordsWithQuerier(ctx, s.querier(), source)
}

// Session metadata operations

func (s *SQLiteStorage) upsertSessionMetaWithQuerier(ctx context.Context, q querier, meta *SessionMeta) error {
	query := `
		INSERT INTO session_meta (source, session_id, path, mtime_ns, size_bytes, start_ns, end_ns,
			reference_ns, model, cwd, repo, title, message_count, command_count, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, session_id) DO UPDATE SET
			path = excluded.path,
			mtime_ns = excluded.mtime_ns,
			size_bytes = excluded.size_bytes,
			start_ns = excluded.start_ns,
			end_ns = excluded.end_ns,
			reference_ns = excluded.reference_ns,
			model = excluded.model,
			cwd = excluded.cwd,
			repo = excluded.repo,
			title = excluded.title,
			message_count = excluded.message_count,
			command_count = excluded.command_count,
			updated_at_ns = excluded.updated_at_ns
	`
	now := s.now()
	_, err := q.ExecContext(ctx, query,
		meta.Source.String(), meta.SessionID, meta.Path, toNanos(meta.ModTime), meta.Size,
		nullNanos(meta.StartTime), nullNanos(meta.EndTime), toNanos(meta.ReferenceTime),
		meta.Model, meta.CWD, meta.RepoName, meta.Title,
		meta.MessageCount, meta.CommandCount, toNanos(now))
	if err != nil {
		return fmt.Errorf("failed to upsert session meta: %w", err)
	}
	meta.UpdatedAt = now
	return nil
}

func (s *SQLiteStorage) UpsertSessionMeta(ctx context.Context, meta *SessionMeta) error {
	return s.upsertSessionMetaWithQuerier(ctx, s.querier(), meta)
}

func (s *SQLiteStorage) getSessionMetaWithQuerier(ctx context.Context, q querier, source types.Source, sessionID string) (*SessionMeta, error) {
	query := `
		SELECT path, mtime_ns, size_bytes, start_ns, end_ns, reference_ns,
		       COALESCE(model, ''), COALESCE(cwd, ''), COALESCE(repo, ''), COALESCE(title, ''),
		       message_count, command_count, updated_at_ns
		FROM session_meta
		WHERE source = ? AND session_id = ?
	`
	meta := SessionMeta{Source: source, SessionID: sessionID}
	var mtime, reference, updatedAt int64
	var start, end sql.NullInt64
	err := q.QueryRowContext(ctx, query, source.String(), sessionID).Scan(
		&meta.Path, &mtime, &meta.Size, &start, &end, &reference,
		&meta.Model, &meta.CWD, &meta.RepoName, &meta.Title,
		&meta.MessageCount, &meta.CommandCount, &updatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	meta.ModTime = fromNanos(mtime)
	meta.StartTime = fromNullNanos(start)
	meta.EndTime = fromNullNanos(end)
	meta.ReferenceTime = fromNanos(reference)
	meta.UpdatedAt = fromNanos(updatedAt)
	return &meta, nil
}

func (s *SQLiteStorage) GetSessionMeta(ctx context.Context, source types.Source, sessionID string) (*SessionMeta, error) {
	return s.getSessionMetaWithQuerier(ctx, s.querier(), source, sessionID)
}

// fetchKnownMetaPathsWithQuerier maps each path to the newest reference time of
// the sessions it backs
func (s *SQLiteStorage) fetchKnownMetaPathsWithQuerier(ctx context.Context, q querier, source types.Source) (map[string]time.Time, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT path, MAX(reference_ns) FROM session_meta WHERE source = ? GROUP BY path",
		source.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch session paths: %w", err)
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]time.Time)
	for rows.Next() {
		var path string
		var reference int64
		if err := rows.Scan(&path, &reference); err != nil {
			return nil, err
		}
		paths[path] = fromNanos(reference)
	}
	return paths, rows.Err()
}

func (s *SQLiteStorage) FetchKnownMetaPaths(ctx context.Context, source types.Source) (map[string]time.Time, error) {
	return s.fetchKnownMetaPathsWithQuerier(ctx, s.querier(), source)
}

// sessionIDsForPath lists the sessions currently backed by path
func sessionIDsForPath(ctx context.Context, q querier, source types.Source, path string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT session_id FROM session_meta WHERE source = ? AND path = ?",
		source.String(), path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// deleteSessionWithQuerier removes every row belonging to one session and
// adds the days its rollup rows covered to days
func deleteSessionWithQuerier(ctx context.Context, q querier, source types.Source, sessionID string, days map[string]struct{}) error {
	prior, err := dayRowDays(ctx, q, source, sessionID)
	if err != nil {
		return err
	}
	for _, d := range prior {
		days[d] = struct{}{}
	}

	stmts := []string{
		"DELETE FROM rollup_rows WHERE source = ? AND session_id = ?",
		"DELETE FROM session_search WHERE source = ? AND session_id = ?",
		"DELETE FROM session_tool_io WHERE source = ? AND session_id = ?",
		"DELETE FROM session_meta WHERE source = ? AND session_id = ?",
	}
	for _, stmt := range stmts {
		if _, err := q.ExecContext(ctx, stmt, source.String(), sessionID); err != nil {
			return fmt.Errorf("failed to delete session %s: %w", sessionID, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) evictPathOwnersWithQuerier(ctx context.Context, q querier, source types.Source, path, keepSessionID string) ([]string, error) {
	ids, err := sessionIDsForPath(ctx, q, source, path)
	if err != nil {
		return nil, fmt.Errorf("failed to look up sessions for %s: %w", path, err)
	}

	days := make(map[string]struct{})
	for _, id := range ids {
		if id == keepSessionID {
			continue
		}
		if err := deleteSessionWithQuerier(ctx, q, source, id, days); err != nil {
			return nil, err
		}
	}
	return sortedDays(days), nil
}

func (s *SQLiteStorage) EvictPathOwners(ctx context.Context, source types.Source, path, keepSessionID string) ([]string, error) {
	return s.evictPathOwnersWithQuerier(ctx, s.querier(), source, path, keepSessionID)
}

// Document operations

func (s *SQLiteStorage) upsertSearchDocumentWithQuerier(ctx context.Context, q querier, doc *SearchDocument) error {
	query := `
		INSERT INTO session_search (source, session_id, mtime_ns, size_bytes, format_version, text)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, session_id) DO UPDATE SET
			mtime_ns = excluded.mtime_ns,
			size_bytes = excluded.size_bytes,
			format_version = excluded.format_version,
			text = excluded.text
	`
	_, err := q.ExecContext(ctx, query,
		doc.Source.String(), doc.SessionID, toNanos(doc.ModTime), doc.Size, doc.FormatVersion, doc.Text)
	if err != nil {
		return fmt.Errorf("failed to upsert search document: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertSearchDocument(ctx context.Context, doc *SearchDocument) error {
	return s.upsertSearchDocumentWithQuerier(ctx, s.querier(), doc)
}

func (s *SQLiteStorage) upsertToolIODocumentWithQuerier(ctx context.Context, q querier, doc *ToolIODocument) error {
	query := `
		INSERT INTO session_tool_io (source, session_id, mtime_ns, size_bytes, reference_ns, format_version, text_bytes, text)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(source, session_id) DO UPDATE SET
			mtime_ns = excluded.mtime_ns,
			size_bytes = excluded.size_bytes,
			reference_ns = excluded.reference_ns,
			format_version = excluded.format_version,
			text_bytes = excluded.text_bytes,
			text = excluded.text
	`
	_, err := q.ExecContext(ctx, query,
		doc.Source.String(), doc.SessionID, toNanos(doc.ModTime), doc.Size,
		toNanos(doc.ReferenceTime), doc.FormatVersion, len(doc.Text), doc.Text)
	if err != nil {
		return fmt.Errorf("failed to upsert tool-io document: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) UpsertToolIODocument(ctx context.Context, doc *ToolIODocument) error {
	return s.upsertToolIODocumentWithQuerier(ctx, s.querier(), doc)
}

func (s *SQLiteStorage) deleteToolIODocumentWithQuerier(ctx context.Context, q querier, source types.Source, sessionID string) error {
	_, err := q.ExecContext(ctx,
		"DELETE FROM session_tool_io WHERE source = ? AND session_id = ?",
		source.String(), sessionID)
	if err != nil {
		return fmt.Errorf("failed to delete tool-io document: %w", err)
	}
	return nil
}

func (s *SQLiteStorage) DeleteToolIODocument(ctx context.Context, source types.Source, sessionID string) error {
	return s.deleteToolIODocumentWithQuerier(ctx, s.querier(), source, sessionID)
}

// readyPathsWithQuerier returns the indexed files whose session has a
// document in table at exactly formatVersion. Every file that produced the
// session counts, not only the one its metadata points at.
func readyPathsWithQuerier(ctx context.Context, q querier, table string, source types.Source, formatVersion int) (map[string]struct{}, error) {
	query := fmt.Sprintf(`
		SELECT f.path
		FROM indexed_files f
		INNER JOIN %s d ON d.source = f.source AND d.session_id = f.session_id
		WHERE f.source = ? AND d.format_version = ?
	`, table)
	rows, err := q.QueryContext(ctx, query, source.String(), formatVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch ready paths from %s: %w", table, err)
	}
	defer func() { _ = rows.Close() }()

	paths := make(map[string]struct{})
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths[path] = struct{}{}
	}
	return paths, rows.Err()
}

func (s *SQLiteStorage) FetchSearchReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error) {
	return readyPathsWithQuerier(ctx, s.querier(), "session_search", source, formatVersion)
}

func (s *SQLiteStorage) FetchToolIOReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error) {
	return readyPathsWithQuerier(ctx, s.querier(), "session_tool_io", source, formatVersion)
}

// Removal operations

func (s *SQLiteStorage) deleteSessionsForPathsWithQuerier(ctx context.Context, q querier, source types.Source, paths []string) ([]string, error) {
	days := make(map[string]struct{})
	for _, path := range paths {
		ids, err := sessionIDsForPath(ctx, q, source, path)
		if err != nil {
			return nil, fmt.Errorf("failed to look up sessions for %s: %w", path, err)
		}
		for _, id := range ids {
			if err := deleteSessionWithQuerier(ctx, q, source, id, days); err != nil {
				return nil, err
			}
		}
		if _, err := q.ExecContext(ctx,
			"DELETE FROM indexed_files WHERE source = ? AND path = ?",
			source.String(), path); err != nil {
			return nil, fmt.Errorf("failed to delete file record %s: %w", path, err)
		}
	}
	return sortedDays(days), nil
}

func (s *SQLiteStorage) DeleteSessionsForPaths(ctx context.Context, source types.Source, paths []string) ([]string, error) {
	return s.deleteSessionsForPathsWithQuerier(ctx, s.querier(), source, paths)
}

func (s *SQLiteStorage) purgeSourceWithQuerier(ctx context.Context, q querier, source types.Source) error {
	tables := []string{
		"rollup_rows", "rollups", "session_search", "session_tool_io", "session_meta", "indexed_files",
	}
	for _, table := range tables {
		if _, err := q.ExecContext(ctx, "DELETE FROM "+table+" WHERE source = ?", source.String()); err != nil {
			return fmt.Errorf("failed to purge %s for %s: %w", table, source, err)
		}
	}
	return nil
}

func (s *SQLiteStorage) PurgeSource(ctx context.Context, source types.Source) error {
	return s.purgeSourceWithQuerier(ctx, s.querier(), source)
}

// Status operations

func (s *SQLiteStorage) getStatusWithQuerier(ctx context.Context, q querier) (*IndexStatus, error) {
	bySource := make(map[types.Source]*SourceStatus)
	entry := func(name string) (*SourceStatus, error) {
		src, err := scanSource(name)
		if err != nil {
			return nil, err
		}
		st, ok := bySource[src]
		if !ok {
			st = &SourceStatus{Source: src}
			bySource[src] = st
		}
		return st, nil
	}

	counts := []struct {
		query string
		apply func(st *SourceStatus, n int64)
	}{
		{"SELECT source, COUNT(*), COALESCE(MAX(indexed_at_ns), 0) FROM indexed_files GROUP BY source", nil},
		{"SELECT source, COUNT(*), 0 FROM session_meta GROUP BY source", func(st *SourceStatus, n int64) { st.Sessions = int(n) }},
		{"SELECT source, COUNT(*), 0 FROM session_search GROUP BY source", func(st *SourceStatus, n int64) { st.SearchDocuments = int(n) }},
		{"SELECT source, COUNT(*), 0 FROM session_tool_io GROUP BY source", func(st *SourceStatus, n int64) { st.ToolIODocuments = int(n) }},
	}
	for _, c := range counts {
		rows, err := q.QueryContext(ctx, c.query)
		if err != nil {
			return nil, fmt.Errorf("failed to count index rows: %w", err)
		}
		for rows.Next() {
			var name string
			var n, latest int64
			if err := rows.Scan(&name, &n, &latest); err != nil {
				_ = rows.Close()
				return nil, err
			}
			st, err := entry(name)
			if err != nil {
				_ = rows.Close()
				return nil, err
			}
			if c.apply == nil {
				st.Files = int(n)
				st.LastIndexedAt = fromNanos(latest)
			} else {
				c.apply(st, n)
			}
		}
		err = rows.Err()
		_ = rows.Close()
		if err != nil {
			return nil, err
		}
	}

	status := &IndexStatus{}
	for _, src := range types.AllSources() {
		if st, ok := bySource[src]; ok {
			status.Sources = append(status.Sources, *st)
		}
	}

	if err := q.QueryRowContext(ctx, "SELECT COALESCE(SUM(text_bytes), 0) FROM session_tool_io").Scan(&status.ToolIOBytes); err != nil {
		return nil, err
	}

	// Calculate database size
	var pageCount, pageSize int64
	if err := q.QueryRowContext(ctx, "PRAGMA page_count").Scan(&pageCount); err == nil {
		_ = q.QueryRowContext(ctx, "PRAGMA page_size").Scan(&pageSize)
		status.IndexSizeMB = float64(pageCount*pageSize) / (1024 * 1024)
	}

	version, err := currentSchemaVersion(ctx, q)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to read schema version: %w", err)
	}
	status.SchemaVersion = version

	return status, nil
}

func (s *SQLiteStorage) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return s.getStatusWithQuerier(ctx, s.querier())
}

// Transaction implementations. Reads go through the transaction too; the
// pool's only connection belongs to it until Commit or Rollback.

func (t *sqliteTx) UpsertFile(ctx context.Context, file *FileRecord) error {
	return t.storage.upsertFileWithQuerier(ctx, t.querier(), file)
}

func (t *sqliteTx) FetchFileRecords(ctx context.Context, source types.Source) (map[string]*FileRecord, error) {
	return t.storage.fetchFileRecordsWithQuerier(ctx, t.querier(), source)
}

func (t *sqliteTx) UpsertSessionMeta(ctx context.Context, meta *SessionMeta) error {
	return t.storage.upsertSessionMetaWithQuerier(ctx, t.querier(), meta)
}

func (t *sqliteTx) GetSessionMeta(ctx context.Context, source types.Source, sessionID string) (*SessionMeta, error) {
	return t.storage.getSessionMetaWithQuerier(ctx, t.querier(), source, sessionID)
}

func (t *sqliteTx) FetchKnownMetaPaths(ctx context.Context, source types.Source) (map[string]time.Time, error) {
	return t.storage.fetchKnownMetaPathsWithQuerier(ctx, t.querier(), source)
}

func (t *sqliteTx) EvictPathOwners(ctx context.Context, source types.Source, path, keepSessionID string) ([]string, error) {
	return t.storage.evictPathOwnersWithQuerier(ctx, t.querier(), source, path, keepSessionID)
}

func (t *sqliteTx) UpsertSearchDocument(ctx context.Context, doc *SearchDocument) error {
	return t.storage.upsertSearchDocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) UpsertToolIODocument(ctx context.Context, doc *ToolIODocument) error {
	return t.storage.upsertToolIODocumentWithQuerier(ctx, t.querier(), doc)
}

func (t *sqliteTx) DeleteToolIODocument(ctx context.Context, source types.Source, sessionID string) error {
	return t.storage.deleteToolIODocumentWithQuerier(ctx, t.querier(), source, sessionID)
}

func (t *sqliteTx) FetchSearchReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error) {
	return readyPathsWithQuerier(ctx, t.querier(), "session_search", source, formatVersion)
}

func (t *sqliteTx) FetchToolIOReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error) {
	return readyPathsWithQuerier(ctx, t.querier(), "session_tool_io", source, formatVersion)
}

func (t *sqliteTx) ReplaceDayRows(ctx context.Context, source types.Source, sessionID string, rows []types.DayRollupRow) ([]string, error) {
	return t.storage.replaceDayRowsWithQuerier(ctx, t.querier(), source, sessionID, rows)
}

func (t *sqliteTx) RecomputeRollup(ctx context.Context, day string, source types.Source) error {
	return t.storage.recomputeRollupWithQuerier(ctx, t.querier(), day, source)
}

func (t *sqliteTx) ListDayRows(ctx context.Context, source types.Source, sessionID string) ([]types.DayRollupRow, error) {
	return t.storage.listDayRowsWithQuerier(ctx, t.querier(), source, sessionID)
}

func (t *sqliteTx) ListRollups(ctx context.Context, filter RollupFilter) ([]*Rollup, error) {
	return t.storage.listRollupsWithQuerier(ctx, t.querier(), filter)
}

func (t *sqliteTx) DeleteSessionsForPaths(ctx context.Context, source types.Source, paths []string) ([]string, error) {
	return t.storage.deleteSessionsForPathsWithQuerier(ctx, t.querier(), source, paths)
}

func (t *sqliteTx) PurgeSource(ctx context.Context, source types.Source) error {
	return t.storage.purgeSourceWithQuerier(ctx, t.querier(), source)
}

func (t *sqliteTx) PruneToolIOBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return t.storage.pruneToolIOBeforeWithQuerier(ctx, t.querier(), cutoff)
}

func (t *sqliteTx) PruneToolIOToByteCap(ctx context.Context, maxBytes int64) (int, error) {
	return t.storage.pruneToolIOToByteCapWithQuerier(ctx, t.querier(), maxBytes)
}

func (t *sqliteTx) ToolIOStats(ctx context.Context, cutoff time.Time) (*ToolIOStats, error) {
	return t.storage.toolIOStatsWithQuerier(ctx, t.querier(), cutoff)
}

func (t *sqliteTx) SearchSessions(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error) {
	return searchFTS(ctx, t.querier(), searchSessionsTables, query, filters)
}

func (t *sqliteTx) SearchToolIO(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error) {
	return searchFTS(ctx, t.querier(), searchToolIOTables, query, filters)
}

func (t *sqliteTx) GetStatus(ctx context.Context) (*IndexStatus, error) {
	return t.storage.getStatusWithQuerier(ctx, t.querier())
}

func (t *sqliteTx) Close() error {
	// Transactions don't close the underlying connection
	return nil
}

func (t *sqliteTx) BeginTx(ctx context.Context) (Tx, error) {
	return nil, ErrNestedTx
}

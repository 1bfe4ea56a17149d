package storage

import (
	"context"
	"fmt"
	"strings"
	"unicode"
)

// DefaultSearchLimit caps results when SearchFilters.Limit is unset
const DefaultSearchLimit = 20

// ftsTables names a content table and its FTS5 index
type ftsTables struct {
	content string
	fts     string
}

var (
	searchSessionsTables = ftsTables{content: "session_search", fts: "session_search_fts"}
	searchToolIOTables   = ftsTables{content: "session_tool_io", fts: "session_tool_io_fts"}
)

func (s *SQLiteStorage) SearchSessions(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error) {
	return searchFTS(ctx, s.querier(), searchSessionsTables, query, filters)
}

func (s *SQLiteStorage) SearchToolIO(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error) {
	return searchFTS(ctx, s.querier(), searchToolIOTables, query, filters)
}

// searchFTS performs BM25 full-text search over one FTS5 index, joined back
// to session_meta for the path, title and reference time
func searchFTS(ctx context.Context, q querier, t ftsTables, query string, filters *SearchFilters) ([]SearchHit, error) {
	sanitized := sanitizeFTSQuery(query)
	if sanitized == "" {
		return nil, fmt.Errorf("empty search query")
	}

	sqlQuery := fmt.Sprintf(`
		SELECT
			d.source,
			d.session_id,
			m.path,
			COALESCE(m.title, ''),
			snippet(%[2]s, 0, '[', ']', '...', 12),
			bm25(%[2]s) AS score,
			m.reference_ns
		FROM %[2]s
		INNER JOIN %[1]s d ON d.id = %[2]s.rowid
		INNER JOIN session_meta m ON m.source = d.source AND m.session_id = d.session_id
		WHERE %[2]s MATCH ?
	`, t.content, t.fts)
	args := []interface{}{sanitized}

	sqlQuery, args = applySearchFilters(sqlQuery, args, filters)

	// BM25: lower is better
	limit := DefaultSearchLimit
	if filters != nil && filters.Limit > 0 {
		limit = filters.Limit
	}
	sqlQuery += " ORDER BY score, m.reference_ns DESC LIMIT ?"
	args = append(args, limit)

	rows, err := q.QueryContext(ctx, sqlQuery, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute FTS search: %w", err)
	}
	defer func() { _ = rows.Close() }()

	hits := make([]SearchHit, 0)
	for rows.Next() {
		var hit SearchHit
		var name string
		var reference int64
		if err := rows.Scan(&name, &hit.SessionID, &hit.Path, &hit.Title, &hit.Snippet, &hit.Score, &reference); err != nil {
			return nil, err
		}
		if hit.Source, err = scanSource(name); err != nil {
			return nil, err
		}
		hit.Reference = fromNanos(reference)
		hits = append(hits, hit)
	}
	return hits, rows.Err()
}

// applySearchFilters adds WHERE clause filters for text search
func applySearchFilters(query string, args []interface{}, filters *SearchFilters) (string, []interface{}) {
	if filters == nil {
		return query, args
	}

	if len(filters.Sources) > 0 {
		query += " AND d.source IN (" + placeholders(len(filters.Sources)) + ")"
		for _, src := range filters.Sources {
			args = append(args, src.String())
		}
	}

	if !filters.Since.IsZero() {
		query += " AND m.reference_ns >= ?"
		args = append(args, toNanos(filters.Since))
	}

	return query, args
}

// sanitizeFTSQuery turns free text into an FTS5 query of quoted terms that
// must all match. Operators and punctuation never reach the FTS5 parser.
func sanitizeFTSQuery(query string) string {
	terms := strings.FieldsFunc(query, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	})
	if len(terms) == 0 {
		return ""
	}

	quoted := make([]string, len(terms))
	for i, term := range terms {
		quoted[i] = `"` + term + `"`
	}
	return strings.Join(quoted, " ")
}

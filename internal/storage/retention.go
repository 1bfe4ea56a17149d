package storage

import (
	"context"
	"fmt"
	"time"
)

func (s *SQLiteStorage) pruneToolIOBeforeWithQuerier(ctx context.Context, q querier, cutoff time.Time) (int, error) {
	result, err := q.ExecContext(ctx, "DELETE FROM session_tool_io WHERE reference_ns < ?", toNanos(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to prune tool-io before cutoff: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}

// PruneToolIOBefore deletes tool-IO documents whose reference time is before cutoff
func (s *SQLiteStorage) PruneToolIOBefore(ctx context.Context, cutoff time.Time) (int, error) {
	return s.pruneToolIOBeforeWithQuerier(ctx, s.querier(), cutoff)
}

// pruneToolIOToByteCapWithQuerier empties the oldest tool-IO documents until
// the remaining text fits in maxBytes. Emptied rows are kept so their sessions
// still count as tool-IO ready and are not reparsed on every run.
func (s *SQLiteStorage) pruneToolIOToByteCapWithQuerier(ctx context.Context, q querier, maxBytes int64) (int, error) {
	var total int64
	if err := q.QueryRowContext(ctx, "SELECT COALESCE(SUM(text_bytes), 0) FROM session_tool_io").Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum tool-io bytes: %w", err)
	}
	if total <= maxBytes {
		return 0, nil
	}

	rows, err := q.QueryContext(ctx, "SELECT id, text_bytes FROM session_tool_io WHERE text_bytes > 0 ORDER BY reference_ns ASC, id ASC")
	if err != nil {
		return 0, fmt.Errorf("failed to list tool-io documents: %w", err)
	}
	var victims []interface{}
	for rows.Next() && total > maxBytes {
		var id, size int64
		if err := rows.Scan(&id, &size); err != nil {
			_ = rows.Close()
			return 0, err
		}
		victims = append(victims, id)
		total -= size
	}
	err = rows.Err()
	_ = rows.Close()
	if err != nil {
		return 0, err
	}

	const chunk = 500
	for start := 0; start < len(victims); start += chunk {
		end := start + chunk
		if end > len(victims) {
			end = len(victims)
		}
		batch := victims[start:end]
		query := "UPDATE session_tool_io SET text = '', text_bytes = 0 WHERE id IN (" + placeholders(len(batch)) + ")"
		if _, err := q.ExecContext(ctx, query, batch...); err != nil {
			return 0, fmt.Errorf("failed to prune tool-io to byte cap: %w", err)
		}
	}
	return len(victims), nil
}

// PruneToolIOToByteCap empties documents oldest-first until total text bytes ≤ maxBytes
func (s *SQLiteStorage) PruneToolIOToByteCap(ctx context.Context, maxBytes int64) (int, error) {
	return s.pruneToolIOToByteCapWithQuerier(ctx, s.querier(), maxBytes)
}

func (s *SQLiteStorage) toolIOStatsWithQuerier(ctx context.Context, q querier, cutoff time.Time) (*ToolIOStats, error) {
	var stats ToolIOStats
	err := q.QueryRowContext(ctx, `
		SELECT COALESCE(SUM(CASE WHEN text_bytes > 0 THEN 1 ELSE 0 END), 0),
		       COALESCE(SUM(text_bytes), 0),
		       COALESCE(SUM(CASE WHEN reference_ns < ? THEN 1 ELSE 0 END), 0)
		FROM session_tool_io
	`, toNanos(cutoff)).Scan(&stats.Documents, &stats.TotalBytes, &stats.OlderThanCount)
	if err != nil {
		return nil, fmt.Errorf("failed to read tool-io stats: %w", err)
	}
	return &stats, nil
}

// ToolIOStats reports how many documents hold text, their total bytes and how
// many documents are older than cutoff
func (s *SQLiteStorage) ToolIOStats(ctx context.Context, cutoff time.Time) (*ToolIOStats, error) {
	return s.toolIOStatsWithQuerier(ctx, s.querier(), cutoff)
}

package storage

import (
	"context"
	"fmt"
	"strings"

	"github.com/dshills/sessionindex/pkg/types"
)

// dayRowDays returns the days a session currently has rollup rows for
func dayRowDays(ctx context.Context, q querier, source types.Source, sessionID string) ([]string, error) {
	rows, err := q.QueryContext(ctx,
		"SELECT day FROM rollup_rows WHERE source = ? AND session_id = ? ORDER BY day",
		source.String(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollup days: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var days []string
	for rows.Next() {
		var day string
		if err := rows.Scan(&day); err != nil {
			return nil, err
		}
		days = append(days, day)
	}
	return days, rows.Err()
}

// replaceDayRowsWithQuerier swaps a session's rollup rows wholesale and returns
// the union of the days it used to cover and the days it covers now
func (s *SQLiteStorage) replaceDayRowsWithQuerier(ctx context.Context, q querier, source types.Source, sessionID string, rows []types.DayRollupRow) ([]string, error) {
	touched := make(map[string]struct{})

	prior, err := dayRowDays(ctx, q, source, sessionID)
	if err != nil {
		return nil, err
	}
	for _, d := range prior {
		touched[d] = struct{}{}
	}

	if _, err := q.ExecContext(ctx,
		"DELETE FROM rollup_rows WHERE source = ? AND session_id = ?",
		source.String(), sessionID); err != nil {
		return nil, fmt.Errorf("failed to clear rollup rows: %w", err)
	}

	insert := `
		INSERT INTO rollup_rows (day, source, session_id, model, messages, commands, duration_seconds)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	for _, row := range rows {
		if _, err := q.ExecContext(ctx, insert,
			row.Day, source.String(), sessionID, row.Model,
			row.Messages, row.Commands, row.DurationSeconds); err != nil {
			return nil, fmt.Errorf("failed to insert rollup row for %s: %w", row.Day, err)
		}
		touched[row.Day] = struct{}{}
	}

	return sortedDays(touched), nil
}

func (s *SQLiteStorage) ReplaceDayRows(ctx context.Context, source types.Source, sessionID string, rows []types.DayRollupRow) ([]string, error) {
	return s.replaceDayRowsWithQuerier(ctx, s.querier(), source, sessionID, rows)
}

// recomputeRollupWithQuerier rebuilds one (day, source) aggregate from its rows.
// A day with no rows left is written as zeros.
func (s *SQLiteStorage) recomputeRollupWithQuerier(ctx context.Context, q querier, day string, source types.Source) error {
	var r Rollup
	err := q.QueryRowContext(ctx, `
		SELECT COUNT(DISTINCT session_id),
		       COALESCE(SUM(messages), 0),
		       COALESCE(SUM(commands), 0),
		       COALESCE(SUM(duration_seconds), 0)
		FROM rollup_rows
		WHERE day = ? AND source = ?
	`, day, source.String()).Scan(&r.Sessions, &r.Messages, &r.Commands, &r.DurationSeconds)
	if err != nil {
		return fmt.Errorf("failed to aggregate rollup %s/%s: %w", day, source, err)
	}

	_, err = q.ExecContext(ctx, `
		INSERT INTO rollups (day, source, sessions, messages, commands, duration_seconds, updated_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(day, source) DO UPDATE SET
			sessions = excluded.sessions,
			messages = excluded.messages,
			commands = excluded.commands,
			duration_seconds = excluded.duration_seconds,
			updated_at_ns = excluded.updated_at_ns
	`, day, source.String(), r.Sessions, r.Messages, r.Commands, r.DurationSeconds, toNanos(s.now()))
	if err != nil {
		return fmt.Errorf("failed to store rollup %s/%s: %w", day, source, err)
	}
	return nil
}

func (s *SQLiteStorage) RecomputeRollup(ctx context.Context, day string, source types.Source) error {
	return s.recomputeRollupWithQuerier(ctx, s.querier(), day, source)
}

func (s *SQLiteStorage) listDayRowsWithQuerier(ctx context.Context, q querier, source types.Source, sessionID string) ([]types.DayRollupRow, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT day, COALESCE(model, ''), messages, commands, duration_seconds
		FROM rollup_rows
		WHERE source = ? AND session_id = ?
		ORDER BY day
	`, source.String(), sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollup rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []types.DayRollupRow
	for rows.Next() {
		row := types.DayRollupRow{Source: source, SessionID: sessionID}
		if err := rows.Scan(&row.Day, &row.Model, &row.Messages, &row.Commands, &row.DurationSeconds); err != nil {
			return nil, err
		}
		out = append(out, row)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListDayRows(ctx context.Context, source types.Source, sessionID string) ([]types.DayRollupRow, error) {
	return s.listDayRowsWithQuerier(ctx, s.querier(), source, sessionID)
}

func (s *SQLiteStorage) listRollupsWithQuerier(ctx context.Context, q querier, filter RollupFilter) ([]*Rollup, error) {
	var conds []string
	var args []interface{}

	if len(filter.Sources) > 0 {
		conds = append(conds, "source IN ("+placeholders(len(filter.Sources))+")")
		for _, src := range filter.Sources {
			args = append(args, src.String())
		}
	}
	if filter.FromDay != "" {
		conds = append(conds, "day >= ?")
		args = append(args, filter.FromDay)
	}
	if filter.ToDay != "" {
		conds = append(conds, "day <= ?")
		args = append(args, filter.ToDay)
	}

	query := "SELECT day, source, sessions, messages, commands, duration_seconds, updated_at_ns FROM rollups"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY day, source"

	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rollups: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Rollup
	for rows.Next() {
		var r Rollup
		var name string
		var updatedAt int64
		if err := rows.Scan(&r.Day, &name, &r.Sessions, &r.Messages, &r.Commands, &r.DurationSeconds, &updatedAt); err != nil {
			return nil, err
		}
		if r.Source, err = scanSource(name); err != nil {
			return nil, err
		}
		r.UpdatedAt = fromNanos(updatedAt)
		out = append(out, &r)
	}
	return out, rows.Err()
}

func (s *SQLiteStorage) ListRollups(ctx context.Context, filter RollupFilter) ([]*Rollup, error) {
	return s.listRollupsWithQuerier(ctx, s.querier(), filter)
}

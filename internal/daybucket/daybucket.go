// Package daybucket splits a parsed session into per-calendar-day statistics.
package daybucket

import (
	"sort"
	"time"

	"github.com/dshills/sessionindex/pkg/types"
)

// Aggregator buckets sessions by calendar day in a fixed location
type Aggregator struct {
	loc *time.Location
}

// New creates an Aggregator. A nil location means time.Local.
func New(loc *time.Location) *Aggregator {
	if loc == nil {
		loc = time.Local
	}
	return &Aggregator{loc: loc}
}

// bucket accumulates one day's statistics
type bucket struct {
	messages int
	commands int
	min      time.Time
	max      time.Time
}

// foldState is the accumulator threaded through the event fold
type foldState struct {
	lastSeen *time.Time
	buckets  map[string]*bucket
}

// step consumes one event. Events without a timestamp inherit the last seen
// one; events before the first timestamped event are dropped.
func (a *Aggregator) step(st foldState, ev types.Event) foldState {
	if ev.Timestamp != nil {
		ts := *ev.Timestamp
		st.lastSeen = &ts
	}
	if st.lastSeen == nil {
		return st
	}
	effective := *st.lastSeen

	day := effective.In(a.loc).Format(types.DayLayout)
	b, ok := st.buckets[day]
	if !ok {
		b = &bucket{min: effective, max: effective}
		st.buckets[day] = b
	}
	if ev.Kind.IsMessage() {
		b.messages++
	}
	if ev.Kind.IsCommand() {
		b.commands++
	}
	if effective.Before(b.min) {
		b.min = effective
	}
	if effective.After(b.max) {
		b.max = effective
	}
	return st
}

// fold runs step over events in file order
func fold[S any](events []types.Event, init S, step func(S, types.Event) S) S {
	acc := init
	for i := range events {
		acc = step(acc, events[i])
	}
	return acc
}

// Aggregate returns one DayRollupRow per calendar day the session touches,
// sorted by day.
func (a *Aggregator) Aggregate(s *types.Session) []types.DayRollupRow {
	if s == nil {
		return nil
	}
	if len(s.Events) == 0 {
		return a.spanRows(s)
	}

	st := fold(s.Events, foldState{buckets: make(map[string]*bucket)}, a.step)

	rows := make([]types.DayRollupRow, 0, len(st.buckets))
	for day, b := range st.buckets {
		rows = append(rows, types.DayRollupRow{
			Day:             day,
			Source:          s.Source,
			SessionID:       s.ID,
			Model:           s.Model,
			Messages:        b.messages,
			Commands:        b.commands,
			DurationSeconds: int64(b.max.Sub(b.min) / time.Second),
		})
	}
	sortRows(rows)
	return rows
}

// spanRows handles sessions with no events by splitting [start, end] at
// calendar-day boundaries. Every touched day carries the session's total
// message and command counts; the counts are not apportioned across days.
func (a *Aggregator) spanRows(s *types.Session) []types.DayRollupRow {
	start, end := s.StartTime, s.EndTime
	switch {
	case start.IsZero() && end.IsZero():
		return nil
	case start.IsZero():
		start = end
	case end.IsZero() || end.Before(start):
		end = start
	}
	start, end = start.In(a.loc), end.In(a.loc)

	var rows []types.DayRollupRow
	dayStart := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, a.loc)
	for first := true; first || dayStart.Before(end); first = false {
		next := dayStart.AddDate(0, 0, 1)

		from, to := dayStart, next
		if start.After(from) {
			from = start
		}
		if end.Before(to) {
			to = end
		}

		rows = append(rows, types.DayRollupRow{
			Day:             dayStart.Format(types.DayLayout),
			Source:          s.Source,
			SessionID:       s.ID,
			Model:           s.Model,
			Messages:        s.MessageCount,
			Commands:        s.CommandCount,
			DurationSeconds: int64(to.Sub(from) / time.Second),
		})
		dayStart = next
	}
	return rows
}

func sortRows(rows []types.DayRollupRow) {
	sort.Slice(rows, func(i, j int) bool { return rows[i].Day < rows[j].Day })
}

// Days returns the distinct days covered by rows
func Days(rows []types.DayRollupRow) []string {
	seen := make(map[string]struct{}, len(rows))
	days := make([]string, 0, len(rows))
	for _, r := range rows {
		if _, ok := seen[r.Day]; ok {
			continue
		}
		seen[r.Day] = struct{}{}
		days = append(days, r.Day)
	}
	sort.Strings(days)
	return days
}

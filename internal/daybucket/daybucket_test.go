package daybucket

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sessionindex/pkg/types"
)

func at(t time.Time) *time.Time { return &t }

func TestAggregate_FillBackward(t *testing.T) {
	d1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s := &types.Session{
		ID:     "s1",
		Source: types.SourceClaude,
		Model:  "opus",
		Events: []types.Event{
			{Kind: types.EventUser, Timestamp: at(d1)},
			{Kind: types.EventToolCall},
			{Kind: types.EventAssistant, Timestamp: at(d1.Add(time.Hour))},
		},
	}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-10", rows[0].Day)
	assert.Equal(t, 2, rows[0].Messages)
	assert.Equal(t, 1, rows[0].Commands)
	assert.Equal(t, int64(3600), rows[0].DurationSeconds)
	assert.Equal(t, "s1", rows[0].SessionID)
	assert.Equal(t, "opus", rows[0].Model)
}

func TestAggregate_MetaIsNotAMessage(t *testing.T) {
	d1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s := &types.Session{
		ID: "s1",
		Events: []types.Event{
			{Kind: types.EventUser, Timestamp: at(d1)},
			{Kind: types.EventToolCall},
			{Kind: types.EventMeta},
			{Kind: types.EventAssistant, Timestamp: at(d1.Add(time.Hour))},
		},
	}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, 2, rows[0].Messages)
	assert.Equal(t, 1, rows[0].Commands)
	assert.Equal(t, int64(3600), rows[0].DurationSeconds)
}

func TestAggregate_DropsEventsBeforeFirstTimestamp(t *testing.T) {
	d1 := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	s := &types.Session{
		ID: "s1",
		Events: []types.Event{
			{Kind: types.EventUser},
			{Kind: types.EventToolCall},
			{Kind: types.EventAssistant, Timestamp: at(d1)},
		},
	}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, 1, rows[0].Messages)
	assert.Equal(t, 0, rows[0].Commands)
	assert.Equal(t, int64(0), rows[0].DurationSeconds)
}

func TestAggregate_NoTimestampsAtAll(t *testing.T) {
	s := &types.Session{
		ID:     "s1",
		Events: []types.Event{{Kind: types.EventUser}, {Kind: types.EventAssistant}},
	}
	assert.Empty(t, New(time.UTC).Aggregate(s))
}

func TestAggregate_MultipleDaysNonMonotonic(t *testing.T) {
	d1 := time.Date(2026, 3, 10, 23, 30, 0, 0, time.UTC)
	d2 := time.Date(2026, 3, 11, 0, 15, 0, 0, time.UTC)
	s := &types.Session{
		ID: "s1",
		Events: []types.Event{
			{Kind: types.EventUser, Timestamp: at(d1)},
			{Kind: types.EventAssistant, Timestamp: at(d2)},
			{Kind: types.EventToolCall},
			// Out of order: back on day one
			{Kind: types.EventToolResult, Timestamp: at(d1.Add(-30 * time.Minute))},
		},
	}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 2)
	assert.Equal(t, "2026-03-10", rows[0].Day)
	assert.Equal(t, 1, rows[0].Messages)
	assert.Equal(t, 0, rows[0].Commands)
	assert.Equal(t, int64(1800), rows[0].DurationSeconds)

	assert.Equal(t, "2026-03-11", rows[1].Day)
	assert.Equal(t, 1, rows[1].Messages)
	assert.Equal(t, 1, rows[1].Commands)
	assert.Equal(t, int64(0), rows[1].DurationSeconds)
}

func TestAggregate_UsesLocation(t *testing.T) {
	loc := time.FixedZone("UTC-5", -5*3600)
	// 03:00 UTC is the previous evening in UTC-5
	ts := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)
	s := &types.Session{ID: "s1", Events: []types.Event{{Kind: types.EventUser, Timestamp: at(ts)}}}

	rows := New(loc).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-09", rows[0].Day)
}

// Sessions without events repeat their total counts on every day their span
// touches. This overcounts multi-day sessions; the behavior is pinned here so
// any change to it is deliberate.
func TestAggregate_NoEventsRepeatsTotalsPerDay(t *testing.T) {
	start := time.Date(2026, 3, 10, 22, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 12, 1, 0, 0, 0, time.UTC)
	s := &types.Session{
		ID:           "s1",
		StartTime:    start,
		EndTime:      end,
		MessageCount: 7,
		CommandCount: 2,
	}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 3)
	days := []string{"2026-03-10", "2026-03-11", "2026-03-12"}
	durations := []int64{2 * 3600, 24 * 3600, 3600}
	for i, row := range rows {
		assert.Equal(t, days[i], row.Day)
		assert.Equal(t, 7, row.Messages)
		assert.Equal(t, 2, row.Commands)
		assert.Equal(t, durations[i], row.DurationSeconds)
	}
}

func TestAggregate_NoEventsSingleInstant(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	s := &types.Session{ID: "s1", StartTime: start, MessageCount: 1}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, "2026-03-10", rows[0].Day)
	assert.Equal(t, int64(0), rows[0].DurationSeconds)
}

func TestAggregate_NoEventsEndingAtMidnight(t *testing.T) {
	start := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	end := time.Date(2026, 3, 11, 0, 0, 0, 0, time.UTC)
	s := &types.Session{ID: "s1", StartTime: start, EndTime: end}

	rows := New(time.UTC).Aggregate(s)

	require.Len(t, rows, 1)
	assert.Equal(t, int64(12*3600), rows[0].DurationSeconds)
}

func TestAggregate_NoEventsNoSpan(t *testing.T) {
	assert.Empty(t, New(time.UTC).Aggregate(&types.Session{ID: "s1"}))
	assert.Nil(t, New(time.UTC).Aggregate(nil))
}

func TestDays(t *testing.T) {
	rows := []types.DayRollupRow{{Day: "2026-03-11"}, {Day: "2026-03-10"}, {Day: "2026-03-11"}}
	assert.Equal(t, []string{"2026-03-10", "2026-03-11"}, Days(rows))
}

package types

// DayLayout is the calendar-day key format used by rollup rows
const DayLayout = "2006-01-02"

// DayRollupRow holds one session's statistics for one calendar day
type DayRollupRow struct {
	Day             string // DayLayout, local calendar day
	Source          Source
	SessionID       string
	Model           string
	Messages        int
	Commands        int
	DurationSeconds int64
}

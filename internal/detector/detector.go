// Package detector decides, per discovered file, whether it must be reparsed.
package detector

import "time"

// Hot-file throttle windows for append-only sources
const (
	DefaultMidWriteAge      = 3 * time.Second
	DefaultHotAge           = 60 * time.Second
	DefaultHotReindexPeriod = 30 * time.Second
)

// Decision is the outcome for one file
type Decision int

const (
	Reparse Decision = iota
	Skip
)

// Reason explains a Decision for logs and metrics
type Reason string

const (
	ReasonNew          Reason = "new"
	ReasonChanged      Reason = "changed"
	ReasonStale        Reason = "stale_documents"
	ReasonUnchanged    Reason = "unchanged"
	ReasonMidWrite     Reason = "mid_write"
	ReasonHotThrottled Reason = "hot_throttled"
	ReasonNotSession   Reason = "not_session"
)

// Observed is the current filesystem state of a file
type Observed struct {
	ModTime    time.Time
	Size       int64
	StatFailed bool // Stat failed; ModTime is "now" and Size is 0
}

// Prior is what the index already knows about a file. A nil *Prior means the
// file has never been indexed.
type Prior struct {
	ModTime       time.Time
	Size          int64
	IndexedAt     time.Time
	SearchReady   bool      // Search document exists at the current format version
	ToolIOReady   bool      // Tool-IO document exists at the current format version
	ReferenceTime time.Time // Session reference time, zero when unknown
}

// Attempt is the last parse of a file that left nothing in the index: the
// parser failed or reported that the file is not a session. Attempts are
// remembered in memory only.
type Attempt struct {
	ModTime    time.Time
	Size       int64
	At         time.Time
	NotSession bool
}

// Policy carries the run-wide inputs of a decision
type Policy struct {
	ToolIOEnabled bool
	ToolIOCutoff  time.Time // Sessions whose reference time is before this are not tool-IO indexed
	AppendOnly    bool      // Source may be written by a live agent process
}

// Detector applies the skip rules and the hot-file throttle
type Detector struct {
	MidWriteAge      time.Duration
	HotAge           time.Duration
	HotReindexPeriod time.Duration
}

// New creates a Detector with the default throttle windows
func New() *Detector {
	return &Detector{
		MidWriteAge:      DefaultMidWriteAge,
		HotAge:           DefaultHotAge,
		HotReindexPeriod: DefaultHotReindexPeriod,
	}
}

// Decide returns whether the file should be skipped or reparsed at time now.
// last is the most recent attempt that produced no rows, or nil.
func (d *Detector) Decide(now time.Time, obs Observed, prior *Prior, last *Attempt, policy Policy) (Decision, Reason) {
	if prior != nil && d.upToDate(obs, prior, policy) {
		return Skip, ReasonUnchanged
	}

	// Not a session at this exact state, and nothing has been appended since
	if last != nil && last.NotSession && !obs.StatFailed &&
		obs.ModTime.Equal(last.ModTime) && obs.Size == last.Size {
		return Skip, ReasonNotSession
	}

	if policy.AppendOnly && !obs.StatFailed {
		age := now.Sub(obs.ModTime)
		if age < d.MidWriteAge {
			return Skip, ReasonMidWrite
		}
		if at, ok := lastParsed(prior, last); ok && age < d.HotAge && now.Sub(at) < d.HotReindexPeriod {
			return Skip, ReasonHotThrottled
		}
	}

	switch {
	case prior == nil:
		return Reparse, ReasonNew
	case obs.ModTime.Equal(prior.ModTime) && obs.Size == prior.Size:
		return Reparse, ReasonStale
	default:
		return Reparse, ReasonChanged
	}
}

// lastParsed is the latest time the file was parsed, committed or not
func lastParsed(prior *Prior, last *Attempt) (time.Time, bool) {
	var at time.Time
	if prior != nil {
		at = prior.IndexedAt
	}
	if last != nil && last.At.After(at) {
		at = last.At
	}
	return at, !at.IsZero()
}

// upToDate implements the skip rule: unchanged file state, a current search
// document, and either no tool-IO work to do or a current tool-IO document.
func (d *Detector) upToDate(obs Observed, prior *Prior, policy Policy) bool {
	if obs.StatFailed {
		return false
	}
	if !obs.ModTime.Equal(prior.ModTime) || obs.Size != prior.Size {
		return false
	}
	if !prior.SearchReady {
		return false
	}
	if !policy.ToolIOEnabled || prior.ToolIOReady {
		return true
	}
	return !prior.ReferenceTime.IsZero() && prior.ReferenceTime.Before(policy.ToolIOCutoff)
}

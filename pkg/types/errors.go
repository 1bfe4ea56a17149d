package types

import (
	"errors"
	"fmt"
)

// Domain errors
var (
	ErrUnknownSource = errors.New("unknown source")
	ErrNoAdapter     = errors.New("no adapter registered for source")
)

// DiscoveryError reports that a source could not enumerate its files.
// The source is skipped for the current run.
type DiscoveryError struct {
	Source Source
	Err    error
}

func (e *DiscoveryError) Error() string {
	return fmt.Sprintf("discover %s: %v", e.Source, e.Err)
}

func (e *DiscoveryError) Unwrap() error { return e.Err }

// ParseError reports that a file could not be parsed. Nothing is written and
// the file is retried on the next run.
type ParseError struct {
	Source Source
	Path   string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse %s %s: %v", e.Source, e.Path, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StatError reports a failed stat. The file is treated as size 0 with an
// mtime of now and is still attempted.
type StatError struct {
	Path string
	Err  error
}

func (e *StatError) Error() string {
	return fmt.Sprintf("stat %s: %v", e.Path, e.Err)
}

func (e *StatError) Unwrap() error { return e.Err }

// CommitError reports a failed transactional write for one session or one
// removal set. The transaction has been rolled back.
type CommitError struct {
	Source    Source
	Path      string
	SessionID string
	Err       error
}

func (e *CommitError) Error() string {
	if e.SessionID != "" {
		return fmt.Sprintf("commit %s session %s (%s): %v", e.Source, e.SessionID, e.Path, e.Err)
	}
	return fmt.Sprintf("commit %s %s: %v", e.Source, e.Path, e.Err)
}

func (e *CommitError) Unwrap() error { return e.Err }

// PruneError reports a failed retention pass. Retention is best-effort.
type PruneError struct {
	Stage string
	Err   error
}

func (e *PruneError) Error() string {
	return fmt.Sprintf("prune %s: %v", e.Stage, e.Err)
}

func (e *PruneError) Unwrap() error { return e.Err }

package types

import (
	"errors"
	"fmt"
	"time"
)

// EventKind classifies one transcript entry
type EventKind string

const (
	EventUser       EventKind = "user"
	EventAssistant  EventKind = "assistant"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventMeta       EventKind = "meta"
	EventError      EventKind = "error"
)

// IsMessage reports whether the event counts toward a session's message total.
// Meta entries and tool traffic are not messages.
func (k EventKind) IsMessage() bool {
	switch k {
	case EventMeta, EventToolCall, EventToolResult:
		return false
	default:
		return true
	}
}

// IsCommand reports whether the event counts toward a session's command total
func (k EventKind) IsCommand() bool {
	return k == EventToolCall
}

// Event is one entry of a normalized transcript. Events are kept in file order,
// which is not guaranteed to be timestamp-monotonic.
type Event struct {
	Kind      EventKind
	Timestamp *time.Time // Nullable: interior events may carry no timestamp
	Role      string
	Text      string

	// Tool fields, set for tool_call and tool_result events
	ToolName   string
	ToolInput  string
	ToolOutput string
}

// Session is a normalized conversation parsed from one source log file
type Session struct {
	// Identification
	ID       string // Stable across reparses of the same logical conversation
	Source   Source
	FilePath string

	// File state observed when the session was parsed
	ModTime time.Time
	Size    int64

	// Span
	StartTime time.Time
	EndTime   time.Time

	// Descriptive metadata
	Model    string
	CWD      string
	RepoName string
	Title    string

	Events       []Event
	MessageCount int
	CommandCount int
}

// ReferenceTime is the timestamp used for recency decisions: the end time,
// falling back to the start time and then to the file modification time.
func (s *Session) ReferenceTime() time.Time {
	switch {
	case !s.EndTime.IsZero():
		return s.EndTime
	case !s.StartTime.IsZero():
		return s.StartTime
	default:
		return s.ModTime
	}
}

// CountEvents recomputes MessageCount and CommandCount from Events
func (s *Session) CountEvents() {
	messages, commands := 0, 0
	for i := range s.Events {
		if s.Events[i].Kind.IsMessage() {
			messages++
		}
		if s.Events[i].Kind.IsCommand() {
			commands++
		}
	}
	s.MessageCount = messages
	s.CommandCount = commands
}

// Span recomputes StartTime and EndTime from event timestamps when they are unset
func (s *Session) Span() {
	for i := range s.Events {
		ts := s.Events[i].Timestamp
		if ts == nil {
			continue
		}
		if s.StartTime.IsZero() || ts.Before(s.StartTime) {
			s.StartTime = *ts
		}
		if s.EndTime.IsZero() || ts.After(s.EndTime) {
			s.EndTime = *ts
		}
	}
}

// Validate checks that a parsed session can be stored
func (s *Session) Validate() error {
	if s.ID == "" {
		return errors.New("session id is required")
	}
	if !s.Source.Valid() {
		return ErrUnknownSource
	}
	if s.FilePath == "" {
		return errors.New("session file path is required")
	}
	for i := range s.Events {
		switch s.Events[i].Kind {
		case EventUser, EventAssistant, EventToolCall, EventToolResult, EventMeta, EventError:
		default:
			return fmt.Errorf("event %d: invalid kind %q", i, s.Events[i].Kind)
		}
	}
	return nil
}

// Package docbuilder turns parsed sessions into the text documents stored in
// the search and tool input/output indexes.
package docbuilder

import (
	"strings"
	"unicode/utf8"

	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

const (
	// DefaultMaxSearchBytes caps one session's search document
	DefaultMaxSearchBytes = 512 * 1024

	// DefaultMaxToolIOBytes caps one session's tool-IO document
	DefaultMaxToolIOBytes = 256 * 1024

	// maxToolFieldBytes caps a single tool input or output
	maxToolFieldBytes = 8 * 1024
)

// Builder renders documents at fixed format versions. Bumping a version makes
// every stored document of that kind stale, so the next refresh rebuilds it.
type Builder struct {
	SearchFormatVersion int
	ToolIOFormatVersion int
	MaxSearchBytes      int
	MaxToolIOBytes      int
}

// New creates a Builder with default size caps
func New(searchVersion, toolIOVersion int) *Builder {
	return &Builder{
		SearchFormatVersion: searchVersion,
		ToolIOFormatVersion: toolIOVersion,
		MaxSearchBytes:      DefaultMaxSearchBytes,
		MaxToolIOBytes:      DefaultMaxToolIOBytes,
	}
}

// SearchDocument builds the full-text document for s
func (b *Builder) SearchDocument(s *types.Session) *storage.SearchDocument {
	return &storage.SearchDocument{
		Source:        s.Source,
		SessionID:     s.ID,
		ModTime:       s.ModTime,
		Size:          s.Size,
		Text:          b.SearchText(s),
		FormatVersion: b.SearchFormatVersion,
	}
}

// ToolIODocument builds the tool input/output document for s. A session with
// no tool traffic still gets a document so it counts as ready.
func (b *Builder) ToolIODocument(s *types.Session) *storage.ToolIODocument {
	return &storage.ToolIODocument{
		Source:        s.Source,
		SessionID:     s.ID,
		ModTime:       s.ModTime,
		Size:          s.Size,
		ReferenceTime: s.ReferenceTime(),
		Text:          b.ToolIOText(s),
		FormatVersion: b.ToolIOFormatVersion,
	}
}

// SearchText is a header of descriptive fields followed by conversation text.
// Meta entries and tool traffic are left out.
func (b *Builder) SearchText(s *types.Session) string {
	w := newCappedWriter(b.MaxSearchBytes)
	w.line(s.Title)
	w.line(s.RepoName)
	w.line(s.CWD)
	w.line(s.Model)

	for i := range s.Events {
		ev := &s.Events[i]
		if !ev.Kind.IsMessage() {
			continue
		}
		if !w.line(ev.Text) {
			break
		}
	}
	return w.String()
}

// ToolIOText lists each tool call as "name: input" and each result as its output
func (b *Builder) ToolIOText(s *types.Session) string {
	w := newCappedWriter(b.MaxToolIOBytes)
	for i := range s.Events {
		ev := &s.Events[i]
		var ok bool
		switch ev.Kind {
		case types.EventToolCall:
			entry := ev.ToolName
			if ev.ToolInput != "" {
				entry += ": " + truncateBytes(ev.ToolInput, maxToolFieldBytes)
			}
			ok = w.line(entry)
		case types.EventToolResult:
			ok = w.line(truncateBytes(ev.ToolOutput, maxToolFieldBytes))
		default:
			continue
		}
		if !ok {
			break
		}
	}
	return w.String()
}

// cappedWriter joins non-empty lines until the byte budget runs out
type cappedWriter struct {
	sb    strings.Builder
	limit int
}

func newCappedWriter(limit int) *cappedWriter {
	return &cappedWriter{limit: limit}
}

// line appends s on its own line and reports whether there is room for more
func (w *cappedWriter) line(s string) bool {
	s = strings.TrimSpace(s)
	if s == "" {
		return w.limit <= 0 || w.sb.Len() < w.limit
	}
	if w.limit > 0 {
		room := w.limit - w.sb.Len()
		if w.sb.Len() > 0 {
			room--
		}
		if room <= 0 {
			return false
		}
		s = truncateBytes(s, room)
	}
	if w.sb.Len() > 0 {
		w.sb.WriteByte('\n')
	}
	w.sb.WriteString(s)
	return w.limit <= 0 || w.sb.Len() < w.limit
}

func (w *cappedWriter) String() string {
	return w.sb.String()
}

// truncateBytes cuts s to at most n bytes without splitting a rune
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

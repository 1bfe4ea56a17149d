package docbuilder

import (
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sessionindex/pkg/types"
)

func sampleSession() *types.Session {
	end := time.Date(2025, 3, 10, 10, 0, 0, 0, time.UTC)
	return &types.Session{
		ID:       "s1",
		Source:   types.SourceClaude,
		FilePath: "/logs/s1.jsonl",
		ModTime:  end.Add(time.Minute),
		Size:     512,
		EndTime:  end,
		Title:    "Fix login",
		RepoName: "webapp",
		CWD:      "/src/webapp",
		Model:    "claude-sonnet-4",
		Events: []types.Event{
			{Kind: types.EventMeta, Text: "snapshot"},
			{Kind: types.EventUser, Text: "the login test is flaky"},
			{Kind: types.EventAssistant, Text: "  Let me run it.  "},
			{Kind: types.EventToolCall, ToolName: "Bash", ToolInput: `{"command":"npm test"}`},
			{Kind: types.EventToolResult, ToolOutput: "1 failing"},
			{Kind: types.EventAssistant, Text: ""},
		},
	}
}

func TestSearchDocument(t *testing.T) {
	b := New(3, 2)
	doc := b.SearchDocument(sampleSession())

	assert.Equal(t, types.SourceClaude, doc.Source)
	assert.Equal(t, "s1", doc.SessionID)
	assert.Equal(t, int64(512), doc.Size)
	assert.Equal(t, 3, doc.FormatVersion)
	assert.Equal(t, "Fix login\nwebapp\n/src/webapp\nclaude-sonnet-4\nthe login test is flaky\nLet me run it.", doc.Text)
	assert.NotContains(t, doc.Text, "snapshot")
	assert.NotContains(t, doc.Text, "npm test")
}

func TestToolIODocument(t *testing.T) {
	b := New(3, 2)
	s := sampleSession()
	doc := b.ToolIODocument(s)

	assert.Equal(t, 2, doc.FormatVersion)
	assert.True(t, doc.ReferenceTime.Equal(s.EndTime))
	assert.Equal(t, "Bash: {\"command\":\"npm test\"}\n1 failing", doc.Text)
}

func TestToolIODocument_NoTools(t *testing.T) {
	s := &types.Session{ID: "s", Source: types.SourceCodex, Events: []types.Event{{Kind: types.EventUser, Text: "hi"}}}
	doc := New(1, 1).ToolIODocument(s)
	require.NotNil(t, doc)
	assert.Empty(t, doc.Text)
}

func TestSearchText_Capped(t *testing.T) {
	b := New(1, 1)
	b.MaxSearchBytes = 64

	s := &types.Session{Title: "title"}
	for i := 0; i < 20; i++ {
		s.Events = append(s.Events, types.Event{Kind: types.EventUser, Text: strings.Repeat("é", 10)})
	}
	text := b.SearchText(s)
	assert.LessOrEqual(t, len(text), 64)
	assert.True(t, utf8.ValidString(text))
	assert.True(t, strings.HasPrefix(text, "title\n"))
}

func TestToolIOText_FieldCap(t *testing.T) {
	b := New(1, 1)
	s := &types.Session{Events: []types.Event{
		{Kind: types.EventToolResult, ToolOutput: strings.Repeat("x", 3*maxToolFieldBytes)},
	}}
	assert.Len(t, b.ToolIOText(s), maxToolFieldBytes)
}

func TestTruncateBytes(t *testing.T) {
	assert.Equal(t, "abc", truncateBytes("abc", 5))
	assert.Equal(t, "ab", truncateBytes("abc", 2))
	// "é" is two bytes; never split it
	assert.Equal(t, "a", truncateBytes("aé", 2))
	assert.Equal(t, "", truncateBytes("é", 1))
}

package sources

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/dshills/sessionindex/pkg/types"
)

// claudeEntry is one line of a Claude Code project transcript
type claudeEntry struct {
	Type      string         `json:"type"`
	Timestamp string         `json:"timestamp"`
	SessionID string         `json:"sessionId"`
	Cwd       string         `json:"cwd"`
	IsMeta    bool           `json:"isMeta"`
	Sidechain bool           `json:"isSidechain"`
	Summary   string         `json:"summary"`
	Message   *claudeMessage `json:"message"`
}

type claudeMessage struct {
	Role    string          `json:"role"`
	Model   string          `json:"model"`
	Content json.RawMessage `json:"content"`
}

// claudeBlock is one element of a structured message content array
type claudeBlock struct {
	Type    string          `json:"type"`
	Text    string          `json:"text"`
	Name    string          `json:"name"`
	Input   json.RawMessage `json:"input"`
	Content json.RawMessage `json:"content"`
}

// ParseClaude reads a Claude Code transcript. Files without a sessionId
// (snapshot-only or summary-only files) are not sessions. Sidechain entries
// belong to a subagent run and carry the parent's sessionId, so they are
// dropped; an agent-*.jsonl file made only of them is not a session.
func ParseClaude(ctx context.Context, path string) (*types.Session, error) {
	s := &types.Session{Source: types.SourceClaude, FilePath: path}
	var summary string

	err := scanLines(ctx, path, func(line []byte) {
		var entry claudeEntry
		if err := json.Unmarshal(line, &entry); err != nil || entry.Sidechain {
			return
		}
		if s.ID == "" && entry.SessionID != "" {
			s.ID = entry.SessionID
		}
		if s.CWD == "" && entry.Cwd != "" {
			s.CWD = entry.Cwd
		}
		if entry.Type == "summary" && entry.Summary != "" {
			summary = entry.Summary
			return
		}
		s.Events = append(s.Events, claudeEvents(&entry, s)...)
	})
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, nil
	}

	s.RepoName = repoName(s.CWD)
	if summary != "" {
		s.Title = truncate(summary, titleMaxRunes)
	} else {
		s.Title = firstUserText(s.Events)
	}
	s.Span()
	s.CountEvents()
	return s, nil
}

// claudeEvents converts one entry. Text blocks of one message collapse into a
// single event; every tool_use and tool_result block is its own event.
func claudeEvents(entry *claudeEntry, s *types.Session) []types.Event {
	ts := parseTimestamp(entry.Timestamp)

	if entry.Message == nil || (entry.Type != "user" && entry.Type != "assistant") {
		return []types.Event{{Kind: types.EventMeta, Timestamp: ts, Role: entry.Type}}
	}

	msg := entry.Message
	if entry.Type == "assistant" && msg.Model != "" && !strings.HasPrefix(msg.Model, "<") {
		s.Model = msg.Model
	}

	textKind := types.EventUser
	if entry.Type == "assistant" {
		textKind = types.EventAssistant
	}
	if entry.IsMeta {
		textKind = types.EventMeta
	}

	// Plain string content
	var plain string
	if err := json.Unmarshal(msg.Content, &plain); err == nil {
		return []types.Event{{Kind: textKind, Timestamp: ts, Role: msg.Role, Text: plain}}
	}

	var blocks []claudeBlock
	if err := json.Unmarshal(msg.Content, &blocks); err != nil {
		return []types.Event{{Kind: types.EventMeta, Timestamp: ts, Role: msg.Role}}
	}

	var texts []string
	var tools []types.Event
	for _, b := range blocks {
		switch b.Type {
		case "text":
			if b.Text != "" {
				texts = append(texts, b.Text)
			}
		case "tool_use":
			tools = append(tools, types.Event{
				Kind:      types.EventToolCall,
				Timestamp: ts,
				Role:      msg.Role,
				ToolName:  b.Name,
				ToolInput: compactJSON(b.Input),
			})
		case "tool_result":
			tools = append(tools, types.Event{
				Kind:       types.EventToolResult,
				Timestamp:  ts,
				Role:       msg.Role,
				ToolOutput: toolResultText(b.Content),
			})
		}
	}

	var events []types.Event
	if len(texts) > 0 {
		events = append(events, types.Event{
			Kind: textKind, Timestamp: ts, Role: msg.Role, Text: strings.Join(texts, "\n"),
		})
	}
	return append(events, tools...)
}

// toolResultText flattens tool_result content, a string or a block array
func toolResultText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		return plain
	}
	var blocks []claudeBlock
	if err := json.Unmarshal(raw, &blocks); err != nil {
		return ""
	}
	var parts []string
	for _, b := range blocks {
		if b.Type == "text" && b.Text != "" {
			parts = append(parts, b.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func compactJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var v interface{}
	if err := json.Unmarshal(raw, &v); err != nil {
		return string(raw)
	}
	out, err := json.Marshal(v)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// firstUserText picks the first user prompt that is not injected context
func firstUserText(events []types.Event) string {
	for _, ev := range events {
		if ev.Kind != types.EventUser {
			continue
		}
		text := strings.TrimSpace(ev.Text)
		if text == "" || strings.HasPrefix(text, "<") {
			continue
		}
		return truncate(text, titleMaxRunes)
	}
	return ""
}

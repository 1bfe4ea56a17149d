package sources

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/dshills/sessionindex/pkg/types"
)

// codexLine is one rollout entry: a typed envelope around a payload
type codexLine struct {
	Timestamp string          `json:"timestamp"`
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload"`
}

type codexPayload struct {
	Type string `json:"type"`

	// session_meta
	ID        string `json:"id"`
	Cwd       string `json:"cwd"`
	Timestamp string `json:"timestamp"`

	// turn_context
	Model string `json:"model"`

	// response_item message
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`

	// response_item function_call / custom_tool_call and their outputs
	Name      string          `json:"name"`
	Arguments string          `json:"arguments"`
	Input     string          `json:"input"`
	Output    json.RawMessage `json:"output"`

	// event_msg error
	Message string `json:"message"`
}

type codexContent struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// ParseCodex reads a Codex CLI rollout file. Files without a session_meta id
// are not sessions.
func ParseCodex(ctx context.Context, path string) (*types.Session, error) {
	s := &types.Session{Source: types.SourceCodex, FilePath: path}

	err := scanLines(ctx, path, func(line []byte) {
		var entry codexLine
		if err := json.Unmarshal(line, &entry); err != nil {
			return
		}
		var p codexPayload
		if len(entry.Payload) > 0 {
			if err := json.Unmarshal(entry.Payload, &p); err != nil {
				return
			}
		}
		ts := parseTimestamp(entry.Timestamp)

		switch entry.Type {
		case "session_meta":
			if s.ID == "" {
				s.ID = p.ID
			}
			if s.CWD == "" {
				s.CWD = p.Cwd
			}
			if ts == nil {
				ts = parseTimestamp(p.Timestamp)
			}
			s.Events = append(s.Events, types.Event{Kind: types.EventMeta, Timestamp: ts, Role: entry.Type})
		case "turn_context":
			if p.Model != "" {
				s.Model = p.Model
			}
			if s.CWD == "" {
				s.CWD = p.Cwd
			}
			s.Events = append(s.Events, types.Event{Kind: types.EventMeta, Timestamp: ts, Role: entry.Type})
		case "response_item":
			if ev, ok := codexResponseEvent(&p, ts); ok {
				s.Events = append(s.Events, ev)
			}
		case "event_msg":
			// Mostly mirrors response items; only errors carry new information
			if p.Type == "error" {
				s.Events = append(s.Events, types.Event{Kind: types.EventError, Timestamp: ts, Text: p.Message})
			}
		}
	})
	if err != nil {
		return nil, err
	}
	if s.ID == "" {
		return nil, nil
	}

	s.RepoName = repoName(s.CWD)
	s.Title = firstUserText(s.Events)
	s.Span()
	s.CountEvents()
	return s, nil
}

// codexResponseEvent converts a response_item payload. Reasoning items and
// unknown types produce no event.
func codexResponseEvent(p *codexPayload, ts *time.Time) (types.Event, bool) {
	switch p.Type {
	case "message":
		text := codexText(p.Content)
		switch p.Role {
		case "user":
			// Injected environment and instructions blocks are not prompts
			if strings.Contains(text, "<environment_context>") || strings.Contains(text, "<user_instructions>") {
				return types.Event{Kind: types.EventMeta, Timestamp: ts, Role: p.Role, Text: text}, true
			}
			return types.Event{Kind: types.EventUser, Timestamp: ts, Role: p.Role, Text: text}, true
		case "assistant":
			return types.Event{Kind: types.EventAssistant, Timestamp: ts, Role: p.Role, Text: text}, true
		default:
			return types.Event{Kind: types.EventMeta, Timestamp: ts, Role: p.Role, Text: text}, true
		}
	case "function_call", "custom_tool_call", "local_shell_call":
		input := p.Arguments
		if input == "" {
			input = p.Input
		}
		return types.Event{Kind: types.EventToolCall, Timestamp: ts, ToolName: p.Name, ToolInput: input}, true
	case "function_call_output", "custom_tool_call_output":
		return types.Event{Kind: types.EventToolResult, Timestamp: ts, ToolOutput: codexOutput(p.Output)}, true
	default:
		return types.Event{}, false
	}
}

func codexText(raw json.RawMessage) string {
	var content []codexContent
	if err := json.Unmarshal(raw, &content); err != nil {
		var plain string
		_ = json.Unmarshal(raw, &plain)
		return plain
	}
	var parts []string
	for _, c := range content {
		switch c.Type {
		case "input_text", "output_text", "text":
			if c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
	}
	return strings.Join(parts, "\n")
}

// codexOutput unwraps function output, which is a plain string or an object
// with an "output" field
func codexOutput(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var plain string
	if err := json.Unmarshal(raw, &plain); err == nil {
		var wrapped struct {
			Output string `json:"output"`
		}
		if strings.HasPrefix(strings.TrimSpace(plain), "{") && json.Unmarshal([]byte(plain), &wrapped) == nil && wrapped.Output != "" {
			return wrapped.Output
		}
		return plain
	}
	var wrapped struct {
		Output string `json:"output"`
	}
	if err := json.Unmarshal(raw, &wrapped); err == nil {
		return wrapped.Output
	}
	return string(raw)
}

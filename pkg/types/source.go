package types

import (
	"fmt"
	"strings"
)

// Source identifies one supported agent CLI whose transcript logs are indexed.
// The set is closed; configuration strings are parsed into a Source once at startup.
type Source uint8

const (
	SourceCodex Source = iota + 1
	SourceClaude
	SourceGemini
	SourceOpenCode
	SourceCopilot
	SourceDroid
)

var sourceNames = map[Source]string{
	SourceCodex:    "codex",
	SourceClaude:   "claude",
	SourceGemini:   "gemini",
	SourceOpenCode: "opencode",
	SourceCopilot:  "copilot",
	SourceDroid:    "droid",
}

// AllSources returns every known source in declaration order
func AllSources() []Source {
	return []Source{SourceCodex, SourceClaude, SourceGemini, SourceOpenCode, SourceCopilot, SourceDroid}
}

// String returns the persisted tag for the source
func (s Source) String() string {
	if name, ok := sourceNames[s]; ok {
		return name
	}
	return fmt.Sprintf("source(%d)", uint8(s))
}

// Valid reports whether s is one of the declared sources
func (s Source) Valid() bool {
	_, ok := sourceNames[s]
	return ok
}

// ParseSource converts a configuration or storage tag into a Source
func ParseSource(name string) (Source, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for src, tag := range sourceNames {
		if tag == name {
			return src, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownSource, name)
}

// ParseSources converts a list of tags, rejecting unknown names and dropping duplicates
func ParseSources(names []string) ([]Source, error) {
	seen := make(map[Source]struct{}, len(names))
	out := make([]Source, 0, len(names))
	for _, name := range names {
		src, err := ParseSource(name)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[src]; ok {
			continue
		}
		seen[src] = struct{}{}
		out = append(out, src)
	}
	return out, nil
}

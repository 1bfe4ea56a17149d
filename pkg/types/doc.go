// Package types provides shared type definitions for the session index.
//
// This package defines the domain types used across sources, the indexer,
// storage and the query surface.
//
// # Core Types
//
// Session is a normalized conversation parsed from one agent log file. Its
// Events are kept in file order and may carry no timestamp:
//
//	s := &types.Session{
//	    ID:       "0b6f...",
//	    Source:   types.SourceClaude,
//	    FilePath: "/home/me/.claude/projects/app/0b6f.jsonl",
//	}
//	s.Span()
//	s.CountEvents()
//
// Source is a closed enum of agent CLIs. Configuration strings are parsed
// once with ParseSource; nothing compares source names at run time.
//
// DayRollupRow is one session's statistics for one calendar day.
//
// # Errors
//
// DiscoveryError, ParseError, StatError, CommitError and PruneError wrap
// their cause and are checked with errors.As. None of them stops a run.
package types

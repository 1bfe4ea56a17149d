package storage

import (
	"context"
	"time"

	"github.com/dshills/sessionindex/pkg/types"
)

// Storage defines the interface for persisting and querying the session index
type Storage interface {
	// File state operations
	UpsertFile(ctx context.Context, file *FileRecord) error
	FetchFileRecords(ctx context.Context, source types.Source) (map[string]*FileRecord, error)

	// Session metadata operations
	UpsertSessionMeta(ctx context.Context, meta *SessionMeta) error
	GetSessionMeta(ctx context.Context, source types.Source, sessionID string) (*SessionMeta, error)
	FetchKnownMetaPaths(ctx context.Context, source types.Source) (map[string]time.Time, error)
	EvictPathOwners(ctx context.Context, source types.Source, path, keepSessionID string) (affectedDays []string, err error)

	// Document operations
	UpsertSearchDocument(ctx context.Context, doc *SearchDocument) error
	UpsertToolIODocument(ctx context.Context, doc *ToolIODocument) error
	DeleteToolIODocument(ctx context.Context, source types.Source, sessionID string) error
	FetchSearchReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error)
	FetchToolIOReadyPaths(ctx context.Context, source types.Source, formatVersion int) (map[string]struct{}, error)

	// Rollup operations
	ReplaceDayRows(ctx context.Context, source types.Source, sessionID string, rows []types.DayRollupRow) (touchedDays []string, err error)
	RecomputeRollup(ctx context.Context, day string, source types.Source) error
	ListDayRows(ctx context.Context, source types.Source, sessionID string) ([]types.DayRollupRow, error)
	ListRollups(ctx context.Context, filter RollupFilter) ([]*Rollup, error)

	// Removal operations
	DeleteSessionsForPaths(ctx context.Context, source types.Source, paths []string) (affectedDays []string, err error)
	PurgeSource(ctx context.Context, source types.Source) error

	// Retention operations
	PruneToolIOBefore(ctx context.Context, cutoff time.Time) (int, error)
	PruneToolIOToByteCap(ctx context.Context, maxBytes int64) (int, error)
	ToolIOStats(ctx context.Context, cutoff time.Time) (*ToolIOStats, error)

	// Search operations
	SearchSessions(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error)
	SearchToolIO(ctx context.Context, query string, filters *SearchFilters) ([]SearchHit, error)

	// Status operations
	GetStatus(ctx context.Context) (*IndexStatus, error)

	// Database operations
	Close() error
	BeginTx(ctx context.Context) (Tx, error)
}

// Tx represents a database transaction
type Tx interface {
	Commit() error
	Rollback() error
	Storage // Embed Storage interface for transaction operations
}

// FileRecord is the indexed state of one discovered file. It is the sole
// source of truth for change detection and for noticing a file disappeared.
type FileRecord struct {
	Source    types.Source
	Path      string
	SessionID string // Session the file produced when it was indexed
	ModTime   time.Time
	Size      int64
	IndexedAt time.Time

	// ReferenceTime of SessionID, filled on fetch. Zero when the session has
	// no metadata row.
	ReferenceTime time.Time
}

// SessionMeta holds the scalar fields of a session
type SessionMeta struct {
	Source        types.Source
	SessionID     string
	Path          string
	ModTime       time.Time
	Size          int64
	StartTime     time.Time
	EndTime       time.Time
	ReferenceTime time.Time
	Model         string
	CWD           string
	RepoName      string
	Title         string
	MessageCount  int
	CommandCount  int
	UpdatedAt     time.Time
}

// SearchDocument is the full-text blob used for session search
type SearchDocument struct {
	Source        types.Source
	SessionID     string
	ModTime       time.Time
	Size          int64
	Text          string
	FormatVersion int
}

// ToolIODocument holds tool-call input/output text for recent sessions
type ToolIODocument struct {
	Source        types.Source
	SessionID     string
	ModTime       time.Time
	Size          int64
	ReferenceTime time.Time
	Text          string
	FormatVersion int
}

// Rollup is the per-day, per-source aggregate of DayRollupRows
type Rollup struct {
	Day             string
	Source          types.Source
	Sessions        int
	Messages        int
	Commands        int
	DurationSeconds int64
	UpdatedAt       time.Time
}

// RollupFilter narrows ListRollups. Empty fields match everything.
type RollupFilter struct {
	Sources []types.Source
	FromDay string // Inclusive, types.DayLayout
	ToDay   string // Inclusive, types.DayLayout
}

// SearchFilters contains filters for narrowing search results
type SearchFilters struct {
	Sources []types.Source
	Since   time.Time // Only sessions whose reference time is at or after this
	Limit   int
}

// SearchHit is one session matched by a full-text query
type SearchHit struct {
	Source    types.Source
	SessionID string
	Path      string
	Title     string
	Snippet   string
	Score     float64 // BM25, lower is better
	Reference time.Time
}

// ToolIOStats summarizes the tool-IO table for retention decisions
type ToolIOStats struct {
	Documents      int
	TotalBytes     int64
	OlderThanCount int // Documents whose reference time is before the cutoff
}

// IndexStatus contains statistics about the index
type IndexStatus struct {
	Sources       []SourceStatus
	ToolIOBytes   int64
	IndexSizeMB   float64
	SchemaVersion string
}

// SourceStatus contains per-source counts
type SourceStatus struct {
	Source          types.Source
	Files           int
	Sessions        int
	SearchDocuments int
	ToolIODocuments int
	LastIndexedAt   time.Time
}

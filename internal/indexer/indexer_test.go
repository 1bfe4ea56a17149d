package indexer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// day1 09:00 UTC is the start of every fixture session
var day1 = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func at(t time.Time) *time.Time { return &t }

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fixture is a directory of fake session files with an instrumented parser
type fixture struct {
	t     testing.TB
	dir   string
	store *storage.SQLiteStorage
	clock *fakeClock

	mu       sync.Mutex
	sessions map[string]*types.Session
	parseErr map[string]error

	parseCalls atomic.Int32
	live       atomic.Int32
	maxLive    atomic.Int32
	parseDelay time.Duration
	gate       chan struct{} // When set, parsing blocks until it is closed
	entered    chan struct{} // Signalled on every parse call when set
}

func newFixture(t testing.TB) *fixture {
	t.Helper()
	store, err := storage.NewSQLiteStorage(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	return &fixture{
		t:        t,
		dir:      t.TempDir(),
		store:    store,
		clock:    &fakeClock{now: day1.Add(9 * time.Hour)},
		sessions: make(map[string]*types.Session),
		parseErr: make(map[string]error),
	}
}

// standardEvents is a user prompt, a tool call and an assistant reply spanning one hour
func standardEvents(start time.Time) []types.Event {
	return []types.Event{
		{Kind: types.EventUser, Timestamp: at(start), Text: "refactor the parser"},
		{Kind: types.EventToolCall, ToolName: "bash", ToolInput: "go test ./..."},
		{Kind: types.EventAssistant, Timestamp: at(start.Add(time.Hour)), Text: "done"},
	}
}

// addFile writes name with an mtime an hour before the clock and registers
// the session the parser returns for it
func (f *fixture) addFile(name, id string, events []types.Event) string {
	f.t.Helper()
	path := filepath.Join(f.dir, name)
	require.NoError(f.t, os.WriteFile(path, []byte(strings.Repeat("{}\n", 4)), 0o644))
	f.touch(path, f.clock.Now().Add(-time.Hour))

	f.mu.Lock()
	defer f.mu.Unlock()
	if id != "" {
		f.sessions[path] = &types.Session{ID: id, Model: "opus", Title: "session " + id, Events: events}
	}
	return path
}

// rewrite grows the file and moves its mtime
func (f *fixture) rewrite(path string, mtime time.Time) {
	f.t.Helper()
	fh, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(f.t, err)
	_, err = fh.WriteString("{}\n")
	require.NoError(f.t, err)
	require.NoError(f.t, fh.Close())
	f.touch(path, mtime)
}

func (f *fixture) touch(path string, mtime time.Time) {
	f.t.Helper()
	require.NoError(f.t, os.Chtimes(path, mtime, mtime))
}

func (f *fixture) parse(ctx context.Context, path string) (*types.Session, error) {
	f.parseCalls.Add(1)
	n := f.live.Add(1)
	defer f.live.Add(-1)
	for {
		max := f.maxLive.Load()
		if n <= max || f.maxLive.CompareAndSwap(max, n) {
			break
		}
	}
	if f.entered != nil {
		f.entered <- struct{}{}
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.parseDelay > 0 {
		time.Sleep(f.parseDelay)
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.parseErr[path]; err != nil {
		return nil, err
	}
	tmpl, ok := f.sessions[path]
	if !ok {
		return nil, nil
	}
	s := *tmpl
	s.Events = append([]types.Event(nil), tmpl.Events...)
	return &s, nil
}

func (f *fixture) adapter(appendOnly bool) sources.Adapter {
	return sources.Adapter{
		Source: types.SourceClaude,
		Discovery: sources.DiscoveryFunc(func(ctx context.Context) ([]string, error) {
			return filepath.Glob(filepath.Join(f.dir, "*.jsonl"))
		}),
		Parser:     sources.ParserFunc(f.parse),
		AppendOnly: appendOnly,
	}
}

func (f *fixture) indexer(store storage.Storage, adapter sources.Adapter, cfg Config, opts ...Option) *Indexer {
	f.t.Helper()
	if cfg.Sources == nil {
		cfg.Sources = []types.Source{adapter.Source}
	}
	cfg.Location = time.UTC
	opts = append([]Option{WithClock(f.clock.Now)}, opts...)
	idx := New(store, sources.NewRegistry(adapter), cfg, opts...)
	f.t.Cleanup(idx.Close)
	return idx
}

func defaultTestConfig() Config {
	cfg := DefaultConfig()
	cfg.Sources = nil
	return cfg
}

func (f *fixture) rollup(day string) *storage.Rollup {
	f.t.Helper()
	rollups, err := f.store.ListRollups(context.Background(), storage.RollupFilter{FromDay: day, ToDay: day})
	require.NoError(f.t, err)
	if len(rollups) == 0 {
		return nil
	}
	require.Len(f.t, rollups, 1)
	return rollups[0]
}

// countingStore counts transactions
type countingStore struct {
	storage.Storage
	begins atomic.Int32
}

func (c *countingStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	c.begins.Add(1)
	return c.Storage.BeginTx(ctx)
}

// faultyStore fails rollup writes for one session, midway through its commit
type faultyStore struct {
	storage.Storage
	failSession string
}

func (f *faultyStore) BeginTx(ctx context.Context) (storage.Tx, error) {
	tx, err := f.Storage.BeginTx(ctx)
	if err != nil {
		return nil, err
	}
	return &faultyTx{Tx: tx, failSession: f.failSession}, nil
}

type faultyTx struct {
	storage.Tx
	failSession string
}

func (f *faultyTx) ReplaceDayRows(ctx context.Context, source types.Source, sessionID string, rows []types.DayRollupRow) ([]string, error) {
	if sessionID == f.failSession {
		return nil, errors.New("disk I/O error")
	}
	return f.Tx.ReplaceDayRows(ctx, source, sessionID, rows)
}

func TestNew_Defaults(t *testing.T) {
	f := newFixture(t)
	idx := New(f.store, sources.NewRegistry(), Config{})

	assert.Equal(t, 8, idx.config.BatchSize)
	assert.Equal(t, 8, idx.config.Concurrency)
	assert.Equal(t, 30*24*time.Hour, idx.config.ToolIORecency)
	assert.Equal(t, 1, idx.config.SearchFormatVersion)
	assert.Equal(t, []types.Source{types.SourceClaude, types.SourceCodex}, idx.config.Sources)
	assert.Equal(t, PhaseIdle, idx.Progress().Phase)
	idx.Close()
}

func TestRefresh_IndexesSessions(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.addFile("b.jsonl", "b", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.NotEmpty(t, stats.RunID)
	assert.Equal(t, KindRefresh, stats.Kind)
	assert.Equal(t, 2, stats.FilesDiscovered)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesFailed)
	assert.Empty(t, stats.ErrorMessages)

	meta, err := f.store.GetSessionMeta(ctx, types.SourceClaude, "a")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "a.jsonl"), meta.Path)
	assert.Equal(t, 2, meta.MessageCount)
	assert.Equal(t, 1, meta.CommandCount)
	assert.True(t, meta.ReferenceTime.Equal(day1.Add(time.Hour)))

	r := f.rollup("2025-03-10")
	require.NotNil(t, r)
	assert.Equal(t, 2, r.Sessions)
	assert.Equal(t, 4, r.Messages)
	assert.Equal(t, 2, r.Commands)
	assert.Equal(t, int64(7200), r.DurationSeconds)

	hits, err := f.store.SearchSessions(ctx, "refactor parser", nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)

	hits, err = f.store.SearchToolIO(ctx, "go test", nil)
	require.NoError(t, err)
	assert.Len(t, hits, 2)
}

func TestRefresh_Idempotent(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.addFile("b.jsonl", "b", standardEvents(day1))
	store := &countingStore{Storage: f.store}
	idx := f.indexer(store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)
	require.Positive(t, store.begins.Load())
	before := f.rollup("2025-03-10")

	store.begins.Store(0)
	calls := f.parseCalls.Load()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, int32(0), store.begins.Load(), "no-change refresh must not open a transaction")
	assert.Equal(t, calls, f.parseCalls.Load())
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 2, stats.FilesSkipped)
	assert.Equal(t, before.Messages, f.rollup("2025-03-10").Messages)
}

func TestRefresh_Incremental(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	b := f.addFile("b.jsonl", "b", standardEvents(day1))
	f.addFile("c.jsonl", "c", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	// b now continues into the next day
	f.mu.Lock()
	f.sessions[b].Events = append(f.sessions[b].Events,
		types.Event{Kind: types.EventUser, Timestamp: at(day1.Add(24 * time.Hour)), Text: "one more thing"})
	f.mu.Unlock()
	f.rewrite(b, f.clock.Now().Add(-10*time.Minute))

	calls := f.parseCalls.Load()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 2, stats.FilesSkipped)
	assert.Equal(t, calls+1, f.parseCalls.Load())

	meta, err := f.store.GetSessionMeta(ctx, types.SourceClaude, "b")
	require.NoError(t, err)
	assert.Equal(t, 3, meta.MessageCount)

	next := f.rollup("2025-03-11")
	require.NotNil(t, next)
	assert.Equal(t, 1, next.Sessions)
	assert.Equal(t, 1, next.Messages)
	assert.Equal(t, 3, f.rollup("2025-03-10").Sessions)
}

func TestRefresh_Deletion(t *testing.T) {
	f := newFixture(t)
	a := f.addFile("a.jsonl", "a", standardEvents(day1))
	b := f.addFile("b.jsonl", "b", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(a))
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)

	_, err = f.store.GetSessionMeta(ctx, types.SourceClaude, "a")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	r := f.rollup("2025-03-10")
	require.NotNil(t, r)
	assert.Equal(t, 1, r.Sessions)
	assert.Equal(t, 2, r.Messages)

	require.NoError(t, os.Remove(b))
	_, err = idx.Refresh(ctx)
	require.NoError(t, err)

	// The day keeps an explicit zero row
	r = f.rollup("2025-03-10")
	require.NotNil(t, r)
	assert.Equal(t, 0, r.Sessions)
	assert.Equal(t, 0, r.Messages)
	assert.Equal(t, 0, r.Commands)
	assert.Equal(t, int64(0), r.DurationSeconds)

	records, err := f.store.FetchFileRecords(ctx, types.SourceClaude)
	require.NoError(t, err)
	assert.Empty(t, records)

	hits, err := f.store.SearchSessions(ctx, "parser", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestRefresh_CommitFailureIsAtomic(t *testing.T) {
	f := newFixture(t)
	f.addFile("good.jsonl", "good", standardEvents(day1))
	f.addFile("bad.jsonl", "bad", standardEvents(day1))
	store := &faultyStore{Storage: f.store, failSession: "bad"}
	idx := f.indexer(store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "bad")

	// Nothing from the failed unit is visible
	_, err = f.store.GetSessionMeta(ctx, types.SourceClaude, "bad")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	records, err := f.store.FetchFileRecords(ctx, types.SourceClaude)
	require.NoError(t, err)
	assert.Len(t, records, 1)
	assert.Equal(t, 1, f.rollup("2025-03-10").Sessions)
	hits, err := f.store.SearchSessions(ctx, "bad", nil)
	require.NoError(t, err)
	assert.Empty(t, hits)

	// The failed file is retried once the fault clears
	store.failSession = ""
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)
	assert.Equal(t, 2, f.rollup("2025-03-10").Sessions)
}

func TestRefresh_HotFileThrottle(t *testing.T) {
	f := newFixture(t)
	path := f.addFile("live.jsonl", "live", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(true), defaultTestConfig())
	ctx := context.Background()

	// Written a second ago: mid-write, skipped
	f.touch(path, f.clock.Now().Add(-time.Second))
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)

	// Hot but never indexed: indexed
	f.touch(path, f.clock.Now().Add(-10*time.Second))
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)

	// Still hot and indexed 10s ago: throttled
	f.clock.Advance(10 * time.Second)
	f.rewrite(path, f.clock.Now().Add(-5*time.Second))
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesSkipped)

	// Hot but the last index is older than the reindex period: reparsed
	f.clock.Advance(25 * time.Second)
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestRefresh_ConcurrencyBound(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 24; i++ {
		name := string(rune('a'+i)) + ".jsonl"
		f.addFile(name, name, standardEvents(day1))
	}
	f.parseDelay = 10 * time.Millisecond

	cfg := defaultTestConfig()
	cfg.Concurrency = 3
	cfg.BatchSize = 8
	idx := f.indexer(f.store, f.adapter(false), cfg)

	stats, err := idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 24, stats.FilesIndexed)
	assert.LessOrEqual(t, f.maxLive.Load(), int32(3))
	assert.Positive(t, f.maxLive.Load())
}

func TestRefresh_ParseFailuresAndNonSessions(t *testing.T) {
	f := newFixture(t)
	f.addFile("ok.jsonl", "ok", standardEvents(day1))
	broken := f.addFile("broken.jsonl", "broken", standardEvents(day1))
	empty := f.addFile("empty.jsonl", "", nil)
	f.parseErr[broken] = errors.New("unexpected end of JSON input")
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 1, stats.NotSessions)
	require.Len(t, stats.ErrorMessages, 1)
	assert.Contains(t, stats.ErrorMessages[0], "broken.jsonl")

	records, err := f.store.FetchFileRecords(ctx, types.SourceClaude)
	require.NoError(t, err)
	assert.Len(t, records, 1)

	// The failure is retried; the unchanged non-session is not parsed again
	calls := f.parseCalls.Load()
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls+1, f.parseCalls.Load())
	assert.Equal(t, 1, stats.FilesFailed)
	assert.Equal(t, 0, stats.NotSessions)
	assert.Equal(t, 2, stats.FilesSkipped)

	// Once it grows it is looked at again
	f.rewrite(empty, f.clock.Now().Add(-time.Minute))
	calls = f.parseCalls.Load()
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, calls+2, f.parseCalls.Load())
	assert.Equal(t, 1, stats.NotSessions)
}

func TestRefresh_HotFileWithoutSessionIsThrottled(t *testing.T) {
	f := newFixture(t)
	path := f.addFile("starting.jsonl", "", nil)
	f.touch(path, f.clock.Now().Add(-10*time.Second))
	idx := f.indexer(f.store, f.adapter(true), defaultTestConfig())
	ctx := context.Background()

	// A live agent keeps appending lines that do not make a session yet
	for i := 0; i < 4; i++ {
		f.rewrite(path, f.clock.Now().Add(-10*time.Second))
		_, err := idx.Refresh(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, int32(1), f.parseCalls.Load())

	// Past the reindex period it is attempted again
	f.clock.Advance(30 * time.Second)
	f.rewrite(path, f.clock.Now().Add(-10*time.Second))
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, int32(2), f.parseCalls.Load())
}

func TestRefresh_HotFileFailingToParseIsThrottled(t *testing.T) {
	f := newFixture(t)
	path := f.addFile("torn.jsonl", "torn", standardEvents(day1))
	f.parseErr[path] = errors.New("unexpected end of JSON input")
	idx := f.indexer(f.store, f.adapter(true), defaultTestConfig())
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		f.rewrite(path, f.clock.Now().Add(-10*time.Second))
		_, err := idx.Refresh(ctx)
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	assert.Equal(t, int32(1), f.parseCalls.Load())

	// A full build forgets earlier attempts
	f.mu.Lock()
	delete(f.parseErr, path)
	f.mu.Unlock()
	stats, err := idx.FullBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesIndexed)
	assert.Equal(t, 0, idx.attempts.size())
}

func TestRefresh_SharedSessionIDIsIdempotent(t *testing.T) {
	f := newFixture(t)
	// A subagent log that still yields its parent's session
	f.addFile("a.jsonl", "same", standardEvents(day1))
	agent := f.addFile("agent-x.jsonl", "same", standardEvents(day1))
	store := &countingStore{Storage: f.store}
	idx := f.indexer(store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, f.rollup("2025-03-10").Sessions)

	for i := 0; i < 2; i++ {
		store.begins.Store(0)
		calls := f.parseCalls.Load()
		stats, err := idx.Refresh(ctx)
		require.NoError(t, err)
		assert.Equal(t, int32(0), store.begins.Load(), "no-change refresh must not open a transaction")
		assert.Equal(t, calls, f.parseCalls.Load())
		assert.Equal(t, 2, stats.FilesSkipped)
		assert.Equal(t, 0, stats.FilesIndexed)
	}

	// Removing the file the metadata points at leaves the session to the other one
	require.NoError(t, os.Remove(agent))
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesRemoved)
	assert.Equal(t, 1, stats.FilesIndexed)

	meta, err := f.store.GetSessionMeta(ctx, types.SourceClaude, "same")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(f.dir, "a.jsonl"), meta.Path)
	assert.Equal(t, 1, f.rollup("2025-03-10").Sessions)

	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped)
}

func TestRefresh_DiscoveryErrorKeepsIndex(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	var failing atomic.Bool
	adapter := f.adapter(false)
	discover := adapter.Discovery
	adapter.Discovery = sources.DiscoveryFunc(func(ctx context.Context) ([]string, error) {
		if failing.Load() {
			return nil, os.ErrPermission
		}
		return discover.Discover(ctx)
	})
	idx := f.indexer(f.store, adapter, defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	failing.Store(true)
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourcesFailed)
	assert.Equal(t, 0, stats.FilesRemoved)

	_, err = f.store.GetSessionMeta(ctx, types.SourceClaude, "a")
	assert.NoError(t, err)
}

func TestRefresh_MissingAdapterSkipsSource(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	cfg := defaultTestConfig()
	cfg.Sources = []types.Source{types.SourceGemini, types.SourceClaude}
	idx := f.indexer(f.store, f.adapter(false), cfg)

	stats, err := idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.SourcesFailed)
	assert.Equal(t, 1, stats.FilesIndexed)
}

func TestRefresh_SessionMovesPath(t *testing.T) {
	f := newFixture(t)
	old := f.addFile("old.jsonl", "s1", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	// The file now holds a different conversation
	f.mu.Lock()
	f.sessions[old] = &types.Session{ID: "s2", Events: standardEvents(day1.Add(48 * time.Hour))}
	f.mu.Unlock()
	f.rewrite(old, f.clock.Now().Add(-time.Minute))

	_, err = idx.Refresh(ctx)
	require.NoError(t, err)

	_, err = f.store.GetSessionMeta(ctx, types.SourceClaude, "s1")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	assert.Equal(t, 0, f.rollup("2025-03-10").Sessions)
	assert.Equal(t, 1, f.rollup("2025-03-12").Sessions)
}

func TestFullBuild_Reindexes(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.addFile("b.jsonl", "b", standardEvents(day1))
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	stats, err := idx.FullBuild(ctx)
	require.NoError(t, err)
	assert.Equal(t, KindFullBuild, stats.Kind)
	assert.Equal(t, 2, stats.FilesIndexed)
	assert.Equal(t, 0, stats.FilesSkipped)
	assert.Equal(t, 2, f.rollup("2025-03-10").Sessions)
}

func TestRefresh_ToolIORetention(t *testing.T) {
	f := newFixture(t)
	f.addFile("recent.jsonl", "recent", standardEvents(day1))
	f.addFile("old.jsonl", "old", standardEvents(day1.Add(-60*24*time.Hour)))
	store := &countingStore{Storage: f.store}
	idx := f.indexer(store, f.adapter(false), defaultTestConfig())

	ctx := context.Background()
	_, err := idx.Refresh(ctx)
	require.NoError(t, err)

	hits, err := f.store.SearchToolIO(ctx, "test", nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "recent", hits[0].SessionID)

	// The old session is up to date without a tool-IO document
	store.begins.Store(0)
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.FilesSkipped)
	assert.Equal(t, int32(0), store.begins.Load())
}

func TestRefresh_ToolIOByteCap(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.addFile("b.jsonl", "b", standardEvents(day1.Add(time.Minute)))
	cfg := defaultTestConfig()
	cfg.ToolIOMaxBytes = 20
	store := &countingStore{Storage: f.store}
	idx := f.indexer(store, f.adapter(false), cfg)

	ctx := context.Background()
	stats, err := idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.ToolIOPruned)

	toolStats, err := f.store.ToolIOStats(ctx, time.Time{})
	require.NoError(t, err)
	assert.LessOrEqual(t, toolStats.TotalBytes, int64(20))

	hits, err := f.store.SearchToolIO(ctx, "test", nil)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "b", hits[0].SessionID)

	// Capped sessions are not reparsed
	store.begins.Store(0)
	stats, err = idx.Refresh(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.FilesIndexed)
	assert.Equal(t, int32(0), store.begins.Load())
}

func TestRefresh_CallerCancelDoesNotAbortRun(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 16)
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := idx.Refresh(ctx)
		errc <- err
	}()

	<-f.entered
	p := idx.Progress()
	assert.True(t, p.Running)
	assert.Equal(t, PhaseIndex, p.Phase)
	assert.Equal(t, types.SourceClaude, p.Source)
	assert.Equal(t, 1, p.Total)

	cancel()
	assert.ErrorIs(t, <-errc, context.Canceled)

	// The abandoned run still commits
	close(f.gate)
	stats, err := idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, stats.FilesSkipped)

	_, err = f.store.GetSessionMeta(context.Background(), types.SourceClaude, "a")
	assert.NoError(t, err)

	p = idx.Progress()
	assert.False(t, p.Running)
	assert.Equal(t, PhaseIdle, p.Phase)
	require.NotNil(t, p.LastRun)
	assert.Equal(t, stats.RunID, p.LastRun.RunID)
}

func TestRequestRefresh_Coalesces(t *testing.T) {
	f := newFixture(t)
	f.addFile("a.jsonl", "a", standardEvents(day1))
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 16)

	var runs atomic.Int32
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig(),
		WithRunHook(func(*Statistics) { runs.Add(1) }))

	go func() { _, _ = idx.Refresh(context.Background()) }()
	<-f.entered

	assert.True(t, idx.RequestRefresh())
	assert.False(t, idx.RequestRefresh())
	assert.False(t, idx.RequestRefresh())

	close(f.gate)

	// Queued behind the blocked run and the single coalesced refresh
	_, err := idx.Refresh(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int32(3), runs.Load())

	// Once the pending refresh has started a new trigger is accepted
	assert.True(t, idx.RequestRefresh())
}

func TestClose(t *testing.T) {
	f := newFixture(t)
	idx := f.indexer(f.store, f.adapter(false), defaultTestConfig())

	_, err := idx.Refresh(context.Background())
	require.NoError(t, err)

	idx.Close()
	idx.Close()

	_, err = idx.Refresh(context.Background())
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, idx.RequestRefresh())
}

func TestPendingFlag(t *testing.T) {
	tests := []struct {
		name     string
		testFunc func(t *testing.T)
	}{
		{
			name: "TrySet succeeds when clear",
			testFunc: func(t *testing.T) {
				var f pendingFlag
				assert.True(t, f.TrySet())
				assert.True(t, f.IsSet())
			},
		},
		{
			name: "TrySet fails while set",
			testFunc: func(t *testing.T) {
				var f pendingFlag
				require.True(t, f.TrySet())
				assert.False(t, f.TrySet())
			},
		},
		{
			name: "Clear allows another set",
			testFunc: func(t *testing.T) {
				var f pendingFlag
				require.True(t, f.TrySet())
				f.Clear()
				assert.False(t, f.IsSet())
				assert.True(t, f.TrySet())
			},
		},
		{
			name: "Only one concurrent setter wins",
			testFunc: func(t *testing.T) {
				var f pendingFlag
				const numGoroutines = 100

				var wins atomic.Int32
				var wg sync.WaitGroup
				wg.Add(numGoroutines)
				for i := 0; i < numGoroutines; i++ {
					go func() {
						defer wg.Done()
						if f.TrySet() {
							wins.Add(1)
						}
					}()
				}
				wg.Wait()
				assert.Equal(t, int32(1), wins.Load())
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, tt.testFunc)
	}
}

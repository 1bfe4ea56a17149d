package indexer

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dshills/sessionindex/internal/daybucket"
	"github.com/dshills/sessionindex/internal/detector"
	"github.com/dshills/sessionindex/internal/docbuilder"
	"github.com/dshills/sessionindex/internal/metrics"
	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// ErrClosed is returned by requests made after Close
var ErrClosed = errors.New("indexer is closed")

// Kind identifies the type of indexing run
type Kind string

const (
	KindRefresh   Kind = "refresh"
	KindFullBuild Kind = "full_build"
)

// Phase is the stage a running job is in
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhasePurge    Phase = "purge"
	PhaseDiscover Phase = "discover"
	PhaseRemove   Phase = "remove"
	PhaseIndex    Phase = "index"
	PhasePrune    Phase = "prune"
)

// Config contains configuration for the indexer
type Config struct {
	Sources     []types.Source // Indexed in order
	BatchSize   int            // Files per batch (default: 8)
	Concurrency int            // Live parser calls (default: 8)

	ToolIOEnabled  bool
	ToolIORecency  time.Duration // Sessions older than this get no tool-IO document (default: 30 days)
	ToolIOMaxBytes int64         // 0 disables the byte cap

	SearchFormatVersion int
	ToolIOFormatVersion int

	Location *time.Location // Calendar for day buckets (default: time.Local)
}

// DefaultConfig returns the defaults used when a field is left zero
func DefaultConfig() Config {
	return Config{
		Sources:             []types.Source{types.SourceClaude, types.SourceCodex},
		BatchSize:           8,
		Concurrency:         8,
		ToolIOEnabled:       true,
		ToolIORecency:       30 * 24 * time.Hour,
		ToolIOMaxBytes:      256 << 20,
		SearchFormatVersion: 1,
		ToolIOFormatVersion: 1,
		Location:            time.Local,
	}
}

// Statistics contains statistics about one indexing run
type Statistics struct {
	RunID           string
	Kind            Kind
	FilesDiscovered int
	FilesIndexed    int
	FilesSkipped    int
	FilesFailed     int
	FilesRemoved    int
	NotSessions     int
	SourcesFailed   int
	ToolIOPruned    int
	Duration        time.Duration
	ErrorMessages   []string
}

// Progress is a snapshot of the current job
type Progress struct {
	Running   bool
	RunID     string
	Kind      Kind
	Source    types.Source
	Phase     Phase
	Processed int
	Total     int
	StartedAt time.Time
	LastRun   *Statistics
}

// Option configures an Indexer
type Option func(*Indexer)

// WithLogger sets the logger
func WithLogger(l zerolog.Logger) Option {
	return func(idx *Indexer) { idx.log = l }
}

// WithMetrics records run metrics
func WithMetrics(m *metrics.Metrics) Option {
	return func(idx *Indexer) { idx.metrics = m }
}

// WithClock replaces time.Now for detection and timestamps
func WithClock(now func() time.Time) Option {
	return func(idx *Indexer) { idx.now = now }
}

// WithDetector replaces the default change detector
func WithDetector(d *detector.Detector) Option {
	return func(idx *Indexer) { idx.detector = d }
}

// WithStat replaces os.Stat
func WithStat(stat func(string) (fs.FileInfo, error)) Option {
	return func(idx *Indexer) { idx.stat = stat }
}

// WithRunHook registers fn to be called after every completed run
func WithRunHook(fn func(*Statistics)) Option {
	return func(idx *Indexer) { idx.hooks = append(idx.hooks, fn) }
}

type request struct {
	kind      Kind
	coalesced bool
	result    chan result
}

type result struct {
	stats *Statistics
	err   error
}

// Indexer keeps the session index in sync with the source logs.
// A single worker goroutine owns every store write; callers enqueue jobs.
type Indexer struct {
	store    storage.Storage
	registry sources.Registry
	config   Config

	detector   *detector.Detector
	aggregator *daybucket.Aggregator
	builder    *docbuilder.Builder
	log        zerolog.Logger
	metrics    *metrics.Metrics
	now        func() time.Time
	stat       func(string) (fs.FileInfo, error)
	hooks      []func(*Statistics)
	attempts   *attemptLog

	requests chan *request
	pending  pendingFlag
	stop     chan struct{}
	done     chan struct{}

	startOnce sync.Once
	closeOnce sync.Once

	mu       sync.RWMutex
	progress Progress
}

// New creates a new Indexer. Zero config fields take DefaultConfig values.
func New(store storage.Storage, registry sources.Registry, config Config, opts ...Option) *Indexer {
	def := DefaultConfig()
	if config.Sources == nil {
		config.Sources = def.Sources
	}
	if config.BatchSize <= 0 {
		config.BatchSize = def.BatchSize
	}
	if config.Concurrency <= 0 {
		config.Concurrency = def.Concurrency
	}
	if config.ToolIORecency <= 0 {
		config.ToolIORecency = def.ToolIORecency
	}
	if config.SearchFormatVersion <= 0 {
		config.SearchFormatVersion = def.SearchFormatVersion
	}
	if config.ToolIOFormatVersion <= 0 {
		config.ToolIOFormatVersion = def.ToolIOFormatVersion
	}
	if config.Location == nil {
		config.Location = def.Location
	}

	idx := &Indexer{
		store:      store,
		registry:   registry,
		config:     config,
		detector:   detector.New(),
		aggregator: daybucket.New(config.Location),
		builder:    docbuilder.New(config.SearchFormatVersion, config.ToolIOFormatVersion),
		log:        zerolog.Nop(),
		now:        time.Now,
		stat:       os.Stat,
		attempts:   newAttemptLog(),
		requests:   make(chan *request, 16),
		stop:       make(chan struct{}),
		done:       make(chan struct{}),
		progress:   Progress{Phase: PhaseIdle},
	}
	for _, opt := range opts {
		opt(idx)
	}
	return idx
}

// Start launches the worker goroutine. It is safe to call more than once.
func (idx *Indexer) Start() {
	idx.startOnce.Do(func() {
		go idx.loop()
	})
}

// Close stops the worker after the job in progress finishes
func (idx *Indexer) Close() {
	idx.closeOnce.Do(func() {
		close(idx.stop)
	})
	// Make sure done is closed even if Start was never called
	idx.startOnce.Do(func() { close(idx.done) })
	<-idx.done
}

// Refresh indexes new and changed files and drops removed ones
func (idx *Indexer) Refresh(ctx context.Context) (*Statistics, error) {
	return idx.submit(ctx, KindRefresh)
}

// FullBuild purges every enabled source and indexes from scratch
func (idx *Indexer) FullBuild(ctx context.Context) (*Statistics, error) {
	return idx.submit(ctx, KindFullBuild)
}

// RequestRefresh queues a refresh without waiting. At most one such refresh is
// pending at a time; it reports whether this call queued one.
func (idx *Indexer) RequestRefresh() bool {
	if !idx.pending.TrySet() {
		return false
	}
	idx.Start()

	req := &request{kind: KindRefresh, coalesced: true, result: make(chan result, 1)}
	select {
	case <-idx.stop:
		idx.pending.Clear()
		return false
	default:
	}
	select {
	case idx.requests <- req:
		return true
	default:
		idx.pending.Clear()
		return false
	}
}

// Progress returns a snapshot of the current job
func (idx *Indexer) Progress() Progress {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return idx.progress
}

// submit enqueues a job and waits for its result. Cancelling ctx stops the
// wait; the job itself runs to completion.
func (idx *Indexer) submit(ctx context.Context, kind Kind) (*Statistics, error) {
	select {
	case <-idx.stop:
		return nil, ErrClosed
	default:
	}
	idx.Start()

	req := &request{kind: kind, result: make(chan result, 1)}
	select {
	case idx.requests <- req:
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-idx.done:
		return nil, ErrClosed
	}

	select {
	case res := <-req.result:
		return res.stats, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-idx.done:
		select {
		case res := <-req.result:
			return res.stats, res.err
		default:
			return nil, ErrClosed
		}
	}
}

// loop is the single writer. Jobs run with a background context so an
// abandoned caller never leaves a half-finished run.
func (idx *Indexer) loop() {
	defer close(idx.done)
	for {
		select {
		case <-idx.stop:
			return
		case req := <-idx.requests:
			if req.coalesced {
				idx.pending.Clear()
			}
			stats := idx.run(context.Background(), req.kind)
			req.result <- result{stats: stats}
		}
	}
}

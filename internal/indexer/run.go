package indexer

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dshills/sessionindex/internal/daybucket"
	"github.com/dshills/sessionindex/internal/detector"
	"github.com/dshills/sessionindex/internal/sources"
	"github.com/dshills/sessionindex/internal/storage"
	"github.com/dshills/sessionindex/pkg/types"
)

// runState carries the counters of one run. Parse workers update it concurrently.
type runState struct {
	log zerolog.Logger
	now time.Time

	discovered atomic.Int32
	indexed    atomic.Int32
	skipped    atomic.Int32
	failed     atomic.Int32
	removed    atomic.Int32
	notSession atomic.Int32
	sourceErrs atomic.Int32
	pruned     atomic.Int32

	mu     sync.Mutex // Protects errors
	errors []string
}

func (st *runState) addError(err error) {
	st.mu.Lock()
	st.errors = append(st.errors, err.Error())
	st.mu.Unlock()
}

// commitUnit is everything written for one parsed file, applied in one transaction
type commitUnit struct {
	source   types.Source
	path     string
	observed detector.Observed
	session  *types.Session

	meta         *storage.SessionMeta
	search       *storage.SearchDocument
	toolIO       *storage.ToolIODocument // nil: leave tool-IO untouched unless deleteToolIO
	deleteToolIO bool
	rows         []types.DayRollupRow
}

// run executes one job against every enabled source. Failures are recorded
// per file or per source; the run itself always completes.
func (idx *Indexer) run(ctx context.Context, kind Kind) *Statistics {
	runID := uuid.NewString()
	started := idx.now()
	st := &runState{
		log: idx.log.With().Str("run_id", runID).Str("kind", string(kind)).Logger(),
		now: started,
	}

	idx.setProgress(func(p *Progress) {
		*p = Progress{Running: true, RunID: runID, Kind: kind, Phase: PhaseDiscover, StartedAt: started, LastRun: p.LastRun}
	})
	st.log.Info().Int("sources", len(idx.config.Sources)).Msg("index run started")

	for _, src := range idx.config.Sources {
		adapter, err := idx.registry.Lookup(src)
		if err != nil {
			st.log.Warn().Err(err).Str("source", src.String()).Msg("source skipped")
			st.addError(err)
			st.sourceErrs.Add(1)
			continue
		}
		idx.indexSource(ctx, st, adapter, kind == KindFullBuild)
	}

	idx.prune(ctx, st)

	stats := &Statistics{
		RunID:           runID,
		Kind:            kind,
		FilesDiscovered: int(st.discovered.Load()),
		FilesIndexed:    int(st.indexed.Load()),
		FilesSkipped:    int(st.skipped.Load()),
		FilesFailed:     int(st.failed.Load()),
		FilesRemoved:    int(st.removed.Load()),
		NotSessions:     int(st.notSession.Load()),
		SourcesFailed:   int(st.sourceErrs.Load()),
		ToolIOPruned:    int(st.pruned.Load()),
		Duration:        idx.now().Sub(started),
		ErrorMessages:   st.errors,
	}
	if stats.ErrorMessages == nil {
		stats.ErrorMessages = make([]string, 0)
	}

	idx.metrics.ObserveRun(string(kind), stats.Duration)
	idx.setProgress(func(p *Progress) {
		*p = Progress{Phase: PhaseIdle, LastRun: stats}
	})
	st.log.Info().
		Int("indexed", stats.FilesIndexed).
		Int("skipped", stats.FilesSkipped).
		Int("failed", stats.FilesFailed).
		Int("removed", stats.FilesRemoved).
		Int("pruned", stats.ToolIOPruned).
		Dur("duration", stats.Duration).
		Msg("index run finished")

	for _, hook := range idx.hooks {
		hook(stats)
	}
	return stats
}

// indexSource brings one source up to date
func (idx *Indexer) indexSource(ctx context.Context, st *runState, adapter sources.Adapter, full bool) {
	src := adapter.Source
	log := st.log.With().Str("source", src.String()).Logger()

	if full {
		idx.attempts.retain(src, nil)
		idx.setPhase(src, PhasePurge)
		if err := idx.purge(ctx, src); err != nil {
			cerr := &types.CommitError{Source: src, Path: "*", Err: err}
			log.Error().Err(cerr).Msg("purge failed")
			st.addError(cerr)
			st.sourceErrs.Add(1)
			idx.metrics.CommitError(src.String())
			return
		}
	}

	idx.setPhase(src, PhaseDiscover)
	paths, err := adapter.Discovery.Discover(ctx)
	if err != nil {
		derr := &types.DiscoveryError{Source: src, Err: err}
		log.Warn().Err(derr).Msg("discovery failed, source skipped")
		st.addError(derr)
		st.sourceErrs.Add(1)
		return
	}
	sort.Strings(paths)
	st.discovered.Add(int32(len(paths)))

	known, err := idx.loadKnown(ctx, src)
	if err != nil {
		log.Error().Err(err).Msg("failed to load index state, source skipped")
		st.addError(fmt.Errorf("%s: %w", src, err))
		st.sourceErrs.Add(1)
		return
	}

	discovered := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		discovered[p] = struct{}{}
	}
	idx.attempts.retain(src, discovered)
	if stale := known.stalePaths(discovered); len(stale) > 0 {
		idx.setPhase(src, PhaseRemove)
		idx.removeStale(ctx, st, log, src, stale)

		// A removed file may have taken a session other files still yield
		if known, err = idx.loadKnown(ctx, src); err != nil {
			log.Error().Err(err).Msg("failed to reload index state, source skipped")
			st.addError(fmt.Errorf("%s: %w", src, err))
			st.sourceErrs.Add(1)
			return
		}
	}

	policy := detector.Policy{
		ToolIOEnabled: idx.config.ToolIOEnabled,
		ToolIOCutoff:  st.now.Add(-idx.config.ToolIORecency),
		AppendOnly:    adapter.AppendOnly,
	}

	idx.setProgress(func(p *Progress) {
		p.Source, p.Phase, p.Processed, p.Total = src, PhaseIndex, 0, len(paths)
	})

	sem := make(chan struct{}, idx.config.Concurrency)
	batchSize := idx.config.BatchSize
	for i := 0; i < len(paths); i += batchSize {
		end := i + batchSize
		if end > len(paths) {
			end = len(paths)
		}
		units := idx.prepareBatch(ctx, st, log, adapter, paths[i:end], known, policy, sem)

		// Commits are serialized on the worker goroutine
		for _, u := range units {
			if u != nil {
				idx.commit(ctx, st, log, u)
			}
		}
		idx.setProgress(func(p *Progress) { p.Processed = end })
	}
}

// knownState is what the index holds for one source before the run
type knownState struct {
	records     map[string]*storage.FileRecord
	metaPaths   map[string]time.Time
	searchReady map[string]struct{}
	toolIOReady map[string]struct{}
}

func (idx *Indexer) loadKnown(ctx context.Context, src types.Source) (*knownState, error) {
	var k knownState
	var err error
	if k.records, err = idx.store.FetchFileRecords(ctx, src); err != nil {
		return nil, err
	}
	if k.metaPaths, err = idx.store.FetchKnownMetaPaths(ctx, src); err != nil {
		return nil, err
	}
	if k.searchReady, err = idx.store.FetchSearchReadyPaths(ctx, src, idx.config.SearchFormatVersion); err != nil {
		return nil, err
	}
	if k.toolIOReady, err = idx.store.FetchToolIOReadyPaths(ctx, src, idx.config.ToolIOFormatVersion); err != nil {
		return nil, err
	}
	return &k, nil
}

// stalePaths returns indexed paths that discovery no longer reports
func (k *knownState) stalePaths(discovered map[string]struct{}) []string {
	set := make(map[string]struct{})
	for p := range k.metaPaths {
		if _, ok := discovered[p]; !ok {
			set[p] = struct{}{}
		}
	}
	for p := range k.records {
		if _, ok := discovered[p]; !ok {
			set[p] = struct{}{}
		}
	}
	stale := make([]string, 0, len(set))
	for p := range set {
		stale = append(stale, p)
	}
	sort.Strings(stale)
	return stale
}

func (k *knownState) prior(path string) *detector.Prior {
	rec, ok := k.records[path]
	if !ok {
		return nil
	}
	_, searchReady := k.searchReady[path]
	_, toolIOReady := k.toolIOReady[path]
	reference := rec.ReferenceTime
	if reference.IsZero() {
		reference = k.metaPaths[path]
	}
	return &detector.Prior{
		ModTime:       rec.ModTime,
		Size:          rec.Size,
		IndexedAt:     rec.IndexedAt,
		SearchReady:   searchReady,
		ToolIOReady:   toolIOReady,
		ReferenceTime: reference,
	}
}

// prepareBatch runs detect, parse, aggregate and document building for a batch
// of files. Parser calls fan out but never exceed the semaphore's capacity.
// The returned slice keeps batch order; nil entries need no write.
func (idx *Indexer) prepareBatch(ctx context.Context, st *runState, log zerolog.Logger,
	adapter sources.Adapter, batch []string, known *knownState, policy detector.Policy,
	sem chan struct{}) []*commitUnit {

	units := make([]*commitUnit, len(batch))
	var g errgroup.Group
	for i, path := range batch {
		g.Go(func() error {
			sem <- struct{}{}
			defer func() { <-sem }()
			units[i] = idx.prepareFile(ctx, st, log, adapter, path, known.prior(path), policy)
			return nil
		})
	}
	_ = g.Wait()
	return units
}

// prepareFile decides whether path needs work and builds its commit unit
func (idx *Indexer) prepareFile(ctx context.Context, st *runState, log zerolog.Logger,
	adapter sources.Adapter, path string, prior *detector.Prior, policy detector.Policy) *commitUnit {

	src := adapter.Source
	var obs detector.Observed
	if info, err := idx.stat(path); err != nil {
		serr := &types.StatError{Path: path, Err: err}
		log.Debug().Err(serr).Msg("stat failed, reparsing")
		obs = detector.Observed{ModTime: st.now, StatFailed: true}
	} else {
		obs = detector.Observed{ModTime: info.ModTime(), Size: info.Size()}
	}

	decision, reason := idx.detector.Decide(st.now, obs, prior, idx.attempts.last(src, path), policy)
	idx.metrics.FileDecision(src.String(), string(reason))
	if decision == detector.Skip {
		st.skipped.Add(1)
		return nil
	}

	attempt := detector.Attempt{ModTime: obs.ModTime, Size: obs.Size, At: st.now}
	session, err := adapter.Parser.Parse(ctx, path)
	if err != nil {
		idx.attempts.record(src, path, attempt)
		idx.parseFailed(st, log, &types.ParseError{Source: src, Path: path, Err: err})
		return nil
	}
	if session == nil {
		log.Debug().Str("path", path).Msg("not a session")
		attempt.NotSession = !obs.StatFailed
		idx.attempts.record(src, path, attempt)
		st.notSession.Add(1)
		return nil
	}

	session.Source = src
	session.FilePath = path
	session.ModTime = obs.ModTime
	session.Size = obs.Size
	if session.StartTime.IsZero() && session.EndTime.IsZero() {
		session.Span()
	}
	if session.MessageCount == 0 && session.CommandCount == 0 {
		session.CountEvents()
	}
	if err := session.Validate(); err != nil {
		idx.attempts.record(src, path, attempt)
		idx.parseFailed(st, log, &types.ParseError{Source: src, Path: path, Err: err})
		return nil
	}

	log.Debug().Str("path", path).Str("reason", string(reason)).Msg("reparsing")
	unit := &commitUnit{
		source:   src,
		path:     path,
		observed: obs,
		session:  session,
		meta:     sessionMeta(session),
		search:   idx.builder.SearchDocument(session),
		rows:     idx.aggregator.Aggregate(session),
	}
	if policy.ToolIOEnabled {
		if session.ReferenceTime().Before(policy.ToolIOCutoff) {
			unit.deleteToolIO = true
		} else {
			unit.toolIO = idx.builder.ToolIODocument(session)
		}
	}
	return unit
}

func (idx *Indexer) parseFailed(st *runState, log zerolog.Logger, perr *types.ParseError) {
	log.Warn().Err(perr).Msg("parse failed")
	st.addError(perr)
	st.failed.Add(1)
	idx.metrics.ParseError(perr.Source.String())
}

func sessionMeta(s *types.Session) *storage.SessionMeta {
	return &storage.SessionMeta{
		Source:        s.Source,
		SessionID:     s.ID,
		Path:          s.FilePath,
		ModTime:       s.ModTime,
		Size:          s.Size,
		StartTime:     s.StartTime,
		EndTime:       s.EndTime,
		ReferenceTime: s.ReferenceTime(),
		Model:         s.Model,
		CWD:           s.CWD,
		RepoName:      s.RepoName,
		Title:         s.Title,
		MessageCount:  s.MessageCount,
		CommandCount:  s.CommandCount,
	}
}

// commit applies one unit in a single transaction. On failure nothing of the
// unit is visible and the file is retried on the next run, since its file
// record was not written either.
func (idx *Indexer) commit(ctx context.Context, st *runState, log zerolog.Logger, u *commitUnit) {
	if err := idx.applyUnit(ctx, st.now, u); err != nil {
		cerr := &types.CommitError{Source: u.source, Path: u.path, SessionID: u.session.ID, Err: err}
		log.Error().Err(cerr).Msg("commit failed")
		st.addError(cerr)
		st.failed.Add(1)
		idx.metrics.CommitError(u.source.String())
		return
	}
	idx.attempts.clear(u.source, u.path)
	st.indexed.Add(1)
}

func (idx *Indexer) applyUnit(ctx context.Context, now time.Time, u *commitUnit) (err error) {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	days := make(map[string]struct{})
	addDays := func(ds []string) {
		for _, d := range ds {
			days[d] = struct{}{}
		}
	}

	// Another session previously parsed from this path loses its rows
	evicted, err := tx.EvictPathOwners(ctx, u.source, u.path, u.session.ID)
	if err != nil {
		return err
	}
	addDays(evicted)

	if err = tx.UpsertSessionMeta(ctx, u.meta); err != nil {
		return err
	}
	if err = tx.UpsertSearchDocument(ctx, u.search); err != nil {
		return err
	}
	switch {
	case u.toolIO != nil:
		err = tx.UpsertToolIODocument(ctx, u.toolIO)
	case u.deleteToolIO:
		err = tx.DeleteToolIODocument(ctx, u.source, u.session.ID)
	}
	if err != nil {
		return err
	}

	touched, err := tx.ReplaceDayRows(ctx, u.source, u.session.ID, u.rows)
	if err != nil {
		return err
	}
	addDays(touched)
	addDays(daybucket.Days(u.rows))

	for _, day := range sortedKeys(days) {
		if err = tx.RecomputeRollup(ctx, day, u.source); err != nil {
			return err
		}
	}

	if err = tx.UpsertFile(ctx, &storage.FileRecord{
		Source:    u.source,
		Path:      u.path,
		SessionID: u.session.ID,
		ModTime:   u.observed.ModTime,
		Size:      u.observed.Size,
		IndexedAt: now,
	}); err != nil {
		return err
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// removeStale deletes everything indexed from paths that no longer exist
func (idx *Indexer) removeStale(ctx context.Context, st *runState, log zerolog.Logger, src types.Source, stale []string) {
	err := idx.inTx(ctx, func(tx storage.Tx) error {
		days, err := tx.DeleteSessionsForPaths(ctx, src, stale)
		if err != nil {
			return err
		}
		for _, day := range days {
			if err := tx.RecomputeRollup(ctx, day, src); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		cerr := &types.CommitError{Source: src, Path: fmt.Sprintf("%d removed paths", len(stale)), Err: err}
		log.Error().Err(cerr).Msg("stale removal failed")
		st.addError(cerr)
		idx.metrics.CommitError(src.String())
		return
	}
	log.Info().Int("paths", len(stale)).Msg("removed stale sessions")
	st.removed.Add(int32(len(stale)))
	idx.metrics.Removed(src.String(), len(stale))
}

func (idx *Indexer) purge(ctx context.Context, src types.Source) error {
	return idx.inTx(ctx, func(tx storage.Tx) error {
		return tx.PurgeSource(ctx, src)
	})
}

// prune enforces tool-IO retention. It only opens a transaction when the
// stats show something to delete.
func (idx *Indexer) prune(ctx context.Context, st *runState) {
	idx.setProgress(func(p *Progress) { p.Source, p.Phase = 0, PhasePrune })
	cutoff := st.now.Add(-idx.config.ToolIORecency)

	stats, err := idx.store.ToolIOStats(ctx, cutoff)
	if err != nil {
		idx.pruneFailed(st, &types.PruneError{Stage: "stats", Err: err})
		return
	}

	if stats.OlderThanCount > 0 {
		var n int
		err := idx.inTx(ctx, func(tx storage.Tx) error {
			var err error
			n, err = tx.PruneToolIOBefore(ctx, cutoff)
			return err
		})
		if err != nil {
			idx.pruneFailed(st, &types.PruneError{Stage: "recency", Err: err})
			return
		}
		st.pruned.Add(int32(n))
		idx.metrics.Pruned("recency", n)
		if stats, err = idx.store.ToolIOStats(ctx, cutoff); err != nil {
			idx.pruneFailed(st, &types.PruneError{Stage: "stats", Err: err})
			return
		}
	}

	maxBytes := idx.config.ToolIOMaxBytes
	if maxBytes > 0 && stats.TotalBytes > maxBytes {
		var n int
		err := idx.inTx(ctx, func(tx storage.Tx) error {
			var err error
			n, err = tx.PruneToolIOToByteCap(ctx, maxBytes)
			return err
		})
		if err != nil {
			idx.pruneFailed(st, &types.PruneError{Stage: "byte_cap", Err: err})
			return
		}
		st.pruned.Add(int32(n))
		idx.metrics.Pruned("byte_cap", n)
		if stats, err = idx.store.ToolIOStats(ctx, cutoff); err != nil {
			idx.pruneFailed(st, &types.PruneError{Stage: "stats", Err: err})
			return
		}
	}

	idx.metrics.SetToolIOBytes(stats.TotalBytes)
}

func (idx *Indexer) pruneFailed(st *runState, perr *types.PruneError) {
	st.log.Warn().Err(perr).Msg("tool-io retention failed")
	st.addError(perr)
}

// inTx runs fn in a transaction, committing on success
func (idx *Indexer) inTx(ctx context.Context, fn func(tx storage.Tx) error) error {
	tx, err := idx.store.BeginTx(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		return errors.Join(err, tx.Rollback())
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func (idx *Indexer) setPhase(src types.Source, phase Phase) {
	idx.setProgress(func(p *Progress) { p.Source, p.Phase = src, phase })
}

func (idx *Indexer) setProgress(fn func(p *Progress)) {
	idx.mu.Lock()
	fn(&idx.progress)
	idx.mu.Unlock()
}

func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
